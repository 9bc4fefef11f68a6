package model

import (
	"reflect"
	"testing"
)

func TestStemKeyFormat(t *testing.T) {
	cases := map[int]string{0: "S00", 7: "S07", 42: "S42", 100: "S100"}
	for i, want := range cases {
		if got := StemKey(i); got != want {
			t.Errorf("StemKey(%d) = %q, want %q", i, got, want)
		}
	}
	if got := TrackDirName(3); got != "Track00003" {
		t.Errorf("TrackDirName(3) = %q, want Track00003", got)
	}
}

func TestTrackDirNumber(t *testing.T) {
	cases := []struct {
		name string
		n    int
		ok   bool
	}{
		{TrackDirName(12), 12, true},
		{"Track123456", 123456, true},
		{"Track", 0, false},
		{"Track00000", 0, false},
		{"Track-1", 0, false},
		{"Track0001a", 0, false},
		{"stems", 0, false},
	}
	for _, c := range cases {
		n, ok := TrackDirNumber(c.name)
		if n != c.n || ok != c.ok {
			t.Errorf("TrackDirNumber(%q) = %d, %v, want %d, %v", c.name, n, ok, c.n, c.ok)
		}
	}
}

func TestStemKeysNumericOrder(t *testing.T) {
	tr := &TrackRecord{Stems: map[string]*StemRecord{}}
	for _, i := range []int{100, 2, 10, 0, 99} {
		tr.Stems[StemKey(i)] = &StemRecord{}
	}
	want := []string{"S00", "S02", "S10", "S99", "S100"}
	if got := tr.StemKeys(); !reflect.DeepEqual(got, want) {
		t.Errorf("StemKeys() = %v, want %v", got, want)
	}
}

func TestManifestKeepsInsertionOrder(t *testing.T) {
	m := NewManifest()
	m.Add("b.nkm", RenderJob{StemKey: "S00"})
	m.Add("a.nkm", RenderJob{StemKey: "S01"})
	m.Add("b.nkm", RenderJob{StemKey: "S02"})

	if got := m.Patches(); !reflect.DeepEqual(got, []string{"b.nkm", "a.nkm"}) {
		t.Errorf("Patches() = %v", got)
	}
	jobs := m.Jobs("b.nkm")
	if len(jobs) != 2 || jobs[0].StemKey != "S00" || jobs[1].StemKey != "S02" {
		t.Errorf("Jobs(b.nkm) = %+v", jobs)
	}
	if m.Len() != 3 {
		t.Errorf("Len() = %d, want 3", m.Len())
	}

	other := NewManifest()
	other.Add("c.nkm", RenderJob{StemKey: "S00"})
	other.Add("a.nkm", RenderJob{StemKey: "S05"})
	m.Merge(other)
	if got := m.Patches(); !reflect.DeepEqual(got, []string{"b.nkm", "a.nkm", "c.nkm"}) {
		t.Errorf("after Merge Patches() = %v", got)
	}
	if len(m.Jobs("a.nkm")) != 2 {
		t.Errorf("after Merge Jobs(a.nkm) = %d jobs, want 2", len(m.Jobs("a.nkm")))
	}
}

func TestCatalogEntrySummary(t *testing.T) {
	tr := &TrackRecord{
		Name: "Track00001",
		UUID: "u",
		Stems: map[string]*StemRecord{
			"S00": {AudioRendered: true},
			"S01": {AudioRendered: false},
		},
		Mixture: &Mixture{Normalized: true, OverallGain: 0.5},
	}
	e := NewCatalogEntry(tr)
	if e.StemCount != 2 || e.RenderedCount != 1 || !e.Normalized || e.OverallGain != 0.5 {
		t.Errorf("NewCatalogEntry() = %+v", e)
	}
}

func TestCloneNotesIsIndependent(t *testing.T) {
	in := []Note{{Pitch: 60}}
	out := CloneNotes(in)
	out[0].Pitch = 61
	if in[0].Pitch != 60 {
		t.Error("CloneNotes shares storage with its input")
	}
}
