package repository

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"StemForge/model"
)

type fakeCatalog struct {
	upserts []*model.CatalogEntry
	err     error
}

func (f *fakeCatalog) Upsert(_ context.Context, e *model.CatalogEntry) error {
	f.upserts = append(f.upserts, e)
	return f.err
}

func (f *fakeCatalog) GetByName(context.Context, string) (*model.CatalogEntry, error) {
	return nil, nil
}

func (f *fakeCatalog) List(context.Context, int, int) ([]*model.CatalogEntry, error) {
	return nil, nil
}

func (f *fakeCatalog) CountNormalized(context.Context) (int64, error) { return 0, nil }

func sampleRecord(dir string) *model.TrackRecord {
	silent := math.Inf(-1)
	return &model.TrackRecord{
		UUID:      "2b1f0f9e-1111-5222-8333-444455556666",
		Name:      filepath.Base(dir),
		OutputDir: dir,
		EndTime:   12.5,
		Stems: map[string]*model.StemRecord{
			"S00": {InstClass: "Bass", ProgramNum: 33, PluginName: "bass.nkm", MIDISaved: true, RenderDuration: 17.5},
			"S01": {InstClass: "Drums", IsDrum: true, ProgramNum: 129, PluginName: model.PatchNone, IntegratedLoudness: &silent},
		},
	}
}

func TestSaveLoadPreservesRecord(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Track00001")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	store := NewMetadataStore(root)
	rec := sampleRecord(dir)
	if err := store.Save(rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.UUID != rec.UUID || got.EndTime != 12.5 || len(got.Stems) != 2 {
		t.Errorf("Load() = %+v", got)
	}
	if s := got.Stems["S00"]; !s.MIDISaved || s.PluginName != "bass.nkm" || s.RenderDuration != 17.5 {
		t.Errorf("S00 = %+v", s)
	}
	if l := got.Stems["S01"].IntegratedLoudness; l == nil || !math.IsInf(*l, -1) {
		t.Errorf("S01 loudness = %v, want -Inf", l)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || entries[0].Name() != model.MetadataFile {
		t.Errorf("directory holds %v, want only %s", entries, model.MetadataFile)
	}
}

func TestSaveIsByteStable(t *testing.T) {
	dir := t.TempDir()
	store := NewMetadataStore(filepath.Dir(dir))
	rec := sampleRecord(dir)
	if err := store.Save(rec); err != nil {
		t.Fatal(err)
	}
	first, _ := os.ReadFile(store.Path(dir))

	loaded, err := store.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save(loaded); err != nil {
		t.Fatal(err)
	}
	second, _ := os.ReadFile(store.Path(dir))
	if string(first) != string(second) {
		t.Errorf("re-saving a loaded record changed the file:\n%s\n---\n%s", first, second)
	}
}

func TestLoadMissing(t *testing.T) {
	store := NewMetadataStore(t.TempDir())
	if _, err := store.Load(t.TempDir()); !errors.Is(err, ErrNoMetadata) {
		t.Errorf("Load on empty dir: err = %v, want ErrNoMetadata", err)
	}
}

func TestListOnlyTrackDirsWithMetadata(t *testing.T) {
	root := t.TempDir()
	store := NewMetadataStore(root)
	for _, name := range []string{"Track00002", "Track00001"} {
		dir := filepath.Join(root, name)
		os.MkdirAll(dir, 0755)
		if err := store.Save(sampleRecord(dir)); err != nil {
			t.Fatal(err)
		}
	}
	os.MkdirAll(filepath.Join(root, "Track00003"), 0755)
	os.WriteFile(filepath.Join(root, "stray.txt"), nil, 0644)

	dirs, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(dirs) != 2 || filepath.Base(dirs[0]) != "Track00001" || filepath.Base(dirs[1]) != "Track00002" {
		t.Errorf("List() = %v", dirs)
	}

	missing := NewMetadataStore(filepath.Join(root, "nope"))
	if dirs, err := missing.List(); err != nil || len(dirs) != 0 {
		t.Errorf("List on missing root = %v, %v", dirs, err)
	}
}

func TestSaveMirrorsCatalog(t *testing.T) {
	dir := t.TempDir()
	cat := &fakeCatalog{err: errors.New("db down")}
	store := NewMetadataStore(filepath.Dir(dir)).WithCatalog(cat)
	if err := store.Save(sampleRecord(dir)); err != nil {
		t.Fatalf("Save with failing catalog: %v", err)
	}
	if len(cat.upserts) != 1 || cat.upserts[0].StemCount != 2 {
		t.Errorf("catalog upserts = %+v", cat.upserts)
	}
}
