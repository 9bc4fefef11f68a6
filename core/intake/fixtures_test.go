package intake

import (
	"fmt"
	"path/filepath"
	"sort"
	"testing"

	"StemForge/core/classifier"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

const fixtureResolution = 480

// fixtureNote is {key, start tick, length in ticks}.
type fixtureNote [3]uint32

type fixtureEvent struct {
	tick uint32
	off  bool
	msg  midi.Message
}

func noteTrack(ch, program uint8, notes ...fixtureNote) smf.Track {
	var evs []fixtureEvent
	for _, n := range notes {
		evs = append(evs,
			fixtureEvent{tick: n[1], msg: midi.NoteOn(ch, uint8(n[0]), 100)},
			fixtureEvent{tick: n[1] + n[2], off: true, msg: midi.NoteOff(ch, uint8(n[0]))},
		)
	}
	sort.SliceStable(evs, func(i, j int) bool {
		if evs[i].tick != evs[j].tick {
			return evs[i].tick < evs[j].tick
		}
		return evs[i].off && !evs[j].off
	})

	var tr smf.Track
	tr.Add(0, midi.ProgramChange(ch, program))
	var last uint32
	for _, e := range evs {
		tr.Add(e.tick-last, e.msg)
		last = e.tick
	}
	tr.Close(0)
	return tr
}

func tempoTrack(bpm float64) smf.Track {
	var tr smf.Track
	tr.Add(0, smf.MetaTempo(bpm))
	tr.Close(0)
	return tr
}

func writeSMF(t *testing.T, dir, name string, tracks ...smf.Track) string {
	t.Helper()
	s := smf.New()
	s.TimeFormat = smf.MetricTicks(fixtureResolution)
	for _, tr := range tracks {
		if err := s.Add(tr); err != nil {
			t.Fatal(err)
		}
	}
	path := filepath.Join(dir, name)
	if err := s.WriteFile(path); err != nil {
		t.Fatal(err)
	}
	return path
}

// fixtureTable classifies 0-7 as Piano, 24-31 as Guitar, 32-39 as Bass and the rest as Synth.
func fixtureTable() classifier.Table {
	t := make(classifier.Table, 128)
	for p := 0; p <= 127; p++ {
		tag := "Synth"
		switch {
		case p < 8:
			tag = "Piano"
		case p >= 24 && p < 32:
			tag = "Guitar"
		case p >= 32 && p < 40:
			tag = "Bass"
		}
		t[p] = classifier.Class{Tag: tag, Name: fmt.Sprintf("%s %d", tag, p)}
	}
	return t
}

// bandFile is a four-instrument song at 120 bpm lasting 8 beats (4 seconds).
func bandFile(t *testing.T, dir, name string) string {
	return writeSMF(t, dir, name,
		tempoTrack(120),
		noteTrack(0, 1, fixtureNote{60, 0, 480}, fixtureNote{64, 480, 480}),
		noteTrack(1, 2, fixtureNote{72, 0, 960}),
		noteTrack(2, 33, fixtureNote{20, 0, 480}, fixtureNote{40, 960, 2880}),
		noteTrack(9, 0, fixtureNote{36, 0, 240}, fixtureNote{38, 480, 240}),
	)
}
