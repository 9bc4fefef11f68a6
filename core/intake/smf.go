package intake

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"StemForge/model"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

const (
	drumChannel = 9
	defaultBPM  = 120.0
)

// Instrument is the set of notes one track plays on one channel with one program.
type Instrument struct {
	Track   int
	Channel uint8
	Program int
	IsDrum  bool
	Notes   []model.Note
}

// TempoChange sets the tempo from Tick on.
type TempoChange struct {
	Tick uint32
	BPM  float64
}

// Song is the parsed form of a source file.
type Song struct {
	Resolution  uint16 // ticks per quarter note
	Tempos      []TempoChange
	Instruments []Instrument
	lastTick    uint32
}

type instKey struct {
	track   int
	channel uint8
	program int
}

type openKey struct {
	channel uint8
	key     uint8
}

type openNote struct {
	start    uint32
	velocity uint8
}

// ReadSong parses a Standard MIDI File into instruments. Instruments appear in
// the order their first note starts within the file's track order.
func ReadSong(path string) (*Song, error) {
	f, err := smf.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	ticks, ok := f.TimeFormat.(smf.MetricTicks)
	if !ok || uint16(ticks) == 0 {
		return nil, fmt.Errorf("%s: only metric time formats are supported", path)
	}

	song := &Song{Resolution: uint16(ticks)}
	index := make(map[instKey]int)

	for ti, track := range f.Tracks {
		var abs uint32
		programs := [16]int{}
		open := make(map[openKey][]openNote)

		for _, ev := range track {
			abs += ev.Delta
			var bpm float64
			if ev.Message.GetMetaTempo(&bpm) {
				song.Tempos = append(song.Tempos, TempoChange{Tick: abs, BPM: bpm})
				song.lastTick = max(song.lastTick, abs)
				continue
			}

			msg := midi.Message(ev.Message)
			var ch, key, vel, prog uint8
			switch {
			case msg.GetProgramChange(&ch, &prog):
				programs[ch] = int(prog)
			case msg.GetNoteStart(&ch, &key, &vel):
				k := openKey{ch, key}
				open[k] = append(open[k], openNote{start: abs, velocity: vel})
			case msg.GetNoteEnd(&ch, &key):
				k := openKey{ch, key}
				pending := open[k]
				if len(pending) == 0 {
					continue
				}
				on := pending[0]
				open[k] = pending[1:]

				ik := instKey{ti, ch, programs[ch]}
				idx, found := index[ik]
				if !found {
					idx = len(song.Instruments)
					index[ik] = idx
					song.Instruments = append(song.Instruments, Instrument{
						Track:   ti,
						Channel: ch,
						Program: programs[ch],
						IsDrum:  ch == drumChannel,
					})
				}
				song.Instruments[idx].Notes = append(song.Instruments[idx].Notes, model.Note{
					Pitch:    int(key),
					Velocity: int(on.velocity),
					Start:    on.start,
					End:      abs,
				})
				song.lastTick = max(song.lastTick, abs)
			}
		}
	}

	sort.SliceStable(song.Tempos, func(i, j int) bool { return song.Tempos[i].Tick < song.Tempos[j].Tick })
	return song, nil
}

// Seconds converts an absolute tick position into seconds using the tempo map.
func (s *Song) Seconds(tick uint32) float64 {
	var (
		secs     float64
		lastTick uint32
		bpm      = defaultBPM
	)
	for _, tc := range s.Tempos {
		if tc.Tick >= tick {
			break
		}
		secs += float64(tc.Tick-lastTick) * 60.0 / (bpm * float64(s.Resolution))
		lastTick = tc.Tick
		bpm = tc.BPM
	}
	return secs + float64(tick-lastTick)*60.0/(bpm*float64(s.Resolution))
}

// EndTime is the time in seconds of the last note end or tempo event.
func (s *Song) EndTime() float64 {
	return s.Seconds(s.lastTick)
}

type stemEvent struct {
	tick uint32
	off  bool
	msg  midi.Message
}

// WriteStem writes notes as a single instrument file that keeps the source
// resolution and tempo map, so the stem renders to the same length as the song.
// Pitches outside 0-127 are dropped; the number dropped is returned.
func WriteStem(path, name string, song *Song, inst Instrument, notes []model.Note) (dropped int, err error) {
	out := smf.New()
	out.TimeFormat = smf.MetricTicks(song.Resolution)

	var conductor smf.Track
	conductor.Add(0, smf.MetaTrackSequenceName(name))
	var last uint32
	for _, tc := range song.Tempos {
		conductor.Add(tc.Tick-last, smf.MetaTempo(tc.BPM))
		last = tc.Tick
	}
	conductor.Close(0)

	ch := inst.Channel
	events := make([]stemEvent, 0, 2*len(notes))
	for _, n := range notes {
		if n.Pitch < 0 || n.Pitch > 127 {
			dropped++
			continue
		}
		vel := uint8(min(max(n.Velocity, 1), 127))
		events = append(events,
			stemEvent{tick: n.Start, msg: midi.NoteOn(ch, uint8(n.Pitch), vel)},
			stemEvent{tick: n.End, off: true, msg: midi.NoteOff(ch, uint8(n.Pitch))},
		)
	}
	// note-offs first at equal ticks so repeated pitches retrigger
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].tick != events[j].tick {
			return events[i].tick < events[j].tick
		}
		return events[i].off && !events[j].off
	})

	var track smf.Track
	if !inst.IsDrum {
		track.Add(0, midi.ProgramChange(ch, uint8(inst.Program)))
	}
	last = 0
	for _, e := range events {
		track.Add(e.tick-last, e.msg)
		last = e.tick
	}
	track.Close(0)

	if err := out.Add(conductor); err != nil {
		return dropped, err
	}
	if err := out.Add(track); err != nil {
		return dropped, err
	}

	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err := out.WriteFile(tmp); err != nil {
		os.Remove(tmp)
		return dropped, fmt.Errorf("failed to write stem %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return dropped, fmt.Errorf("failed to move stem into place %s: %w", path, err)
	}
	return dropped, nil
}
