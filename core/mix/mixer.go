// Package mix loudness-normalizes the rendered stems of a track, sums them into
// a mixture and applies one gain to keep the mixture under a peak ceiling.
package mix

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"StemForge/core/audio"
	"StemForge/core/loudness"
	"StemForge/logger"
	"StemForge/model"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrSilentStem is returned when a stem measures -Inf and cannot be normalized.
	ErrSilentStem = errors.New("stem is silent")
	// ErrNonFinite is returned when the mixture holds NaN or infinite samples.
	ErrNonFinite = errors.New("mixture has non-finite samples")
	// ErrNoStems is returned for a track without audio stems.
	ErrNoStems = errors.New("no audio stems")
)

// Meter measures integrated loudness. *loudness.Meter satisfies it.
type Meter interface {
	Integrated(buf *audio.Buffer) (float64, error)
}

// Store loads and saves track records.
type Store interface {
	Load(trackDir string) (*model.TrackRecord, error)
	Save(rec *model.TrackRecord) error
}

// Outcome is what happened to one track.
type Outcome string

const (
	OutcomeMixed   Outcome = "mixed"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Options for a mix pass.
type Options struct {
	SampleRate          int
	NormalizationTarget float64 // LUFS
	TargetPeakDBFS      float64
	ForceRemix          bool
}

// Mixer mixes track directories.
type Mixer struct {
	Store Store
	Meter Meter
	Opts  Options
	// OnTrack, when set, is called after every track of MixAll.
	OnTrack func(trackDir string, outcome Outcome, err error)
}

type stem struct {
	path     string
	key      string
	buf      *audio.Buffer
	loudness float64
	gain     float64
}

// DBToLinear converts a dBFS level to a linear amplitude.
func DBToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// MixAll mixes every directory in dirs. A failing track is logged and skipped.
// Only cancellation of ctx is returned.
func (m *Mixer) MixAll(ctx context.Context, dirs []string) error {
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return err
		}
		outcome, err := m.MixTrack(dir)
		if err != nil {
			logger.Warn("Failed to mix track", logger.String("track", filepath.Base(dir)), logger.ErrorField(err))
		}
		if m.OnTrack != nil {
			m.OnTrack(dir, outcome, err)
		}
	}
	logger.Info("Finished mixing", logger.Int("tracks", len(dirs)))
	return nil
}

// MixTrack normalizes the stems of trackDir to the loudness target and writes
// them back together with the mixture. Nothing is written when any step fails.
func (m *Mixer) MixTrack(trackDir string) (Outcome, error) {
	mixPath := filepath.Join(trackDir, model.MixFile)
	if !m.Opts.ForceRemix {
		if _, err := os.Stat(mixPath); err == nil {
			logger.Info("Found mixture, skipping", logger.String("track", filepath.Base(trackDir)))
			return OutcomeSkipped, nil
		}
	}

	rec, err := m.Store.Load(trackDir)
	if err != nil {
		return OutcomeFailed, err
	}
	stems, err := m.readStems(rec.AudioDir)
	if err != nil {
		return OutcomeFailed, err
	}

	channels, frames := 0, 0
	for _, s := range stems {
		s.loudness, err = m.Meter.Integrated(s.buf)
		if err != nil {
			return OutcomeFailed, fmt.Errorf("measuring %s: %w", s.path, err)
		}
		if math.IsInf(s.loudness, -1) {
			return OutcomeFailed, fmt.Errorf("%w: %s", ErrSilentStem, s.path)
		}
		s.gain = loudness.Gain(s.loudness, m.Opts.NormalizationTarget)
		s.buf.Scale(s.gain)
		channels = max(channels, s.buf.Channels())
		frames = max(frames, s.buf.Frames())
	}

	mixture := audio.NewBuffer(m.Opts.SampleRate, channels, frames)
	for _, s := range stems {
		s.buf = s.buf.Conform(channels, frames)
		for c := range mixture.Data {
			floats.Add(mixture.Data[c], s.buf.Data[c])
		}
	}

	gain := 1.0
	target := DBToLinear(m.Opts.TargetPeakDBFS)
	if peak := mixture.Peak(); peak >= target {
		gain = target / peak
		mixture.Scale(gain)
		for _, s := range stems {
			s.buf.Scale(gain)
		}
	}
	if !mixture.Finite() {
		return OutcomeFailed, fmt.Errorf("%w: %s", ErrNonFinite, trackDir)
	}

	mix := &model.Mixture{
		Stems:               make(map[string]model.MixStem, len(stems)),
		OverallGain:         gain,
		NormalizationFactor: m.Opts.NormalizationTarget,
		TargetPeak:          m.Opts.TargetPeakDBFS,
	}
	for _, s := range stems {
		out := filepath.Join(rec.AudioDir, s.key+".wav")
		if err := audio.WriteWAV(out, s.buf); err != nil {
			return OutcomeFailed, err
		}
		if out != s.path {
			if err := os.Remove(s.path); err != nil {
				return OutcomeFailed, err
			}
		}
		mix.Stems[filepath.Base(out)] = model.MixStem{IntegratedLoudness: s.loudness, Gain: s.gain}
		if sr, ok := rec.Stems[s.key]; ok {
			l := s.loudness
			sr.IntegratedLoudness = &l
		}
	}
	if err := audio.WriteWAV(mixPath, mixture); err != nil {
		return OutcomeFailed, err
	}

	mix.Normalized = true
	rec.Mixture = mix
	if err := m.Store.Save(rec); err != nil {
		return OutcomeFailed, err
	}
	logger.Info("Wrote mixture",
		logger.String("track", rec.Name),
		logger.Int("stems", len(stems)),
		logger.Float64("overall_gain", gain))
	return OutcomeMixed, nil
}

// readStems decodes every audio file of dir in lexical order.
func (m *Mixer) readStems(dir string) ([]*stem, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var stems []*stem
	for _, e := range entries {
		if e.IsDir() || !audio.IsAudioFile(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		buf, err := audio.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if buf.SampleRate != m.Opts.SampleRate {
			return nil, fmt.Errorf("%s is %d Hz, mixing at %d Hz", path, buf.SampleRate, m.Opts.SampleRate)
		}
		stems = append(stems, &stem{
			path: path,
			key:  strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())),
			buf:  buf,
		})
	}
	if len(stems) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoStems, dir)
	}
	return stems, nil
}
