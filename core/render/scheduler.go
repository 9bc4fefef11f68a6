package render

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"StemForge/core/audio"
	"StemForge/core/utils"
	"StemForge/logger"
	"StemForge/model"
)

const (
	// PeakLevel is the peak every rendered stem is scaled to before it is written.
	PeakLevel = 0.8
	// DurationTolerance is the allowed difference in seconds between requested
	// and rendered length.
	DurationTolerance = 0.1
)

// Outcome is what happened to one render job.
type Outcome string

const (
	OutcomeRendered Outcome = "rendered"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeSilent   Outcome = "silent"
	OutcomeFailed   Outcome = "failed"
)

// Engines hands out loaded engines. *Host satisfies it.
type Engines interface {
	Acquire(ctx context.Context, patch string) (Engine, error)
	Release(eng Engine)
}

// Store loads and saves track records. repository.MetadataStore satisfies it.
type Store interface {
	Load(trackDir string) (*model.TrackRecord, error)
	Save(rec *model.TrackRecord) error
}

// Observer is told about every finished job. Jobs lost to an aborted bucket are
// reported once as a count.
type Observer interface {
	JobFinished(patch string, job model.RenderJob, outcome Outcome)
	BucketAborted(patch string, remaining int, err error)
}

// Scheduler renders a work manifest bucket by bucket.
type Scheduler struct {
	Engines       Engines
	Store         Store
	RestartLimit  int // renders per engine load; 0 means no forced reload
	ForceRerender bool
	Observer      Observer

	writeWAV func(path string, buf *audio.Buffer) error
}

// RenderAll drains the manifest and returns the sorted track directories that
// hold at least one rendered stem. A failing bucket is logged and abandoned; the
// other buckets still run. Only cancellation of ctx is returned as an error.
func (s *Scheduler) RenderAll(ctx context.Context, m *model.Manifest) ([]string, error) {
	dirs := make(map[string]struct{})
	patches := m.Patches()

	for i, patch := range patches {
		jobs := m.Jobs(patch)
		if len(jobs) == 0 {
			continue
		}
		logger.Info("Rendering patch bucket",
			logger.String("patch", patch),
			logger.Int("bucket", i+1),
			logger.Int("buckets", len(patches)),
			logger.Int("jobs", len(jobs)))

		done, err := s.renderBucket(ctx, patch, jobs, dirs)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return sortedKeys(dirs), ctxErr
			}
			logger.Warn("Abandoning patch bucket",
				logger.String("patch", patch),
				logger.Int("remaining", len(jobs)-done),
				logger.ErrorField(err))
			if s.Observer != nil {
				s.Observer.BucketAborted(patch, len(jobs)-done, err)
			}
		}
	}

	logger.Info("Finished rendering audio", logger.Int("tracks", len(dirs)))
	return sortedKeys(dirs), nil
}

// renderBucket returns the number of jobs finished before the first error.
func (s *Scheduler) renderBucket(ctx context.Context, patch string, jobs []model.RenderJob, dirs map[string]struct{}) (int, error) {
	var eng Engine
	defer func() {
		if eng != nil {
			s.Engines.Release(eng)
		}
	}()

	renders := 0
	for done, job := range jobs {
		if err := ctx.Err(); err != nil {
			return done, err
		}

		rec, err := s.Store.Load(job.TrackDir)
		if err != nil {
			return done, err
		}
		stem, ok := rec.Stems[job.StemKey]
		if !ok {
			return done, fmt.Errorf("stem %s missing from %s", job.StemKey, job.MetadataPath)
		}
		out := filepath.Join(rec.AudioDir, job.StemKey+".wav")

		if !s.ForceRerender && utils.FileExists(out) {
			logger.Info("Found rendered stem, skipping",
				logger.String("track", rec.Name),
				logger.String("stem", job.StemKey))
			if !stem.AudioRendered {
				stem.AudioRendered = true
				if err := s.Store.Save(rec); err != nil {
					return done, err
				}
			}
			dirs[rec.OutputDir] = struct{}{}
			s.finished(patch, job, OutcomeSkipped)
			continue
		}

		if eng == nil || (s.RestartLimit > 0 && renders >= s.RestartLimit) {
			if eng != nil {
				s.Engines.Release(eng)
				eng = nil
			}
			eng, err = s.Engines.Acquire(ctx, patch)
			if err != nil {
				return done, err
			}
			renders = 0
			logger.Info("Loaded engine", logger.String("patch", patch))
		}

		logger.Info("Starting render",
			logger.String("track", rec.Name),
			logger.String("stem", job.StemKey),
			logger.String("patch", patch),
			logger.Int("job", done+1),
			logger.Int("jobs", len(jobs)))
		renders++
		outcome, err := s.renderJob(eng, rec, stem, job, out)
		if err != nil {
			return done, fmt.Errorf("%s/%s: %w", rec.Name, job.StemKey, err)
		}
		if outcome == OutcomeRendered {
			dirs[rec.OutputDir] = struct{}{}
		}
		s.finished(patch, job, outcome)
	}
	return len(jobs), nil
}

func (s *Scheduler) renderJob(eng Engine, rec *model.TrackRecord, stem *model.StemRecord, job model.RenderJob, out string) (Outcome, error) {
	name, err := eng.ProgramName()
	if err != nil {
		return OutcomeFailed, err
	}
	stem.PluginPresetName = name

	midiPath, err := filepath.Abs(filepath.Join(rec.MIDIDir, job.StemKey+".mid"))
	if err != nil {
		return OutcomeFailed, err
	}
	if err := eng.LoadMIDI(midiPath); err != nil {
		return OutcomeFailed, err
	}
	if err := eng.Render(job.Duration); err != nil {
		return OutcomeFailed, err
	}
	buf, err := eng.AudioFrames()
	if err != nil {
		return OutcomeFailed, err
	}

	if !buf.Finite() {
		return OutcomeFailed, errors.New("engine produced non-finite samples")
	}
	if buf.IsSilent() {
		logger.Warn("Rendered silence, not writing",
			logger.String("track", rec.Name),
			logger.String("stem", job.StemKey))
		return OutcomeSilent, nil
	}
	buf.Scale(PeakLevel / buf.Peak())

	if got := buf.Duration(); math.Abs(got-job.Duration) > DurationTolerance {
		return OutcomeFailed, fmt.Errorf("%w: rendered %.3fs, expected %.3fs", ErrDurationMismatch, got, job.Duration)
	}

	if err := os.MkdirAll(rec.AudioDir, 0755); err != nil {
		return OutcomeFailed, err
	}
	if err := s.write(out, buf); err != nil {
		return OutcomeFailed, err
	}
	if !utils.FileExists(out) {
		return OutcomeFailed, fmt.Errorf("%w: %s", ErrNotWritten, out)
	}
	stem.AudioRendered = true
	logger.Info("Wrote rendered stem", logger.String("path", out), logger.String("preset", name))

	if err := s.Store.Save(rec); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeRendered, nil
}

func (s *Scheduler) write(path string, buf *audio.Buffer) error {
	if s.writeWAV != nil {
		return s.writeWAV(path, buf)
	}
	return audio.WriteWAV(path, buf)
}

func (s *Scheduler) finished(patch string, job model.RenderJob, outcome Outcome) {
	if s.Observer != nil {
		s.Observer.JobFinished(patch, job, outcome)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
