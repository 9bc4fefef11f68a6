package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"StemForge/cache"
	"StemForge/config"
	"StemForge/core/classifier"
	"StemForge/core/intake"
	"StemForge/core/loudness"
	"StemForge/core/mix"
	"StemForge/core/patch"
	"StemForge/core/render"
	"StemForge/core/rules"
	"StemForge/db"
	"StemForge/logger"
	"StemForge/model"
	"StemForge/repository"

	"github.com/google/uuid"
)

const runLockTTL = 30 * time.Second

// pipeline holds what every phase shares: the metadata store and the optional
// Redis run lock, progress counters and MySQL catalog.
type pipeline struct {
	cfg      *config.Config
	store    *repository.MetadataStore
	catalog  repository.CatalogRepository
	lock     *cache.RunLock
	recorder *cache.ProgressRecorder
	runID    string
}

// openPipeline prepares the output directory and connects the optional
// backends. With exclusive set it takes the run lock on the output directory.
func openPipeline(ctx context.Context, cfg *config.Config, exclusive bool) (*pipeline, error) {
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	p := &pipeline{
		cfg:   cfg,
		store: repository.NewMetadataStore(cfg.OutputDir),
		runID: uuid.NewString(),
	}

	if db.Enabled(cfg.DB) {
		if err := db.ConnectGormDB(cfg.DB); err != nil {
			return nil, err
		}
		if err := db.AutoMigrateModels(&model.CatalogEntry{}); err != nil {
			p.Close()
			return nil, err
		}
		p.catalog = repository.NewGormCatalogRepository(db.GormDB)
		p.store = p.store.WithCatalog(p.catalog)
	}

	if cache.Enabled(cfg.Redis) {
		if err := cache.ConnectRedis(cfg.Redis); err != nil {
			p.Close()
			return nil, err
		}
		if exclusive {
			lock, err := cache.AcquireRunLock(ctx, cache.RedisClient, cfg.OutputDir, runLockTTL)
			if err != nil {
				p.Close()
				return nil, err
			}
			p.lock = lock
		}
		p.recorder = cache.NewProgressRecorder(cache.RedisClient, p.runID)
	}

	logger.Info("Pipeline opened",
		logger.String("runId", p.runID),
		logger.String("output", cfg.OutputDir),
		logger.Bool("catalog", p.catalog != nil),
		logger.String("progressKey", p.recorder.Key()))
	return p, nil
}

// Close releases the run lock and disconnects the backends.
func (p *pipeline) Close() {
	if p.lock != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.lock.Release(ctx); err != nil {
			logger.Warn("Failed to release run lock", logger.ErrorField(err))
		}
		cancel()
		p.lock = nil
	}
	if cache.RedisClient != nil {
		if err := cache.CloseRedis(); err != nil {
			logger.Warn("Failed to close Redis", logger.ErrorField(err))
		}
	}
	if db.GormDB != nil {
		if err := db.CloseGormDB(); err != nil {
			logger.Warn("Failed to close database", logger.ErrorField(err))
		}
	}
}

// newSplitter loads the instrument tables and builds a splitter.
func (p *pipeline) newSplitter() (*intake.Splitter, error) {
	cfg := p.cfg
	if err := cfg.Validate(config.PhaseSplit); err != nil {
		return nil, err
	}
	classes, err := classifier.LoadTable(cfg.InstrumentClassesFile)
	if err != nil {
		return nil, err
	}
	defs, err := patch.LoadDefs(cfg.PatchDefsFile)
	if err != nil {
		return nil, err
	}
	if cfg.ZeroBasedMIDI {
		defs = defs.ZeroBased()
	}
	ruleset, err := rules.Load(cfg.PitchRulesFile)
	if err != nil {
		return nil, err
	}
	var band []string
	if cfg.BandDefinitionFile != "" {
		if band, err = patch.LoadBand(cfg.BandDefinitionFile); err != nil {
			return nil, err
		}
	}

	return &intake.Splitter{
		Store:    p.store,
		Classes:  classes,
		Pools:    defs.Pools(),
		Rules:    ruleset,
		Selector: patch.NewSelector(cfg.RandomSeed, cfg.ForcePatchDiversity),
		Opts: intake.Options{
			Criteria: intake.Criteria{
				Program0IsPiano: cfg.Program0IsPiano,
				SeparateDrums:   cfg.SeparateDrums,
				Band:            band,
			},
			CorpusDir:     cfg.CorpusDir,
			MaxFiles:      cfg.MaxNumFiles,
			ZeroBasedMIDI: cfg.ZeroBasedMIDI,
			ForceRerender: cfg.ForceRerender,
		},
	}, nil
}

// split runs the splitter over paths and records the counters.
func (p *pipeline) split(ctx context.Context, s *intake.Splitter, paths []string) (*model.Manifest, error) {
	start := time.Now()
	manifest, stats, err := s.Run(ctx, paths)

	rejected := 0
	for reason, n := range stats.Rejected {
		rejected += n
		logger.Info("Rejected MIDI files", logger.String("reason", string(reason)), logger.Int("count", n))
	}
	p.recorder.Incr(ctx, cache.FieldAccepted, int64(stats.Accepted))
	p.recorder.Incr(ctx, cache.FieldRejected, int64(rejected))
	if err != nil {
		return nil, err
	}

	logger.Info("Split finished",
		logger.Int("scanned", stats.Scanned),
		logger.Int("accepted", stats.Accepted),
		logger.Int("rejected", rejected),
		logger.Int("jobs", manifest.Len()),
		logger.Duration("elapsed", time.Since(start)))
	return manifest, nil
}

// corpus lists and shuffles the source files.
func (p *pipeline) corpus() ([]string, error) {
	paths, err := intake.ListCorpus(p.cfg.CorpusDir, p.cfg.MIDIFileList)
	if err != nil {
		return nil, err
	}
	return intake.Shuffle(paths, p.cfg.RandomSeed), nil
}

// manifestFromDisk rebuilds the work manifest from the track directories
// already in the output directory.
func (p *pipeline) manifestFromDisk() (*model.Manifest, error) {
	dirs, err := p.store.List()
	if err != nil {
		return nil, err
	}
	return intake.ManifestFromDisk(p.store, dirs)
}

// render renders every job of manifest and returns the track directories that
// have audio.
func (p *pipeline) render(ctx context.Context, manifest *model.Manifest) ([]string, error) {
	cfg := p.cfg
	if err := cfg.Validate(config.PhaseRender); err != nil {
		return nil, err
	}
	bar := newRenderProgress(ctx, manifest.Len(), p.recorder)
	sched := &render.Scheduler{
		Engines:       render.NewHost(cfg.Engine, render.ProcessStarter(cfg.Engine)),
		Store:         p.store,
		RestartLimit:  cfg.Engine.RestartLimit,
		ForceRerender: cfg.ForceRerender,
		Observer:      bar,
	}
	dirs, err := sched.RenderAll(ctx, manifest)
	bar.Wait()
	return dirs, err
}

// mix normalizes and mixes dirs.
func (p *pipeline) mix(ctx context.Context, dirs []string) error {
	cfg := p.cfg
	if err := cfg.Validate(config.PhaseMix); err != nil {
		return err
	}
	bar := newMixProgress(ctx, len(dirs), p.recorder)
	m := &mix.Mixer{
		Store: p.store,
		Meter: loudness.NewMeter(cfg.Mix.FFmpegPath, cfg.Engine.SampleRate),
		Opts: mix.Options{
			SampleRate:          cfg.Engine.SampleRate,
			NormalizationTarget: cfg.Mix.NormalizationTarget,
			TargetPeakDBFS:      cfg.Mix.TargetPeakDBFS,
			ForceRemix:          cfg.ForceRemix,
		},
		OnTrack: bar.TrackFinished,
	}
	err := m.MixAll(ctx, dirs)
	bar.Wait()
	return err
}
