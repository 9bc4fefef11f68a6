package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{
		"OUTPUT_DIR", "RANDOM_SEED", "MAX_NUM_FILES", "ENGINE_SAMPLE_RATE",
		"ENGINE_RESTART_LIMIT", "ENGINE_SETTLE_SECONDS", "MIX_NORMALIZATION_TARGET",
		"MIX_TARGET_PEAK_DBFS", "ZERO_BASED_MIDI", "REDIS_HOST",
	} {
		os.Unsetenv(k)
	}

	cfg := Load()

	if cfg.OutputDir != "output" {
		t.Errorf("OutputDir = %q, want default", cfg.OutputDir)
	}
	if cfg.RandomSeed != 1 {
		t.Errorf("RandomSeed = %d, want 1", cfg.RandomSeed)
	}
	if cfg.Engine.SampleRate != 44100 {
		t.Errorf("Engine.SampleRate = %d, want 44100", cfg.Engine.SampleRate)
	}
	if cfg.Engine.RestartLimit != 50 {
		t.Errorf("Engine.RestartLimit = %d, want 50", cfg.Engine.RestartLimit)
	}
	if cfg.Engine.SettleDelay() != 7*time.Second {
		t.Errorf("Engine.SettleDelay() = %v, want 7s", cfg.Engine.SettleDelay())
	}
	if cfg.Mix.NormalizationTarget != -23.0 {
		t.Errorf("Mix.NormalizationTarget = %v, want -23", cfg.Mix.NormalizationTarget)
	}
	if cfg.Mix.TargetPeakDBFS != -1.0 {
		t.Errorf("Mix.TargetPeakDBFS = %v, want -1", cfg.Mix.TargetPeakDBFS)
	}
	if cfg.Mix.FFmpegPath != "ffmpeg" {
		t.Errorf("Mix.FFmpegPath = %q, want ffmpeg", cfg.Mix.FFmpegPath)
	}
	if cfg.ZeroBasedMIDI {
		t.Error("ZeroBasedMIDI should default to false")
	}
	if cfg.Redis.Host != "" {
		t.Errorf("Redis.Host = %q, want empty (disabled)", cfg.Redis.Host)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("OUTPUT_DIR", "/tmp/renders")
	t.Setenv("RANDOM_SEED", "42")
	t.Setenv("ZERO_BASED_MIDI", "true")
	t.Setenv("ENGINE_SETTLE_SECONDS", "0.5")
	t.Setenv("MIX_TARGET_PEAK_DBFS", "-3")

	cfg := Load()

	if cfg.OutputDir != "/tmp/renders" {
		t.Errorf("OutputDir = %q, want env override", cfg.OutputDir)
	}
	if cfg.RandomSeed != 42 {
		t.Errorf("RandomSeed = %d, want 42", cfg.RandomSeed)
	}
	if !cfg.ZeroBasedMIDI {
		t.Error("ZeroBasedMIDI = false, want true")
	}
	if cfg.Engine.SettleDelay() != 500*time.Millisecond {
		t.Errorf("SettleDelay() = %v, want 500ms", cfg.Engine.SettleDelay())
	}
	if cfg.Mix.TargetPeakDBFS != -3 {
		t.Errorf("TargetPeakDBFS = %v, want -3", cfg.Mix.TargetPeakDBFS)
	}
}

func TestEnvInvalidFallsBack(t *testing.T) {
	t.Setenv("ENGINE_SAMPLE_RATE", "not-a-number")
	t.Setenv("FORCE_REMIX", "maybe")
	cfg := Load()
	if cfg.Engine.SampleRate != 44100 {
		t.Errorf("invalid int env should fall back: got %d", cfg.Engine.SampleRate)
	}
	if cfg.ForceRemix {
		t.Error("invalid bool env should fall back to false")
	}
}

func TestLoadFileOverlaysDocument(t *testing.T) {
	t.Setenv("OUTPUT_DIR", "/from/env")
	t.Setenv("ENGINE_BUFFER_SIZE", "256")

	path := filepath.Join(t.TempDir(), "config.json")
	doc := `{
		"output_dir": "/from/doc",
		"max_num_files": 7,
		"zero_based_midi": true,
		"engine": {"sample_rate": 48000, "restart_limit": 10},
		"mix": {"normalization_target": -18}
	}`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.OutputDir != "/from/doc" {
		t.Errorf("OutputDir = %q, want document value", cfg.OutputDir)
	}
	if cfg.MaxNumFiles != 7 {
		t.Errorf("MaxNumFiles = %d, want 7", cfg.MaxNumFiles)
	}
	if cfg.Engine.SampleRate != 48000 || cfg.Engine.RestartLimit != 10 {
		t.Errorf("Engine = %+v, want document values", cfg.Engine)
	}
	if cfg.Engine.BufferSize != 256 {
		t.Errorf("Engine.BufferSize = %d, want env value kept", cfg.Engine.BufferSize)
	}
	if cfg.Mix.NormalizationTarget != -18 {
		t.Errorf("Mix.NormalizationTarget = %v, want -18", cfg.Mix.NormalizationTarget)
	}
}

func TestLoadFileRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"unknown key":    `{"output_dirr": "x"}`,
		"wrong type":     `{"max_num_files": "ten"}`,
		"positive peak":  `{"mix": {"target_peak_dbfs": 2}}`,
		"bad log level":  `{"log": {"level": "loud"}}`,
		"zero buffer":    `{"engine": {"buffer_size": 0}}`,
		"not json at all": `{{`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := LoadFile(path)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("LoadFile error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestValidatePerPhase(t *testing.T) {
	cfg := &Config{OutputDir: "out", MaxNumFiles: 1}
	if err := cfg.Validate(PhaseSplit); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("split without corpus/tables: err = %v, want ErrInvalidConfig", err)
	}

	cfg.CorpusDir = "corpus"
	cfg.InstrumentClassesFile = "classes.json"
	cfg.PatchDefsFile = "defs.json"
	if err := cfg.Validate(PhaseSplit); err != nil {
		t.Errorf("complete split config: unexpected error %v", err)
	}

	cfg.Engine = EngineConfig{HostPath: "host", SampleRate: 44100, BufferSize: 512, RestartLimit: 0}
	if err := cfg.Validate(PhaseRender); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("zero restart limit: err = %v, want ErrInvalidConfig", err)
	}

	cfg.Mix.TargetPeakDBFS = 0.5
	if err := cfg.Validate(PhaseMix); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("positive target peak: err = %v, want ErrInvalidConfig", err)
	}

	cfg.Mix.TargetPeakDBFS = -1
	if err := cfg.Validate(PhaseMix); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("mix without ffmpeg path: err = %v, want ErrInvalidConfig", err)
	}
	cfg.Mix.FFmpegPath = "ffmpeg"
	if err := cfg.Validate(PhaseMix); err != nil {
		t.Errorf("complete mix config: unexpected error %v", err)
	}
}

func TestLogPath(t *testing.T) {
	cfg := &Config{Log: LogConfig{Dir: "logs", Basename: "run"}}
	if got := cfg.LogPath(); got != filepath.Join("logs", "run.log") {
		t.Errorf("LogPath() = %q", got)
	}
	cfg.Log.Dir = ""
	if got := cfg.LogPath(); got != "" {
		t.Errorf("LogPath() with no dir = %q, want empty", got)
	}
}
