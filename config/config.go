package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrInvalidConfig marks caller mistakes in configuration. They are fatal for a run.
var ErrInvalidConfig = errors.New("invalid configuration")

// Phase names a pipeline stage whose required settings can be validated on their own.
type Phase string

const (
	PhaseSplit  Phase = "split"
	PhaseRender Phase = "render"
	PhaseMix    Phase = "mix"
)

// EngineConfig holds the plugin engine host settings.
type EngineConfig struct {
	HostPath       string  `json:"host_path"`
	PluginDir      string  `json:"plugin_dir"`
	KontaktPath    string  `json:"kontakt_path"`
	UserDefsDir    string  `json:"user_defs_dir"`
	KontaktDefsDir string  `json:"kontakt_defs_dir"`
	SampleRate     int     `json:"sample_rate"`
	BufferSize     int     `json:"buffer_size"`
	RestartLimit   int     `json:"restart_limit"`
	SettleSeconds  float64 `json:"settle_seconds"`
}

// SettleDelay is the wait after a plugin load before the engine is used.
func (e EngineConfig) SettleDelay() time.Duration {
	return time.Duration(e.SettleSeconds * float64(time.Second))
}

// MixConfig holds loudness normalization targets and the ffmpeg binary that measures loudness.
type MixConfig struct {
	NormalizationTarget float64 `json:"normalization_target"` // LUFS
	TargetPeakDBFS      float64 `json:"target_peak_dbfs"`
	FFmpegPath          string  `json:"ffmpeg_path"`
}

// LogConfig mirrors logger.Config in a serializable form.
type LogConfig struct {
	Level    string `json:"level"`
	Dir      string `json:"dir"`
	Basename string `json:"basename"`
}

// RedisConfig is optional; an empty Host disables the run lock and progress counters.
type RedisConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// MinioConfig is optional; an empty Endpoint disables publication.
type MinioConfig struct {
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	Prefix    string `json:"prefix"`
	UseSSL    bool   `json:"use_ssl"`
}

// DBConfig is optional; an empty Host disables the MySQL catalog.
type DBConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Config stores the application configuration.
type Config struct {
	CorpusDir             string `json:"corpus_dir"`
	MIDIFileList          string `json:"midi_file_list"`
	OutputDir             string `json:"output_dir"`
	RandomSeed            uint64 `json:"random_seed"`
	MaxNumFiles           int    `json:"max_num_files"`
	InstrumentClassesFile string `json:"instrument_classes_file"`
	PatchDefsFile         string `json:"defs_metadata_file"`
	BandDefinitionFile    string `json:"band_definition_file"`
	PitchRulesFile        string `json:"pitch_rules_file"`

	Program0IsPiano     bool `json:"render_pgm0_as_piano"`
	ZeroBasedMIDI       bool `json:"zero_based_midi"`
	SeparateDrums       bool `json:"separate_drums"`
	ForcePatchDiversity bool `json:"same_pgms_diff"`
	ForceRerender       bool `json:"rerender_existing"`
	ForceRemix          bool `json:"remix_existing"`

	Engine EngineConfig `json:"engine"`
	Mix    MixConfig    `json:"mix"`
	Log    LogConfig    `json:"log"`
	Redis  RedisConfig  `json:"redis"`
	Minio  MinioConfig  `json:"minio"`
	DB     DBConfig     `json:"db"`

	ListenAddr string `json:"listen_addr"`
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvUint64(key string, fallback uint64) uint64 {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := strconv.ParseUint(value, 10, 64); err == nil {
			return v
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	return &Config{
		CorpusDir:             getEnv("CORPUS_DIR", ""),
		MIDIFileList:          getEnv("MIDI_FILE_LIST", ""),
		OutputDir:             getEnv("OUTPUT_DIR", "output"),
		RandomSeed:            getEnvUint64("RANDOM_SEED", 1),
		MaxNumFiles:           getEnvInt("MAX_NUM_FILES", 100),
		InstrumentClassesFile: getEnv("INSTRUMENT_CLASSES_FILE", ""),
		PatchDefsFile:         getEnv("PATCH_DEFS_FILE", ""),
		BandDefinitionFile:    getEnv("BAND_DEFINITION_FILE", ""),
		PitchRulesFile:        getEnv("PITCH_RULES_FILE", ""),

		Program0IsPiano:     getEnvBool("RENDER_PGM0_AS_PIANO", false),
		ZeroBasedMIDI:       getEnvBool("ZERO_BASED_MIDI", false),
		SeparateDrums:       getEnvBool("SEPARATE_DRUMS", false),
		ForcePatchDiversity: getEnvBool("FORCE_PATCH_DIVERSITY", false),
		ForceRerender:       getEnvBool("FORCE_RERENDER", false),
		ForceRemix:          getEnvBool("FORCE_REMIX", false),

		Engine: EngineConfig{
			HostPath:       getEnv("ENGINE_HOST_PATH", "renderman-host"),
			PluginDir:      getEnv("PLUGIN_DIR", ""),
			KontaktPath:    getEnv("KONTAKT_PATH", ""),
			UserDefsDir:    getEnv("KONTAKT_USER_DEFS_DIR", ""),
			KontaktDefsDir: getEnv("KONTAKT_DEFS_DIR", ""),
			SampleRate:     getEnvInt("ENGINE_SAMPLE_RATE", 44100),
			BufferSize:     getEnvInt("ENGINE_BUFFER_SIZE", 512),
			RestartLimit:   getEnvInt("ENGINE_RESTART_LIMIT", 50),
			SettleSeconds:  getEnvFloat("ENGINE_SETTLE_SECONDS", 7.0),
		},
		Mix: MixConfig{
			NormalizationTarget: getEnvFloat("MIX_NORMALIZATION_TARGET", -23.0),
			TargetPeakDBFS:      getEnvFloat("MIX_TARGET_PEAK_DBFS", -1.0),
			FFmpegPath:          getEnv("FFMPEG_PATH", "ffmpeg"),
		},
		Log: LogConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Dir:      getEnv("LOG_DIR", "logs"),
			Basename: getEnv("LOG_BASENAME", "stemforge"),
		},
		// Redis配置，使用默认值
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Minio: MinioConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", "stemforge"),
			Region:    getEnv("MINIO_REGION", ""),
			Prefix:    getEnv("MINIO_PREFIX", "renders"),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
		DB: DBConfig{
			Host:     getEnv("DB_HOST", ""),
			Port:     getEnv("DB_PORT", "3306"),
			User:     getEnv("DB_USER", "root"),
			Password: os.Getenv("DB_PASSWORD"),
			Name:     getEnv("DB_NAME", "stemforge"),
		},
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),
	}
}

// LoadFile overlays a JSON configuration document onto the environment derived
// defaults. Keys absent from the document keep their environment value.
func LoadFile(path string) (*Config, error) {
	cfg := Load()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading config file %s: %v", ErrInvalidConfig, path, err)
	}
	if err := ValidateDocument("config", configSchema, data); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: decoding config file %s: %v", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

// LogPath is where the rotated log file lives, or "" for stdout only.
func (c *Config) LogPath() string {
	if c.Log.Dir == "" || c.Log.Basename == "" {
		return ""
	}
	return filepath.Join(c.Log.Dir, c.Log.Basename+".log")
}

// Validate reports the settings that the given phase cannot run without.
func (c *Config) Validate(phase Phase) error {
	var problems []string
	if c.OutputDir == "" {
		problems = append(problems, "output_dir is required")
	}

	switch phase {
	case PhaseSplit:
		if c.CorpusDir == "" && c.MIDIFileList == "" {
			problems = append(problems, "one of corpus_dir or midi_file_list is required")
		}
		if c.InstrumentClassesFile == "" {
			problems = append(problems, "instrument_classes_file is required")
		}
		if c.PatchDefsFile == "" {
			problems = append(problems, "defs_metadata_file is required")
		}
		if c.MaxNumFiles <= 0 {
			problems = append(problems, "max_num_files must be positive")
		}
	case PhaseRender:
		if c.Engine.SampleRate <= 0 {
			problems = append(problems, "engine.sample_rate must be positive")
		}
		if c.Engine.BufferSize <= 0 {
			problems = append(problems, "engine.buffer_size must be positive")
		}
		if c.Engine.RestartLimit <= 0 {
			problems = append(problems, "engine.restart_limit must be positive")
		}
		if c.Engine.SettleSeconds < 0 {
			problems = append(problems, "engine.settle_seconds must not be negative")
		}
		if c.Engine.HostPath == "" {
			problems = append(problems, "engine.host_path is required")
		}
	case PhaseMix:
		if c.Engine.SampleRate <= 0 {
			problems = append(problems, "engine.sample_rate must be positive")
		}
		if c.Mix.TargetPeakDBFS > 0 {
			problems = append(problems, "mix.target_peak_dbfs must not be above 0 dBFS")
		}
		if c.Mix.FFmpegPath == "" {
			problems = append(problems, "mix.ffmpeg_path is required")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
