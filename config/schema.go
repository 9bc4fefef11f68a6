package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidateDocument checks a JSON document against a JSON schema and reports
// every violation in a single ErrInvalidConfig error.
func ValidateDocument(name, schema string, data []byte) error {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		return fmt.Errorf("compiling %s schema: %w", name, err)
	}

	result, err := compiled.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %s is not valid JSON: %v", ErrInvalidConfig, name, err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, name, strings.Join(msgs, "; "))
}

const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "corpus_dir": {"type": "string"},
    "midi_file_list": {"type": ["string", "null"]},
    "output_dir": {"type": "string"},
    "random_seed": {"type": "integer", "minimum": 0},
    "max_num_files": {"type": "integer", "minimum": 1},
    "instrument_classes_file": {"type": "string"},
    "defs_metadata_file": {"type": "string"},
    "band_definition_file": {"type": ["string", "null"]},
    "pitch_rules_file": {"type": ["string", "null"]},
    "render_pgm0_as_piano": {"type": "boolean"},
    "zero_based_midi": {"type": "boolean"},
    "separate_drums": {"type": "boolean"},
    "same_pgms_diff": {"type": "boolean"},
    "rerender_existing": {"type": "boolean"},
    "remix_existing": {"type": "boolean"},
    "listen_addr": {"type": "string"},
    "engine": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "host_path": {"type": "string"},
        "plugin_dir": {"type": "string"},
        "kontakt_path": {"type": "string"},
        "user_defs_dir": {"type": "string"},
        "kontakt_defs_dir": {"type": "string"},
        "sample_rate": {"type": "integer", "minimum": 1},
        "buffer_size": {"type": "integer", "minimum": 1},
        "restart_limit": {"type": "integer", "minimum": 1},
        "settle_seconds": {"type": "number", "minimum": 0}
      }
    },
    "mix": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "normalization_target": {"type": "number"},
        "target_peak_dbfs": {"type": "number", "maximum": 0},
        "ffmpeg_path": {"type": "string", "minLength": 1}
      }
    },
    "log": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "level": {"enum": ["debug", "info", "warn", "error"]},
        "dir": {"type": "string"},
        "basename": {"type": "string"}
      }
    },
    "redis": {"type": "object"},
    "minio": {"type": "object"},
    "db": {"type": "object"}
  }
}`
