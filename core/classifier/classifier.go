// Package classifier maps MIDI program numbers onto semantic instrument classes.
package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"StemForge/config"
)

// ErrUnknownProgram is returned when a program number is missing from the class table.
var ErrUnknownProgram = errors.New("program number not in instrument class table")

// Reserved classes that do not come from the table.
const (
	Drums   = "Drums"
	Unknown = "Unknown"
)

// Class is the result of a classification.
type Class struct {
	Tag  string `json:"class"`
	Name string `json:"name"`
}

// Table maps a program number (0-127) to its class.
type Table map[int]Class

// Classify returns the instrument class of a track. Drum tracks are always
// Drums. Program 0 is ambiguous in many files and is only read as the table
// entry when program0IsPiano is set.
func (t Table) Classify(program int, isDrum, program0IsPiano bool) (Class, error) {
	if isDrum {
		return Class{Tag: Drums, Name: Drums}, nil
	}
	if program == 0 && !program0IsPiano {
		return Class{Tag: Unknown, Name: Unknown}, nil
	}
	c, ok := t[program]
	if !ok {
		return Class{}, fmt.Errorf("%w: %d", ErrUnknownProgram, program)
	}
	return c, nil
}

// LoadTable reads an instrument class table of the form
// {"0": {"class": "Piano", "name": "Acoustic Grand Piano"}, ...}.
// The table must cover every program number from 0 to 127.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading instrument classes %s: %v", config.ErrInvalidConfig, path, err)
	}
	return ParseTable(data)
}

// ParseTable validates and decodes an instrument class table document.
func ParseTable(data []byte) (Table, error) {
	if err := config.ValidateDocument("instrument classes", tableSchema, data); err != nil {
		return nil, err
	}

	var raw map[string]Class
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: decoding instrument classes: %v", config.ErrInvalidConfig, err)
	}

	t := make(Table, len(raw))
	for k, c := range raw {
		n, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("%w: instrument classes: bad program number %q", config.ErrInvalidConfig, k)
		}
		t[n] = c
	}
	for p := 0; p <= 127; p++ {
		if _, ok := t[p]; !ok {
			return nil, fmt.Errorf("%w: instrument classes: program %d missing", config.ErrInvalidConfig, p)
		}
	}
	return t, nil
}

const tableSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "propertyNames": {"pattern": "^(0|[1-9][0-9]?|1[01][0-9]|12[0-7])$"},
  "additionalProperties": {
    "type": "object",
    "required": ["class", "name"],
    "properties": {
      "class": {"type": "string", "minLength": 1},
      "name": {"type": "string"}
    }
  }
}`
