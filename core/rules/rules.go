// Package rules applies per-instrument-class pitch corrections to stem notes.
//
// Rules are looked up in a fixed registry keyed by rule type. Every transform
// returns a fresh note slice and leaves its input untouched.
package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"StemForge/config"
	"StemForge/model"
)

// ErrInvalidRule reports a rule that cannot be applied. It is a configuration error.
var ErrInvalidRule = errors.New("invalid pitch rule")

// Kind identifies a rule type in the rules document.
type Kind string

const (
	RangeClamp  Kind = "min_max_octave"
	NoteRemap   Kind = "move_note"
	GlobalShift Kind = "shift_all_notes"
)

// Remap moves every note at Old to New.
type Remap struct {
	Old int `json:"old"`
	New int `json:"new"`
}

// Spec is one rule entry. Only the fields of its Kind are meaningful.
type Spec struct {
	Name      Kind    `json:"rule_name"`
	Enabled   bool    `json:"enabled"`
	Min       int     `json:"min"`
	Max       int     `json:"max"`
	NoteRules []Remap `json:"note_rules"`
	Shift     int     `json:"shift"`
}

// Transform is a pure note transform.
type Transform func(notes []model.Note, spec Spec) []model.Note

var registry = map[Kind]Transform{
	RangeClamp: func(n []model.Note, s Spec) []model.Note { return Clamp(n, s.Min, s.Max) },
	NoteRemap:  func(n []model.Note, s Spec) []model.Note { return RemapNotes(n, s.NoteRules) },
	GlobalShift: func(n []model.Note, s Spec) []model.Note {
		return ShiftNotes(n, s.Shift)
	},
}

// Ruleset maps an instrument class to its ordered rules.
type Ruleset map[string][]Spec

// Load reads a rules document. An empty path yields an empty ruleset.
func Load(path string) (Ruleset, error) {
	if path == "" {
		return Ruleset{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading pitch rules %s: %v", config.ErrInvalidConfig, path, err)
	}
	return Parse(data)
}

// Parse validates and decodes a rules document.
func Parse(data []byte) (Ruleset, error) {
	if err := config.ValidateDocument("pitch rules", rulesSchema, data); err != nil {
		return nil, err
	}
	var rs Ruleset
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("%w: decoding pitch rules: %v", config.ErrInvalidConfig, err)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return rs, nil
}

// Validate checks that every rule is known and that every range can be reached
// by octave shifts.
func (rs Ruleset) Validate() error {
	for class, specs := range rs {
		for i, s := range specs {
			if _, ok := registry[s.Name]; !ok {
				return fmt.Errorf("%w: %s rule %d: unknown rule %q", ErrInvalidRule, class, i, s.Name)
			}
			if s.Name == RangeClamp {
				if err := checkRange(s.Min, s.Max); err != nil {
					return fmt.Errorf("%s rule %d: %w", class, i, err)
				}
			}
		}
	}
	return nil
}

// Apply runs the enabled rules of class over notes in order. Classes without
// enabled rules pass through unchanged.
func (rs Ruleset) Apply(notes []model.Note, class string) ([]model.Note, error) {
	out := notes
	for _, s := range rs[class] {
		if !s.Enabled {
			continue
		}
		fn, ok := registry[s.Name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown rule %q", ErrInvalidRule, s.Name)
		}
		if s.Name == RangeClamp {
			if err := checkRange(s.Min, s.Max); err != nil {
				return nil, err
			}
		}
		out = fn(out, s)
	}
	return out, nil
}

// A range narrower than an octave has pitch classes with no representative
// inside it; clamping those would never settle.
func checkRange(lo, hi int) error {
	if lo < 0 || hi > 127 || hi-lo < 11 {
		return fmt.Errorf("%w: range [%d, %d] must lie in [0, 127] and span at least 11 semitones", ErrInvalidRule, lo, hi)
	}
	return nil
}

// Clamp moves notes below lo up and notes above hi down by whole octaves until
// they fall inside [lo, hi]. The range must span at least 11 semitones.
func Clamp(notes []model.Note, lo, hi int) []model.Note {
	out := model.CloneNotes(notes)
	for i := range out {
		p := out[i].Pitch
		if p < lo {
			p += 12 * ((lo - p + 11) / 12)
		}
		if p > hi {
			p -= 12 * ((p - hi + 11) / 12)
		}
		out[i].Pitch = p
	}
	return out
}

// RemapNotes applies each pair in order, so a later pair sees the result of earlier ones.
func RemapNotes(notes []model.Note, pairs []Remap) []model.Note {
	out := model.CloneNotes(notes)
	for _, r := range pairs {
		for i := range out {
			if out[i].Pitch == r.Old {
				out[i].Pitch = r.New
			}
		}
	}
	return out
}

// ShiftNotes transposes every note by semitones.
func ShiftNotes(notes []model.Note, semitones int) []model.Note {
	out := make([]model.Note, len(notes))
	for i, n := range notes {
		out[i] = model.Note{Pitch: n.Pitch + semitones, Velocity: n.Velocity, Start: n.Start, End: n.End}
	}
	return out
}

const rulesSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": {
    "type": "array",
    "items": {
      "type": "object",
      "required": ["rule_name", "enabled"],
      "properties": {
        "rule_name": {"type": "string"},
        "enabled": {"type": "boolean"},
        "min": {"type": "integer"},
        "max": {"type": "integer"},
        "shift": {"type": "integer"},
        "note_rules": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["old", "new"],
            "properties": {"old": {"type": "integer"}, "new": {"type": "integer"}}
          }
        }
      },
      "allOf": [
        {"if": {"properties": {"rule_name": {"const": "min_max_octave"}}}, "then": {"required": ["min", "max"]}},
        {"if": {"properties": {"rule_name": {"const": "move_note"}}}, "then": {"required": ["note_rules"]}},
        {"if": {"properties": {"rule_name": {"const": "shift_all_notes"}}}, "then": {"required": ["shift"]}}
      ]
    }
  }
}`
