// Package patch loads synthesis patch definitions and assigns patches to stems.
package patch

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"os"
	"sort"

	"StemForge/config"
)

// Def is one entry of the patch definitions document.
type Def struct {
	ProgramNumbers []int    `json:"program_numbers"`
	Defs           []string `json:"defs"`
}

// Defs maps a logical instrument key to the patches that can play its programs.
type Defs map[string]Def

// Pools maps a program number to its eligible patches.
type Pools map[int][]string

// DrumProgram is the program number drum stems are filed under. It sits past
// the melodic range so drums never collide with program 0.
func DrumProgram(zeroBased bool) int {
	if zeroBased {
		return 128
	}
	return 129
}

// LoadDefs reads and validates a patch definitions document.
func LoadDefs(path string) (Defs, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading patch definitions %s: %v", config.ErrInvalidConfig, path, err)
	}
	if err := config.ValidateDocument("patch definitions", defsSchema, data); err != nil {
		return nil, err
	}
	var d Defs
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: decoding patch definitions: %v", config.ErrInvalidConfig, err)
	}
	return d, nil
}

// ZeroBased returns a copy with every program number shifted down by one, clamped at 0.
func (d Defs) ZeroBased() Defs {
	out := make(Defs, len(d))
	for k, v := range d {
		pgms := make([]int, len(v.ProgramNumbers))
		for i, p := range v.ProgramNumbers {
			pgms[i] = max(p-1, 0)
		}
		out[k] = Def{ProgramNumbers: pgms, Defs: append([]string(nil), v.Defs...)}
	}
	return out
}

// Pools inverts the definitions. A program listed under several keys gets the
// union of their patches, in key order, without duplicates.
func (d Defs) Pools() Pools {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pools := make(Pools)
	seen := make(map[int]map[string]bool)
	for _, k := range keys {
		for _, p := range d[k].ProgramNumbers {
			if seen[p] == nil {
				seen[p] = make(map[string]bool)
			}
			for _, name := range d[k].Defs {
				if seen[p][name] {
					continue
				}
				seen[p][name] = true
				pools[p] = append(pools[p], name)
			}
		}
	}
	return pools
}

// Selector draws patches from pools with a seeded generator.
type Selector struct {
	seed      uint64
	rng       *rand.Rand
	diversify bool
}

// NewSelector returns a selector. With diversify set, every stem draws anew
// even if its program was already assigned within the same file.
func NewSelector(seed uint64, diversify bool) *Selector {
	return &Selector{seed: seed, rng: rand.New(rand.NewPCG(seed, seed)), diversify: diversify}
}

// ForTrack derives a selector whose draws depend only on the seed and id, so a
// track gets the same patches whether or not earlier tracks were split in this run.
func (s *Selector) ForTrack(id string) *Selector {
	h := fnv.New64a()
	h.Write([]byte(id))
	return &Selector{seed: s.seed, rng: rand.New(rand.NewPCG(s.seed, h.Sum64())), diversify: s.diversify}
}

// Select picks a patch for program. seen holds the per-file assignments and is
// updated on a fresh draw. ok is false when the pool is empty.
func (s *Selector) Select(pools Pools, program int, seen map[int]string) (name string, ok bool) {
	pool := pools[program]
	if len(pool) == 0 {
		return "", false
	}
	if !s.diversify {
		if prev, found := seen[program]; found {
			return prev, true
		}
	}
	name = pool[s.rng.IntN(len(pool))]
	seen[program] = name
	return name, true
}

// LoadBand reads a band definition {"band_def": [classes...]}. An empty path
// yields no requirement.
func LoadBand(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading band definition %s: %v", config.ErrInvalidConfig, path, err)
	}
	if err := config.ValidateDocument("band definition", bandSchema, data); err != nil {
		return nil, err
	}
	var doc struct {
		BandDef []string `json:"band_def"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decoding band definition: %v", config.ErrInvalidConfig, err)
	}
	return doc.BandDef, nil
}

const defsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": {
    "type": "object",
    "required": ["program_numbers", "defs"],
    "properties": {
      "program_numbers": {"type": "array", "items": {"type": "integer", "minimum": 0, "maximum": 129}},
      "defs": {"type": "array", "items": {"type": "string", "minLength": 1}}
    }
  }
}`

const bandSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["band_def"],
  "properties": {
    "band_def": {"type": "array", "items": {"type": "string"}, "uniqueItems": true}
  }
}`
