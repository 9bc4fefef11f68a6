package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// PatchNone is stored as the plugin name of a stem for which no compatible patch exists.
const PatchNone = "None"

// TailPadding is added to a track's end time (seconds) so release tails are not cut off.
const TailPadding = 5.0

// Well-known file and directory names inside a track output directory.
const (
	MetadataFile = "metadata.yaml"
	SourceCopy   = "all_src.mid"
	MixFile      = "mix.wav"
	MIDISubdir   = "MIDI"
	StemsSubdir  = "stems"
)

// StemKey returns the stable per-track key for the i-th instrument (S00, S01, ...).
func StemKey(i int) string {
	return fmt.Sprintf("S%02d", i)
}

// TrackDirName returns the output directory name for the n-th accepted file (1-based).
func TrackDirName(n int) string {
	return fmt.Sprintf("Track%05d", n)
}

// TrackDirNumber parses a name produced by TrackDirName.
func TrackDirNumber(name string) (int, bool) {
	digits, ok := strings.CutPrefix(name, "Track")
	if !ok || digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// StemRecord describes one instrument extract of a track.
type StemRecord struct {
	InstClass          string   `yaml:"inst_class" json:"instClass"`
	IsDrum             bool     `yaml:"is_drum" json:"isDrum"`
	MIDIProgramName    string   `yaml:"midi_program_name" json:"midiProgramName"`
	ProgramNum         int      `yaml:"program_num" json:"programNum"`
	PluginName         string   `yaml:"plugin_name" json:"pluginName"`
	MIDISaved          bool     `yaml:"midi_saved" json:"midiSaved"`
	AudioRendered      bool     `yaml:"audio_rendered" json:"audioRendered"`
	PluginPresetName   string   `yaml:"plugin_preset_name,omitempty" json:"pluginPresetName,omitempty"`
	IntegratedLoudness *float64 `yaml:"integrated_loudness,omitempty" json:"integratedLoudness,omitempty"`
	RenderDuration     float64  `yaml:"render_duration" json:"renderDuration"` // seconds, includes TailPadding
}

// HasPatch reports whether a patch was assigned to the stem.
func (s *StemRecord) HasPatch() bool {
	return s.PluginName != "" && s.PluginName != PatchNone
}

// MixStem is the per-stem entry of a Mixture, keyed by stem filename.
type MixStem struct {
	IntegratedLoudness float64 `yaml:"integrated_loudness" json:"integratedLoudness"`
	Gain               float64 `yaml:"gain" json:"gain"` // linear gain applied to reach the target, before OverallGain
}

// Mixture is rewritten as a whole on every normalization pass.
type Mixture struct {
	Stems               map[string]MixStem `yaml:"stems" json:"stems"`
	OverallGain         float64            `yaml:"overall_gain" json:"overallGain"`
	NormalizationFactor float64            `yaml:"normalization_factor" json:"normalizationFactor"`
	TargetPeak          float64            `yaml:"target_peak" json:"targetPeak"`
	Normalized          bool               `yaml:"normalized" json:"normalized"`
}

// TrackRecord is the persisted state of one accepted source MIDI file.
type TrackRecord struct {
	UUID          string                 `yaml:"uuid" json:"uuid"`
	Name          string                 `yaml:"name" json:"name"`
	SourcePath    string                 `yaml:"source_path" json:"sourcePath"`
	SourceRelPath string                 `yaml:"source_rel_path" json:"sourceRelPath"`
	OutputDir     string                 `yaml:"output_dir" json:"outputDir"`
	MIDIDir       string                 `yaml:"midi_dir" json:"midiDir"`
	AudioDir      string                 `yaml:"audio_dir" json:"audioDir"`
	EndTime       float64                `yaml:"end_time" json:"endTime"` // seconds, without padding
	Stems         map[string]*StemRecord `yaml:"stems" json:"stems"`
	Mixture       *Mixture               `yaml:"mixture,omitempty" json:"mixture,omitempty"`
}

// StemKeys returns the stem keys in allocation order. S100 sorts after S99.
func (t *TrackRecord) StemKeys() []string {
	keys := make([]string, 0, len(t.Stems))
	for k := range t.Stems {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return stemIndex(keys[i]) < stemIndex(keys[j])
	})
	return keys
}

func stemIndex(key string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(key, "S"))
	if err != nil {
		return -1
	}
	return n
}

// RenderedCount returns how many stems have audio on disk.
func (t *TrackRecord) RenderedCount() int {
	n := 0
	for _, s := range t.Stems {
		if s.AudioRendered {
			n++
		}
	}
	return n
}

// Normalized reports whether the last mix pass completed.
func (t *TrackRecord) Normalized() bool {
	return t.Mixture != nil && t.Mixture.Normalized
}
