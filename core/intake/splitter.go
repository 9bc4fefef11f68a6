// Package intake selects source MIDI files from a corpus, splits accepted files
// into one MIDI stem per instrument and assigns a patch to every stem.
package intake

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"StemForge/config"
	"StemForge/core/classifier"
	"StemForge/core/patch"
	"StemForge/core/rules"
	"StemForge/core/utils"
	"StemForge/logger"
	"StemForge/model"

	"github.com/google/uuid"
)

// Store persists track records. repository.MetadataStore satisfies it.
type Store interface {
	Root() string
	Path(trackDir string) string
	Exists(trackDir string) bool
	Load(trackDir string) (*model.TrackRecord, error)
	Save(rec *model.TrackRecord) error
}

// Options control a split run.
type Options struct {
	Criteria
	CorpusDir     string // used for source_rel_path
	MaxFiles      int
	TrackOffset   int // new tracks are numbered after max(TrackOffset, highest existing track)
	ZeroBasedMIDI bool
	ForceRerender bool
}

// Stats summarizes a split run.
type Stats struct {
	Scanned  int
	Accepted int
	Rejected map[Reason]int
}

// Splitter turns accepted source files into track directories and a work manifest.
type Splitter struct {
	Store    Store
	Classes  classifier.Table
	Pools    patch.Pools
	Rules    rules.Ruleset
	Selector *patch.Selector
	Opts     Options
}

// TrackID is the name-based identity of a source file.
func TrackID(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(path)).String()
}

// layout maps the sources already split under the store root to their track
// directories and remembers the highest track number in use.
type layout struct {
	known map[string]string // track uuid -> track dir
	last  int
}

// scanTracks reads the track directories under the store root. Directories
// without metadata are left alone but still reserve their number.
func (s *Splitter) scanTracks() (*layout, error) {
	l := &layout{known: make(map[string]string), last: s.Opts.TrackOffset}
	entries, err := os.ReadDir(s.Store.Root())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return l, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", s.Store.Root(), err)
	}
	for _, e := range entries {
		n, ok := model.TrackDirNumber(e.Name())
		if !e.IsDir() || !ok {
			continue
		}
		l.last = max(l.last, n)

		dir := filepath.Join(s.Store.Root(), e.Name())
		if !s.Store.Exists(dir) {
			logger.Warn("Track directory has no metadata, not reused", logger.String("track", e.Name()))
			continue
		}
		rec, err := s.Store.Load(dir)
		if err != nil {
			return nil, err
		}
		if prev, dup := l.known[rec.UUID]; dup {
			logger.Warn("Source split twice, keeping the first track",
				logger.String("path", rec.SourcePath),
				logger.String("track", filepath.Base(prev)),
				logger.String("duplicate", e.Name()))
			continue
		}
		l.known[rec.UUID] = dir
	}
	return l, nil
}

// trackDir returns the directory already holding the source with id, or the
// next free one.
func (l *layout) trackDir(root, id string) (string, bool) {
	if dir, ok := l.known[id]; ok {
		return dir, true
	}
	l.last++
	dir := filepath.Join(root, model.TrackDirName(l.last))
	l.known[id] = dir
	return dir, false
}

// Run evaluates paths in order until Opts.MaxFiles files are accepted. Rejected
// files are skipped. A source split by an earlier run resumes in its own track
// directory; new sources are numbered after the existing tracks. Configuration
// and filesystem errors stop the run.
func (s *Splitter) Run(ctx context.Context, paths []string) (*model.Manifest, Stats, error) {
	manifest := model.NewManifest()
	stats := Stats{Rejected: make(map[Reason]int)}

	tracks, err := s.scanTracks()
	if err != nil {
		return manifest, stats, err
	}

	for _, path := range paths {
		if s.Opts.MaxFiles > 0 && stats.Accepted >= s.Opts.MaxFiles {
			break
		}
		if err := ctx.Err(); err != nil {
			return manifest, stats, err
		}
		stats.Scanned++
		logger.Debug("Evaluating MIDI file", logger.String("path", path))

		song, err := ReadSong(path)
		if err != nil {
			logger.Info("Rejected MIDI file",
				logger.String("path", path),
				logger.String("reason", string(ReasonUnreadable)),
				logger.ErrorField(err))
			stats.Rejected[ReasonUnreadable]++
			continue
		}

		reason, classes, err := Evaluate(song, s.Classes, s.Opts.Criteria)
		if err != nil {
			return manifest, stats, fmt.Errorf("%w: classifying %s: %v", config.ErrInvalidConfig, path, err)
		}
		if reason != ReasonNone {
			logger.Info("Rejected MIDI file",
				logger.String("path", path),
				logger.String("reason", string(reason)))
			stats.Rejected[reason]++
			continue
		}

		stats.Accepted++
		trackDir, existing := tracks.trackDir(s.Store.Root(), TrackID(path))
		logger.Info("Selected MIDI file",
			logger.String("path", path),
			logger.String("track", filepath.Base(trackDir)),
			logger.Bool("existing", existing),
			logger.Int("accepted", stats.Accepted),
			logger.Int("max", s.Opts.MaxFiles))

		rec, err := s.Split(path, trackDir, song, classes)
		if err != nil {
			return manifest, stats, err
		}
		s.addJobs(manifest, rec)
	}

	logger.Info("Finished reading MIDI",
		logger.Int("scanned", stats.Scanned),
		logger.Int("accepted", stats.Accepted),
		logger.Int("jobs", manifest.Len()))
	return manifest, stats, nil
}

// Split writes the track directory of an accepted file and returns its record.
// An existing record for the same source is reused unless re-rendering is forced.
func (s *Splitter) Split(path, trackDir string, song *Song, classes []classifier.Class) (*model.TrackRecord, error) {
	id := TrackID(path)

	if !s.Opts.ForceRerender && s.Store.Exists(trackDir) {
		rec, err := s.Store.Load(trackDir)
		if err != nil {
			return nil, err
		}
		if rec.UUID != id {
			return nil, fmt.Errorf("%w: %s already holds %s, not %s", config.ErrInvalidConfig, trackDir, rec.SourcePath, path)
		}
		return rec, s.resume(rec, song)
	}

	rec := &model.TrackRecord{
		UUID:          id,
		Name:          filepath.Base(trackDir),
		SourcePath:    path,
		SourceRelPath: s.relPath(path),
		OutputDir:     trackDir,
		MIDIDir:       filepath.Join(trackDir, model.MIDISubdir),
		AudioDir:      filepath.Join(trackDir, model.StemsSubdir),
		EndTime:       song.EndTime(),
		Stems:         make(map[string]*model.StemRecord, len(song.Instruments)),
	}
	for _, dir := range []string{rec.MIDIDir, rec.AudioDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := utils.CopyFile(path, filepath.Join(trackDir, model.SourceCopy)); err != nil {
		return nil, fmt.Errorf("failed to copy source %s: %w", path, err)
	}

	sel := s.Selector.ForTrack(id)
	seen := make(map[int]string)
	for i, inst := range song.Instruments {
		key := model.StemKey(i)
		program := inst.Program
		if inst.IsDrum {
			program = patch.DrumProgram(s.Opts.ZeroBasedMIDI)
		}
		stem := &model.StemRecord{
			InstClass:       classes[i].Tag,
			IsDrum:          inst.IsDrum,
			MIDIProgramName: classes[i].Name,
			ProgramNum:      program,
			PluginName:      model.PatchNone,
			RenderDuration:  rec.EndTime + model.TailPadding,
		}
		rec.Stems[key] = stem

		name, ok := sel.Select(s.Pools, program, seen)
		if !ok {
			logger.Info("No patch for instrument, skipping",
				logger.String("track", rec.Name),
				logger.String("stem", key),
				logger.String("class", stem.InstClass),
				logger.Int("program", program))
			continue
		}
		stem.PluginName = name

		if err := s.writeStem(rec, key, stem, song, inst); err != nil {
			return nil, err
		}
	}

	if err := s.Store.Save(rec); err != nil {
		return nil, err
	}
	logger.Info("Finished splitting", logger.String("path", path), logger.String("track", rec.Name))
	return rec, nil
}

// resume brings an existing record in line with the stem files on disk.
func (s *Splitter) resume(rec *model.TrackRecord, song *Song) error {
	changed := false
	for i, inst := range song.Instruments {
		key := model.StemKey(i)
		stem, ok := rec.Stems[key]
		if !ok || !stem.HasPatch() || stem.MIDISaved {
			continue
		}
		if err := s.writeStem(rec, key, stem, song, inst); err != nil {
			return err
		}
		changed = changed || stem.MIDISaved
	}
	if changed {
		return s.Store.Save(rec)
	}
	logger.Info("Reusing existing track", logger.String("track", rec.Name), logger.String("path", rec.SourcePath))
	return nil
}

func (s *Splitter) writeStem(rec *model.TrackRecord, key string, stem *model.StemRecord, song *Song, inst Instrument) error {
	out := filepath.Join(rec.MIDIDir, key+".mid")
	if !s.Opts.ForceRerender && utils.FileExists(out) {
		logger.Info("Found stem MIDI, skipping", logger.String("track", rec.Name), logger.String("stem", key))
		stem.MIDISaved = true
		return nil
	}

	notes, err := s.Rules.Apply(inst.Notes, stem.InstClass)
	if err != nil {
		return fmt.Errorf("%w: %s/%s: %v", config.ErrInvalidConfig, rec.Name, key, err)
	}
	dropped, err := WriteStem(out, key, song, inst, notes)
	if err != nil {
		return err
	}
	if dropped > 0 {
		logger.Warn("Dropped notes outside the MIDI range",
			logger.String("track", rec.Name),
			logger.String("stem", key),
			logger.Int("dropped", dropped))
	}
	if utils.FileExists(out) {
		stem.MIDISaved = true
		logger.Info("Wrote stem MIDI",
			logger.String("track", rec.Name),
			logger.String("stem", key),
			logger.String("patch", stem.PluginName))
	}
	return nil
}

func (s *Splitter) addJobs(m *model.Manifest, rec *model.TrackRecord) {
	for _, key := range rec.StemKeys() {
		stem := rec.Stems[key]
		if !stem.HasPatch() {
			continue
		}
		m.Add(stem.PluginName, jobFor(s.Store, rec, key, stem))
	}
}

func jobFor(store Store, rec *model.TrackRecord, key string, stem *model.StemRecord) model.RenderJob {
	d := stem.RenderDuration
	if d == 0 {
		d = rec.EndTime + model.TailPadding
	}
	return model.RenderJob{
		MetadataPath: store.Path(rec.OutputDir),
		TrackDir:     rec.OutputDir,
		StemKey:      key,
		Duration:     d,
	}
}

// ManifestFromDisk rebuilds the work manifest from the persisted records, for a
// render run that did not split in the same process.
func ManifestFromDisk(store Store, dirs []string) (*model.Manifest, error) {
	m := model.NewManifest()
	for _, dir := range dirs {
		rec, err := store.Load(dir)
		if err != nil {
			return nil, err
		}
		for _, key := range rec.StemKeys() {
			stem := rec.Stems[key]
			if !stem.HasPatch() || !stem.MIDISaved {
				continue
			}
			m.Add(stem.PluginName, jobFor(store, rec, key, stem))
		}
	}
	return m, nil
}

func (s *Splitter) relPath(path string) string {
	if s.Opts.CorpusDir != "" {
		if rel, err := filepath.Rel(s.Opts.CorpusDir, path); err == nil {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.Base(path)
}
