package render

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"StemForge/core/audio"
	"StemForge/core/utils"
	"StemForge/model"
	"StemForge/repository"
)

const testRate = 100

type fakeEngine struct {
	patch    string
	rate     int
	seconds  float64
	silent   bool
	extra    float64 // seconds added to every render
	midi     []string
	closed   bool
	loadFail bool
}

func (e *fakeEngine) LoadPlugin(path string) error {
	if e.loadFail {
		return errors.New("no such plugin")
	}
	return nil
}

func (e *fakeEngine) LoadMIDI(path string) error {
	e.midi = append(e.midi, path)
	return nil
}

func (e *fakeEngine) Render(seconds float64) error {
	e.seconds = seconds + e.extra
	return nil
}

func (e *fakeEngine) ProgramName() (string, error) {
	return "preset of " + e.patch, nil
}

func (e *fakeEngine) AudioFrames() (*audio.Buffer, error) {
	n := int(math.Round(e.seconds * float64(e.rate)))
	samples := make([]float64, n)
	if !e.silent {
		for i := range samples {
			samples[i] = 0.25 * math.Sin(float64(i))
		}
	}
	return audio.FromMono(e.rate, samples), nil
}

func (e *fakeEngine) Close() error {
	e.closed = true
	return nil
}

type fakeEngines struct {
	configure func(e *fakeEngine)
	failPatch string
	acquired  []string
	engines   []*fakeEngine
	released  int
}

func (f *fakeEngines) Acquire(ctx context.Context, patch string) (Engine, error) {
	f.acquired = append(f.acquired, patch)
	if patch == f.failPatch {
		return nil, ErrPluginLoad
	}
	e := &fakeEngine{patch: patch, rate: testRate}
	if f.configure != nil {
		f.configure(e)
	}
	f.engines = append(f.engines, e)
	return e, nil
}

func (f *fakeEngines) Release(eng Engine) {
	f.released++
	eng.Close()
}

type countingObserver struct {
	outcomes map[Outcome]int
	aborted  map[string]int
	err      error
}

func (o *countingObserver) JobFinished(patch string, job model.RenderJob, outcome Outcome) {
	o.outcomes[outcome]++
}

func (o *countingObserver) BucketAborted(patch string, remaining int, err error) {
	o.aborted[patch] += remaining
	o.err = err
}

// setupTrack writes a track record whose stems use the given patches and
// returns the manifest that a split would have produced.
func setupTrack(t *testing.T, store *repository.MetadataStore, name string, patches ...string) (*model.TrackRecord, *model.Manifest) {
	t.Helper()
	dir := filepath.Join(store.Root(), name)
	rec := &model.TrackRecord{
		UUID:      name,
		Name:      name,
		OutputDir: dir,
		MIDIDir:   filepath.Join(dir, model.MIDISubdir),
		AudioDir:  filepath.Join(dir, model.StemsSubdir),
		EndTime:   1,
		Stems:     make(map[string]*model.StemRecord),
	}
	m := model.NewManifest()
	for i, p := range patches {
		key := model.StemKey(i)
		rec.Stems[key] = &model.StemRecord{
			InstClass:      "Piano",
			PluginName:     p,
			MIDISaved:      true,
			RenderDuration: rec.EndTime + model.TailPadding,
		}
		m.Add(p, model.RenderJob{
			MetadataPath: store.Path(dir),
			TrackDir:     dir,
			StemKey:      key,
			Duration:     rec.EndTime + model.TailPadding,
		})
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return rec, m
}

func TestRenderAll(t *testing.T) {
	store := repository.NewMetadataStore(t.TempDir())
	rec, m := setupTrack(t, store, "Track00001", "a.vst3", "b.vst3", "a.vst3")
	engines := &fakeEngines{}
	obs := &countingObserver{outcomes: map[Outcome]int{}, aborted: map[string]int{}}
	s := &Scheduler{Engines: engines, Store: store, RestartLimit: 50, Observer: obs}

	dirs, err := s.RenderAll(context.Background(), m)
	if err != nil {
		t.Fatalf("RenderAll: %v", err)
	}
	if len(dirs) != 1 || dirs[0] != rec.OutputDir {
		t.Errorf("dirs = %v, want [%s]", dirs, rec.OutputDir)
	}
	if len(engines.acquired) != 2 {
		t.Errorf("acquired %v, want one load per patch", engines.acquired)
	}
	if engines.released != len(engines.engines) {
		t.Errorf("released %d of %d engines", engines.released, len(engines.engines))
	}
	if obs.outcomes[OutcomeRendered] != 3 {
		t.Errorf("rendered = %d, want 3", obs.outcomes[OutcomeRendered])
	}

	got, err := store.Load(rec.OutputDir)
	if err != nil {
		t.Fatal(err)
	}
	for key, stem := range got.Stems {
		if !stem.AudioRendered {
			t.Errorf("%s not marked rendered", key)
		}
		if stem.PluginPresetName != "preset of "+stem.PluginName {
			t.Errorf("%s preset = %q", key, stem.PluginPresetName)
		}
		buf, err := audio.ReadFile(filepath.Join(rec.AudioDir, key+".wav"))
		if err != nil {
			t.Fatalf("%s: %v", key, err)
		}
		if math.Abs(buf.Peak()-PeakLevel) > 1e-5 {
			t.Errorf("%s peak = %v, want %v", key, buf.Peak(), PeakLevel)
		}
		if math.Abs(buf.Duration()-6) > 1e-9 {
			t.Errorf("%s duration = %v, want 6", key, buf.Duration())
		}
	}
}

func TestRenderAllRestartLimit(t *testing.T) {
	store := repository.NewMetadataStore(t.TempDir())
	_, m := setupTrack(t, store, "Track00001", "a", "a", "a", "a", "a")
	engines := &fakeEngines{}
	s := &Scheduler{Engines: engines, Store: store, RestartLimit: 2}

	if _, err := s.RenderAll(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	if len(engines.acquired) != 3 {
		t.Errorf("acquired %d engines, want 3", len(engines.acquired))
	}
	for i, e := range engines.engines {
		if !e.closed {
			t.Errorf("engine %d left open", i)
		}
	}
}

func TestRenderAllSkipsExistingAudio(t *testing.T) {
	store := repository.NewMetadataStore(t.TempDir())
	rec, m := setupTrack(t, store, "Track00001", "a")
	if err := os.MkdirAll(rec.AudioDir, 0755); err != nil {
		t.Fatal(err)
	}
	existing := filepath.Join(rec.AudioDir, "S00.wav")
	if err := audio.WriteWAV(existing, audio.FromMono(testRate, []float64{0.1, 0.2})); err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(existing)

	engines := &fakeEngines{}
	s := &Scheduler{Engines: engines, Store: store, RestartLimit: 50}
	dirs, err := s.RenderAll(context.Background(), m)
	if err != nil {
		t.Fatal(err)
	}
	if len(engines.acquired) != 0 {
		t.Errorf("engine loaded for a finished job")
	}
	if len(dirs) != 1 {
		t.Errorf("dirs = %v, want the track with existing audio", dirs)
	}
	got, _ := store.Load(rec.OutputDir)
	if !got.Stems["S00"].AudioRendered {
		t.Error("audio_rendered not reconciled with the file on disk")
	}
	after, _ := os.ReadFile(existing)
	if string(before) != string(after) {
		t.Error("existing audio was rewritten")
	}

	// forced re-render replaces it
	s.ForceRerender = true
	if _, err := s.RenderAll(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	if len(engines.acquired) != 1 {
		t.Errorf("forced re-render acquired %d engines, want 1", len(engines.acquired))
	}
}

func TestRenderAllSilentStemNotWritten(t *testing.T) {
	store := repository.NewMetadataStore(t.TempDir())
	rec, m := setupTrack(t, store, "Track00001", "a")
	engines := &fakeEngines{configure: func(e *fakeEngine) { e.silent = true }}
	obs := &countingObserver{outcomes: map[Outcome]int{}, aborted: map[string]int{}}
	s := &Scheduler{Engines: engines, Store: store, RestartLimit: 50, Observer: obs}

	dirs, err := s.RenderAll(context.Background(), m)
	if err != nil {
		t.Fatal(err)
	}
	if len(dirs) != 0 {
		t.Errorf("dirs = %v, want none", dirs)
	}
	if utils.FileExists(filepath.Join(rec.AudioDir, "S00.wav")) {
		t.Error("silent render was written")
	}
	if obs.outcomes[OutcomeSilent] != 1 {
		t.Errorf("outcomes = %v", obs.outcomes)
	}
	got, _ := store.Load(rec.OutputDir)
	if got.Stems["S00"].AudioRendered {
		t.Error("silent stem marked rendered")
	}
}

func TestRenderAllDurationMismatchAbortsBucket(t *testing.T) {
	store := repository.NewMetadataStore(t.TempDir())
	rec, m := setupTrack(t, store, "Track00001", "bad", "good", "bad")
	engines := &fakeEngines{configure: func(e *fakeEngine) {
		if e.patch == "bad" {
			e.extra = 0.5
		}
	}}
	obs := &countingObserver{outcomes: map[Outcome]int{}, aborted: map[string]int{}}
	s := &Scheduler{Engines: engines, Store: store, RestartLimit: 50, Observer: obs}

	dirs, err := s.RenderAll(context.Background(), m)
	if err != nil {
		t.Fatalf("RenderAll: %v", err)
	}
	if len(dirs) != 1 {
		t.Errorf("dirs = %v, want the track rendered by the good bucket", dirs)
	}
	if obs.aborted["bad"] != 2 {
		t.Errorf("aborted jobs of bad = %d, want 2", obs.aborted["bad"])
	}
	if len(engines.engines[0].midi) != 1 {
		t.Errorf("bad bucket kept rendering after the mismatch: %v", engines.engines[0].midi)
	}
	if engines.released != len(engines.engines) {
		t.Errorf("released %d of %d engines", engines.released, len(engines.engines))
	}

	got, _ := store.Load(rec.OutputDir)
	if got.Stems["S00"].AudioRendered || got.Stems["S02"].AudioRendered {
		t.Error("stems of the aborted bucket marked rendered")
	}
	if !got.Stems["S01"].AudioRendered {
		t.Error("stem of the healthy bucket not rendered")
	}
}

func TestRenderAllPluginLoadFailure(t *testing.T) {
	store := repository.NewMetadataStore(t.TempDir())
	_, m := setupTrack(t, store, "Track00001", "missing", "ok")
	engines := &fakeEngines{failPatch: "missing"}
	obs := &countingObserver{outcomes: map[Outcome]int{}, aborted: map[string]int{}}
	s := &Scheduler{Engines: engines, Store: store, RestartLimit: 50, Observer: obs}

	if _, err := s.RenderAll(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	if obs.aborted["missing"] != 1 || obs.outcomes[OutcomeRendered] != 1 {
		t.Errorf("aborted = %v, outcomes = %v", obs.aborted, obs.outcomes)
	}
}

func TestRenderAllMissingStemFileAbortsBucket(t *testing.T) {
	store := repository.NewMetadataStore(t.TempDir())
	rec, m := setupTrack(t, store, "Track00001", "lost", "lost")
	obs := &countingObserver{outcomes: map[Outcome]int{}, aborted: map[string]int{}}
	s := &Scheduler{Engines: &fakeEngines{}, Store: store, RestartLimit: 50, Observer: obs}
	s.writeWAV = func(path string, buf *audio.Buffer) error { return nil }

	dirs, err := s.RenderAll(context.Background(), m)
	if err != nil {
		t.Fatalf("RenderAll: %v", err)
	}
	if len(dirs) != 0 {
		t.Errorf("dirs = %v, want none", dirs)
	}
	if obs.aborted["lost"] != 2 || obs.outcomes[OutcomeRendered] != 0 {
		t.Errorf("aborted = %v, outcomes = %v", obs.aborted, obs.outcomes)
	}
	if !errors.Is(obs.err, ErrNotWritten) {
		t.Errorf("abort error = %v, want ErrNotWritten", obs.err)
	}
	got, _ := store.Load(rec.OutputDir)
	if got.Stems["S00"].AudioRendered {
		t.Error("stem marked rendered without a file")
	}
}

func TestRenderAllCancelled(t *testing.T) {
	store := repository.NewMetadataStore(t.TempDir())
	_, m := setupTrack(t, store, "Track00001", "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &Scheduler{Engines: &fakeEngines{}, Store: store, RestartLimit: 50}
	if _, err := s.RenderAll(ctx, m); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
