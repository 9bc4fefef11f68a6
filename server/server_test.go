package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"StemForge/model"
	"StemForge/repository"
)

type countCatalog struct {
	repository.CatalogRepository
	normalized int64
}

func (c countCatalog) CountNormalized(ctx context.Context) (int64, error) {
	return c.normalized, nil
}

func newTestRouter(t *testing.T) (http.Handler, *repository.MetadataStore) {
	t.Helper()
	store := repository.NewMetadataStore(t.TempDir())
	for i, normalized := range []bool{true, false} {
		name := model.TrackDirName(i + 1)
		dir := filepath.Join(store.Root(), name)
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
		rec := &model.TrackRecord{
			UUID:      name + "-uuid",
			Name:      name,
			OutputDir: dir,
			Stems: map[string]*model.StemRecord{
				"S00": {PluginName: "a", AudioRendered: true},
				"S01": {PluginName: model.PatchNone},
			},
		}
		if normalized {
			rec.Mixture = &model.Mixture{Normalized: true, OverallGain: 0.5}
			if err := os.WriteFile(filepath.Join(dir, model.MixFile), []byte("RIFF"), 0644); err != nil {
				t.Fatal(err)
			}
		}
		if err := store.Save(rec); err != nil {
			t.Fatal(err)
		}
	}
	return NewRouter(NewTrackHandler(store, countCatalog{normalized: 1}), nil), store
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestHealth(t *testing.T) {
	h, _ := newTestRouter(t)
	rr := get(t, h, "/api/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["tracks"] != float64(2) || body["normalizedInCatalog"] != float64(1) {
		t.Errorf("body = %v", body)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("CORS header missing")
	}
}

func TestListTracks(t *testing.T) {
	h, _ := newTestRouter(t)

	var all []TrackSummary
	if err := json.Unmarshal(get(t, h, "/api/tracks").Body.Bytes(), &all); err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Name != "Track00001" || all[0].Stems != 2 || all[0].Rendered != 1 {
		t.Errorf("tracks = %+v", all)
	}

	var done []TrackSummary
	if err := json.Unmarshal(get(t, h, "/api/tracks?normalized=true").Body.Bytes(), &done); err != nil {
		t.Fatal(err)
	}
	if len(done) != 1 || !done[0].Normalized {
		t.Errorf("normalized tracks = %+v", done)
	}
}

func TestGetTrack(t *testing.T) {
	h, _ := newTestRouter(t)

	rr := get(t, h, "/api/tracks/Track00001")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var rec model.TrackRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.UUID != "Track00001-uuid" || rec.Mixture == nil || rec.Mixture.OverallGain != 0.5 {
		t.Errorf("record = %+v", rec)
	}

	if rr := get(t, h, "/api/tracks/Track00009"); rr.Code != http.StatusNotFound {
		t.Errorf("missing track status = %d, want 404", rr.Code)
	}
	if rr := get(t, h, "/api/tracks/metadata"); rr.Code != http.StatusNotFound {
		t.Errorf("bad name status = %d, want 404", rr.Code)
	}
}

func TestGetMix(t *testing.T) {
	h, _ := newTestRouter(t)

	rr := get(t, h, "/api/tracks/Track00001/mix")
	if rr.Code != http.StatusOK || rr.Body.String() != "RIFF" {
		t.Errorf("mix = %d %q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rr := get(t, h, "/api/tracks/Track00002/mix"); rr.Code != http.StatusNotFound {
		t.Errorf("unmixed track status = %d, want 404", rr.Code)
	}
}
