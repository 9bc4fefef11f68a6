package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"StemForge/logger"
	"StemForge/model"
	"StemForge/repository"

	"github.com/gorilla/mux"
)

// TrackStore is the read side of the metadata store.
type TrackStore interface {
	Root() string
	List() ([]string, error)
	Load(trackDir string) (*model.TrackRecord, error)
}

// TrackSummary is one entry of GET /api/tracks.
type TrackSummary struct {
	Name          string `json:"name"`
	UUID          string `json:"uuid"`
	SourceRelPath string `json:"sourceRelPath"`
	Stems         int    `json:"stems"`
	Rendered      int    `json:"rendered"`
	Normalized    bool   `json:"normalized"`
}

// TrackHandler 处理曲目状态请求
type TrackHandler struct {
	store   TrackStore
	catalog repository.CatalogRepository // optional
}

// NewTrackHandler 创建 TrackHandler 实例，catalog 可以为 nil
func NewTrackHandler(store TrackStore, catalog repository.CatalogRepository) *TrackHandler {
	return &TrackHandler{store: store, catalog: catalog}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", logger.ErrorField(err))
	}
}

// Health reports the number of tracks on disk and, with a catalog, how many are normalized.
func (h *TrackHandler) Health(w http.ResponseWriter, r *http.Request) {
	dirs, err := h.store.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := map[string]interface{}{
		"status": "ok",
		"tracks": len(dirs),
	}
	if h.catalog != nil {
		n, err := h.catalog.CountNormalized(r.Context())
		if err != nil {
			resp["catalog"] = err.Error()
		} else {
			resp["normalizedInCatalog"] = n
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListTracks returns a summary of every track. ?normalized=true keeps finished tracks only.
func (h *TrackHandler) ListTracks(w http.ResponseWriter, r *http.Request) {
	onlyNormalized := r.URL.Query().Get("normalized") == "true"

	summaries, err := h.summaries(r.Context(), onlyNormalized)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (h *TrackHandler) summaries(ctx context.Context, onlyNormalized bool) ([]TrackSummary, error) {
	dirs, err := h.store.List()
	if err != nil {
		return nil, err
	}
	out := make([]TrackSummary, 0, len(dirs))
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := h.store.Load(dir)
		if err != nil {
			logger.Warn("Skipping unreadable track", logger.String("track", dir), logger.ErrorField(err))
			continue
		}
		if onlyNormalized && !rec.Normalized() {
			continue
		}
		out = append(out, TrackSummary{
			Name:          rec.Name,
			UUID:          rec.UUID,
			SourceRelPath: rec.SourceRelPath,
			Stems:         len(rec.Stems),
			Rendered:      rec.RenderedCount(),
			Normalized:    rec.Normalized(),
		})
	}
	return out, nil
}

// GetTrack returns the full record of one track.
func (h *TrackHandler) GetTrack(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetMix serves the mixture of a track.
func (h *TrackHandler) GetMix(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.load(w, r)
	if !ok {
		return
	}
	path := filepath.Join(rec.OutputDir, model.MixFile)
	if _, err := os.Stat(path); err != nil {
		http.Error(w, "Mixture not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	http.ServeFile(w, r, path)
}

func (h *TrackHandler) load(w http.ResponseWriter, r *http.Request) (*model.TrackRecord, bool) {
	name := mux.Vars(r)["name"]
	rec, err := h.store.Load(filepath.Join(h.store.Root(), name))
	if err != nil {
		if errors.Is(err, repository.ErrNoMetadata) {
			http.Error(w, "Track not found", http.StatusNotFound)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return nil, false
	}
	return rec, true
}
