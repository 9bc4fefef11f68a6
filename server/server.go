// Package server exposes a read-only HTTP view of an output directory.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"StemForge/logger"

	"github.com/gorilla/mux"
)

// NewRouter 使用 gorilla/mux 创建路由器. progress may be nil when no run
// progress is available.
func NewRouter(h *TrackHandler, progress *ProgressHub) *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware, logMiddleware)

	router.HandleFunc("/api/health", h.Health).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks", h.ListTracks).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/{name:Track[0-9]+}", h.GetTrack).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/{name:Track[0-9]+}/mix", h.GetMix).Methods(http.MethodGet, http.MethodHead)
	if progress != nil {
		router.HandleFunc("/api/runs/{id}/progress", progress.ServeRun).Methods(http.MethodGet)
	}
	return router
}

// 添加 CORS 中间件
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Range")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range")
		w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("HTTP request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Duration("elapsed", time.Since(start)))
	})
}

// Run serves handler on addr until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, addr string, handler http.Handler) error {
	// 设置服务器超时
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Status API listening", logger.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	// 创建一个5秒超时的上下文
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}
