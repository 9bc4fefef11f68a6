package render

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"StemForge/config"
	"StemForge/core/utils"
	"StemForge/logger"
)

// KontaktStateFile is the name Kontakt expects its default instrument state under.
const KontaktStateFile = "kontakt_def.nkm"

// Starter launches a fresh engine.
type Starter func(ctx context.Context) (Engine, error)

// ProcessStarter starts engine host processes from cfg.
func ProcessStarter(cfg config.EngineConfig) Starter {
	return func(ctx context.Context) (Engine, error) {
		return StartProcess(ctx, cfg)
	}
}

// Host hands out engines loaded with a patch. Every engine returned by Acquire
// must be given back to Release.
type Host struct {
	cfg   config.EngineConfig
	start Starter
}

// NewHost 创建引擎宿主
func NewHost(cfg config.EngineConfig, start Starter) *Host {
	return &Host{cfg: cfg, start: start}
}

// IsKontaktState reports whether patch is a packaged Kontakt instrument state.
func IsKontaktState(patch string) bool {
	return strings.HasSuffix(strings.ToLower(patch), ".nkm")
}

// Acquire starts an engine, loads patch into it and waits for the settle delay.
func (h *Host) Acquire(ctx context.Context, patch string) (Engine, error) {
	pluginPath, err := h.prepare(patch)
	if err != nil {
		return nil, err
	}

	eng, err := h.start(ctx)
	if err != nil {
		return nil, err
	}
	if err := eng.LoadPlugin(pluginPath); err != nil {
		h.Release(eng)
		return nil, fmt.Errorf("%w: %s: %v", ErrPluginLoad, patch, err)
	}

	if d := h.cfg.SettleDelay(); d > 0 {
		logger.Debug("Waiting for plugin to settle", logger.String("patch", patch), logger.Duration("delay", d))
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			h.Release(eng)
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return eng, nil
}

// Release shuts eng down. Errors are logged.
func (h *Host) Release(eng Engine) {
	if eng == nil {
		return
	}
	if err := eng.Close(); err != nil {
		logger.Warn("Engine did not shut down cleanly", logger.ErrorField(err))
	}
}

// prepare returns the plugin path for patch, installing Kontakt state first when needed.
func (h *Host) prepare(patch string) (string, error) {
	if IsKontaktState(patch) {
		src := filepath.Join(h.cfg.UserDefsDir, patch)
		dst := filepath.Join(h.cfg.KontaktDefsDir, KontaktStateFile)
		if err := utils.CopyFile(src, dst); err != nil {
			return "", fmt.Errorf("%w: installing Kontakt state %s: %v", ErrPluginLoad, patch, err)
		}
		return h.cfg.KontaktPath, nil
	}
	if filepath.IsAbs(patch) || h.cfg.PluginDir == "" {
		return patch, nil
	}
	return filepath.Join(h.cfg.PluginDir, patch), nil
}
