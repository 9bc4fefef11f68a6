package intake

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"StemForge/logger"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports MIDI files that arrive in a corpus directory tree. A file is
// reported once it has not changed for the settle interval.
type Watcher struct {
	root    string
	settle  time.Duration
	tick    time.Duration
	watcher *fsnotify.Watcher
	seen    map[string]bool
}

// NewWatcher watches root and every directory below it.
func NewWatcher(root string, settle time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监听器失败: %w", err)
	}
	w := &Watcher{
		root:    root,
		settle:  settle,
		tick:    max(settle/4, 10*time.Millisecond),
		watcher: fw,
		seen:    make(map[string]bool),
	}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("监听目录失败: %w", err)
	}
	return w, nil
}

// MarkSeen suppresses reports for paths that were already handled.
func (w *Watcher) MarkSeen(paths ...string) {
	for _, p := range paths {
		w.seen[p] = true
	}
}

// Run delivers batches of settled files to handle until ctx is done or handle
// returns an error. Each batch is sorted.
func (w *Watcher) Run(ctx context.Context, handle func(ctx context.Context, paths []string) error) error {
	defer w.watcher.Close()

	// 文件稳定性检查的延迟队列
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := w.watcher.Add(event.Name); err != nil {
					logger.Warn("Failed to watch new directory", logger.String("path", event.Name), logger.ErrorField(err))
				}
				continue
			}
			if IsMIDIFile(event.Name) && !w.seen[event.Name] {
				pending[event.Name] = time.Now()
			}

		case <-ticker.C:
			now := time.Now()
			var ready []string
			for path, last := range pending {
				if now.Sub(last) < w.settle {
					continue
				}
				delete(pending, path)
				w.seen[path] = true
				ready = append(ready, path)
			}
			if len(ready) == 0 {
				continue
			}
			sort.Strings(ready)
			logger.Info("New MIDI files in corpus", logger.Int("count", len(ready)), logger.String("root", w.root))
			if err := handle(ctx, ready); err != nil {
				return err
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("文件监听错误", logger.ErrorField(err))
		}
	}
}
