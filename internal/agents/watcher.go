package agents

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/ent0n29/clawboard/internal/store"
)

// Watcher reseeds the agents table whenever the agents file changes.
type Watcher struct {
	path     string
	db       Upserter
	logger   *slog.Logger
	onReload func([]store.Agent)
}

func NewWatcher(path string, db Upserter, logger *slog.Logger, onReload func([]store.Agent)) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{path: path, db: db, logger: logger, onReload: onReload}
}

// Start watches the file's directory, since editors often replace the file
// instead of writing it. The returned channel closes when the watcher stops.
func (w *Watcher) Start(ctx context.Context) (<-chan struct{}, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return nil, err
	}
	target := filepath.Clean(w.path)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		defer fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				w.logger.Info("agents file changed", "path", ev.Name, "op", ev.Op.String())
				w.reload(ctx)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("agents watcher error", "error", err)
			}
		}
	}()
	return stopped, nil
}

func (w *Watcher) reload(ctx context.Context) {
	list, err := LoadFile(w.path)
	if err != nil {
		w.logger.Warn("agents reload skipped", "error", err)
		return
	}
	n, err := Seed(ctx, w.db, list)
	if err != nil {
		w.logger.Error("agents reseed failed", "error", err)
		return
	}
	w.logger.Info("agents reseeded", "count", n)
	if w.onReload != nil {
		w.onReload(list)
	}
}
