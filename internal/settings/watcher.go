package settings

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher keeps the latest valid stanza in memory and reloads it when the
// file changes. A stanza that fails to parse is logged and ignored; the
// previous one stays in effect.
type Watcher struct {
	path      string
	fsWatcher *fsnotify.Watcher
	logger    *slog.Logger
	onChange  func(Stanza)

	current atomic.Pointer[Stanza]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WatcherConfig configures a [Watcher].
type WatcherConfig struct {
	Path string

	// Logger is optional.
	Logger *slog.Logger

	// OnChange is called after every successful reload.
	OnChange func(Stanza)
}

// NewWatcher loads the stanza at cfg.Path and starts watching its directory.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("settings path is required")
	}
	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve settings path: %w", err)
	}
	initial, err := Load(absPath)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Watch the directory: editors and Save replace the file by rename.
	if err := fsWatcher.Add(filepath.Dir(absPath)); err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(absPath), err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		path:      absPath,
		fsWatcher: fsWatcher,
		logger:    logger,
		onChange:  cfg.OnChange,
		ctx:       ctx,
		cancel:    cancel,
	}
	w.current.Store(&initial)

	w.wg.Add(1)
	go w.processEvents()

	return w, nil
}

// Current returns the stanza in effect.
func (w *Watcher) Current() Stanza {
	return *w.current.Load()
}

// AdminEnabled reports whether mutating methods may be forwarded.
func (w *Watcher) AdminEnabled() bool {
	return w.Current().Admin
}

// RequestTimeout returns the configured upstream timeout, or def.
func (w *Watcher) RequestTimeout(def time.Duration) time.Duration {
	return w.Current().RequestTimeout(def)
}

// Reload re-reads the file immediately.
func (w *Watcher) Reload() error {
	s, err := Load(w.path)
	if err != nil {
		return err
	}
	w.current.Store(&s)
	if w.onChange != nil {
		w.onChange(s)
	}
	return nil
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if err := w.Reload(); err != nil {
				w.logger.Warn("settings reload failed, keeping previous", "path", w.path, "err", err)
				continue
			}
			cur := w.Current()
			w.logger.Info("settings reloaded", "path", w.path, "admin", cur.Admin, "timeout", cur.Timeout)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("settings watcher error", "err", err)

		case <-w.ctx.Done():
			return
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.fsWatcher.Close()
	w.wg.Wait()
	return err
}
