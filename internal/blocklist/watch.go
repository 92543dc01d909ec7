package blocklist

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads local lists when they change on disk. It watches the
// parent directories so editors that replace files by rename are seen.
type Watcher struct {
	syncer   *Syncer
	paths    map[string]struct{}
	dirs     map[string]struct{}
	debounce time.Duration
	logger   *slog.Logger
	onReload func()

	watcher *fsnotify.Watcher
	running atomic.Bool
	reloads atomic.Int64
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Paths    []string
	Debounce time.Duration // debounce period for rapid changes
	Logger   *slog.Logger
	// OnReload is called after each reload, for tests and metrics.
	OnReload func()
}

// NewWatcher creates a watcher for the given local list paths.
func NewWatcher(syncer *Syncer, cfg WatcherConfig) (*Watcher, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer is required")
	}
	if len(cfg.Paths) == 0 {
		return nil, fmt.Errorf("no local lists to watch")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 100 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	w := &Watcher{
		syncer:   syncer,
		paths:    make(map[string]struct{}, len(cfg.Paths)),
		dirs:     make(map[string]struct{}),
		debounce: cfg.Debounce,
		logger:   cfg.Logger,
		onReload: cfg.OnReload,
	}
	for _, p := range cfg.Paths {
		p = filepath.Clean(p)
		w.paths[p] = struct{}{}
		w.dirs[filepath.Dir(p)] = struct{}{}
	}
	return w, nil
}

// Start begins watching. Events are processed until ctx is cancelled or Stop
// is called.
func (w *Watcher) Start(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return fmt.Errorf("watcher already running")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.running.Store(false)
		return fmt.Errorf("creating watcher: %w", err)
	}
	for dir := range w.dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			w.running.Store(false)
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	w.watcher = watcher
	go w.processEvents(ctx)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	if !w.running.CompareAndSwap(true, false) {
		return nil
	}
	return w.watcher.Close()
}

// Reloads returns the number of reloads performed.
func (w *Watcher) Reloads() int64 { return w.reloads.Load() }

func (w *Watcher) processEvents(ctx context.Context) {
	var (
		pending    bool
		lastChange time.Time
	)
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if _, watched := w.paths[filepath.Clean(event.Name)]; watched {
				pending = true
				lastChange = time.Now()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("blocklist watcher error", "error", err)

		case <-ticker.C:
			if pending && time.Since(lastChange) >= w.debounce {
				pending = false
				w.syncer.ReloadLocal()
				w.reloads.Add(1)
				w.logger.Info("local blocklists reloaded", "items", w.syncer.store.Size())
				if w.onReload != nil {
					w.onReload()
				}
			}

		case <-ctx.Done():
			_ = w.Stop()
			return
		}
	}
}
