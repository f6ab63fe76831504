// Package watch detects modification of external data sources so the
// orchestrator can bump data versions and invalidate caches. File change
// bursts (editor save sequences) are coalesced with a debounce timer.
package watch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hupe1980/coachmesh/logging"
)

// Options holds configuration overrides for the watcher.
type Options struct {
	// Debounce is the quiet period before a change burst triggers the
	// callback.
	Debounce time.Duration
	// Logger receives watch events.
	Logger logging.Logger
}

// DataWatcher invokes a callback when any watched path changes.
type DataWatcher struct {
	paths    []string
	onChange func()
	debounce time.Duration
	logger   logging.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// New constructs a watcher over the given paths. onChange runs once per
// debounced change burst.
func New(paths []string, onChange func(), optFns ...func(o *Options)) (*DataWatcher, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("watch: no paths given")
	}
	if onChange == nil {
		return nil, fmt.Errorf("watch: onChange cannot be nil")
	}

	opts := Options{
		Debounce: 500 * time.Millisecond,
		Logger:   logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &DataWatcher{
		paths:    paths,
		onChange: onChange,
		debounce: opts.Debounce,
		logger:   opts.Logger,
	}, nil
}

// Start watches until ctx is cancelled. It blocks; run it in its own
// goroutine.
func (w *DataWatcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: create watcher: %w", err)
	}
	defer watcher.Close()

	for _, p := range w.paths {
		if err := watcher.Add(p); err != nil {
			return fmt.Errorf("watch: add %s: %w", p, err)
		}
	}

	w.logger.Info("data watcher started", "paths", w.paths)

	for {
		select {
		case <-ctx.Done():
			w.cancelPending()
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.logger.Debug("data change detected", "path", ev.Name, "op", ev.Op.String())
				w.scheduleCallback()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("data watcher error", "error", err)
		}
	}
}

func (w *DataWatcher) scheduleCallback() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.onChange)
}

func (w *DataWatcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
