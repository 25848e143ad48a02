// Package watch re-runs discovery when the plugin directory changes.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"plugdisc/internal/logging"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long the directory must be quiet before a refresh.
const DefaultDebounce = 500 * time.Millisecond

// RefreshFunc is called once per settled burst of changes.
type RefreshFunc func(ctx context.Context) error

// Watcher watches a plugin root and its immediate subdirectories.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	root        string
	debounceDur time.Duration
	refresh     RefreshFunc
	pending     time.Time // last relevant event; zero when nothing is pending
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	closed      bool
	closeOnce   sync.Once
	logger      *zap.Logger

	stats Stats
}

// Stats tracks watcher activity.
type Stats struct {
	Events        int
	Refreshes     int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
	LastEventType string
}

// New creates a watcher for root. A non-positive debounce uses
// DefaultDebounce.
func New(root string, debounce time.Duration, refresh RefreshFunc, logger *zap.Logger) (*Watcher, error) {
	if refresh == nil {
		return nil, fmt.Errorf("watch: refresh function is required")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		watcher:     fw,
		root:        root,
		debounceDur: debounce,
		refresh:     refresh,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      logging.For(logger, logging.CategoryWatch),
	}, nil
}

// Start begins watching. It is non-blocking; events are handled in a
// goroutine until Stop is called or ctx is done. Concurrent calls start at
// most one goroutine. A watcher cannot be restarted once stopped.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("watch %s: watcher is stopped", w.root)
	}
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.root); err != nil {
		w.mu.Lock()
		w.running = false
		w.closed = true
		w.mu.Unlock()
		// No run goroutine will exist; release a concurrent Stop.
		close(w.doneCh)
		w.close()
		return fmt.Errorf("watch %s: %w", w.root, err)
	}
	w.logger.Info("Watching plugin directory", zap.String("root", w.root))

	entries, err := os.ReadDir(w.root)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				w.addDir(filepath.Join(w.root, e.Name()))
			}
		}
	}

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	wasRunning := w.running
	w.running = false
	w.mu.Unlock()

	if wasRunning {
		close(w.stopCh)
		<-w.doneCh
	}
	w.close()
	w.logger.Debug("Watcher stopped")
}

func (w *Watcher) close() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()

		if err := w.watcher.Close(); err != nil {
			w.logger.Error("Error closing watcher", zap.Error(err))
		}
	})
}

func (w *Watcher) addDir(dir string) {
	if strings.HasPrefix(filepath.Base(dir), ".") {
		return
	}
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Debug("Could not watch subdirectory", zap.String("dir", dir), zap.Error(err))
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := w.debounceDur / 5
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	if tick > 100*time.Millisecond {
		tick = 100 * time.Millisecond
	}
	debounceTicker := time.NewTicker(tick)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Watcher context cancelled")
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", zap.Error(err))
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-debounceTicker.C:
			w.processSettled(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	var eventType string
	switch {
	case event.Op&fsnotify.Create != 0:
		eventType = "create"
	case event.Op&fsnotify.Write != 0:
		eventType = "modify"
	case event.Op&fsnotify.Remove != 0:
		eventType = "delete"
	case event.Op&fsnotify.Rename != 0:
		eventType = "rename"
	default:
		return
	}

	if eventType == "create" {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() && filepath.Dir(event.Name) == filepath.Clean(w.root) {
			w.addDir(event.Name)
		}
	}

	w.logger.Debug("Filesystem event", zap.String("type", eventType), zap.String("path", event.Name))

	w.mu.Lock()
	w.stats.Events++
	w.stats.LastEventTime = time.Now()
	w.stats.LastEventPath = event.Name
	w.stats.LastEventType = eventType
	w.pending = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) processSettled(ctx context.Context) {
	w.mu.Lock()
	if w.pending.IsZero() || time.Since(w.pending) < w.debounceDur {
		w.mu.Unlock()
		return
	}
	w.pending = time.Time{}
	w.stats.Refreshes++
	w.mu.Unlock()

	if err := w.refresh(ctx); err != nil {
		w.logger.Warn("Refresh after change failed", zap.Error(err))
		w.mu.Lock()
		w.stats.Errors++
		w.mu.Unlock()
	}
}

// Stats returns a snapshot of the watcher statistics.
func (w *Watcher) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// IsWatching reports whether the watcher is running.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// WatchedDirs returns the directories being watched.
func (w *Watcher) WatchedDirs() []string {
	return w.watcher.WatchList()
}
