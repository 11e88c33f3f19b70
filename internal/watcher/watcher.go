// Package watcher turns raw fsnotify events on the library roots into
// debounced per-path batches for the reconciler.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/twiddli/happypanda/internal/logging"
	"github.com/twiddli/happypanda/internal/metrics"
)

// Op classifies a filesystem event.
type Op string

const (
	OpCreate Op = "create"
	OpWrite  Op = "write"
	OpRemove Op = "remove"
	OpRename Op = "rename"
)

// Event is a single filesystem change under a watched root.
type Event struct {
	Path string
	Op   Op
	At   time.Time
}

// Config controls watch behavior.
type Config struct {
	DebounceDelay    time.Duration
	MaxDebounceDelay time.Duration
	QueueCapacity    int
}

// DefaultConfig returns the default debounce windows. The quiet delay is
// long enough to let an unpacking archive settle before it is validated.
func DefaultConfig() Config {
	return Config{
		DebounceDelay:    2 * time.Second,
		MaxDebounceDelay: 30 * time.Second,
		QueueCapacity:    256,
	}
}

// Watcher watches library roots recursively and emits debounced batches.
type Watcher struct {
	fs        *fsnotify.Watcher
	debouncer *Debouncer
	config    Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	watched map[string]bool
}

// New creates a watcher. Call Start to begin delivering batches.
func New(config Config) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		fs:        fs,
		debouncer: NewDebouncer(config.DebounceDelay, config.MaxDebounceDelay, config.QueueCapacity),
		config:    config,
		ctx:       ctx,
		cancel:    cancel,
		watched:   make(map[string]bool),
	}, nil
}

// Start begins watching the given roots and all their subdirectories.
func (w *Watcher) Start(roots []string) error {
	for _, root := range roots {
		if err := w.addRecursive(root); err != nil {
			return fmt.Errorf("failed to watch %s: %w", root, err)
		}
	}

	w.wg.Add(1)
	go w.loop()

	logging.Info("Watching %d library roots", len(roots))
	return nil
}

// Batches returns the debounced event batch channel. Each batch covers a
// single path.
func (w *Watcher) Batches() <-chan []Event {
	return w.debouncer.Batches()
}

// Close stops watching. The batch channel stops delivering afterwards.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.fs.Close()
	w.wg.Wait()
	w.debouncer.Close()
	metrics.WatchedDirectories.Set(0)
	return err
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if err := w.fs.Add(path); err != nil {
			logging.Warn("Failed to watch directory %s: %v", path, err)
			return nil
		}
		w.mu.Lock()
		w.watched[path] = true
		metrics.WatchedDirectories.Set(float64(len(w.watched)))
		w.mu.Unlock()
		return nil
	})
}

func (w *Watcher) dropWatched(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p := range w.watched {
		if p == path || isUnder(p, path) {
			delete(w.watched, p)
		}
	}
	metrics.WatchedDirectories.Set(float64(len(w.watched)))
}

func isUnder(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			e, relevant := w.convert(ev)
			if !relevant {
				continue
			}
			metrics.WatcherEventsTotal.WithLabelValues(string(e.Op)).Inc()
			w.debouncer.Add(e)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			metrics.WatcherErrors.Inc()
			logging.Warn("Watcher error: %v", err)
		}
	}
}

// convert maps an fsnotify event to a library event. New directories are
// added to the watch set so changes beneath them are seen too.
func (w *Watcher) convert(ev fsnotify.Event) (Event, bool) {
	now := time.Now()
	switch {
	case ev.Has(fsnotify.Create):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				logging.Debug("Failed to watch new directory %s: %v", ev.Name, err)
			}
		}
		return Event{Path: ev.Name, Op: OpCreate, At: now}, true
	case ev.Has(fsnotify.Write):
		return Event{Path: ev.Name, Op: OpWrite, At: now}, true
	case ev.Has(fsnotify.Remove):
		w.dropWatched(ev.Name)
		return Event{Path: ev.Name, Op: OpRemove, At: now}, true
	case ev.Has(fsnotify.Rename):
		w.dropWatched(ev.Name)
		return Event{Path: ev.Name, Op: OpRename, At: now}, true
	default:
		// Chmod and unknown ops carry no content change.
		return Event{}, false
	}
}
