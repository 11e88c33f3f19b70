// Package scanner walks the library roots to find candidate gallery
// sources: archive files and directories holding image pages, either
// directly or split across chapter subdirectories. The initial walk and
// the periodic sweeps both feed the reconciler; the watcher covers
// everything in between.
package scanner

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/twiddli/happypanda/internal/filesystem"
	"github.com/twiddli/happypanda/internal/logging"
	"github.com/twiddli/happypanda/internal/mediatypes"
	"github.com/twiddli/happypanda/internal/metrics"
)

// Status describes scanner progress for the stats endpoint.
type Status struct {
	Ready           bool          `json:"ready"`
	Running         bool          `json:"running"`
	LastRun         time.Time     `json:"lastRun"`
	LastRunDuration time.Duration `json:"lastRunDuration"`
	SourcesFound    int           `json:"sourcesFound"`
}

// Scanner finds candidate sources under the configured roots.
type Scanner struct {
	roots []string
	retry filesystem.RetryConfig

	mu     sync.RWMutex
	status Status
}

// New creates a scanner over the given library roots.
func New(roots []string) *Scanner {
	return &Scanner{
		roots: roots,
		retry: filesystem.DefaultRetryConfig(),
	}
}

// Scan walks every root once and returns the candidate source paths.
// Unreadable subtrees are logged and skipped; a scan never fails on a
// single bad directory.
func (s *Scanner) Scan(ctx context.Context) ([]string, error) {
	s.setRunning(true)
	defer s.setRunning(false)

	start := time.Now()
	var found []string

	for _, root := range s.roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if walkErr != nil {
				logging.Warn("Scan cannot read %s: %v", path, walkErr)
				return nil
			}

			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return fs.SkipDir
				}
				if path != root && s.isGallerySource(path) {
					found = append(found, path)
					return fs.SkipDir
				}
				return nil
			}

			if strings.HasPrefix(d.Name(), ".") {
				return nil
			}
			if _, ok := mediatypes.ContainerKind(path); ok {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	duration := time.Since(start)
	s.mu.Lock()
	s.status.LastRun = time.Now()
	s.status.LastRunDuration = duration
	s.status.SourcesFound = len(found)
	s.mu.Unlock()

	metrics.ScannerRunsTotal.Inc()
	metrics.ScannerLastRunTimestamp.Set(float64(time.Now().Unix()))
	metrics.ScannerLastRunDuration.Set(duration.Seconds())
	metrics.ScannerSourcesFound.Set(float64(len(found)))

	logging.Info("Library scan found %d candidate sources in %v", len(found), duration)
	return found, nil
}

// Run performs the initial scan, hands the results to sink, and then
// repeats on the given interval until the context is cancelled. The
// scanner reports ready after the first completed cycle.
func (s *Scanner) Run(ctx context.Context, interval time.Duration, sink func(context.Context, []string)) {
	run := func() {
		sources, err := s.Scan(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logging.Error("Library scan failed: %v", err)
			}
			return
		}
		sink(ctx, sources)
	}

	run()
	s.mu.Lock()
	s.status.Ready = true
	s.mu.Unlock()

	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

// Status returns a snapshot of scanner progress.
func (s *Scanner) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Ready reports whether the initial scan has completed.
func (s *Scanner) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status.Ready
}

func (s *Scanner) setRunning(v bool) {
	s.mu.Lock()
	s.status.Running = v
	s.mu.Unlock()
}

// isGallerySource reports whether a directory is a single gallery: it has
// image pages as immediate children, or its immediate subdirectories hold
// the pages as chapters. Either way the whole directory is one source and
// the walk does not descend into it.
func (s *Scanner) isGallerySource(path string) bool {
	entries, err := filesystem.ReadDirWithRetry(path, s.retry)
	if err != nil {
		logging.Debug("Cannot read %s while scanning: %v", path, err)
		return false
	}
	var subdirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			if !strings.HasPrefix(entry.Name(), ".") {
				subdirs = append(subdirs, filepath.Join(path, entry.Name()))
			}
			continue
		}
		if mediatypes.IsPage(entry.Name()) {
			return true
		}
	}
	for _, sub := range subdirs {
		if s.hasDirectPages(sub) {
			return true
		}
	}
	return false
}

// hasDirectPages reports whether a directory contains at least one image
// page as an immediate child.
func (s *Scanner) hasDirectPages(path string) bool {
	entries, err := filesystem.ReadDirWithRetry(path, s.retry)
	if err != nil {
		logging.Debug("Cannot read %s while scanning: %v", path, err)
		return false
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if mediatypes.IsPage(entry.Name()) {
			return true
		}
	}
	return false
}
