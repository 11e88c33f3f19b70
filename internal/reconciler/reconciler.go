// Package reconciler drives discovered sources through validation and into
// the store, and retires tracked galleries whose sources have vanished.
//
// Identity is the content signature. A known signature seen at a new path
// is a move and keeps the record untouched apart from its path. A new
// signature at a tracked path inherits that record's metadata: the gallery
// was edited in place, not replaced.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/twiddli/happypanda/internal/archive"
	"github.com/twiddli/happypanda/internal/filesystem"
	"github.com/twiddli/happypanda/internal/gallery"
	"github.com/twiddli/happypanda/internal/logging"
	"github.com/twiddli/happypanda/internal/metrics"
	"github.com/twiddli/happypanda/internal/store"
	"github.com/twiddli/happypanda/internal/workers"
)

// ValidationError reports why one source was rejected. A rejection never
// fails the batch it arrived in.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Path, e.Reason)
}

// missingConfirmations is how many consecutive sweeps must miss a source
// before its record is removed. One sweep of grace absorbs transient mount
// glitches and mid-move windows.
const missingConfirmations = 2

// maxValidateWorkers caps the archive-opening pool regardless of CPU count.
const maxValidateWorkers = 8

// validateTimeout bounds hashing and page listing for a single source, so a
// truncated archive or a stalled network mount cannot wedge a whole batch.
const validateTimeout = 2 * time.Minute

// Report summarizes one reconciliation batch.
type Report struct {
	Accepted        int                `json:"accepted"`
	Updated         int                `json:"updated"`
	Moved           int                `json:"moved"`
	Unchanged       int                `json:"unchanged"`
	Rejected        int                `json:"rejected"`
	Removed         int                `json:"removed"`
	PendingDeletion int                `json:"pendingDeletion"`
	Errors          []*ValidationError `json:"errors,omitempty"`
	Duration        time.Duration      `json:"duration"`
}

// Reconciler applies source discoveries to the store.
type Reconciler struct {
	store      *store.Store
	roots      []string
	retry      filesystem.RetryConfig
	maxWorkers int

	mu      sync.Mutex
	missing map[gallery.Signature]int
	last    Report
}

// New creates a reconciler writing into st. roots are the library roots,
// used to resolve watcher event paths back to their source.
func New(st *store.Store, roots []string) *Reconciler {
	return &Reconciler{
		store:      st,
		roots:      roots,
		retry:      filesystem.DefaultRetryConfig(),
		maxWorkers: workers.ForIO(maxValidateWorkers),
		missing:    make(map[gallery.Signature]int),
	}
}

// LastReport returns the most recent batch report.
func (r *Reconciler) LastReport() Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// candidate is one source moving through validation.
type candidate struct {
	path string
	info *archive.Info
	err  *ValidationError
}

// ReconcileSources validates the given source paths concurrently and
// applies the outcomes to the store in one batch.
func (r *Reconciler) ReconcileSources(ctx context.Context, paths []string) (*Report, error) {
	return r.reconcile(ctx, paths, nil)
}

// Sweep reconciles a full scan result and additionally looks for tracked
// galleries whose sources are gone. A record is removed only after its
// source stays missing for consecutive sweeps.
func (r *Reconciler) Sweep(ctx context.Context, sources []string) (*Report, error) {
	present := make(map[string]bool, len(sources))
	for _, p := range sources {
		present[p] = true
	}
	return r.reconcile(ctx, sources, present)
}

// HandleEvents resolves a debounced watcher batch for one path to its
// source and reconciles it. Paths that no longer resolve to any source are
// checked against tracked records for removal.
func (r *Reconciler) HandleEvents(ctx context.Context, paths []string) (*Report, error) {
	seen := make(map[string]bool)
	var sources []string
	var vanished []string
	for _, p := range paths {
		source, ok := r.resolveSource(p)
		if !ok {
			// A deleted page still revalidates the gallery it belonged to.
			source, ok = r.trackedAncestor(p)
		}
		if ok {
			if !seen[source] {
				seen[source] = true
				sources = append(sources, source)
			}
			continue
		}
		vanished = append(vanished, p)
	}

	report, err := r.reconcile(ctx, sources, nil)
	if err != nil {
		return report, err
	}

	// A vanished path retires the record tracked there, if any, through
	// the same missing-confirmation grace as a sweep.
	var removes []gallery.Signature
	for _, p := range vanished {
		for _, probe := range []string{p, filepath.Dir(p)} {
			rec, ok := r.store.GetByPath(probe)
			if !ok {
				continue
			}
			if _, statErr := os.Stat(rec.Path); statErr == nil {
				continue
			}
			if sig, confirmed := r.confirmMissing(rec.Signature); confirmed {
				removes = append(removes, sig)
			} else {
				report.PendingDeletion++
			}
		}
	}
	if len(removes) > 0 {
		if err := r.store.Apply(ctx, nil, removes); err != nil {
			return report, err
		}
		report.Removed += len(removes)
		metrics.ReconcilerOutcomes.WithLabelValues("removed").Add(float64(len(removes)))
	}

	r.mu.Lock()
	r.last = *report
	r.mu.Unlock()
	return report, nil
}

func (r *Reconciler) reconcile(ctx context.Context, paths []string, present map[string]bool) (*Report, error) {
	start := time.Now()
	metrics.ReconcilerRunning.Set(1)
	defer metrics.ReconcilerRunning.Set(0)

	candidates := make([]candidate, len(paths))
	p := pool.New().WithMaxGoroutines(r.maxWorkers)
	for i, path := range paths {
		i, path := i, path
		p.Go(func() {
			candidates[i] = r.validate(ctx, path)
		})
	}
	p.Wait()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	report := &Report{}
	var upserts []*gallery.Record
	var removes []gallery.Signature
	seenSig := make(map[gallery.Signature]string)

	for _, c := range candidates {
		if c.err != nil {
			report.Rejected++
			report.Errors = append(report.Errors, c.err)
			metrics.ReconcilerOutcomes.WithLabelValues("rejected").Inc()
			logging.Debug("Rejected source %s: %s", c.err.Path, c.err.Reason)
			continue
		}

		if prev, dup := seenSig[c.info.Signature]; dup {
			report.Rejected++
			verr := &ValidationError{
				Path:   c.path,
				Reason: "duplicate of " + prev,
			}
			report.Errors = append(report.Errors, verr)
			metrics.ReconcilerOutcomes.WithLabelValues("rejected").Inc()
			continue
		}
		seenSig[c.info.Signature] = c.path

		rec, outcome := r.resolveRecord(c)
		upserts = append(upserts, rec)
		switch outcome {
		case "accepted":
			report.Accepted++
		case "updated":
			report.Updated++
			// The signature changed in place; the old identity goes away.
			if old, ok := r.store.GetByPath(c.path); ok && old.Signature != rec.Signature {
				removes = append(removes, old.Signature)
			}
		case "moved":
			report.Moved++
		default:
			report.Unchanged++
		}
		metrics.ReconcilerOutcomes.WithLabelValues(outcome).Inc()
		r.clearMissing(c.info.Signature)
	}

	if present != nil {
		removed, pending := r.retireMissing(present, &removes)
		report.Removed += removed
		report.PendingDeletion += pending
	}

	if len(upserts) > 0 || len(removes) > 0 {
		if err := r.store.Apply(ctx, upserts, removes); err != nil {
			return nil, err
		}
	}

	report.Duration = time.Since(start)
	metrics.ReconcilerBatchesTotal.Inc()
	metrics.ReconcilerBatchDuration.Observe(report.Duration.Seconds())

	r.mu.Lock()
	r.last = *report
	r.mu.Unlock()

	if report.Accepted+report.Updated+report.Moved+report.Removed > 0 {
		logging.Info("Reconciled %d sources: %d new, %d updated, %d moved, %d removed, %d rejected",
			len(paths), report.Accepted, report.Updated, report.Moved, report.Removed, report.Rejected)
	}
	return report, nil
}

// validate checks one source on disk and computes its identity.
func (r *Reconciler) validate(ctx context.Context, path string) candidate {
	if _, err := filesystem.StatWithRetry(path, r.retry); err != nil {
		return candidate{path: path, err: &ValidationError{Path: path, Reason: err.Error()}}
	}
	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()
	info, err := archive.Validate(ctx, path)
	if err != nil {
		reason := err.Error()
		if errors.Is(err, archive.ErrNoPages) {
			reason = "no readable pages"
		}
		return candidate{path: path, err: &ValidationError{Path: path, Reason: reason}}
	}
	return candidate{path: path, info: info}
}

// resolveRecord maps a validated candidate onto a new or existing record.
func (r *Reconciler) resolveRecord(c candidate) (*gallery.Record, string) {
	// Signature match wins: same content elsewhere is a move.
	if existing, ok := r.store.Get(c.info.Signature); ok {
		outcome := "unchanged"
		if existing.Path != c.path {
			outcome = "moved"
			logging.Info("Gallery %s moved: %s -> %s", existing.Signature, existing.Path, c.path)
		}
		existing.Path = c.path
		existing.Kind = c.info.Kind
		existing.PageCount = c.info.PageCount
		existing.FirstPage = c.info.FirstPage
		return existing, outcome
	}

	// Path match: the source was edited in place. Keep its metadata under
	// the new signature.
	if existing, ok := r.store.GetByPath(c.path); ok {
		existing.Signature = c.info.Signature
		existing.Kind = c.info.Kind
		existing.PageCount = c.info.PageCount
		existing.FirstPage = c.info.FirstPage
		return existing, "updated"
	}

	rec := &gallery.Record{
		Signature: c.info.Signature,
		Path:      c.path,
		Kind:      c.info.Kind,
		PageCount: c.info.PageCount,
		FirstPage: c.info.FirstPage,
		Tags:      gallery.Tags{},
	}
	name := filepath.Base(c.path)
	if c.info.Kind != gallery.KindDirectory {
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}
	parsed := gallery.ParseName(name)
	rec.Title = parsed.Title
	if parsed.Artist != "" {
		rec.Tags.Add("artist", parsed.Artist)
	}
	if parsed.Language != "" {
		rec.Tags.Add("language", parsed.Language)
	}
	return rec, "accepted"
}

// retireMissing walks the tracked records against the present set and
// retires those missing from enough consecutive sweeps.
func (r *Reconciler) retireMissing(present map[string]bool, removes *[]gallery.Signature) (removed, pending int) {
	for _, rec := range r.store.All() {
		if present[rec.Path] {
			continue
		}
		// Scans can race a move; trust the filesystem over the scan list.
		if _, err := os.Stat(rec.Path); err == nil {
			r.clearMissing(rec.Signature)
			continue
		}
		if sig, confirmed := r.confirmMissing(rec.Signature); confirmed {
			*removes = append(*removes, sig)
			removed++
			metrics.ReconcilerOutcomes.WithLabelValues("removed").Inc()
			logging.Info("Gallery %s retired, source gone: %s", rec.Signature, rec.Path)
		} else {
			pending++
		}
	}
	return removed, pending
}

// confirmMissing counts one missing observation and reports whether the
// record has now been missing long enough to remove.
func (r *Reconciler) confirmMissing(sig gallery.Signature) (gallery.Signature, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.missing[sig]++
	if r.missing[sig] >= missingConfirmations {
		delete(r.missing, sig)
		return sig, true
	}
	return sig, false
}

func (r *Reconciler) clearMissing(sig gallery.Signature) {
	r.mu.Lock()
	delete(r.missing, sig)
	r.mu.Unlock()
}

// resolveSource maps a changed path to the gallery source containing it.
// Library roots themselves are never sources.
func (r *Reconciler) resolveSource(path string) (string, bool) {
	info, err := filesystem.StatWithRetry(path, r.retry)
	if err != nil {
		return "", false
	}
	if !r.isRoot(path) && archive.IsSource(path, info.IsDir()) {
		return path, true
	}
	// A page changed inside a gallery directory.
	dir := filepath.Dir(path)
	if r.isRoot(dir) {
		return "", false
	}
	if dirInfo, err := os.Stat(dir); err == nil && dirInfo.IsDir() {
		return dir, true
	}
	return "", false
}

// trackedAncestor maps a vanished path to the surviving tracked gallery
// directory it lived under, if any. The record there gets a fresh
// signature and page count in the same batch instead of waiting for the
// next sweep.
func (r *Reconciler) trackedAncestor(path string) (string, bool) {
	for dir := filepath.Dir(path); ; dir = filepath.Dir(dir) {
		if r.isRoot(dir) || dir == filepath.Dir(dir) {
			return "", false
		}
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		if _, ok := r.store.GetByPath(dir); ok {
			return dir, true
		}
	}
}

func (r *Reconciler) isRoot(path string) bool {
	for _, root := range r.roots {
		if filepath.Clean(root) == filepath.Clean(path) {
			return true
		}
	}
	return false
}
