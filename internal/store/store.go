// Package store holds the canonical in-memory gallery records and the
// search indexes derived from them, backed by sqlite for persistence.
//
// A single RWMutex covers the record map and the index together, so a
// search can never observe a record without its postings or vice versa.
// Batches are single-writer and go through the database first; memory is
// only updated after the transaction commits, in commit order.
package store

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/twiddli/happypanda/internal/gallery"
	"github.com/twiddli/happypanda/internal/index"
	"github.com/twiddli/happypanda/internal/logging"
	"github.com/twiddli/happypanda/internal/metrics"
	"github.com/twiddli/happypanda/internal/query"
)

// ErrIndexDiverged is reported by VerifyIndex when the incrementally
// maintained index no longer matches the records. RebuildIndex recovers.
var ErrIndexDiverged = errors.New("search index diverged from records")

// Store is the canonical gallery collection.
type Store struct {
	// writeMu serializes whole batches (prepare, transaction, memory), so
	// the commit order in sqlite is also the application order in memory.
	// mu alone only covers the in-memory maps and index.
	writeMu sync.Mutex
	mu      sync.RWMutex
	records map[gallery.Signature]*gallery.Record
	byPath  map[string]gallery.Signature
	ix      *index.Index
	db      *DB
}

// Open loads the persisted collection from dbPath and builds the search
// indexes over it.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	db, err := OpenDB(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	records, err := db.LoadAll(ctx)
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after load failure: %v", closeErr)
		}
		return nil, err
	}

	s := newEmpty()
	s.db = db
	for _, r := range records {
		s.records[r.Signature] = r
		s.byPath[r.Path] = r.Signature
		s.ix.Add(r)
	}
	s.updateLibraryMetrics()
	logging.Info("Loaded %d galleries from %s", len(records), dbPath)
	return s, nil
}

// NewMemory returns a store with no persistence. Used by tests.
func NewMemory() *Store {
	return newEmpty()
}

func newEmpty() *Store {
	return &Store{
		records: make(map[gallery.Signature]*gallery.Record),
		byPath:  make(map[string]gallery.Signature),
		ix:      index.New(),
	}
}

// Close closes the backing database, if any.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Len returns the number of tracked galleries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Get returns a copy of the record for a signature.
func (s *Store) Get(sig gallery.Signature) (*gallery.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[sig]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// GetByPath returns a copy of the record currently tracked at a path.
func (s *Store) GetByPath(path string) (*gallery.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.byPath[path]
	if !ok {
		return nil, false
	}
	r, ok := s.records[sig]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// All returns copies of every record, ordered by title then signature.
func (s *Store) All() []*gallery.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*gallery.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].Signature < out[j].Signature
	})
	return out
}

// Upsert creates or replaces one record. The signature is the identity;
// a changed path for a known signature is a move and keeps the record.
func (s *Store) Upsert(ctx context.Context, r *gallery.Record) error {
	return s.Apply(ctx, []*gallery.Record{r}, nil)
}

// Remove deletes a record. Removing an unknown signature is a no-op.
func (s *Store) Remove(ctx context.Context, sig gallery.Signature) error {
	return s.Apply(ctx, nil, []gallery.Signature{sig})
}

// Apply commits a batch of upserts and removals atomically: one database
// transaction, one lock section. Memory and index are only touched after
// the transaction commits, so a failed batch changes nothing. Batches are
// single-writer: concurrent callers (sweeps, watcher batches, API edits)
// queue on the writer lock so sqlite and memory always agree on order.
func (s *Store) Apply(ctx context.Context, upserts []*gallery.Record, removes []gallery.Signature) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now()
	prepared := make([]*gallery.Record, 0, len(upserts))

	s.mu.RLock()
	for _, r := range upserts {
		c := r.Clone()
		if c.Tags == nil {
			c.Tags = gallery.Tags{}
		}
		if prev, ok := s.records[c.Signature]; ok {
			c.AddedAt = prev.AddedAt
		} else if c.AddedAt.IsZero() {
			c.AddedAt = now
		}
		c.UpdatedAt = now
		prepared = append(prepared, c)
	}
	s.mu.RUnlock()

	if s.db != nil {
		tx, err := s.db.BeginBatch()
		if err != nil {
			return err
		}
		for _, r := range prepared {
			if err == nil {
				err = s.db.upsertRecord(tx, r)
			}
		}
		for _, sig := range removes {
			if err == nil {
				err = s.db.deleteRecord(tx, sig)
			}
		}
		if err = s.db.EndBatch(tx, err); err != nil {
			return err
		}
	}

	s.mu.Lock()
	for _, r := range prepared {
		if prev, ok := s.records[r.Signature]; ok && prev.Path != r.Path {
			delete(s.byPath, prev.Path)
		}
		s.records[r.Signature] = r
		s.byPath[r.Path] = r.Signature
		s.ix.Add(r)
	}
	for _, sig := range removes {
		// The path may already map to a replacement record; only unlink it
		// when it still points at the record being removed.
		if prev, ok := s.records[sig]; ok && s.byPath[prev.Path] == sig {
			delete(s.byPath, prev.Path)
		}
		delete(s.records, sig)
		s.ix.Remove(sig)
	}
	s.mu.Unlock()

	s.updateLibraryMetrics()
	return nil
}

// Search parses and evaluates a query, returning matching records ordered
// by title then signature. An empty query returns the whole collection.
func (s *Store) Search(input string) ([]*gallery.Record, error) {
	q, err := query.Parse(input)
	if err != nil {
		metrics.SearchesTotal.WithLabelValues("syntax_error").Inc()
		return nil, err
	}

	start := time.Now()
	s.mu.RLock()
	sigs := query.Evaluate(q, s.ix, recordSource{s.records})
	out := make([]*gallery.Record, 0, len(sigs))
	for _, sig := range sigs {
		if r, ok := s.records[sig]; ok {
			out = append(out, r.Clone())
		}
	}
	s.mu.RUnlock()

	metrics.SearchesTotal.WithLabelValues("ok").Inc()
	metrics.SearchDuration.Observe(time.Since(start).Seconds())
	metrics.SearchResults.Observe(float64(len(out)))
	return out, nil
}

// recordSource adapts the record map for the query evaluator. Only valid
// while the store lock is held.
type recordSource struct {
	records map[gallery.Signature]*gallery.Record
}

func (rs recordSource) Record(sig gallery.Signature) (*gallery.Record, bool) {
	r, ok := rs.records[sig]
	return r, ok
}

// Tags returns every namespace with its sorted tags, as currently used
// across the collection.
func (s *Store) Tags() map[string][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]map[string]struct{})
	for _, r := range s.records {
		for ns, tags := range r.Tags {
			byTag, ok := seen[ns]
			if !ok {
				byTag = make(map[string]struct{})
				seen[ns] = byTag
			}
			for _, tag := range tags {
				byTag[tag] = struct{}{}
			}
		}
	}

	out := make(map[string][]string, len(seen))
	for ns, byTag := range seen {
		tags := make([]string, 0, len(byTag))
		for tag := range byTag {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		out[ns] = tags
	}
	return out
}

// VerifyIndex checks the live index against a fresh rebuild over the same
// records. Any mismatch reports ErrIndexDiverged.
func (s *Store) VerifyIndex() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fresh := index.New()
	for _, r := range s.records {
		fresh.Add(r)
	}
	if !reflect.DeepEqual(s.ix.Dump(), fresh.Dump()) {
		return ErrIndexDiverged
	}
	return nil
}

// RebuildIndex discards and rebuilds the search index from the records.
func (s *Store) RebuildIndex() {
	s.mu.Lock()
	records := make([]*gallery.Record, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, r)
	}
	s.ix.Rebuild(records)
	s.mu.Unlock()

	metrics.IndexRebuildsTotal.Inc()
	logging.Info("Search index rebuilt over %d galleries", len(records))
}

// UpdateDBMetrics refreshes database gauges, if persistence is enabled.
func (s *Store) UpdateDBMetrics() {
	if s.db != nil {
		s.db.UpdateDBMetrics()
	}
}

func (s *Store) updateLibraryMetrics() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byKind := make(map[gallery.Kind]int)
	pairs := make(map[string]struct{})
	for _, r := range s.records {
		byKind[r.Kind]++
		for ns, tags := range r.Tags {
			for _, tag := range tags {
				pairs[ns+":"+tag] = struct{}{}
			}
		}
	}
	for _, kind := range []gallery.Kind{gallery.KindDirectory, gallery.KindZip, gallery.KindRar} {
		metrics.GalleriesTotal.WithLabelValues(string(kind)).Set(float64(byKind[kind]))
	}
	metrics.TagsTotal.Set(float64(len(pairs)))
}
