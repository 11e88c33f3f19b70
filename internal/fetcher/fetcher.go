// Package fetcher defines the contract for external metadata providers and
// merges their results into gallery records.
//
// Merging never destroys local edits: fetched tags union into the existing
// namespaces, and a fetched title only lands when the record has none or
// the caller forces it.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twiddli/happypanda/internal/gallery"
	"github.com/twiddli/happypanda/internal/logging"
	"github.com/twiddli/happypanda/internal/metrics"
	"github.com/twiddli/happypanda/internal/store"
)

// ErrorKind classifies a fetch failure.
type ErrorKind string

const (
	// ErrNetwork covers transport failures; the provider may work later.
	ErrNetwork ErrorKind = "network"
	// ErrParse covers malformed provider responses.
	ErrParse ErrorKind = "parse"
	// ErrNotFound means the provider has no metadata for the gallery.
	ErrNotFound ErrorKind = "notfound"
)

// Error is a classified failure from one provider.
type Error struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch from %s failed (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Metadata is a provider's partial view of a gallery.
type Metadata struct {
	Title string
	Tags  gallery.Tags
	URL   string
}

// Provider looks up metadata for a gallery from some external source.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, r *gallery.Record) (*Metadata, error)
}

// Apply merges metadata into a copy of the record. Tags union per
// namespace; the title is only replaced when empty or when force is set.
func Apply(r *gallery.Record, m *Metadata, force bool) *gallery.Record {
	out := r.Clone()
	if out.Tags == nil {
		out.Tags = gallery.Tags{}
	}
	out.Tags.Merge(m.Tags)
	if m.Title != "" && (force || out.Title == "") {
		out.Title = m.Title
	}
	return out
}

// Fetcher runs providers in order against store records.
type Fetcher struct {
	store     *store.Store
	providers []Provider
}

// New creates a fetcher. Providers are consulted in the given order; the
// first one that returns metadata wins.
func New(st *store.Store, providers ...Provider) *Fetcher {
	return &Fetcher{store: st, providers: providers}
}

// Providers returns the configured provider names.
func (f *Fetcher) Providers() []string {
	names := make([]string, len(f.providers))
	for i, p := range f.providers {
		names[i] = p.Name()
	}
	return names
}

// FetchInto fetches metadata for a tracked gallery and persists the merged
// record. Provider failures are collected; the first usable result wins.
func (f *Fetcher) FetchInto(ctx context.Context, sig gallery.Signature, force bool) (*gallery.Record, error) {
	rec, ok := f.store.Get(sig)
	if !ok {
		return nil, fmt.Errorf("unknown gallery %s", sig)
	}

	var failures []error
	for _, p := range f.providers {
		start := time.Now()
		meta, err := p.Fetch(ctx, rec)
		metrics.FetcherRequestDuration.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
		if err != nil {
			status := "error"
			var ferr *Error
			if errors.As(err, &ferr) {
				status = string(ferr.Kind)
			}
			metrics.FetcherRequestsTotal.WithLabelValues(p.Name(), status).Inc()
			logging.Debug("Provider %s failed for %s: %v", p.Name(), sig, err)
			failures = append(failures, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		metrics.FetcherRequestsTotal.WithLabelValues(p.Name(), "ok").Inc()

		merged := Apply(rec, meta, force)
		if err := f.store.Upsert(ctx, merged); err != nil {
			return nil, err
		}
		logging.Info("Fetched metadata for %s from %s", sig, p.Name())
		return merged, nil
	}

	if len(failures) == 0 {
		return nil, &Error{Provider: "none", Kind: ErrNotFound, Err: errors.New("no providers configured")}
	}
	return nil, errors.Join(failures...)
}
