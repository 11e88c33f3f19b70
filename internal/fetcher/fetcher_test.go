package fetcher

import (
	"context"
	"errors"
	"testing"

	"github.com/twiddli/happypanda/internal/gallery"
	"github.com/twiddli/happypanda/internal/store"
)

type fakeProvider struct {
	name string
	meta *Metadata
	err  error
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Fetch(_ context.Context, _ *gallery.Record) (*Metadata, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.meta, nil
}

func seedRecord(t *testing.T, st *store.Store, title string) *gallery.Record {
	t.Helper()
	r := &gallery.Record{
		Signature: "sig-1",
		Title:     title,
		Path:      "/lib/a.zip",
		Kind:      gallery.KindZip,
		Tags:      gallery.Tags{"artist": {"jane"}},
	}
	if err := st.Upsert(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestApplyMergesTagsWithoutClobbering(t *testing.T) {
	r := &gallery.Record{
		Title: "Local Title",
		Tags:  gallery.Tags{"artist": {"jane"}, "genre": {"romance"}},
	}
	m := &Metadata{
		Title: "Remote Title",
		Tags:  gallery.Tags{"genre": {"comedy"}, "language": {"english"}},
	}

	out := Apply(r, m, false)

	if out.Title != "Local Title" {
		t.Errorf("Title = %q, local title should win without force", out.Title)
	}
	for _, check := range []struct{ ns, tag string }{
		{"artist", "jane"},
		{"genre", "romance"},
		{"genre", "comedy"},
		{"language", "english"},
	} {
		if !out.Tags.Has(check.ns, check.tag) {
			t.Errorf("merged tags missing %s:%s", check.ns, check.tag)
		}
	}

	// The input record is untouched.
	if r.Tags.Has("language", "english") {
		t.Error("Apply mutated its input")
	}
}

func TestApplyTitleRules(t *testing.T) {
	m := &Metadata{Title: "Remote"}

	empty := Apply(&gallery.Record{Tags: gallery.Tags{}}, m, false)
	if empty.Title != "Remote" {
		t.Error("empty title should take the fetched one")
	}

	forced := Apply(&gallery.Record{Title: "Local", Tags: gallery.Tags{}}, m, true)
	if forced.Title != "Remote" {
		t.Error("force should replace the title")
	}
}

func TestFetchIntoFallsThroughProviders(t *testing.T) {
	st := store.NewMemory()
	seedRecord(t, st, "Local")

	failing := &fakeProvider{
		name: "first",
		err:  &Error{Provider: "first", Kind: ErrNotFound, Err: errors.New("no match")},
	}
	working := &fakeProvider{
		name: "second",
		meta: &Metadata{Tags: gallery.Tags{"genre": {"comedy"}}},
	}

	f := New(st, failing, working)
	merged, err := f.FetchInto(context.Background(), "sig-1", false)
	if err != nil {
		t.Fatalf("FetchInto returned error: %v", err)
	}
	if !merged.Tags.Has("genre", "comedy") {
		t.Error("metadata from the second provider not applied")
	}

	// The merge is persisted.
	stored, _ := st.Get("sig-1")
	if !stored.Tags.Has("genre", "comedy") {
		t.Error("merged record not stored")
	}
}

func TestFetchIntoCollectsFailures(t *testing.T) {
	st := store.NewMemory()
	seedRecord(t, st, "Local")

	f := New(st,
		&fakeProvider{name: "a", err: &Error{Provider: "a", Kind: ErrNetwork, Err: errors.New("timeout")}},
		&fakeProvider{name: "b", err: &Error{Provider: "b", Kind: ErrParse, Err: errors.New("bad json")}},
	)

	_, err := f.FetchInto(context.Background(), "sig-1", false)
	if err == nil {
		t.Fatal("expected an error when every provider fails")
	}
	var ferr *Error
	if !errors.As(err, &ferr) {
		t.Errorf("error chain lost the classified failures: %v", err)
	}
}

func TestFetchIntoUnknownSignature(t *testing.T) {
	f := New(store.NewMemory())
	if _, err := f.FetchInto(context.Background(), "missing", false); err == nil {
		t.Error("expected an error for an unknown gallery")
	}
}
