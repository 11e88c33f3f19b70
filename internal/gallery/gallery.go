// Package gallery defines the canonical gallery record and its identity model.
package gallery

import (
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Signature is the content signature of a gallery: a stable hex-encoded hash
// of the gallery's contents. It is the record's identity and survives renames
// and moves. Once assigned it never changes; the source path is not identity.
type Signature string

// Kind identifies the container backing a gallery.
type Kind string

const (
	KindDirectory Kind = "directory"
	KindZip       Kind = "zip"
	KindRar       Kind = "rar"
)

// WildcardNamespace is the reserved namespace an unqualified tag query
// searches under. It matches the tag in every namespace.
const WildcardNamespace = "*"

// Tags maps a namespace to its set of tags. Tags are case-insensitive for
// matching and case-preserving for display; each namespace holds a tag at
// most once.
type Tags map[string][]string

// Record is a single gallery. An empty tag map is valid: untagged galleries
// remain searchable by title and path.
type Record struct {
	Signature Signature `json:"signature"`
	Title     string    `json:"title"`
	Path      string    `json:"path"`
	Kind      Kind      `json:"kind"`
	PageCount int       `json:"pageCount"`
	FirstPage string    `json:"firstPage,omitempty"`
	Tags      Tags      `json:"tags,omitempty"`
	AddedAt   time.Time `json:"addedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Summary is the shape handed to the presentation layer for result lists.
type Summary struct {
	Signature Signature `json:"signature"`
	Title     string    `json:"title"`
	Path      string    `json:"path"`
	PageCount int       `json:"pageCount"`
	TagCount  int       `json:"tagCount"`
	Thumbnail string    `json:"thumbnail,omitempty"`
}

// Summarize builds the display summary for a record. The thumbnail is the
// first page: a filesystem path for directory galleries, and the archive
// path with the entry name after "!" for archive galleries.
func Summarize(r *Record) Summary {
	s := Summary{
		Signature: r.Signature,
		Title:     r.Title,
		Path:      r.Path,
		PageCount: r.PageCount,
		TagCount:  r.Tags.Count(),
	}
	if r.FirstPage != "" {
		if r.Kind == KindDirectory {
			s.Thumbnail = filepath.Join(r.Path, filepath.FromSlash(r.FirstPage))
		} else {
			s.Thumbnail = r.Path + "!" + r.FirstPage
		}
	}
	return s
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	c := *r
	c.Tags = r.Tags.Clone()
	return &c
}

// Clone returns a deep copy of the tag map.
func (t Tags) Clone() Tags {
	if t == nil {
		return nil
	}
	c := make(Tags, len(t))
	for ns, tags := range t {
		c[ns] = append([]string(nil), tags...)
	}
	return c
}

// Count returns the total number of tags across all namespaces.
func (t Tags) Count() int {
	n := 0
	for _, tags := range t {
		n += len(tags)
	}
	return n
}

// Has reports whether the namespace carries the tag, comparing
// case-insensitively.
func (t Tags) Has(namespace, tag string) bool {
	for _, existing := range t[namespace] {
		if strings.EqualFold(existing, tag) {
			return true
		}
	}
	return false
}

// Add inserts a tag into a namespace, preserving the caller's casing.
// Duplicate tags (case-insensitive) are ignored.
func (t Tags) Add(namespace, tag string) {
	namespace = strings.TrimSpace(namespace)
	tag = strings.TrimSpace(tag)
	if namespace == "" || tag == "" {
		return
	}
	if t.Has(namespace, tag) {
		return
	}
	t[namespace] = append(t[namespace], tag)
}

// Merge unions other into t per namespace. Existing tags win on casing.
func (t Tags) Merge(other Tags) {
	for ns, tags := range other {
		for _, tag := range tags {
			t.Add(ns, tag)
		}
	}
}

// Namespaces returns the sorted namespace keys.
func (t Tags) Namespaces() []string {
	keys := make([]string, 0, len(t))
	for ns := range t {
		keys = append(keys, ns)
	}
	sort.Strings(keys)
	return keys
}

// TitleTokens splits a title into lower-cased word tokens for the title index.
// Tokens are split on any non-letter, non-digit rune.
func TitleTokens(title string) []string {
	fields := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !isWordRune(r)
	})
	seen := make(map[string]struct{}, len(fields))
	tokens := fields[:0]
	for _, f := range fields {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		tokens = append(tokens, f)
	}
	return tokens
}

func isWordRune(r rune) bool {
	return r == '_' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r > 127
}
