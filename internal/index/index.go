// Package index maintains the derived search indexes over gallery records:
// an inverted (namespace, tag) index and a title token index, both backed by
// roaring bitmaps over compact record IDs.
//
// The index is a pure view of the store. It holds no lock of its own; the
// owning store serializes writes and shields readers.
package index

import (
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring"

	"github.com/twiddli/happypanda/internal/gallery"
)

// ID is the compact per-record identifier used inside bitmaps. IDs are
// recycled when records are removed; signatures remain the durable identity.
type ID = uint32

// postings remembers which keys a record occupies so removal does not need
// the record itself.
type postings struct {
	tagKeys []tagKey
	tokens  []string
}

type tagKey struct {
	ns  string
	tag string
}

// Index is the in-memory view. Not safe for unsynchronized concurrent use.
type Index struct {
	nextID ID
	free   []ID
	ids    map[gallery.Signature]ID
	sigs   map[ID]gallery.Signature
	posted map[ID]postings

	tags   map[string]map[string]*roaring.Bitmap
	titles map[string]*roaring.Bitmap
	all    *roaring.Bitmap
}

// New returns an empty index.
func New() *Index {
	return &Index{
		ids:    make(map[gallery.Signature]ID),
		sigs:   make(map[ID]gallery.Signature),
		posted: make(map[ID]postings),
		tags:   make(map[string]map[string]*roaring.Bitmap),
		titles: make(map[string]*roaring.Bitmap),
		all:    roaring.New(),
	}
}

// Len returns the number of indexed records.
func (ix *Index) Len() int { return len(ix.ids) }

// Contains reports whether the signature is indexed.
func (ix *Index) Contains(sig gallery.Signature) bool {
	_, ok := ix.ids[sig]
	return ok
}

// Add indexes a record, replacing any previous postings for the same
// signature. Calling Add for every store mutation keeps the view exact.
func (ix *Index) Add(r *gallery.Record) {
	id, known := ix.ids[r.Signature]
	if known {
		ix.clearPostings(id)
	} else {
		id = ix.allocate(r.Signature)
	}

	var p postings
	for ns, tags := range r.Tags {
		nsKey := strings.ToLower(ns)
		for _, tag := range tags {
			key := tagKey{ns: nsKey, tag: strings.ToLower(tag)}
			ix.tagBitmap(key).Add(id)
			p.tagKeys = append(p.tagKeys, key)
		}
	}
	for _, token := range gallery.TitleTokens(r.Title) {
		bm, ok := ix.titles[token]
		if !ok {
			bm = roaring.New()
			ix.titles[token] = bm
		}
		bm.Add(id)
		p.tokens = append(p.tokens, token)
	}

	ix.posted[id] = p
	ix.all.Add(id)
}

// Remove drops a record from all postings. Unknown signatures are a no-op.
func (ix *Index) Remove(sig gallery.Signature) {
	id, ok := ix.ids[sig]
	if !ok {
		return
	}
	ix.clearPostings(id)
	ix.all.Remove(id)
	delete(ix.posted, id)
	delete(ix.ids, sig)
	delete(ix.sigs, id)
	ix.free = append(ix.free, id)
}

// Rebuild discards all state and re-indexes the given records. The result is
// identical (as a signature-level view) to an incrementally maintained index
// over the same records.
func (ix *Index) Rebuild(records []*gallery.Record) {
	*ix = *New()
	for _, r := range records {
		ix.Add(r)
	}
}

// LookupTag returns a copy of the bitmap for a (namespace, tag) pair.
// The wildcard namespace unions the tag across every namespace. Unknown
// namespaces and tags yield an empty bitmap, never an error.
func (ix *Index) LookupTag(namespace, tag string) *roaring.Bitmap {
	tag = strings.ToLower(tag)
	if namespace == gallery.WildcardNamespace {
		out := roaring.New()
		for _, byTag := range ix.tags {
			if bm, ok := byTag[tag]; ok {
				out.Or(bm)
			}
		}
		return out
	}
	byTag, ok := ix.tags[strings.ToLower(namespace)]
	if !ok {
		return roaring.New()
	}
	bm, ok := byTag[tag]
	if !ok {
		return roaring.New()
	}
	return bm.Clone()
}

// LookupTitleToken returns a copy of the bitmap for a lower-cased title token.
func (ix *Index) LookupTitleToken(token string) *roaring.Bitmap {
	bm, ok := ix.titles[strings.ToLower(token)]
	if !ok {
		return roaring.New()
	}
	return bm.Clone()
}

// Signature resolves an index ID back to its record signature.
func (ix *Index) Signature(id ID) (gallery.Signature, bool) {
	sig, ok := ix.sigs[id]
	return sig, ok
}

// All returns a copy of the full record universe.
func (ix *Index) All() *roaring.Bitmap { return ix.all.Clone() }

// Signatures resolves a bitmap back to record signatures, in bitmap order.
func (ix *Index) Signatures(bm *roaring.Bitmap) []gallery.Signature {
	sigs := make([]gallery.Signature, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		if sig, ok := ix.sigs[it.Next()]; ok {
			sigs = append(sigs, sig)
		}
	}
	return sigs
}

// Dump flattens the index into posting key → sorted signatures. Two indexes
// over the same records dump identically regardless of internal ID
// assignment; tests and the divergence check rely on this.
func (ix *Index) Dump() map[string][]gallery.Signature {
	out := make(map[string][]gallery.Signature)
	collect := func(key string, bm *roaring.Bitmap) {
		sigs := ix.Signatures(bm)
		sort.Slice(sigs, func(i, j int) bool { return sigs[i] < sigs[j] })
		out[key] = sigs
	}
	for ns, byTag := range ix.tags {
		for tag, bm := range byTag {
			collect("tag:"+ns+":"+tag, bm)
		}
	}
	for token, bm := range ix.titles {
		collect("title:"+token, bm)
	}
	return out
}

func (ix *Index) allocate(sig gallery.Signature) ID {
	var id ID
	if n := len(ix.free); n > 0 {
		id = ix.free[n-1]
		ix.free = ix.free[:n-1]
	} else {
		id = ix.nextID
		ix.nextID++
	}
	ix.ids[sig] = id
	ix.sigs[id] = sig
	return id
}

func (ix *Index) tagBitmap(key tagKey) *roaring.Bitmap {
	byTag, ok := ix.tags[key.ns]
	if !ok {
		byTag = make(map[string]*roaring.Bitmap)
		ix.tags[key.ns] = byTag
	}
	bm, ok := byTag[key.tag]
	if !ok {
		bm = roaring.New()
		byTag[key.tag] = bm
	}
	return bm
}

func (ix *Index) clearPostings(id ID) {
	p, ok := ix.posted[id]
	if !ok {
		return
	}
	for _, key := range p.tagKeys {
		if byTag, ok := ix.tags[key.ns]; ok {
			if bm, ok := byTag[key.tag]; ok {
				bm.Remove(id)
				if bm.IsEmpty() {
					delete(byTag, key.tag)
				}
			}
			if len(byTag) == 0 {
				delete(ix.tags, key.ns)
			}
		}
	}
	for _, token := range p.tokens {
		if bm, ok := ix.titles[token]; ok {
			bm.Remove(id)
			if bm.IsEmpty() {
				delete(ix.titles, token)
			}
		}
	}
	ix.posted[id] = postings{}
}
