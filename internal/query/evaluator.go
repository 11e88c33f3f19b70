package query

import (
	"sort"

	"github.com/RoaringBitmap/roaring"

	"github.com/twiddli/happypanda/internal/gallery"
	"github.com/twiddli/happypanda/internal/index"
)

// RecordSource resolves signatures to records for the scan paths (phrase
// and regex terms) that the bitmap indexes cannot answer alone.
type RecordSource interface {
	Record(sig gallery.Signature) (*gallery.Record, bool)
}

// Evaluate runs a query against an index, returning matching signatures
// ordered by title and then by signature. The caller must hold whatever
// lock protects the index and the record source for the duration.
//
// Every result agrees with Query.Match on the corresponding record.
func Evaluate(q *Query, ix *index.Index, src RecordSource) []gallery.Signature {
	ev := &evaluator{ix: ix, src: src}
	matched := ev.eval(q.Root, ix.All())
	sigs := ix.Signatures(matched)
	sort.Slice(sigs, func(i, j int) bool {
		a, aok := src.Record(sigs[i])
		b, bok := src.Record(sigs[j])
		if aok && bok && a.Title != b.Title {
			return a.Title < b.Title
		}
		return sigs[i] < sigs[j]
	})
	return sigs
}

type evaluator struct {
	ix  *index.Index
	src RecordSource
}

// eval returns the subset of candidates matching the node. Candidates may be
// mutated and must not be reused by the caller.
func (ev *evaluator) eval(node Node, candidates *roaring.Bitmap) *roaring.Bitmap {
	switch n := node.(type) {
	case MatchAll:
		return candidates
	case *TagTerm:
		candidates.And(ev.ix.LookupTag(n.Namespace, n.Tag))
		return candidates
	case *WordTerm:
		if n.Phrase {
			return ev.scan(n, candidates)
		}
		hits := ev.ix.LookupTitleToken(n.Word)
		hits.Or(ev.ix.LookupTag(gallery.WildcardNamespace, n.Word))
		candidates.And(hits)
		return candidates
	case *RegexTerm:
		return ev.scan(n, candidates)
	case *Not:
		kept := ev.eval(n.Child, candidates.Clone())
		candidates.AndNot(kept)
		return candidates
	case *Or:
		out := roaring.New()
		for _, c := range n.Children {
			out.Or(ev.eval(c, candidates.Clone()))
		}
		return out
	case *And:
		return ev.evalAnd(n, candidates)
	default:
		return roaring.New()
	}
}

// evalAnd threads the candidate set through the children, cheapest first.
// Indexed terms run before subtrees, and scans run last so each record test
// touches the smallest possible set.
func (ev *evaluator) evalAnd(n *And, candidates *roaring.Bitmap) *roaring.Bitmap {
	ordered := make([]Node, len(n.Children))
	copy(ordered, n.Children)
	sort.SliceStable(ordered, func(i, j int) bool {
		return andCost(ordered[i]) < andCost(ordered[j])
	})
	for _, c := range ordered {
		if candidates.IsEmpty() {
			return candidates
		}
		candidates = ev.eval(c, candidates)
	}
	return candidates
}

func andCost(node Node) int {
	switch n := node.(type) {
	case *TagTerm:
		return 0
	case *WordTerm:
		if n.Phrase {
			return 2
		}
		return 0
	case *RegexTerm:
		return 2
	default:
		return 1
	}
}

// scan narrows candidates by testing each record directly.
func (ev *evaluator) scan(node Node, candidates *roaring.Bitmap) *roaring.Bitmap {
	out := roaring.New()
	it := candidates.Iterator()
	for it.HasNext() {
		id := it.Next()
		sig, ok := ev.ix.Signature(id)
		if !ok {
			continue
		}
		r, ok := ev.src.Record(sig)
		if !ok {
			continue
		}
		if node.Match(r) {
			out.Add(id)
		}
	}
	return out
}
