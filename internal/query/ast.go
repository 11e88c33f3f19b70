package query

import (
	"regexp"
	"strings"

	"github.com/twiddli/happypanda/internal/gallery"
)

// Node is a compiled predicate tree node. Match performs direct field
// inspection against a single record; the evaluator uses the same tree with
// index acceleration and must agree with Match on every record.
type Node interface {
	render(sb *strings.Builder)
	Match(r *gallery.Record) bool
}

// MatchAll is the empty query: it matches every record.
type MatchAll struct{}

func (MatchAll) render(sb *strings.Builder) {}
func (MatchAll) Match(*gallery.Record) bool { return true }

// And matches records matched by every child.
type And struct{ Children []Node }

func (n *And) Match(r *gallery.Record) bool {
	for _, c := range n.Children {
		if !c.Match(r) {
			return false
		}
	}
	return true
}

func (n *And) render(sb *strings.Builder) {
	for i, c := range n.Children {
		if i > 0 {
			sb.WriteByte(' ')
		}
		c.render(sb)
	}
}

// Or matches records matched by at least one child.
type Or struct{ Children []Node }

func (n *Or) Match(r *gallery.Record) bool {
	for _, c := range n.Children {
		if c.Match(r) {
			return true
		}
	}
	return false
}

func (n *Or) render(sb *strings.Builder) {
	sb.WriteByte('(')
	for i, c := range n.Children {
		if i > 0 {
			sb.WriteString(" | ")
		}
		c.render(sb)
	}
	sb.WriteByte(')')
}

// Not matches records its child does not match.
type Not struct{ Child Node }

func (n *Not) Match(r *gallery.Record) bool { return !n.Child.Match(r) }

func (n *Not) render(sb *strings.Builder) {
	sb.WriteByte('-')
	if _, grouped := n.Child.(*Or); grouped {
		n.Child.render(sb)
		return
	}
	switch n.Child.(type) {
	case *And:
		sb.WriteByte('(')
		n.Child.render(sb)
		sb.WriteByte(')')
	default:
		n.Child.render(sb)
	}
}

// WordTerm is a bare word: it matches title tokens and, equivalently, the
// word as a tag in any namespace. Phrase terms (quoted, possibly multi-word)
// match as a case-insensitive title substring instead of a single token.
type WordTerm struct {
	Word   string
	Phrase bool
}

func (n *WordTerm) Match(r *gallery.Record) bool {
	if n.Phrase {
		return strings.Contains(strings.ToLower(r.Title), strings.ToLower(n.Word))
	}
	word := strings.ToLower(n.Word)
	for _, token := range gallery.TitleTokens(r.Title) {
		if token == word {
			return true
		}
	}
	for ns := range r.Tags {
		if r.Tags.Has(ns, n.Word) {
			return true
		}
	}
	return false
}

func (n *WordTerm) render(sb *strings.Builder) {
	writeMaybeQuoted(sb, n.Word, n.Phrase)
}

// TagTerm matches records carrying the tag under the namespace. The wildcard
// namespace matches the tag anywhere. Unknown namespaces are valid and simply
// match nothing.
type TagTerm struct {
	Namespace string
	Tag       string
}

func (n *TagTerm) Match(r *gallery.Record) bool {
	if n.Namespace == gallery.WildcardNamespace {
		for ns := range r.Tags {
			if r.Tags.Has(ns, n.Tag) {
				return true
			}
		}
		return false
	}
	for ns := range r.Tags {
		if strings.EqualFold(ns, n.Namespace) && r.Tags.Has(ns, n.Tag) {
			return true
		}
	}
	return false
}

func (n *TagTerm) render(sb *strings.Builder) {
	sb.WriteString(n.Namespace)
	sb.WriteByte(':')
	writeMaybeQuoted(sb, n.Tag, false)
}

// RegexTerm matches a compiled pattern against the record's title (empty
// namespace), any tag (wildcard namespace), or the tags of one namespace.
// Subjects longer than the safety cap are treated as non-matches.
type RegexTerm struct {
	Namespace string
	Pattern   string
	re        *regexp.Regexp
}

// maxRegexSubject bounds the text a pattern is applied to. Go's RE2 engine
// runs in linear time, so an input cap is a full time bound.
const maxRegexSubject = 4096

func (n *RegexTerm) matchText(text string) bool {
	if len(text) > maxRegexSubject {
		return false
	}
	return n.re.MatchString(text)
}

func (n *RegexTerm) Match(r *gallery.Record) bool {
	switch n.Namespace {
	case "":
		return n.matchText(r.Title)
	case gallery.WildcardNamespace:
		for _, tags := range r.Tags {
			for _, tag := range tags {
				if n.matchText(tag) {
					return true
				}
			}
		}
		return false
	default:
		for ns, tags := range r.Tags {
			if !strings.EqualFold(ns, n.Namespace) {
				continue
			}
			for _, tag := range tags {
				if n.matchText(tag) {
					return true
				}
			}
		}
		return false
	}
}

func (n *RegexTerm) render(sb *strings.Builder) {
	if n.Namespace != "" {
		sb.WriteString(n.Namespace)
		sb.WriteByte(':')
	}
	sb.WriteString(`re:"`)
	sb.WriteString(n.Pattern)
	sb.WriteByte('"')
}

func writeMaybeQuoted(sb *strings.Builder, s string, force bool) {
	if force || strings.ContainsAny(s, " \t()|:") || s == "" {
		sb.WriteByte('"')
		sb.WriteString(s)
		sb.WriteByte('"')
		return
	}
	sb.WriteString(s)
}
