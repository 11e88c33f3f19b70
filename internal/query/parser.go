package query

import (
	"regexp"
	"strings"

	"github.com/twiddli/happypanda/internal/gallery"
)

// maxRegexPattern bounds accepted pattern sources. Together with
// maxRegexSubject it keeps every regex term cheap to evaluate.
const maxRegexPattern = 1000

// Query is a parsed search expression.
type Query struct {
	Root Node
}

// Parse compiles a search expression. An empty or all-whitespace input
// yields a query that matches every record.
//
// Grammar, loosest binding first:
//
//	or    := and ('|' and)*
//	and   := unary unary*
//	unary := '-' unary | '(' or ')' | term
//
// Adjacent terms are conjoined, so "a b | c" reads as (a AND b) OR c.
func Parse(input string) (*Query, error) {
	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	if p.peek().kind == tokEOF {
		return &Query{Root: MatchAll{}}, nil
	}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, syntaxErr(tok.pos, tok.text, "unmatched \")\"")
	}
	return &Query{Root: root}, nil
}

// Render returns the canonical text form of the query. Parsing the
// rendered form yields an equivalent query.
func (q *Query) Render() string {
	var sb strings.Builder
	q.Root.render(&sb)
	return sb.String()
}

func (q *Query) String() string { return q.Render() }

// Match reports whether a single record satisfies the query by direct
// field inspection, without any index.
func (q *Query) Match(r *gallery.Record) bool { return q.Root.Match(r) }

type parser struct {
	tokens []token
	i      int
}

func (p *parser) peek() token { return p.tokens[p.i] }

func (p *parser) next() token {
	tok := p.tokens[p.i]
	if tok.kind != tokEOF {
		p.i++
	}
	return tok
}

func (p *parser) parseOr() (Node, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokPipe {
		return first, nil
	}
	children := []Node{first}
	for p.peek().kind == tokPipe {
		p.next()
		child, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return &Or{Children: children}, nil
}

func (p *parser) parseAnd() (Node, error) {
	first, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	children := []Node{first}
	for {
		switch p.peek().kind {
		case tokEOF, tokRParen, tokPipe:
			if len(children) == 1 {
				return children[0], nil
			}
			return &And{Children: children}, nil
		}
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
}

func (p *parser) parseUnary() (Node, error) {
	switch tok := p.peek(); tok.kind {
	case tokMinus:
		p.next()
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Not{Child: child}, nil
	case tokLParen:
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		closing := p.peek()
		if closing.kind != tokRParen {
			return nil, syntaxErr(closing.pos, closing.text, "missing \")\"")
		}
		p.next()
		return inner, nil
	case tokTerm:
		p.next()
		return p.term(tok)
	case tokRParen:
		return nil, syntaxErr(tok.pos, tok.text, "unmatched \")\"")
	case tokPipe:
		return nil, syntaxErr(tok.pos, tok.text, "expected a term before \"|\"")
	default:
		return nil, syntaxErr(tok.pos, tok.text, "expected a term")
	}
}

// term interprets a lexed term. The first ":" in the unquoted prefix splits
// off a namespace; a structural "re:" marker, again outside any quotes,
// switches the remainder to a regular expression.
func (p *parser) term(tok token) (Node, error) {
	unquoted := tok.text
	if tok.quoteAt >= 0 {
		unquoted = tok.text[:tok.quoteAt]
	}
	colon := strings.IndexByte(unquoted, ':')
	if colon < 0 {
		return &WordTerm{Word: tok.text, Phrase: tok.quoteAt >= 0}, nil
	}

	ns := tok.text[:colon]
	rest := tok.text[colon+1:]
	restQuoteAt := -1
	if tok.quoteAt >= 0 {
		restQuoteAt = tok.quoteAt - (colon + 1)
	}

	if ns == "re" {
		return p.regexTerm(tok, "", rest)
	}
	if ns == "" {
		return nil, syntaxErr(tok.pos, tok.text, "missing namespace before \":\"")
	}
	if strings.HasPrefix(rest, "re:") && (restQuoteAt < 0 || restQuoteAt >= len("re:")) {
		return p.regexTerm(tok, ns, rest[len("re:"):])
	}
	if rest == "" && restQuoteAt < 0 {
		return nil, syntaxErr(tok.pos, tok.text, "missing tag after namespace")
	}
	return &TagTerm{Namespace: ns, Tag: rest}, nil
}

func (p *parser) regexTerm(tok token, ns, pattern string) (Node, error) {
	if pattern == "" {
		return nil, syntaxErr(tok.pos, tok.text, "empty regex pattern")
	}
	if len(pattern) > maxRegexPattern {
		return nil, syntaxErr(tok.pos, tok.text, "regex pattern too long")
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, syntaxErr(tok.pos, tok.text, "invalid regex: "+err.Error())
	}
	return &RegexTerm{Namespace: ns, Pattern: pattern, re: re}, nil
}
