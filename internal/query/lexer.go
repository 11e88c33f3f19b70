package query

import (
	"strings"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokTerm
	tokMinus
	tokLParen
	tokRParen
	tokPipe
)

// token is a lexed unit. For tokTerm, text is the term with quoted segments
// resolved; quoteAt is the index within text where the first quoted segment
// begins, or -1. Structural prefixes (ns:, re:) only count when they appear
// before the quoted region, so ns:"re:foo" stays a literal tag.
type token struct {
	kind    tokenKind
	pos     int
	text    string
	quoteAt int
}

// lex splits the input into tokens. Terms may embed quoted segments
// ("multi word", ns:"multi word") which preserve internal whitespace.
func lex(input string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		r, size := utf8.DecodeRuneInString(input[i:])
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			i += size
		case r == '(':
			tokens = append(tokens, token{kind: tokLParen, pos: i, text: "("})
			i += size
		case r == ')':
			tokens = append(tokens, token{kind: tokRParen, pos: i, text: ")"})
			i += size
		case r == '|':
			tokens = append(tokens, token{kind: tokPipe, pos: i, text: "|"})
			i += size
		case r == '-':
			tokens = append(tokens, token{kind: tokMinus, pos: i, text: "-"})
			i += size
		default:
			tok, next, err := lexTerm(input, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			i = next
		}
	}
	tokens = append(tokens, token{kind: tokEOF, pos: len(input)})
	return tokens, nil
}

// lexTerm consumes one term starting at offset start. A term runs until
// whitespace or a structural rune, except inside double quotes.
func lexTerm(input string, start int) (token, int, error) {
	var sb strings.Builder
	quoteAt := -1
	i := start
	for i < len(input) {
		r, size := utf8.DecodeRuneInString(input[i:])
		if r == '"' {
			end := strings.IndexByte(input[i+1:], '"')
			if end < 0 {
				return token{}, 0, syntaxErr(i, "\"", "unterminated quote")
			}
			if quoteAt < 0 {
				quoteAt = sb.Len()
			}
			sb.WriteString(input[i+1 : i+1+end])
			i += end + 2
			continue
		}
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' ||
			r == '(' || r == ')' || r == '|' {
			break
		}
		sb.WriteRune(r)
		i += size
	}
	return token{kind: tokTerm, pos: start, text: sb.String(), quoteAt: quoteAt}, i, nil
}
