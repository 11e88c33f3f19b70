package query

import "fmt"

// SyntaxError reports a malformed search query. Pos is the byte offset of the
// offending token in the original input.
type SyntaxError struct {
	Pos   int
	Token string
	Msg   string
}

func (e *SyntaxError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("syntax error at %d: %s", e.Pos, e.Msg)
	}
	return fmt.Sprintf("syntax error at %d near %q: %s", e.Pos, e.Token, e.Msg)
}

func syntaxErr(pos int, token, format string, args ...interface{}) *SyntaxError {
	return &SyntaxError{Pos: pos, Token: token, Msg: fmt.Sprintf(format, args...)}
}
