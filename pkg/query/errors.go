package query

import (
	"errors"
	"fmt"
)

// ErrParse is the sentinel wrapped by every ParseError, so callers can
// classify parse failures with errors.Is.
var ErrParse = errors.New("query parse error")

// ParseError reports malformed query or sort input: bad regular expressions,
// non-numeric range endpoints, unparseable dates. It carries the offending
// text so callers can point at it.
type ParseError struct {
	Text   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s in %q", e.Reason, e.Text)
}

func (e *ParseError) Unwrap() error { return ErrParse }

func parseErrorf(text, format string, args ...any) error {
	return &ParseError{Text: text, Reason: fmt.Sprintf(format, args...)}
}
