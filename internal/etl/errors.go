package etl

import (
	"fmt"
	"strings"
)

// FetchError reports a network failure or a non-success HTTP status.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports markup that does not have the expected shape or a field
// that cannot be coerced. Row is -1 when the failure is not tied to a row.
type ParseError struct {
	Row   int
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString("parse")
	if e.Row >= 0 {
		fmt.Fprintf(&b, " row %d", e.Row)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field %s", e.Field)
	}
	if e.Value != "" {
		fmt.Fprintf(&b, " value %q", e.Value)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *ParseError) Unwrap() error { return e.Err }

// SinkError reports a connection failure or a rejected write.
type SinkError struct {
	Sink string
	Op   string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %s: %s: %v", e.Sink, e.Op, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }
