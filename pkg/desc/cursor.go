package desc

import (
	"fmt"
	"strings"
)

// marker wraps field names: %NAME%
const marker = '%'

// cursor is the unconsumed remainder of a record. It only moves forward, and
// every line it hands out is a substring of the original input.
type cursor struct {
	rest string
	line int // number of the next unread line, 1-based
}

func newCursor(input string) *cursor {
	return &cursor{rest: input, line: 1}
}

// nextLine consumes the next line and returns it without its terminator.
// A final line with no terminator is returned as is. At end of input it
// fails with ErrUnexpectedEnd.
func (c *cursor) nextLine() (string, error) {
	if c.rest == "" {
		return "", c.errorAt(c.line, ErrUnexpectedEnd, "unexpected end of input")
	}

	var line string
	if i := strings.IndexByte(c.rest, '\n'); i >= 0 {
		line, c.rest = c.rest[:i], c.rest[i+1:]
	} else {
		line, c.rest = c.rest, ""
	}
	c.line++
	return line, nil
}

// peekBlank reports whether the next line is blank or the input is
// exhausted. Nothing is consumed.
func (c *cursor) peekBlank() bool {
	if c.rest == "" {
		return true
	}
	return c.rest[0] == '\n'
}

// consumeDelimiter consumes a blank line. It succeeds without consuming
// anything at end of input, so the final delimiter of a record is optional.
func (c *cursor) consumeDelimiter() error {
	if c.rest == "" {
		return nil
	}
	if c.rest[0] != '\n' {
		return c.errorAt(c.line, ErrDelimiterExpected,
			fmt.Sprintf("expected blank line, got %q", c.peekLine()))
	}
	c.rest = c.rest[1:]
	c.line++
	return nil
}

// fieldName reads the next name line and strips its markers. ok is false,
// with nothing consumed, when the next line is blank or the input is
// exhausted: the record has no more fields.
func (c *cursor) fieldName() (name string, ok bool, err error) {
	if c.peekBlank() {
		return "", false, nil
	}

	line, err := c.nextLine()
	if err != nil {
		return "", false, err
	}
	if len(line) < 2 || line[0] != marker || line[len(line)-1] != marker {
		return "", false, c.errorAt(c.line-1, ErrMalformedFieldName,
			fmt.Sprintf("expected %%NAME%%, got %q", line))
	}
	return line[1 : len(line)-1], true, nil
}

// peekLine returns the next line without consuming it.
func (c *cursor) peekLine() string {
	if i := strings.IndexByte(c.rest, '\n'); i >= 0 {
		return c.rest[:i]
	}
	return c.rest
}

// remaining reports the number of unconsumed bytes.
func (c *cursor) remaining() int {
	return len(c.rest)
}

func (c *cursor) errorAt(line int, err error, reason string) *SyntaxError {
	return &SyntaxError{
		Line:   line,
		Reason: reason,
		Err:    err,
	}
}
