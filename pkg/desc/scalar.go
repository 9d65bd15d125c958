package desc

import (
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"
)

// readString consumes one line as a string value. Blank lines are
// delimiters and never values.
func (c *cursor) readString() (string, error) {
	line, err := c.nextLine()
	if err != nil {
		return "", err
	}
	if line == "" {
		return "", c.errorAt(c.line-1, ErrEmptyValue, "blank line where a value was expected")
	}
	return line, nil
}

// readChar consumes one line holding exactly one character.
func (c *cursor) readChar() (rune, error) {
	line, err := c.readString()
	if err != nil {
		return 0, err
	}
	r, size := utf8.DecodeRuneInString(line)
	if r == utf8.RuneError && size == 1 {
		return 0, c.errorAt(c.line-1, ErrCharacterOverflow,
			fmt.Sprintf("invalid UTF-8 character %q", line))
	}
	if size != len(line) {
		return 0, c.errorAt(c.line-1, ErrCharacterOverflow,
			fmt.Sprintf("expected a single character, got %q", line))
	}
	return r, nil
}

// readInt consumes one line as a signed integer of the given bit width.
func (c *cursor) readInt(bits int) (int64, error) {
	line, err := c.nextLine()
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(line, 10, bits)
	if err != nil {
		return 0, c.errorAt(c.line-1, ErrIntegerFormat, integerReason(line, bits, err))
	}
	return n, nil
}

// readUint consumes one line as an unsigned integer of the given bit width.
// Negative values are rejected.
func (c *cursor) readUint(bits int) (uint64, error) {
	line, err := c.nextLine()
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(line, 10, bits)
	if err != nil {
		return 0, c.errorAt(c.line-1, ErrIntegerFormat, integerReason(line, bits, err))
	}
	return n, nil
}

func integerReason(line string, bits int, err error) string {
	if errors.Is(err, strconv.ErrRange) {
		return fmt.Sprintf("%q overflows %d-bit integer", line, bits)
	}
	return fmt.Sprintf("%q is not a base-10 integer", line)
}
