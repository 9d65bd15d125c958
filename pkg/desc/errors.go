package desc

import (
	"errors"
	"fmt"
	"reflect"
)

// Sentinel errors. Every *SyntaxError unwraps to exactly one of these.
var (
	// ErrUnexpectedEnd indicates a value or field name was expected but the
	// input was exhausted.
	ErrUnexpectedEnd = errors.New("desc: unexpected end of input")

	// ErrDelimiterExpected indicates a blank line was required but the line
	// held text.
	ErrDelimiterExpected = errors.New("desc: blank line expected")

	// ErrMalformedFieldName indicates a name line without the surrounding
	// percent signs.
	ErrMalformedFieldName = errors.New("desc: malformed field name")

	// ErrEmptyValue indicates a blank line where a string or character value
	// was expected.
	ErrEmptyValue = errors.New("desc: empty value not allowed")

	// ErrCharacterOverflow indicates a character value longer than one
	// character.
	ErrCharacterOverflow = errors.New("desc: value is more than one character")

	// ErrIntegerFormat indicates a line that is not a base-10 integer or does
	// not fit the target width.
	ErrIntegerFormat = errors.New("desc: invalid integer")

	// ErrUnsupportedKind indicates a target type the format cannot express.
	ErrUnsupportedKind = errors.New("desc: unsupported value kind")

	// ErrRootMustBeRecord indicates a document root that is not a struct or
	// string-keyed map.
	ErrRootMustBeRecord = errors.New("desc: root must be a record")

	// ErrTrailingData indicates input left over after a complete record.
	ErrTrailingData = errors.New("desc: trailing data after record")

	// ErrUnknownField indicates a field name with no matching struct field.
	// Only returned when DisallowUnknownFields is set.
	ErrUnknownField = errors.New("desc: unknown field")

	// ErrTooLarge indicates a record larger than the configured MaxSize.
	ErrTooLarge = errors.New("desc: record exceeds maximum size")

	// ErrInvalidValue indicates a value the encoder cannot represent: an
	// empty scalar, a line break inside a value, or a nil list element.
	ErrInvalidValue = errors.New("desc: value cannot be encoded")
)

// SyntaxError describes where and why a record failed to decode or encode.
type SyntaxError struct {
	Line   int    // 1-based line number, 0 when no line is involved
	Field  string // Field being processed, empty at record level
	Reason string // Human-readable explanation
	Err    error  // Sentinel error, or the error returned by UnmarshalText
}

func (e *SyntaxError) Error() string {
	msg := "desc: "
	if e.Line > 0 {
		msg += fmt.Sprintf("line %d: ", e.Line)
	}
	if e.Field != "" {
		msg += fmt.Sprintf("field %s: ", e.Field)
	}
	return msg + e.Reason
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// inField attaches a field name to err if it is a *SyntaxError that does not
// name one yet. The innermost field wins for nested records.
func inField(err error, name string) error {
	var se *SyntaxError
	if errors.As(err, &se) && se.Field == "" {
		se.Field = name
	}
	return err
}

// InvalidUnmarshalError describes an invalid argument passed to Unmarshal.
// The argument must be a non-nil pointer.
type InvalidUnmarshalError struct {
	Type reflect.Type
}

func (e *InvalidUnmarshalError) Error() string {
	if e.Type == nil {
		return "desc: Unmarshal(nil)"
	}
	if e.Type.Kind() != reflect.Pointer {
		return "desc: Unmarshal(non-pointer " + e.Type.String() + ")"
	}
	return "desc: Unmarshal(nil " + e.Type.String() + ")"
}
