package desc

import (
	"encoding"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Marshal returns the record encoding of v, which must be a struct or a
// map[string]T, or a pointer to one.
//
// Fields are written in declaration order (maps in sorted key order), each
// followed by one blank line, including the last. Absent optional values
// are omitted along with their name line.
//
// Example:
//
//	desc.Marshal(Package{Name: "sample-pkg"}) // "%NAME%\nsample-pkg\n\n"
func Marshal(v any) ([]byte, error) {
	return appendDocument(nil, v)
}

// Encode writes the record encoding of v.
//
// See Marshal for the layout.
func (e *Encoder) Encode(v any) error {
	buf, err := appendDocument(nil, v)
	if err != nil {
		return err
	}

	_, err = e.w.Write(buf)
	return err
}

func appendDocument(buf []byte, v any) ([]byte, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	if !rv.IsValid() || rv.Kind() == reflect.Pointer {
		return nil, &SyntaxError{Reason: "cannot encode nil", Err: ErrInvalidValue}
	}
	if shapeOf(rv.Type(), false) != shapeRecord {
		return nil, &SyntaxError{
			Reason: fmt.Sprintf("cannot encode %s as a document", rv.Type()),
			Err:    ErrRootMustBeRecord,
		}
	}

	// Pointer-receiver MarshalText methods need an addressable value.
	if !rv.CanAddr() {
		p := reflect.New(rv.Type())
		p.Elem().Set(rv)
		rv = p.Elem()
	}

	return appendRecord(buf, rv)
}

func appendRecord(buf []byte, rv reflect.Value) ([]byte, error) {
	if rv.Kind() == reflect.Map {
		return appendMap(buf, rv)
	}

	var err error
	for _, f := range cachedFields(rv.Type()).list {
		v := rv.Field(f.index)
		if f.omitEmpty && isEmptyValue(v) {
			continue
		}
		buf, err = appendField(buf, f.name, v, f.shape, f.char)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// isEmptyValue reports whether a field tagged ",omitempty" is left out.
func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.String, reflect.Slice, reflect.Map:
		return v.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return v.IsNil()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() == 0
	}
	return false
}

func appendMap(buf []byte, rv reflect.Value) ([]byte, error) {
	keys := rv.MapKeys()
	slices.SortFunc(keys, func(a, b reflect.Value) int {
		return strings.Compare(a.String(), b.String())
	})

	elemShape := shapeOf(rv.Type().Elem(), false)
	var err error
	for _, k := range keys {
		buf, err = appendField(buf, k.String(), rv.MapIndex(k), elemShape, false)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// appendField writes one field block: name line, value lines, blank line.
// An optional value that renders no lines is omitted entirely: a present
// but empty list cannot be told apart from an absent one.
func appendField(buf []byte, name string, v reflect.Value, sh shape, char bool) ([]byte, error) {
	if name == "" || strings.ContainsAny(name, "\r\n") {
		return nil, &SyntaxError{
			Reason: fmt.Sprintf("invalid field name %q", name),
			Err:    ErrInvalidValue,
		}
	}

	mark := len(buf)
	buf = append(buf, marker)
	buf = append(buf, name...)
	buf = append(buf, marker, '\n')

	start := len(buf)
	buf, err := appendValue(buf, v, sh, char, true)
	if err != nil {
		return nil, inField(err, name)
	}
	if sh == shapeOptional && len(buf) == start {
		return buf[:mark], nil
	}

	return append(buf, '\n'), nil
}

func appendValue(buf []byte, v reflect.Value, sh shape, char, listOK bool) ([]byte, error) {
	switch sh {
	case shapeString:
		return appendLine(buf, v.String())

	case shapeChar:
		r := rune(v.Int())
		if !utf8.ValidRune(r) {
			return nil, &SyntaxError{
				Reason: fmt.Sprintf("invalid character %U", r),
				Err:    ErrInvalidValue,
			}
		}
		return appendLine(buf, string(r))

	case shapeInt:
		buf = strconv.AppendInt(buf, v.Int(), 10)
		return append(buf, '\n'), nil

	case shapeUint:
		buf = strconv.AppendUint(buf, v.Uint(), 10)
		return append(buf, '\n'), nil

	case shapeText:
		return appendText(buf, v)

	case shapeOptional:
		if v.IsNil() {
			return buf, nil
		}
		elem := v.Elem()
		return appendValue(buf, elem, shapeOf(elem.Type(), char), char, listOK)

	case shapeSequence:
		if !listOK {
			return nil, unencodable(v.Type(), "list inside a list")
		}
		return appendSequence(buf, v, char)

	case shapeRecord:
		if !listOK {
			return nil, unencodable(v.Type(), "record inside a list")
		}
		return appendRecord(buf, v)

	default:
		return nil, unencodable(v.Type(), "")
	}
}

func appendSequence(buf []byte, v reflect.Value, char bool) ([]byte, error) {
	elemShape := shapeOf(v.Type().Elem(), char)

	var err error
	for i := 0; i < v.Len(); i++ {
		start := len(buf)
		buf, err = appendValue(buf, v.Index(i), elemShape, char, false)
		if err != nil {
			return nil, err
		}
		if len(buf) == start {
			return nil, &SyntaxError{
				Reason: fmt.Sprintf("list element %d is nil", i),
				Err:    ErrInvalidValue,
			}
		}
	}
	return buf, nil
}

func appendText(buf []byte, v reflect.Value) ([]byte, error) {
	var m encoding.TextMarshaler
	switch {
	case v.Type().Implements(textMarshalerType):
		m = v.Interface().(encoding.TextMarshaler)
	case v.CanAddr() && reflect.PointerTo(v.Type()).Implements(textMarshalerType):
		m = v.Addr().Interface().(encoding.TextMarshaler)
	default:
		return nil, unencodable(v.Type(), "no MarshalText method")
	}

	text, err := m.MarshalText()
	if err != nil {
		return nil, &SyntaxError{Reason: err.Error(), Err: err}
	}
	return appendLine(buf, string(text))
}

// appendLine writes s as one value line. Blank lines are delimiters, so an
// empty value has no encoding, and neither does a value with a line break.
func appendLine(buf []byte, s string) ([]byte, error) {
	if s == "" {
		return nil, &SyntaxError{Reason: "empty value", Err: ErrInvalidValue}
	}
	if strings.ContainsAny(s, "\r\n") {
		return nil, &SyntaxError{
			Reason: fmt.Sprintf("value %q contains a line break", s),
			Err:    ErrInvalidValue,
		}
	}
	buf = append(buf, s...)
	return append(buf, '\n'), nil
}

func unencodable(t reflect.Type, why string) error {
	reason := fmt.Sprintf("cannot encode %s", t)
	if why != "" {
		reason += ": " + why
	}
	return &SyntaxError{Reason: reason, Err: ErrUnsupportedKind}
}
