package desc

import (
	"encoding"
	"fmt"
	"io"
	"math"
	"reflect"
	"strings"
)

// Unmarshal decodes the record in data into the struct or map pointed to
// by v.
//
// The whole input must be one record: anything left after the record's
// final field fails with ErrTrailingData.
func Unmarshal(data []byte, v any, opts ...Option) error {
	cfg := newConfig(opts)
	return unmarshal(string(data), v, &cfg)
}

// Decode reads the underlying reader to EOF and decodes the record into v.
//
// Returns io.EOF if the reader has already been consumed by an earlier call.
func (d *Decoder) Decode(v any) error {
	if d.done {
		return io.EOF
	}
	d.done = true

	limit := int64(d.cfg.maxSize)
	if limit < math.MaxInt64 {
		limit++
	}
	data, err := io.ReadAll(io.LimitReader(d.r, limit))
	if err != nil {
		return err
	}
	if len(data) > d.cfg.maxSize {
		return &SyntaxError{
			Reason: fmt.Sprintf("record is larger than %d bytes", d.cfg.maxSize),
			Err:    ErrTooLarge,
		}
	}

	return unmarshal(string(data), v, &d.cfg)
}

func unmarshal(input string, v any, cfg *config) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return &InvalidUnmarshalError{Type: reflect.TypeOf(v)}
	}

	// A document always starts with a field name, so only records can be
	// decoded at the root.
	root := rv.Elem()
	if shapeOf(root.Type(), false) != shapeRecord {
		return &SyntaxError{
			Reason: fmt.Sprintf("cannot decode a document into %s", root.Type()),
			Err:    ErrRootMustBeRecord,
		}
	}

	d := &decodeState{cur: newCursor(input), cfg: cfg}
	if err := d.record(root); err != nil {
		return err
	}

	if n := d.cur.remaining(); n > 0 {
		return d.cur.errorAt(d.cur.line, ErrTrailingData,
			fmt.Sprintf("%d bytes left after the record", n))
	}
	return nil
}

// decodeState is one decoding session. It is never shared between calls.
type decodeState struct {
	cur *cursor
	cfg *config
}

// record decodes fields into a struct or map until a blank line or the end
// of input. The blank line is left for the caller: at the root it is
// trailing data, inside a field it is that field's delimiter.
func (d *decodeState) record(rv reflect.Value) error {
	if rv.Kind() == reflect.Map {
		return d.mapRecord(rv)
	}
	return d.structRecord(rv)
}

func (d *decodeState) structRecord(rv reflect.Value) error {
	fields := cachedFields(rv.Type())

	for {
		name, ok, err := d.cur.fieldName()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		f, known := fields.byName[name]
		switch {
		case known:
			err = d.value(rv.Field(f.index), f.shape, f.char, true)
		case d.cfg.disallowUnknown:
			err = d.cur.errorAt(d.cur.line-1, ErrUnknownField,
				fmt.Sprintf("%s has no field named %s", rv.Type(), name))
		default:
			d.skip()
		}

		if err == nil {
			err = d.cur.consumeDelimiter()
		}
		if err != nil {
			return inField(err, name)
		}
	}
}

func (d *decodeState) mapRecord(rv reflect.Value) error {
	t := rv.Type()
	if rv.IsNil() {
		rv.Set(reflect.MakeMap(t))
	}
	elemShape := shapeOf(t.Elem(), false)

	for {
		name, ok, err := d.cur.fieldName()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		elem := reflect.New(t.Elem()).Elem()
		err = d.value(elem, elemShape, false, true)
		if err == nil {
			err = d.cur.consumeDelimiter()
		}
		if err != nil {
			return inField(err, name)
		}

		rv.SetMapIndex(reflect.ValueOf(name).Convert(t.Key()), elem)
	}
}

// value decodes one value of shape sh into rv. listOK is true for a field's
// own value and false inside a list element, where lists and records cannot
// appear.
func (d *decodeState) value(rv reflect.Value, sh shape, char, listOK bool) error {
	switch sh {
	case shapeString:
		s, err := d.cur.readString()
		if err != nil {
			return err
		}
		rv.SetString(s)

	case shapeChar:
		r, err := d.cur.readChar()
		if err != nil {
			return err
		}
		rv.SetInt(int64(r))

	case shapeInt:
		n, err := d.cur.readInt(rv.Type().Bits())
		if err != nil {
			return err
		}
		rv.SetInt(n)

	case shapeUint:
		n, err := d.cur.readUint(rv.Type().Bits())
		if err != nil {
			return err
		}
		rv.SetUint(n)

	case shapeText:
		return d.text(rv)

	case shapeOptional:
		return d.optional(rv, char, listOK)

	case shapeSequence:
		if !listOK {
			return d.unsupported(rv.Type(), "list inside a list")
		}
		return d.sequence(rv, char)

	case shapeRecord:
		if !listOK {
			return d.unsupported(rv.Type(), "record inside a list")
		}
		return d.record(rv)

	default:
		return d.unsupported(rv.Type(), "")
	}
	return nil
}

// optional decodes a pointer. A blank line in value position means absent
// and is consumed here; the field's own delimiter still follows it.
func (d *decodeState) optional(rv reflect.Value, char, listOK bool) error {
	// Reject impossible shapes before looking at the input, so the error
	// does not depend on whether a value happens to be present.
	if err := d.admissible(rv.Type(), char, listOK); err != nil {
		return err
	}

	if d.cur.peekBlank() {
		rv.SetZero()
		return d.cur.consumeDelimiter()
	}

	elemType := rv.Type().Elem()
	elem := reflect.New(elemType)
	if err := d.value(elem.Elem(), shapeOf(elemType, char), char, listOK); err != nil {
		return err
	}
	rv.Set(elem)
	return nil
}

// sequence decodes lines into a slice until a blank line or the end of
// input. The blank line is not consumed. An empty list leaves a nil slice.
func (d *decodeState) sequence(rv reflect.Value, char bool) error {
	t := rv.Type()
	if err := d.admissible(t.Elem(), char, false); err != nil {
		return err
	}
	elemShape := shapeOf(t.Elem(), char)

	out := reflect.Zero(t)
	for !d.cur.peekBlank() {
		elem := reflect.New(t.Elem()).Elem()
		if err := d.value(elem, elemShape, char, false); err != nil {
			return err
		}
		out = reflect.Append(out, elem)
	}
	rv.Set(out)
	return nil
}

// admissible checks that t, once optional wrappers are stripped, is a shape
// that can be decoded at this position.
func (d *decodeState) admissible(t reflect.Type, char, listOK bool) error {
	leafType, leaf := leafOf(t, char)
	switch {
	case leaf == shapeUnsupported:
		return d.unsupported(leafType, "")
	case leaf == shapeText && !reflect.PointerTo(leafType).Implements(textUnmarshalerType):
		return d.unsupported(leafType, "no UnmarshalText method")
	case !listOK && leaf == shapeSequence:
		return d.unsupported(leafType, "list inside a list")
	case !listOK && leaf == shapeRecord:
		return d.unsupported(leafType, "record inside a list")
	}
	return nil
}

// text decodes one line through the target's UnmarshalText method.
func (d *decodeState) text(rv reflect.Value) error {
	u, ok := rv.Addr().Interface().(encoding.TextUnmarshaler)
	if !ok {
		return d.unsupported(rv.Type(), "no UnmarshalText method")
	}

	line := d.cur.line
	s, err := d.cur.readString()
	if err != nil {
		return err
	}
	if err := u.UnmarshalText([]byte(s)); err != nil {
		return &SyntaxError{Line: line, Reason: err.Error(), Err: err}
	}
	return nil
}

// skip consumes the value lines of a field nobody asked for.
func (d *decodeState) skip() {
	// An empty value followed by a second blank is the absent-optional form:
	// the first blank is the value, the second the field's delimiter.
	if strings.HasPrefix(d.cur.rest, "\n\n") {
		_ = d.cur.consumeDelimiter()
		return
	}
	for !d.cur.peekBlank() {
		// Cannot fail: peekBlank is false, so input remains.
		_, _ = d.cur.nextLine()
	}
}

func (d *decodeState) unsupported(t reflect.Type, why string) error {
	reason := fmt.Sprintf("cannot decode into %s", t)
	if why != "" {
		reason += ": " + why
	}
	return d.cur.errorAt(d.cur.line, ErrUnsupportedKind, reason)
}
