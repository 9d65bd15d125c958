// Package desc implements encoding and decoding of pacman database records.
//
// A record is a sequence of fields. Each field is a name line wrapped in
// percent signs, followed by its value lines, followed by a blank line:
//
//	%NAME%
//	sample-pkg
//
//	%DEPENDS%
//	libfoo
//	libbar
//
// The blank line is the only delimiter in the format. It ends a field, ends
// a list of values, and marks an absent optional value. A scalar value can
// therefore never be blank, and a value can never contain a line break.
//
// # Shapes
//
// The text carries no type information: how a field's lines are read is
// decided by the Go type being decoded into.
//
//	string                    one non-blank line
//	int, int8 ... uint64      one line holding a base-10 integer of that width
//	rune tagged ",char"       one line holding exactly one character
//	encoding.TextUnmarshaler  one non-blank line passed to UnmarshalText
//	*T                        optional: a blank line means absent
//	[]T                       zero or more lines up to the next blank line
//	struct, map[string]T      a nested record
//
// Booleans, floating point numbers, byte slices, interfaces and arrays have
// no representation in the format and are rejected with ErrUnsupportedKind,
// whatever the input holds. A list may not hold lists or records.
//
// Only a record may appear at the root of a document. Unmarshal into
// anything other than a struct or a map[string]T fails with
// ErrRootMustBeRecord.
//
// # Field names
//
// Struct fields bind to names through the "desc" tag:
//
//	type Package struct {
//		Name    string   `desc:"NAME"`
//		Depends []string `desc:"DEPENDS"`
//		Desc    *string  `desc:"DESC"`
//		Skipped string   `desc:"-"`
//	}
//
// The ",omitempty" option leaves a field out of the encoding when it holds an
// empty string, a zero integer, an empty list or map, or a nil pointer. It
// has no effect on decoding.
//
// Untagged exported fields bind to the upper-cased field name. Fields may
// appear in any order in the input. Fields missing from the input keep their
// zero value; checking that required fields were present is left to the
// caller. Unknown fields are skipped unless DisallowUnknownFields is set.
//
// # Basic Usage
//
// Decoding:
//
//	var pkg Package
//	err := desc.Unmarshal(data, &pkg)
//
//	dec := desc.NewDecoder(tarEntry, desc.DisallowUnknownFields())
//	err := dec.Decode(&pkg)
//
// Encoding:
//
//	data, err := desc.Marshal(pkg)
//
//	enc := desc.NewEncoder(w)
//	err := enc.Encode(pkg)
//
// The encoder writes fields in declaration order and omits absent optional
// fields entirely, which is the form pacman's repo-add produces. The decoder
// accepts both forms of absence: an omitted field and a field whose value is
// a single blank line.
//
// # Errors
//
// Every decoding failure is a *SyntaxError carrying the line number and field
// name. It unwraps to one of the sentinel errors in this package, so callers
// branch with errors.Is:
//
//	if errors.Is(err, desc.ErrIntegerFormat) { ... }
//
// There is no recovery: the first malformed line aborts the decode.
package desc
