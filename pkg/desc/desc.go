package desc

import "io"

// Decoder reads a single record from an io.Reader.
//
// A pacman database member holds exactly one record, so Decode consumes the
// reader to EOF. Readers are typically tar entries:
//
//	dec := desc.NewDecoder(tarReader)
//
// The input is read into one string and every decoded string value is a
// substring of it; no value is copied.
type Decoder struct {
	r    io.Reader
	cfg  config
	done bool
}

// NewDecoder creates a new record decoder reading from r.
//
// Optional configuration can be provided via Option functions.
//
// Example:
//
//	dec := desc.NewDecoder(entry, desc.DisallowUnknownFields(), desc.MaxSize(1<<20))
func NewDecoder(r io.Reader, opts ...Option) *Decoder {
	return &Decoder{
		r:   r,
		cfg: newConfig(opts),
	}
}

// Encoder writes records to an io.Writer.
//
// Each call to Encode renders the whole record in memory and issues a single
// Write, so a failed encode never leaves a partial record behind.
type Encoder struct {
	w io.Writer
}

// NewEncoder creates a new record encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}
