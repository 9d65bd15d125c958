// Package archive reads and writes pacman sync database archives.
//
// A database is a tar archive, usually compressed, with one directory per
// package named "<name>-<version>". Each directory holds a desc member and,
// in the .files database, a files member:
//
//	sample-pkg-1.0-1/desc
//	sample-pkg-1.0-1/files
package archive

import (
	"archive/tar"
	"bufio"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// Kind identifies a database member.
type Kind uint8

const (
	KindDesc Kind = iota + 1
	KindFiles
)

func (k Kind) String() string {
	switch k {
	case KindDesc:
		return "desc"
	case KindFiles:
		return "files"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Entry is one desc or files member. Body is only valid until the next
// call to Next.
type Entry struct {
	Dir  string
	Kind Kind
	Size int64
	Body io.Reader
}

// Reader walks the members of a database archive.
type Reader struct {
	Compression Compression

	zr io.ReadCloser
	tr *tar.Reader
}

// Open sniffs the compression of r and prepares to walk its members.
func Open(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	header, err := br.Peek(magicLen)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading archive header: %w", err)
	}

	c := Detect(header)
	zr, err := Decompress(br, c)
	if err != nil {
		return nil, err
	}

	return &Reader{
		Compression: c,
		zr:          zr,
		tr:          tar.NewReader(zr),
	}, nil
}

// Next advances to the next desc or files member, skipping everything
// else. It returns io.EOF at the end of the archive.
func (r *Reader) Next() (*Entry, error) {
	for {
		hdr, err := r.tr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("reading %s archive: %w", r.Compression, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		dir, base := path.Split(strings.TrimPrefix(hdr.Name, "./"))
		dir = strings.TrimSuffix(dir, "/")
		if dir == "" || strings.Contains(dir, "/") {
			continue
		}

		var kind Kind
		switch base {
		case "desc":
			kind = KindDesc
		case "files":
			kind = KindFiles
		default:
			continue
		}

		return &Entry{
			Dir:  dir,
			Kind: kind,
			Size: hdr.Size,
			Body: r.tr,
		}, nil
	}
}

// Close releases the decompressor. It does not close the underlying reader.
func (r *Reader) Close() error {
	return r.zr.Close()
}

// Writer builds a database archive.
type Writer struct {
	zw      io.WriteCloser
	tw      *tar.Writer
	modTime time.Time
	dirs    map[string]bool
}

// NewWriter returns a Writer producing an archive compressed with c.
func NewWriter(w io.Writer, c Compression) (*Writer, error) {
	zw, err := Compress(w, c)
	if err != nil {
		return nil, err
	}
	return &Writer{
		zw:      zw,
		tw:      tar.NewWriter(zw),
		modTime: time.Now().Truncate(time.Second),
		dirs:    make(map[string]bool),
	}, nil
}

// Add writes one member. The package directory entry is written before
// its first member.
func (w *Writer) Add(dir string, kind Kind, body []byte) error {
	if dir == "" || strings.ContainsAny(dir, "/") {
		return fmt.Errorf("invalid package directory %q", dir)
	}

	if !w.dirs[dir] {
		err := w.tw.WriteHeader(&tar.Header{
			Typeflag: tar.TypeDir,
			Name:     dir + "/",
			Mode:     0o755,
			ModTime:  w.modTime,
		})
		if err != nil {
			return err
		}
		w.dirs[dir] = true
	}

	err := w.tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     dir + "/" + kind.String(),
		Mode:     0o644,
		Size:     int64(len(body)),
		ModTime:  w.modTime,
	})
	if err != nil {
		return err
	}
	_, err = w.tw.Write(body)
	return err
}

// Close finishes the tar stream and flushes the compressor.
func (w *Writer) Close() error {
	if err := w.tw.Close(); err != nil {
		return err
	}
	return w.zw.Close()
}
