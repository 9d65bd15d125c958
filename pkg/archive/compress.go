package archive

import (
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Compression identifies the compression wrapped around a database tar.
// repo-add picks it from the archive suffix: .db.tar.gz, .db.tar.zst and
// so on.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZstd
	CompressionLZ4
	CompressionXZ
	CompressionBzip2
)

// ErrUnsupported is returned when asked to write a compression this package
// can only read.
var ErrUnsupported = errors.New("compression not supported for writing")

var magics = []struct {
	c     Compression
	magic []byte
}{
	{CompressionGzip, []byte{0x1f, 0x8b}},
	{CompressionZstd, []byte{0x28, 0xb5, 0x2f, 0xfd}},
	{CompressionLZ4, []byte{0x04, 0x22, 0x4d, 0x18}},
	{CompressionXZ, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}},
	{CompressionBzip2, []byte("BZh")},
}

// magicLen is the number of leading bytes Detect needs.
const magicLen = 6

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	case CompressionXZ:
		return "xz"
	case CompressionBzip2:
		return "bzip2"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// Ext returns the file suffix repo-add uses for c, without the ".tar" part.
func (c Compression) Ext() string {
	switch c {
	case CompressionGzip:
		return ".gz"
	case CompressionZstd:
		return ".zst"
	case CompressionLZ4:
		return ".lz4"
	case CompressionXZ:
		return ".xz"
	case CompressionBzip2:
		return ".bz2"
	default:
		return ""
	}
}

// ParseCompression parses a compression name as returned by String.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none", "":
		return CompressionNone, nil
	case "gzip", "gz":
		return CompressionGzip, nil
	case "zstd", "zst":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	case "xz":
		return CompressionXZ, nil
	case "bzip2", "bz2":
		return CompressionBzip2, nil
	default:
		return 0, fmt.Errorf("unknown compression: %q", name)
	}
}

// Detect identifies the compression from the leading bytes of a stream.
// Anything unrecognised is assumed to be a plain tar.
func Detect(header []byte) Compression {
	for _, m := range magics {
		if bytes.HasPrefix(header, m.magic) {
			return m.c
		}
	}
	return CompressionNone
}

// Decompress wraps r in a reader for compression c. Closing the returned
// reader releases decoder resources but does not close r.
func Decompress(r io.Reader, c Compression) (io.ReadCloser, error) {
	switch c {
	case CompressionNone:
		return io.NopCloser(r), nil

	case CompressionGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return zr, nil

	case CompressionZstd:
		// A streaming decoder is not safe for concurrent use, so each
		// archive gets its own.
		zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return zr.IOReadCloser(), nil

	case CompressionLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil

	case CompressionXZ:
		zr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("xz: %w", err)
		}
		return io.NopCloser(zr), nil

	case CompressionBzip2:
		return io.NopCloser(bzip2.NewReader(r)), nil

	default:
		return nil, fmt.Errorf("unsupported compression: %s", c)
	}
}

// Compress wraps w in a writer for compression c. The returned writer must
// be closed to flush the compressed stream; w itself is not closed.
func Compress(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionNone:
		return nopWriteCloser{w}, nil

	case CompressionGzip:
		return gzip.NewWriter(w), nil

	case CompressionZstd:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return zw, nil

	case CompressionLZ4:
		return lz4.NewWriter(w), nil

	case CompressionXZ:
		zw, err := xz.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("xz: %w", err)
		}
		return zw, nil

	default:
		return nil, fmt.Errorf("%s: %w", c, ErrUnsupported)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
