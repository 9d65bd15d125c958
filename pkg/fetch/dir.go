package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Dir reads files from a repository in a local directory.
type Dir struct {
	root string
}

// NewDir creates a source for the repository at root.
func NewDir(root string) *Dir {
	return &Dir{root: root}
}

func (d *Dir) Open(_ context.Context, file string) (io.ReadCloser, int64, error) {
	name := filepath.FromSlash(file)
	if !filepath.IsLocal(name) {
		return nil, 0, fmt.Errorf("invalid file name %q", file)
	}

	f, err := os.Open(filepath.Join(d.root, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, &NotFoundError{File: file, Source: d.root}
		}
		return nil, 0, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}
