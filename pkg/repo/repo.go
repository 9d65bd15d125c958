// Package repo loads pacman repository databases and indexes their packages.
//
// A Repository fetches <name>.db (and optionally <name>.files) from a
// fetch.Source, decodes every member with pkg/desc, and serves lookups from
// an in-memory index. Reload builds a fresh index and swaps it in, so
// readers never observe a half-loaded database.
package repo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/epithet-ssh/pacdb/pkg/archive"
	"github.com/epithet-ssh/pacdb/pkg/desc"
	"github.com/epithet-ssh/pacdb/pkg/fetch"
	"github.com/epithet-ssh/pacdb/pkg/pacman"
)

var (
	// ErrPackageNotFound is returned when no package matches a lookup.
	ErrPackageNotFound = errors.New("package not found")
	// ErrNoPackageFile is returned for placeholder entries, which have no
	// package file of their own.
	ErrNoPackageFile = errors.New("package has no file")
	// ErrNoBaseURL is returned by PackageURL when the repository was loaded
	// without a base URL.
	ErrNoBaseURL = errors.New("repository has no base URL")
)

// ChecksumError reports a downloaded package whose SHA-256 does not match
// its SHA256SUM.
type ChecksumError struct {
	File string
	Want string
	Got  string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("%s: sha256 mismatch: want %s, got %s", e.File, e.Want, e.Got)
}

// Options configures a Repository.
type Options struct {
	// Name is the repository name, e.g. "core". The database is read from
	// <Name>.db and the file lists from <Name>.files.
	Name string

	// Source serves the database and package files.
	Source fetch.Source

	// BaseURL is where package files are published. Only PackageURL uses it.
	BaseURL string

	// FilesMetadata also loads <Name>.files.
	FilesMetadata bool

	Observer Observer
	Archiver Archiver
	Logger   *slog.Logger

	// MaxMemberSize bounds a single desc or files member. Zero uses the
	// decoder's default.
	MaxMemberSize int
}

// Repository is a loaded package database. It is safe for concurrent use.
type Repository struct {
	name     string
	source   fetch.Source
	baseURL  string
	files    bool
	observer Observer
	archiver Archiver
	logger   *slog.Logger
	decOpts  []desc.Option

	// reloadMu serializes loads; mu guards idx.
	reloadMu sync.Mutex
	mu       sync.RWMutex
	idx      *index
}

// New creates an empty repository. Call Reload to load it.
func New(opts Options) (*Repository, error) {
	if opts.Name == "" {
		return nil, errors.New("repository name is required")
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("repository %s: source is required", opts.Name)
	}

	r := &Repository{
		name:     opts.Name,
		source:   opts.Source,
		baseURL:  opts.BaseURL,
		files:    opts.FilesMetadata,
		observer: opts.Observer,
		archiver: opts.Archiver,
		logger:   opts.Logger,
		idx:      newIndex(),
	}
	if r.observer == nil {
		r.observer = noopObserver{}
	}
	if r.archiver == nil {
		r.archiver = NoopArchiver{}
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	r.logger = r.logger.With("repo", r.name)
	if opts.MaxMemberSize > 0 {
		r.decOpts = append(r.decOpts, desc.MaxSize(opts.MaxMemberSize))
	}
	return r, nil
}

// Load creates a repository and loads its database.
func Load(ctx context.Context, opts Options) (*Repository, error) {
	r, err := New(opts)
	if err != nil {
		return nil, err
	}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload fetches the database again and swaps in the new index. On error
// the previous index stays in place.
func (r *Repository) Reload(ctx context.Context) error {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	idx := newIndex()
	if err := r.loadDB(ctx, idx); err != nil {
		return err
	}
	if r.files {
		if err := r.loadFiles(ctx, idx); err != nil {
			return err
		}
	}
	idx.loadedAt = time.Now().UTC()

	r.mu.Lock()
	r.idx = idx
	r.mu.Unlock()

	r.archiver.Archive(ctx, r.snapshot(idx))
	return nil
}

func (r *Repository) emit(ctx context.Context, e Event) {
	e.Repo = r.name
	r.observer.Observe(ctx, e)
}

// open fetches a database file and walks it, reporting chunks as kind.
func (r *Repository) open(ctx context.Context, file string, kind EventKind) (*archive.Reader, io.Closer, error) {
	rc, size, err := r.source.Open(ctx, file)
	if err != nil {
		return nil, nil, fmt.Errorf("repository %s: %w", r.name, err)
	}

	pr := &progressReader{
		r:     rc,
		total: size,
		emit: func(read, total int64) {
			r.emit(ctx, Event{Kind: kind, Read: read, Total: total})
		},
	}
	ar, err := archive.Open(pr)
	if err != nil {
		rc.Close()
		return nil, nil, fmt.Errorf("repository %s: %s: %w", r.name, file, err)
	}
	return ar, rc, nil
}

func (r *Repository) loadDB(ctx context.Context, idx *index) error {
	file := r.name + ".db"
	r.emit(ctx, Event{Kind: LoadingDB})

	ar, rc, err := r.open(ctx, file, DBChunk)
	if err != nil {
		return err
	}
	defer rc.Close()
	defer ar.Close()

	for {
		entry, err := ar.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("repository %s: %s: %w", r.name, file, err)
		}
		if entry.Kind != archive.KindDesc {
			continue
		}

		member := entry.Dir + "/desc"
		r.emit(ctx, Event{Kind: ReadingDBFile, File: member})

		pkg := new(pacman.Package)
		if err := desc.NewDecoder(entry.Body, r.decOpts...).Decode(pkg); err != nil {
			return fmt.Errorf("repository %s: %s: %w", r.name, member, err)
		}
		if err := pkg.Validate(); err != nil {
			return fmt.Errorf("repository %s: %s: %w", r.name, member, err)
		}
		idx.insert(pkg, r.logger)
	}

	r.emit(ctx, Event{Kind: DBDone, Packages: len(idx.packages)})
	return nil
}

func (r *Repository) loadFiles(ctx context.Context, idx *index) error {
	file := r.name + ".files"
	r.emit(ctx, Event{Kind: LoadingFiles})

	ar, rc, err := r.open(ctx, file, FilesChunk)
	if err != nil {
		return err
	}
	defer rc.Close()
	defer ar.Close()

	for {
		entry, err := ar.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("repository %s: %s: %w", r.name, file, err)
		}
		if entry.Kind != archive.KindFiles {
			continue
		}

		member := entry.Dir + "/files"
		r.emit(ctx, Event{Kind: ReadingFilesFile, File: member})

		// Member directories are named name-version.
		pkg, ok := idx.byNameVersion[entry.Dir]
		if !ok {
			r.logger.Warn("files entry has no package in database, ignoring", "entry", entry.Dir)
			continue
		}

		var files pacman.Files
		if err := desc.NewDecoder(entry.Body, r.decOpts...).Decode(&files); err != nil {
			return fmt.Errorf("repository %s: %s: %w", r.name, member, err)
		}
		idx.files[pkg.Name] = files.Files
	}

	r.emit(ctx, Event{Kind: FilesDone, Packages: len(idx.files)})
	return nil
}

func (r *Repository) current() *index {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idx
}

func (r *Repository) snapshot(idx *index) *Snapshot {
	pkgs := make([]*pacman.Package, len(idx.packages))
	for i, p := range idx.packages {
		pkgs[i] = p.Package
	}
	return &Snapshot{
		Repo:     r.name,
		LoadedAt: idx.loadedAt,
		Packages: pkgs,
		Files:    idx.files,
	}
}

// Name returns the repository name.
func (r *Repository) Name() string {
	return r.name
}

// Source returns the source the repository reads from.
func (r *Repository) Source() fetch.Source {
	return r.source
}

// LoadedAt returns when the current index was loaded, or the zero time if
// the repository has never loaded.
func (r *Repository) LoadedAt() time.Time {
	return r.current().loadedAt
}

// Len returns the number of packages in the database.
func (r *Repository) Len() int {
	return len(r.current().packages)
}

// Package looks a package up by name. Placeholders created for VCS builds
// are returned too.
func (r *Repository) Package(name string) (*Package, bool) {
	p, ok := r.current().byName[name]
	return p, ok
}

// ByBase looks a package up by its BASE field.
func (r *Repository) ByBase(base string) (*Package, bool) {
	p, ok := r.current().byBase[base]
	return p, ok
}

// ByNameVersion looks a package up by name-version, e.g. "bash-5.2.026-2".
func (r *Repository) ByNameVersion(nv string) (*Package, bool) {
	p, ok := r.current().byNameVersion[nv]
	return p, ok
}

// Find tries base, then name, then name-version.
func (r *Repository) Find(key string) (*Package, bool) {
	return r.current().find(key)
}

// Files returns the file list of a package. It is only populated when the
// repository loads its files database.
func (r *Repository) Files(name string) ([]string, bool) {
	files, ok := r.current().files[name]
	return files, ok
}

// All yields every package in database order. Placeholders are not
// included. The sequence reads one consistent index even if a reload
// happens during iteration.
func (r *Repository) All() iter.Seq[*Package] {
	idx := r.current()
	return func(yield func(*Package) bool) {
		for _, p := range idx.packages {
			if !yield(p) {
				return
			}
		}
	}
}

func (r *Repository) fileOf(key string) (*Package, error) {
	p, ok := r.Find(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, key)
	}
	if p.Placeholder || p.FileName == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoPackageFile, key)
	}
	return p, nil
}

// PackageURL returns the download URL of a package under the repository's
// base URL.
func (r *Repository) PackageURL(key string) (string, error) {
	p, err := r.fileOf(key)
	if err != nil {
		return "", err
	}
	if r.baseURL == "" {
		return "", ErrNoBaseURL
	}
	return p.FileURL(r.baseURL)
}

// Download copies a package file to w through the repository source and
// verifies its SHA256SUM. On a *ChecksumError w has already received the
// bad bytes; callers writing to a file should discard it.
func (r *Repository) Download(ctx context.Context, key string, w io.Writer) (int64, error) {
	p, err := r.fileOf(key)
	if err != nil {
		return 0, err
	}

	rc, _, err := r.source.Open(ctx, p.FileName)
	if err != nil {
		return 0, fmt.Errorf("repository %s: %w", r.name, err)
	}
	defer rc.Close()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(w, h), rc)
	if err != nil {
		return n, fmt.Errorf("downloading %s: %w", p.FileName, err)
	}

	if got := hex.EncodeToString(h.Sum(nil)); got != p.SHA256Sum {
		return n, &ChecksumError{File: p.FileName, Want: p.SHA256Sum, Got: got}
	}
	return n, nil
}
