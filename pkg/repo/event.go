package repo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// EventKind identifies a stage of loading a repository.
type EventKind uint8

const (
	// LoadingDB is sent before requesting the package database.
	LoadingDB EventKind = iota + 1
	// DBChunk reports bytes of the package database read so far.
	DBChunk
	// ReadingDBFile is sent for every desc member decoded.
	ReadingDBFile
	// DBDone is sent once the package database is indexed.
	DBDone
	// LoadingFiles is sent before requesting the files database.
	LoadingFiles
	// FilesChunk reports bytes of the files database read so far.
	FilesChunk
	// ReadingFilesFile is sent for every files member decoded.
	ReadingFilesFile
	// FilesDone is sent once file lists are indexed.
	FilesDone
)

func (k EventKind) String() string {
	switch k {
	case LoadingDB:
		return "loading_db"
	case DBChunk:
		return "db_chunk"
	case ReadingDBFile:
		return "reading_db_file"
	case DBDone:
		return "db_done"
	case LoadingFiles:
		return "loading_files"
	case FilesChunk:
		return "files_chunk"
	case ReadingFilesFile:
		return "reading_files_file"
	case FilesDone:
		return "files_done"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Event reports loading progress.
type Event struct {
	Repo string
	Kind EventKind

	// Read and Total are set for chunk events. Total is -1 when the source
	// did not report a size.
	Read  int64
	Total int64

	// File is the archive member for ReadingDBFile and ReadingFilesFile.
	File string

	// Packages is the number of entries indexed, for DBDone and FilesDone.
	Packages int
}

func (e Event) String() string {
	switch e.Kind {
	case LoadingDB:
		return "Loading repository database"
	case DBChunk:
		return chunkString("Loading repository", e.Read, e.Total)
	case ReadingDBFile:
		return "Loading repository file: " + e.File
	case DBDone:
		return fmt.Sprintf("Database loaded: %d packages", e.Packages)
	case LoadingFiles:
		return "Loading files metadata"
	case FilesChunk:
		return chunkString("Loading files metadata", e.Read, e.Total)
	case ReadingFilesFile:
		return "Loading files metadata file: " + e.File
	case FilesDone:
		return fmt.Sprintf("Files metadata loaded: %d packages", e.Packages)
	default:
		return e.Kind.String()
	}
}

func chunkString(what string, read, total int64) string {
	if total >= 0 {
		return fmt.Sprintf("%s: %d of %d bytes", what, read, total)
	}
	return fmt.Sprintf("%s: %d bytes", what, read)
}

// Observer receives loading progress. Observe is called synchronously from
// the loading goroutine and must not block.
type Observer interface {
	Observe(ctx context.Context, event Event)
}

// ObserverFunc adapts a function to an Observer.
type ObserverFunc func(ctx context.Context, event Event)

func (f ObserverFunc) Observe(ctx context.Context, event Event) {
	f(ctx, event)
}

// SlogObserver logs progress using structured logging (slog). Stage
// changes log at info, per-member and per-chunk events at debug.
type SlogObserver struct {
	logger *slog.Logger
}

// NewSlogObserver creates an observer that emits structured logs.
func NewSlogObserver(logger *slog.Logger) *SlogObserver {
	return &SlogObserver{logger: logger}
}

func (o *SlogObserver) Observe(ctx context.Context, event Event) {
	attrs := []slog.Attr{
		slog.String("repo", event.Repo),
		slog.String("event", event.Kind.String()),
	}

	level := slog.LevelInfo
	switch event.Kind {
	case DBChunk, FilesChunk:
		level = slog.LevelDebug
		attrs = append(attrs, slog.Int64("read", event.Read), slog.Int64("total", event.Total))
	case ReadingDBFile, ReadingFilesFile:
		level = slog.LevelDebug
		attrs = append(attrs, slog.String("file", event.File))
	case DBDone, FilesDone:
		attrs = append(attrs, slog.Int("packages", event.Packages))
	}

	o.logger.LogAttrs(ctx, level, event.String(), attrs...)
}

// MultiObserver forwards events to several observers in order.
type MultiObserver struct {
	observers []Observer
}

// NewMultiObserver creates an observer that calls every given observer.
func NewMultiObserver(observers ...Observer) *MultiObserver {
	return &MultiObserver{observers: observers}
}

func (m *MultiObserver) Observe(ctx context.Context, event Event) {
	for _, o := range m.observers {
		o.Observe(ctx, event)
	}
}

type noopObserver struct{}

func (noopObserver) Observe(context.Context, Event) {}

// progressReader reports bytes read through an observer.
type progressReader struct {
	r     io.Reader
	read  int64
	total int64
	emit  func(read, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		p.emit(p.read, p.total)
	}
	return n, err
}
