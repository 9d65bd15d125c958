package repo

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/epithet-ssh/pacdb/pkg/archive"
	"github.com/epithet-ssh/pacdb/pkg/desc"
	"github.com/epithet-ssh/pacdb/pkg/pacman"
)

// Snapshot is the content of one successful load.
type Snapshot struct {
	Repo     string
	LoadedAt time.Time
	Packages []*pacman.Package
	Files    map[string][]string
}

// Archiver receives every snapshot a Repository loads.
type Archiver interface {
	Archive(ctx context.Context, snap *Snapshot)
}

// NoopArchiver discards snapshots.
type NoopArchiver struct{}

func (NoopArchiver) Archive(context.Context, *Snapshot) {}

// WriteSnapshot re-encodes a snapshot as a database archive: one desc
// member per package and, when the snapshot carries file lists, one files
// member per package.
func WriteSnapshot(out io.Writer, snap *Snapshot, c archive.Compression) error {
	w, err := archive.NewWriter(out, c)
	if err != nil {
		return err
	}

	for _, pkg := range snap.Packages {
		dir := pkg.NameVersion()
		body, err := desc.Marshal(pkg)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", dir, err)
		}
		if err := w.Add(dir, archive.KindDesc, body); err != nil {
			return err
		}

		files, ok := snap.Files[pkg.Name]
		if !ok {
			continue
		}
		body, err = desc.Marshal(pacman.Files{Files: files})
		if err != nil {
			return fmt.Errorf("encoding %s files: %w", dir, err)
		}
		if err := w.Add(dir, archive.KindFiles, body); err != nil {
			return err
		}
	}

	return w.Close()
}

// S3PutAPI is the subset of the S3 client used by S3Archiver.
type S3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes snapshots to S3 with date partitioning.
// Uses async buffered writes so loading never waits on S3. Best-effort:
// logs errors but never fails a reload.
type S3Archiver struct {
	client      S3PutAPI
	bucket      string
	keyPrefix   string
	compression archive.Compression
	logger      *slog.Logger

	snaps  chan *Snapshot
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// S3ArchiverConfig configures the S3 snapshot archiver.
type S3ArchiverConfig struct {
	Client      S3PutAPI
	Bucket      string
	KeyPrefix   string              // Optional prefix for S3 keys (e.g., "snapshots")
	Compression archive.Compression // Zero value uploads uncompressed tar
	Logger      *slog.Logger
	BufferSize  int // Channel buffer size (default: 8)
}

// NewS3Archiver creates an archiver with a background writer.
func NewS3Archiver(config S3ArchiverConfig) *S3Archiver {
	if config.BufferSize == 0 {
		config.BufferSize = 8
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())

	a := &S3Archiver{
		client:      config.Client,
		bucket:      config.Bucket,
		keyPrefix:   config.KeyPrefix,
		compression: config.Compression,
		logger:      config.Logger,
		snaps:       make(chan *Snapshot, config.BufferSize),
		ctx:         ctx,
		cancel:      cancel,
	}

	a.wg.Add(1)
	go a.writer()

	return a
}

// Archive enqueues a snapshot. It drops the snapshot if the buffer is full.
func (a *S3Archiver) Archive(ctx context.Context, snap *Snapshot) {
	select {
	case a.snaps <- snap:
	default:
		a.logger.WarnContext(ctx, "snapshot archiver buffer full, dropping snapshot",
			slog.String("repo", snap.Repo))
	}
}

// Shutdown stops the archiver after writing pending snapshots, or gives up
// after timeout.
func (a *S3Archiver) Shutdown(timeout time.Duration) error {
	a.cancel()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout after %v", timeout)
	}
}

func (a *S3Archiver) writer() {
	defer a.wg.Done()

	for {
		select {
		case snap := <-a.snaps:
			a.write(snap)
		case <-a.ctx.Done():
			a.drain()
			return
		}
	}
}

func (a *S3Archiver) drain() {
	for {
		select {
		case snap := <-a.snaps:
			a.write(snap)
		default:
			return
		}
	}
}

func (a *S3Archiver) write(snap *Snapshot) {
	if err := a.put(snap); err != nil {
		a.logger.Error("failed to archive snapshot to S3",
			slog.String("repo", snap.Repo),
			slog.String("error", err.Error()))
	}
}

func (a *S3Archiver) put(snap *Snapshot) error {
	var buf bytes.Buffer
	if err := WriteSnapshot(&buf, snap, a.compression); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	key := a.key(snap)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("failed to write to S3: %w", err)
	}

	a.logger.Debug("archived snapshot to S3",
		slog.String("bucket", a.bucket),
		slog.String("key", key),
		slog.Int("packages", len(snap.Packages)))
	return nil
}

// key formats [prefix/]repo=NAME/year=YYYY/month=MM/day=DD/NAME-UNIX.db.tar[.EXT]
func (a *S3Archiver) key(snap *Snapshot) string {
	t := snap.LoadedAt.UTC()
	year, month, day := t.Date()

	key := fmt.Sprintf("repo=%s/year=%04d/month=%02d/day=%02d/%s-%d.db.tar%s",
		snap.Repo, year, int(month), day, snap.Repo, t.Unix(), a.compression.Ext())

	if a.keyPrefix != "" {
		key = a.keyPrefix + "/" + key
	}
	return key
}
