package repo

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/require"

	"github.com/epithet-ssh/pacdb/pkg/archive"
	"github.com/epithet-ssh/pacdb/pkg/desc"
	"github.com/epithet-ssh/pacdb/pkg/fetch"
	"github.com/epithet-ssh/pacdb/pkg/pacman"
)

func testLogger(t *testing.T) *slog.Logger {
	return slog.New(tint.NewHandler(t.Output(), &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "15:04:05",
	}))
}

func testPackage(name, version string) *pacman.Package {
	return &pacman.Package{
		FileName:  name + "-" + version + "-x86_64.pkg.tar.zst",
		Name:      name,
		Version:   version,
		MD5Sum:    "d41d8cd98f00b204e9800998ecf8427e",
		SHA256Sum: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Arch:      "x86_64",
		BuildDate: pacman.NewBuildDate(1700000000),
		Packager:  "Test Packager <test@example.com>",
	}
}

func withBase(p *pacman.Package, base string) *pacman.Package {
	p.Base = &base
	return p
}

type dbEntry struct {
	pkg   *pacman.Package
	files []string
}

// writeDB writes <dir>/<name> as a database archive. File lists are only
// written when withFiles is set, like repo-add does for .files databases.
func writeDB(t *testing.T, path string, withFiles bool, entries ...dbEntry) {
	t.Helper()

	var buf bytes.Buffer
	w, err := archive.NewWriter(&buf, archive.CompressionZstd)
	require.NoError(t, err)
	for _, e := range entries {
		body, err := desc.Marshal(e.pkg)
		require.NoError(t, err)
		require.NoError(t, w.Add(e.pkg.NameVersion(), archive.KindDesc, body))

		if withFiles && e.files != nil {
			body, err := desc.Marshal(pacman.Files{Files: e.files})
			require.NoError(t, err)
			require.NoError(t, w.Add(e.pkg.NameVersion(), archive.KindFiles, body))
		}
	}
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func loadTestRepo(t *testing.T, root string, opts Options) *Repository {
	t.Helper()

	opts.Name = "core"
	opts.Source = fetch.NewDir(root)
	if opts.Logger == nil {
		opts.Logger = testLogger(t)
	}
	r, err := Load(context.Background(), opts)
	require.NoError(t, err)
	return r
}

func names(r *Repository) []string {
	var out []string
	for p := range r.All() {
		out = append(out, p.Name)
	}
	return out
}

func TestLoad(t *testing.T) {
	root := t.TempDir()
	writeDB(t, filepath.Join(root, "core.db"), false,
		dbEntry{pkg: withBase(testPackage("foo", "1.0-1"), "foo")},
		dbEntry{pkg: testPackage("foo-git", "r12.abc-1")},
		dbEntry{pkg: testPackage("bar-svn", "r3-1")},
		dbEntry{pkg: withBase(testPackage("baz", "2.0-1"), "foo")},
	)

	r := loadTestRepo(t, root, Options{})

	require.Equal(t, "core", r.Name())
	require.Equal(t, 4, r.Len())
	require.False(t, r.LoadedAt().IsZero())
	require.Equal(t, []string{"foo", "foo-git", "bar-svn", "baz"}, names(r))

	foo, ok := r.Package("foo")
	require.True(t, ok)
	require.False(t, foo.Placeholder)
	require.Len(t, foo.Linked, 1)
	require.Equal(t, "foo-git", foo.Linked[0].Name)

	// No package named bar: a placeholder holds the VCS build.
	bar, ok := r.Package("bar")
	require.True(t, ok)
	require.True(t, bar.Placeholder)
	require.Equal(t, "r3-1", bar.Version)
	require.Len(t, bar.Linked, 1)
	require.Equal(t, "bar-svn", bar.Linked[0].Name)

	// First base wins.
	byBase, ok := r.ByBase("foo")
	require.True(t, ok)
	require.Equal(t, "foo", byBase.Name)

	nv, ok := r.ByNameVersion("baz-2.0-1")
	require.True(t, ok)
	require.Equal(t, "baz", nv.Name)

	_, ok = r.Package("missing")
	require.False(t, ok)

	_, ok = r.Files("foo")
	require.False(t, ok)
}

func TestLoadPlaceholderReplaced(t *testing.T) {
	root := t.TempDir()
	writeDB(t, filepath.Join(root, "core.db"), false,
		dbEntry{pkg: testPackage("foo-git", "r12.abc-1")},
		dbEntry{pkg: testPackage("foo-hg", "r7-1")},
		dbEntry{pkg: testPackage("foo", "1.0-1")},
	)

	r := loadTestRepo(t, root, Options{})

	foo, ok := r.Package("foo")
	require.True(t, ok)
	require.False(t, foo.Placeholder)
	require.Equal(t, "1.0-1", foo.Version)
	require.Len(t, foo.Linked, 2)
	require.Equal(t, "foo-git", foo.Linked[0].Name)
	require.Equal(t, "foo-hg", foo.Linked[1].Name)
}

func TestFind(t *testing.T) {
	root := t.TempDir()
	writeDB(t, filepath.Join(root, "core.db"), false,
		dbEntry{pkg: withBase(testPackage("python-foo", "1.0-1"), "foo")},
		dbEntry{pkg: testPackage("foo", "2.0-1")},
	)

	r := loadTestRepo(t, root, Options{})

	tests := []struct {
		key  string
		want string
	}{
		{"foo", "python-foo"}, // base before name
		{"python-foo", "python-foo"},
		{"foo-2.0-1", "foo"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			p, ok := r.Find(tt.key)
			require.True(t, ok)
			require.Equal(t, tt.want, p.Name)
		})
	}

	_, ok := r.Find("nope")
	require.False(t, ok)
}

func TestLoadFiles(t *testing.T) {
	root := t.TempDir()
	entries := []dbEntry{
		{pkg: testPackage("foo", "1.0-1"), files: []string{"usr/", "usr/bin/", "usr/bin/foo"}},
		{pkg: testPackage("bar", "0.1-1"), files: []string{}},
	}
	writeDB(t, filepath.Join(root, "core.db"), false, entries...)
	writeDB(t, filepath.Join(root, "core.files"), true, append(entries,
		// Present in the files database only.
		dbEntry{pkg: testPackage("stale", "1-1"), files: []string{"etc/stale"}},
	)...)

	r := loadTestRepo(t, root, Options{FilesMetadata: true})

	files, ok := r.Files("foo")
	require.True(t, ok)
	require.Equal(t, []string{"usr/", "usr/bin/", "usr/bin/foo"}, files)

	files, ok = r.Files("bar")
	require.True(t, ok)
	require.Empty(t, files)

	_, ok = r.Files("stale")
	require.False(t, ok)
}

func TestLoadErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing database", func(t *testing.T) {
		_, err := Load(ctx, Options{Name: "core", Source: fetch.NewDir(t.TempDir())})
		require.Error(t, err)
		require.True(t, fetch.IsNotFound(err))
	})

	t.Run("missing files database", func(t *testing.T) {
		root := t.TempDir()
		writeDB(t, filepath.Join(root, "core.db"), false, dbEntry{pkg: testPackage("foo", "1-1")})

		_, err := Load(ctx, Options{Name: "core", Source: fetch.NewDir(root), FilesMetadata: true})
		require.True(t, fetch.IsNotFound(err))
	})

	t.Run("malformed desc", func(t *testing.T) {
		root := t.TempDir()
		var buf bytes.Buffer
		w, err := archive.NewWriter(&buf, archive.CompressionGzip)
		require.NoError(t, err)
		require.NoError(t, w.Add("foo-1-1", archive.KindDesc, []byte("%NAME%\nfoo\n%VERSION%\n1-1\n\n")))
		require.NoError(t, w.Close())
		require.NoError(t, os.WriteFile(filepath.Join(root, "core.db"), buf.Bytes(), 0o644))

		_, err = Load(ctx, Options{Name: "core", Source: fetch.NewDir(root)})
		require.ErrorIs(t, err, desc.ErrDelimiterExpected)
		require.ErrorContains(t, err, "foo-1-1/desc")
	})

	t.Run("missing required field", func(t *testing.T) {
		root := t.TempDir()
		var buf bytes.Buffer
		w, err := archive.NewWriter(&buf, archive.CompressionNone)
		require.NoError(t, err)
		require.NoError(t, w.Add("foo-1-1", archive.KindDesc, []byte("%NAME%\nfoo\n\n%VERSION%\n1-1\n\n")))
		require.NoError(t, w.Close())
		require.NoError(t, os.WriteFile(filepath.Join(root, "core.db"), buf.Bytes(), 0o644))

		_, err = Load(ctx, Options{Name: "core", Source: fetch.NewDir(root)})
		require.ErrorIs(t, err, pacman.ErrMissingField)
	})

	t.Run("member too large", func(t *testing.T) {
		root := t.TempDir()
		writeDB(t, filepath.Join(root, "core.db"), false, dbEntry{pkg: testPackage("foo", "1-1")})

		_, err := Load(ctx, Options{Name: "core", Source: fetch.NewDir(root), MaxMemberSize: 16})
		require.ErrorIs(t, err, desc.ErrTooLarge)
	})

	t.Run("options", func(t *testing.T) {
		_, err := New(Options{Source: fetch.NewDir(t.TempDir())})
		require.Error(t, err)
		_, err = New(Options{Name: "core"})
		require.Error(t, err)
	})
}

func TestReload(t *testing.T) {
	root := t.TempDir()
	db := filepath.Join(root, "core.db")
	writeDB(t, db, false, dbEntry{pkg: testPackage("foo", "1.0-1")})

	r := loadTestRepo(t, root, Options{})
	require.Equal(t, []string{"foo"}, names(r))

	writeDB(t, db, false,
		dbEntry{pkg: testPackage("foo", "1.1-1")},
		dbEntry{pkg: testPackage("bar", "1.0-1")},
	)
	require.NoError(t, r.Reload(context.Background()))
	require.Equal(t, []string{"foo", "bar"}, names(r))
	foo, _ := r.Package("foo")
	require.Equal(t, "1.1-1", foo.Version)

	// A failed reload keeps the previous index.
	require.NoError(t, os.WriteFile(db, []byte("not an archive"), 0o644))
	require.Error(t, r.Reload(context.Background()))
	require.Equal(t, []string{"foo", "bar"}, names(r))
}

func TestAllStopsEarly(t *testing.T) {
	root := t.TempDir()
	writeDB(t, filepath.Join(root, "core.db"), false,
		dbEntry{pkg: testPackage("a", "1-1")},
		dbEntry{pkg: testPackage("b", "1-1")},
		dbEntry{pkg: testPackage("c", "1-1")},
	)
	r := loadTestRepo(t, root, Options{})

	var seen []string
	for p := range r.All() {
		seen = append(seen, p.Name)
		if p.Name == "b" {
			break
		}
	}
	require.Equal(t, []string{"a", "b"}, seen)
}

func TestDownload(t *testing.T) {
	root := t.TempDir()
	payload := []byte("package contents")
	sum := sha256.Sum256(payload)

	good := testPackage("foo", "1.0-1")
	good.SHA256Sum = hex.EncodeToString(sum[:])
	bad := testPackage("bar", "1.0-1")

	writeDB(t, filepath.Join(root, "core.db"), false,
		dbEntry{pkg: good},
		dbEntry{pkg: bad},
		dbEntry{pkg: testPackage("qux-git", "r1-1")},
	)
	require.NoError(t, os.WriteFile(filepath.Join(root, good.FileName), payload, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, bad.FileName), payload, 0o644))

	r := loadTestRepo(t, root, Options{BaseURL: "https://mirror.example.com/core/os/x86_64"})
	ctx := context.Background()

	var buf bytes.Buffer
	n, err := r.Download(ctx, "foo", &buf)
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), n)
	require.Equal(t, payload, buf.Bytes())

	_, err = r.Download(ctx, "bar", &bytes.Buffer{})
	var ce *ChecksumError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, bad.FileName, ce.File)
	require.Equal(t, good.SHA256Sum, ce.Got)

	_, err = r.Download(ctx, "missing", &bytes.Buffer{})
	require.ErrorIs(t, err, ErrPackageNotFound)

	_, err = r.Download(ctx, "qux", &bytes.Buffer{})
	require.ErrorIs(t, err, ErrNoPackageFile)

	// Listed in the database but not on the mirror.
	_, err = r.Download(ctx, "qux-git", &bytes.Buffer{})
	require.True(t, fetch.IsNotFound(err))

	u, err := r.PackageURL("foo")
	require.NoError(t, err)
	require.Equal(t, "https://mirror.example.com/core/os/x86_64/foo-1.0-1-x86_64.pkg.tar.zst", u)
}

func TestPackageURLWithoutBase(t *testing.T) {
	root := t.TempDir()
	writeDB(t, filepath.Join(root, "core.db"), false, dbEntry{pkg: testPackage("foo", "1-1")})
	r := loadTestRepo(t, root, Options{})

	_, err := r.PackageURL("foo")
	require.True(t, errors.Is(err, ErrNoBaseURL))
}

type recordingArchiver struct {
	snaps []*Snapshot
}

func (a *recordingArchiver) Archive(_ context.Context, snap *Snapshot) {
	a.snaps = append(a.snaps, snap)
}

func TestReloadArchivesSnapshot(t *testing.T) {
	root := t.TempDir()
	writeDB(t, filepath.Join(root, "core.db"), false,
		dbEntry{pkg: testPackage("foo", "1-1")},
		dbEntry{pkg: testPackage("bar-git", "r1-1")},
	)
	arch := &recordingArchiver{}
	r := loadTestRepo(t, root, Options{Archiver: arch})

	require.Len(t, arch.snaps, 1)
	snap := arch.snaps[0]
	require.Equal(t, "core", snap.Repo)
	require.Equal(t, r.LoadedAt(), snap.LoadedAt)
	// Placeholders are not archived.
	require.Len(t, snap.Packages, 2)

	require.NoError(t, r.Reload(context.Background()))
	require.Len(t, arch.snaps, 2)
}
