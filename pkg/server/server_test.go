package server

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gotest.tools/assert"

	"github.com/epithet-ssh/pacdb/pkg/archive"
	"github.com/epithet-ssh/pacdb/pkg/desc"
	"github.com/epithet-ssh/pacdb/pkg/fetch"
	"github.com/epithet-ssh/pacdb/pkg/mirror"
	"github.com/epithet-ssh/pacdb/pkg/pacman"
	"github.com/epithet-ssh/pacdb/pkg/repo"
)

var payload = []byte("package bytes")

func testPackage(name, version string) *pacman.Package {
	sum := sha256.Sum256(payload)
	description := "the " + name + " package"
	return &pacman.Package{
		FileName:    name + "-" + version + "-x86_64.pkg.tar.zst",
		Name:        name,
		Version:     version,
		Description: &description,
		MD5Sum:      "d41d8cd98f00b204e9800998ecf8427e",
		SHA256Sum:   hex.EncodeToString(sum[:]),
		Arch:        "x86_64",
		BuildDate:   pacman.NewBuildDate(1700000000),
		Packager:    "Test Packager <test@example.com>",
	}
}

func writeDB(t *testing.T, path string, files map[string][]string, pkgs ...*pacman.Package) {
	t.Helper()

	var buf bytes.Buffer
	w, err := archive.NewWriter(&buf, archive.CompressionGzip)
	require.NoError(t, err)
	for _, p := range pkgs {
		body, err := desc.Marshal(p)
		require.NoError(t, err)
		require.NoError(t, w.Add(p.NameVersion(), archive.KindDesc, body))
		if list, ok := files[p.Name]; ok {
			body, err := desc.Marshal(pacman.Files{Files: list})
			require.NoError(t, err)
			require.NoError(t, w.Add(p.NameVersion(), archive.KindFiles, body))
		}
	}
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

type fixture struct {
	root    string
	handler http.Handler
	core    *repo.Repository
	extra   *repo.Repository
	mirror  string
}

// newFixture serves core from a local directory and extra over HTTP
// through a mirror pool.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()

	foo := testPackage("foo", "1.0-1")
	fooGit := testPackage("foo-git", "r10.g1234-1")
	bad := testPackage("bad", "1-1")
	bad.SHA256Sum = "0000000000000000000000000000000000000000000000000000000000000000"
	writeDB(t, filepath.Join(root, "core.db"), nil, foo, fooGit, bad)
	writeDB(t, filepath.Join(root, "core.files"), map[string][]string{
		"foo": {"usr/", "usr/bin/", "usr/bin/foo"},
	}, foo, fooGit, bad)
	writeDB(t, filepath.Join(root, "extra.db"), nil, testPackage("vim", "9.1-1"))

	for _, p := range []*pacman.Package{foo, bad} {
		require.NoError(t, os.WriteFile(filepath.Join(root, p.FileName), payload, 0o644))
	}

	ts := httptest.NewServer(http.FileServer(http.Dir(root)))
	t.Cleanup(ts.Close)

	core, err := repo.Load(ctx, repo.Options{
		Name:          "core",
		Source:        fetch.NewDir(root),
		FilesMetadata: true,
	})
	require.NoError(t, err)

	src, err := fetch.NewMirrored(ctx, []mirror.Mirror{{URL: ts.URL, Priority: mirror.DefaultPriority}}, fetch.Options{
		TLS: fetch.TLSConfig{Insecure: true},
	})
	require.NoError(t, err)
	extra, err := repo.Load(ctx, repo.Options{
		Name:    "extra",
		Source:  src,
		BaseURL: "https://mirror.example.com/extra/os/x86_64",
	})
	require.NoError(t, err)

	set, err := repo.NewSet(core, extra)
	require.NoError(t, err)

	return &fixture{
		root:    root,
		handler: New(Config{Repos: set}),
		core:    core,
		extra:   extra,
		mirror:  ts.URL,
	}
}

func (f *fixture) do(t *testing.T, method, target string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "GET", "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	h := decodeJSON[Health](t, rec)
	require.Equal(t, "ok", h.Status)
	require.Len(t, h.Repos, 2)
	require.Empty(t, h.Repos[0].Mirrors)
	require.Equal(t, []mirror.Status{{
		Mirror: mirror.Mirror{URL: f.mirror, Priority: mirror.DefaultPriority},
		State:  "closed",
	}}, h.Repos[1].Mirrors)
}

func TestHealthNotLoaded(t *testing.T) {
	r, err := repo.New(repo.Options{Name: "core", Source: fetch.NewDir(t.TempDir())})
	require.NoError(t, err)
	set, err := repo.NewSet(r)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	New(Config{Repos: set}).ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "unavailable", decodeJSON[Health](t, rec).Status)
}

func TestRepos(t *testing.T) {
	f := newFixture(t)

	repos := decodeJSON[[]RepoInfo](t, f.do(t, "GET", "/repos"))
	require.Len(t, repos, 2)
	require.Equal(t, "core", repos[0].Name)
	require.Equal(t, 3, repos[0].Packages)
	require.NotNil(t, repos[0].LoadedAt)
	require.Equal(t, "extra", repos[1].Name)

	ri := decodeJSON[RepoInfo](t, f.do(t, "GET", "/repos/extra"))
	require.Equal(t, 1, ri.Packages)
	require.Len(t, ri.Mirrors, 1)

	rec := f.do(t, "GET", "/repos/community")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
}

func TestListPackages(t *testing.T) {
	f := newFixture(t)

	pkgs := decodeJSON[[]PackageSummary](t, f.do(t, "GET", "/repos/core/packages"))
	require.Equal(t, []PackageSummary{
		{Name: "foo", Version: "1.0-1", Description: "the foo package", Linked: []string{"foo-git"}},
		{Name: "foo-git", Version: "r10.g1234-1", Description: "the foo-git package"},
		{Name: "bad", Version: "1-1", Description: "the bad package"},
	}, pkgs)

	pkgs = decodeJSON[[]PackageSummary](t, f.do(t, "GET", "/repos/core/packages?q=git"))
	require.Len(t, pkgs, 1)
	require.Equal(t, "foo-git", pkgs[0].Name)

	pkgs = decodeJSON[[]PackageSummary](t, f.do(t, "GET", "/repos/core/packages?q=zzz"))
	require.Empty(t, pkgs)
}

func TestGetPackage(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "GET", "/repos/core/packages/foo")
	assert.Equal(t, http.StatusOK, rec.Code)
	got := decodeJSON[map[string]any](t, rec)
	require.Equal(t, "foo", got["name"])
	require.Equal(t, "1.0-1", got["version"])
	require.Equal(t, "2023-11-14T22:13:20Z", got["build_date"])
	require.Len(t, got["linked"], 1)

	want, err := desc.Marshal(testPackage("foo", "1.0-1"))
	require.NoError(t, err)

	for _, rec := range []*httptest.ResponseRecorder{
		f.do(t, "GET", "/repos/core/packages/foo?format=desc"),
		f.do(t, "GET", "/repos/core/packages/foo", "Accept", DescContentType),
	} {
		assert.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, DescContentType+"; charset=utf-8", rec.Header().Get("Content-Type"))
		require.Equal(t, string(want), rec.Body.String())

		var p pacman.Package
		require.NoError(t, desc.Unmarshal(rec.Body.Bytes(), &p))
		require.Equal(t, "foo", p.Name)
	}

	// name-version lookups work too.
	rec = f.do(t, "GET", "/repos/core/packages/foo-git-r10.g1234-1")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, "GET", "/repos/core/packages/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetPlaceholder(t *testing.T) {
	root := t.TempDir()
	writeDB(t, filepath.Join(root, "core.db"), nil, testPackage("bar-git", "r1-1"))
	r, err := repo.Load(context.Background(), repo.Options{Name: "core", Source: fetch.NewDir(root)})
	require.NoError(t, err)
	set, err := repo.NewSet(r)
	require.NoError(t, err)
	h := New(Config{Repos: set})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/repos/core/packages/bar", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	got := decodeJSON[map[string]any](t, rec)
	require.Equal(t, true, got["placeholder"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/repos/core/packages/bar?format=desc", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/repos/core/packages/bar/download", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetFiles(t *testing.T) {
	f := newFixture(t)

	got := decodeJSON[pacman.Files](t, f.do(t, "GET", "/repos/core/packages/foo/files"))
	require.Equal(t, []string{"usr/", "usr/bin/", "usr/bin/foo"}, got.Files)

	rec := f.do(t, "GET", "/repos/core/packages/foo/files?format=desc")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "%FILES%\nusr/\nusr/bin/\nusr/bin/foo\n\n", rec.Body.String())

	// Loaded without a files database.
	rec = f.do(t, "GET", "/repos/extra/packages/vim/files")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// In the files database without a FILES member.
	rec = f.do(t, "GET", "/repos/core/packages/bad/files")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReload(t *testing.T) {
	f := newFixture(t)

	writeDB(t, filepath.Join(f.root, "extra.db"), nil,
		testPackage("vim", "9.1-2"),
		testPackage("emacs", "30.1-1"),
	)

	rec := f.do(t, "POST", "/repos/extra/reload")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 2, decodeJSON[RepoInfo](t, rec).Packages)
	require.Equal(t, 2, f.extra.Len())

	require.NoError(t, os.Remove(filepath.Join(f.root, "extra.db")))
	rec = f.do(t, "POST", "/repos/extra/reload")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, 2, f.extra.Len())

	rec = f.do(t, "GET", "/repos/extra/reload")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestDownload(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "GET", "/repos/core/packages/foo/download")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, payload, rec.Body.Bytes())
	require.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "foo-1.0-1-x86_64.pkg.tar.zst")

	rec = f.do(t, "GET", "/repos/core/packages/bad/download")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	require.Contains(t, rec.Body.String(), "sha256 mismatch")

	// Listed, but the file is not on the mirror.
	rec = f.do(t, "GET", "/repos/core/packages/foo-git/download")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, "GET", "/repos/extra/packages/vim/download")
	assert.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "https://mirror.example.com/extra/os/x86_64/vim-9.1-1-x86_64.pkg.tar.zst", rec.Header().Get("Location"))
}
