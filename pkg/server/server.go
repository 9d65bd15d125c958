// Package server exposes loaded repositories over a read-only HTTP API.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/epithet-ssh/pacdb/pkg/desc"
	"github.com/epithet-ssh/pacdb/pkg/fetch"
	"github.com/epithet-ssh/pacdb/pkg/mirror"
	"github.com/epithet-ssh/pacdb/pkg/pacman"
	"github.com/epithet-ssh/pacdb/pkg/repo"
)

// DescContentType is the media type of desc records.
const DescContentType = "text/x-pacman-desc"

// DefaultTimeout bounds each request.
const DefaultTimeout = 60 * time.Second

// Config configures the HTTP handler.
type Config struct {
	Repos  *repo.Set
	Logger *slog.Logger

	// Timeout bounds each request. Reloads and downloads run under it too.
	Timeout time.Duration
}

type server struct {
	repos *repo.Set
	log   *slog.Logger
}

// New creates the API handler.
func New(cfg Config) http.Handler {
	s := &server{
		repos: cfg.Repos,
		log:   cfg.Logger,
	}
	if s.log == nil {
		s.log = slog.New(slog.DiscardHandler)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Get("/healthz", s.health)
	r.Get("/repos", s.listRepos)
	r.Route("/repos/{repo}", func(r chi.Router) {
		r.Get("/", s.getRepo)
		r.Post("/reload", s.reload)
		r.Get("/packages", s.listPackages)
		r.Get("/packages/{name}", s.getPackage)
		r.Get("/packages/{name}/files", s.getFiles)
		r.Get("/packages/{name}/download", s.download)
	})

	return r
}

// RepoInfo describes one repository.
type RepoInfo struct {
	Name     string          `json:"name"`
	Packages int             `json:"packages"`
	LoadedAt *time.Time      `json:"loaded_at,omitempty"`
	Mirrors  []mirror.Status `json:"mirrors,omitempty"`
}

// PackageSummary is one entry of a package listing.
type PackageSummary struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description,omitempty"`
	Linked      []string `json:"linked,omitempty"`
}

// Health is the /healthz response.
type Health struct {
	Status string     `json:"status"`
	Repos  []RepoInfo `json:"repos"`
}

// pooled is implemented by sources that fail over between mirrors.
type pooled interface {
	Pool() *mirror.Pool
}

func info(r *repo.Repository) RepoInfo {
	ri := RepoInfo{
		Name:     r.Name(),
		Packages: r.Len(),
	}
	if t := r.LoadedAt(); !t.IsZero() {
		ri.LoadedAt = &t
	}
	if p, ok := r.Source().(pooled); ok {
		ri.Mirrors = p.Pool().Status()
	}
	return ri
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	resp := Health{Status: "ok"}
	code := http.StatusOK

	for _, rp := range s.repos.Repositories() {
		ri := info(rp)
		if ri.LoadedAt == nil {
			resp.Status = "unavailable"
			code = http.StatusServiceUnavailable
		}
		if p, ok := rp.Source().(pooled); ok && p.Pool().AllUnavailable() {
			resp.Status = "degraded"
		}
		resp.Repos = append(resp.Repos, ri)
	}

	s.writeJSON(w, code, resp)
}

func (s *server) listRepos(w http.ResponseWriter, r *http.Request) {
	out := []RepoInfo{}
	for _, rp := range s.repos.Repositories() {
		out = append(out, info(rp))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *server) repo(w http.ResponseWriter, r *http.Request) (*repo.Repository, bool) {
	name := chi.URLParam(r, "repo")
	rp, ok := s.repos.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("repository %q not found", name))
		return nil, false
	}
	return rp, true
}

func (s *server) pkg(w http.ResponseWriter, r *http.Request) (*repo.Repository, *repo.Package, bool) {
	rp, ok := s.repo(w, r)
	if !ok {
		return nil, nil, false
	}
	name := chi.URLParam(r, "name")
	p, ok := rp.Find(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("package %q not found in %s", name, rp.Name()))
		return nil, nil, false
	}
	return rp, p, true
}

func (s *server) getRepo(w http.ResponseWriter, r *http.Request) {
	rp, ok := s.repo(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, info(rp))
}

func (s *server) reload(w http.ResponseWriter, r *http.Request) {
	rp, ok := s.repo(w, r)
	if !ok {
		return
	}

	if err := rp.Reload(r.Context()); err != nil {
		s.log.Warn("reload failed", "repo", rp.Name(), "error", err)
		writeError(w, http.StatusBadGateway, fmt.Sprintf("reload failed: %s", err))
		return
	}
	s.log.Info("repository reloaded", "repo", rp.Name(), "packages", rp.Len())
	s.writeJSON(w, http.StatusOK, info(rp))
}

func (s *server) listPackages(w http.ResponseWriter, r *http.Request) {
	rp, ok := s.repo(w, r)
	if !ok {
		return
	}

	q := r.URL.Query().Get("q")
	out := []PackageSummary{}
	for p := range rp.All() {
		if q != "" && !strings.Contains(p.Name, q) {
			continue
		}
		sum := PackageSummary{Name: p.Name, Version: p.Version}
		if p.Description != nil {
			sum.Description = *p.Description
		}
		for _, l := range p.Linked {
			sum.Linked = append(sum.Linked, l.Name)
		}
		out = append(out, sum)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *server) getPackage(w http.ResponseWriter, r *http.Request) {
	_, p, ok := s.pkg(w, r)
	if !ok {
		return
	}

	if !wantsDesc(r) {
		s.writeJSON(w, http.StatusOK, p)
		return
	}
	if p.Placeholder {
		writeError(w, http.StatusNotFound, fmt.Sprintf("%s has no database entry; see its linked packages", p.Name))
		return
	}
	s.writeDesc(w, p.Package)
}

func (s *server) getFiles(w http.ResponseWriter, r *http.Request) {
	rp, p, ok := s.pkg(w, r)
	if !ok {
		return
	}

	files, ok := rp.Files(p.Name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no file list for %s", p.Name))
		return
	}

	if wantsDesc(r) {
		s.writeDesc(w, pacman.Files{Files: files})
		return
	}
	s.writeJSON(w, http.StatusOK, pacman.Files{Files: files})
}

// download redirects to the package file when the repository has a public
// base URL, and otherwise fetches it through the repository's source,
// verifying the checksum before sending any of it.
func (s *server) download(w http.ResponseWriter, r *http.Request) {
	rp, p, ok := s.pkg(w, r)
	if !ok {
		return
	}

	key := chi.URLParam(r, "name")
	if u, err := rp.PackageURL(key); err == nil {
		http.Redirect(w, r, u, http.StatusFound)
		return
	} else if !errors.Is(err, repo.ErrNoBaseURL) {
		s.downloadError(w, err)
		return
	}

	tmp, err := os.CreateTemp("", "pacdb-download-")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "unable to buffer download")
		return
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := rp.Download(r.Context(), key, tmp); err != nil {
		s.log.Warn("download failed", "repo", rp.Name(), "package", p.Name, "error", err)
		s.downloadError(w, err)
		return
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		writeError(w, http.StatusInternalServerError, "unable to buffer download")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", p.FileName))
	http.ServeContent(w, r, p.FileName, p.BuildDate.Time, tmp)
}

func (s *server) downloadError(w http.ResponseWriter, err error) {
	var ce *repo.ChecksumError
	switch {
	case errors.Is(err, repo.ErrNoPackageFile), fetch.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &ce):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusBadGateway, fmt.Sprintf("download failed: %s", err))
	}
}

func wantsDesc(r *http.Request) bool {
	if r.URL.Query().Get("format") == "desc" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), DescContentType)
}

func (s *server) writeJSON(w http.ResponseWriter, code int, v any) {
	out, err := json.Marshal(v)
	if err != nil {
		s.log.Warn("unable to jsonify response", "error", err)
		writeError(w, http.StatusInternalServerError, "unable to encode response")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(out); err != nil {
		s.log.Warn("unable to write response", "error", err)
	}
}

func (s *server) writeDesc(w http.ResponseWriter, v any) {
	out, err := desc.Marshal(v)
	if err != nil {
		s.log.Warn("unable to encode desc record", "error", err)
		writeError(w, http.StatusInternalServerError, "unable to encode record")
		return
	}

	w.Header().Set("Content-Type", DescContentType+"; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out); err != nil {
		s.log.Warn("unable to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(code)
	w.Write([]byte(msg))
}
