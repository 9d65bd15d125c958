package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/epithet-ssh/pacdb/pkg/fetch"
	"github.com/epithet-ssh/pacdb/pkg/mirror"
	"github.com/epithet-ssh/pacdb/pkg/repo"
)

// RepoCLI loads one repository straight from mirrors given on the command
// line and lists, looks up, or downloads packages.
type RepoCLI struct {
	Name     string        `arg:"" help:"Repository name, e.g. core"`
	Mirrors  []string      `short:"m" name:"mirror" required:"" help:"Mirror as [priority=N:]url, repeatable"`
	Files    bool          `help:"Also load the files database"`
	Cooldown time.Duration `help:"How long a failing mirror is skipped" default:"5m"`
	Find     string        `help:"Print one package (by base, name, or name-version) instead of listing"`
	Download string        `help:"Download a package file, verifying its checksum"`
	Output   string        `short:"o" help:"Where to write --download (default: the package file name)"`
}

func (c *RepoCLI) Run(logger *slog.Logger, tlsCfg fetch.TLSConfig, out io.Writer) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	mirrors, err := mirror.ParseAll(c.Mirrors)
	if err != nil {
		return err
	}
	src, err := fetch.NewMirrored(ctx, mirrors, fetch.Options{TLS: tlsCfg},
		mirror.WithCooldown(c.Cooldown),
		mirror.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	r, err := repo.Load(ctx, repo.Options{
		Name:          c.Name,
		Source:        src,
		FilesMetadata: c.Files,
		Observer:      repo.NewSlogObserver(logger),
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	switch {
	case c.Download != "":
		return c.download(ctx, r, logger)

	case c.Find != "":
		p, ok := r.Find(c.Find)
		if !ok {
			return fmt.Errorf("%w: %s", repo.ErrPackageNotFound, c.Find)
		}
		if files, ok := r.Files(p.Name); ok {
			return enc.Encode(struct {
				*repo.Package
				Files []string `json:"files"`
			}{p, files})
		}
		return enc.Encode(p)

	default:
		for p := range r.All() {
			fmt.Fprintf(out, "%s %s\n", p.Name, p.Version)
		}
		return nil
	}
}

func (c *RepoCLI) download(ctx context.Context, r *repo.Repository, logger *slog.Logger) error {
	p, ok := r.Find(c.Download)
	if !ok {
		return fmt.Errorf("%w: %s", repo.ErrPackageNotFound, c.Download)
	}
	if p.Placeholder || p.FileName == "" {
		return fmt.Errorf("%w: %s", repo.ErrNoPackageFile, c.Download)
	}

	path := c.Output
	if path == "" {
		path = p.FileName
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	n, err := r.Download(ctx, c.Download, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return err
	}

	logger.Info("downloaded package", "package", p.Name, "path", path, "bytes", n)
	return nil
}
