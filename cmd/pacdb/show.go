package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/cbroglie/mustache"

	"github.com/epithet-ssh/pacdb/pkg/archive"
	"github.com/epithet-ssh/pacdb/pkg/desc"
	"github.com/epithet-ssh/pacdb/pkg/pacman"
)

const defaultShowTemplate = `{{name}} {{version}}{{#description}}
    {{{description}}}{{/description}}
`

// ShowCLI prints packages from a database archive through a mustache
// template. The template sees the package's JSON fields.
type ShowCLI struct {
	Database string   `arg:"" type:"existingfile" help:"Database archive, e.g. core.db or core.files"`
	Packages []string `arg:"" optional:"" help:"Package names to show (default: all)"`
	Template string   `short:"t" help:"Mustache template applied to each package (default: name, version, and description)"`
	Files    bool     `short:"f" help:"Include file lists (files databases only) as {{#files}}"`
}

func (s *ShowCLI) Run(logger *slog.Logger, out io.Writer) error {
	source := s.Template
	if source == "" {
		source = defaultShowTemplate
	}
	tmpl, err := mustache.ParseString(source)
	if err != nil {
		return fmt.Errorf("invalid template: %w", err)
	}

	f, err := os.Open(s.Database)
	if err != nil {
		return err
	}
	defer f.Close()

	ar, err := archive.Open(f)
	if err != nil {
		return err
	}
	defer ar.Close()
	logger.Debug("opened database", "path", s.Database, "compression", ar.Compression)

	// Members of one package are adjacent: desc, then files.
	var pending map[string]any
	flush := func() error {
		if pending == nil {
			return nil
		}
		text, err := tmpl.Render(pending)
		pending = nil
		if err != nil {
			return err
		}
		_, err = io.WriteString(out, text)
		return err
	}

	for {
		entry, err := ar.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		switch entry.Kind {
		case archive.KindDesc:
			if err := flush(); err != nil {
				return err
			}
			var pkg pacman.Package
			if err := desc.NewDecoder(entry.Body).Decode(&pkg); err != nil {
				return fmt.Errorf("%s/desc: %w", entry.Dir, err)
			}
			if len(s.Packages) > 0 && !slices.Contains(s.Packages, pkg.Name) {
				continue
			}
			if pending, err = templateContext(&pkg); err != nil {
				return err
			}

		case archive.KindFiles:
			if pending == nil || !s.Files {
				continue
			}
			var files pacman.Files
			if err := desc.NewDecoder(entry.Body).Decode(&files); err != nil {
				return fmt.Errorf("%s/files: %w", entry.Dir, err)
			}
			pending["files"] = files.Files
		}
	}
	return flush()
}

// templateContext exposes a package to mustache under its JSON names.
func templateContext(pkg *pacman.Package) (map[string]any, error) {
	data, err := json.Marshal(pkg)
	if err != nil {
		return nil, err
	}
	var ctx map[string]any
	if err := json.Unmarshal(data, &ctx); err != nil {
		return nil, err
	}
	return ctx, nil
}
