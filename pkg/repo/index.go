package repo

import (
	"log/slog"
	"strings"
	"time"

	"github.com/epithet-ssh/pacdb/pkg/pacman"
)

// vcsSuffixes mark development builds packaged from version control.
var vcsSuffixes = []string{"-cvs", "-svn", "-hg", "-darcs", "-bzr", "-git"}

// Package is a package loaded from a repository database.
type Package struct {
	*pacman.Package

	// Linked holds the VCS builds of this package: foo-git is linked onto foo.
	Linked []*pacman.Package `json:"linked,omitempty"`

	// Placeholder is set when the repository has no package by this name and
	// the entry exists only to hold Linked.
	Placeholder bool `json:"placeholder,omitempty"`
}

// index is an immutable view of one loaded database. Reload builds a new
// index and swaps it in.
type index struct {
	packages      []*Package
	byName        map[string]*Package
	byBase        map[string]*Package
	byNameVersion map[string]*Package
	files         map[string][]string
	loadedAt      time.Time
}

func newIndex() *index {
	return &index{
		byName:        make(map[string]*Package),
		byBase:        make(map[string]*Package),
		byNameVersion: make(map[string]*Package),
		files:         make(map[string][]string),
	}
}

func (idx *index) insert(pkg *pacman.Package, logger *slog.Logger) {
	entry := &Package{Package: pkg}

	// A VCS build seen earlier may have created a placeholder for this name.
	if prev, ok := idx.byName[pkg.Name]; ok && prev.Placeholder {
		entry.Linked = prev.Linked
	}

	if pkg.Base != nil {
		if _, dup := idx.byBase[*pkg.Base]; dup {
			logger.Warn("package base already registered, ignoring", "package", pkg.Name, "base", *pkg.Base)
		} else {
			idx.byBase[*pkg.Base] = entry
		}
	}
	idx.byName[pkg.Name] = entry
	idx.byNameVersion[pkg.NameVersion()] = entry
	idx.packages = append(idx.packages, entry)

	for _, suffix := range vcsSuffixes {
		name, ok := strings.CutSuffix(pkg.Name, suffix)
		if !ok || name == "" {
			continue
		}

		base, ok := idx.byName[name]
		if !ok {
			base = &Package{
				Package: &pacman.Package{
					Name:        name,
					Version:     pkg.Version,
					Description: pkg.Description,
					Arch:        pkg.Arch,
				},
				Placeholder: true,
			}
			idx.byName[name] = base
		}
		base.Linked = append(base.Linked, pkg)
	}
}

// find looks a package up by base, then name, then name-version.
func (idx *index) find(key string) (*Package, bool) {
	if p, ok := idx.byBase[key]; ok {
		return p, true
	}
	if p, ok := idx.byName[key]; ok {
		return p, true
	}
	p, ok := idx.byNameVersion[key]
	return p, ok
}
