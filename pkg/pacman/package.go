// Package pacman defines the records stored in a pacman sync database.
//
// A sync database is a tar archive holding one directory per package. The
// directory's desc member decodes into a Package and, in the .files
// database, its files member decodes into Files.
package pacman

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/epithet-ssh/pacdb/pkg/desc"
)

// ErrMissingField is returned by Validate when a required field is absent.
var ErrMissingField = errors.New("missing required field")

// Package is one package entry of a sync database.
type Package struct {
	FileName       string       `desc:"FILENAME" json:"filename"`
	Name           string       `desc:"NAME" json:"name"`
	Base           *string      `desc:"BASE" json:"base,omitempty"`
	Version        string       `desc:"VERSION" json:"version"`
	Description    *string      `desc:"DESC" json:"description,omitempty"`
	Groups         []string     `desc:"GROUPS,omitempty" json:"groups,omitempty"`
	CompressedSize uint64       `desc:"CSIZE" json:"compressed_size"`
	InstalledSize  uint64       `desc:"ISIZE" json:"installed_size"`
	MD5Sum         string       `desc:"MD5SUM" json:"md5sum"`
	SHA256Sum      string       `desc:"SHA256SUM" json:"sha256sum"`
	PGPSignature   *string      `desc:"PGPSIG" json:"pgpsig,omitempty"`
	URL            *string      `desc:"URL" json:"url,omitempty"`
	License        []string     `desc:"LICENSE,omitempty" json:"license,omitempty"`
	Arch           string       `desc:"ARCH" json:"arch"`
	BuildDate      BuildDate    `desc:"BUILDDATE" json:"build_date"`
	Packager       string       `desc:"PACKAGER" json:"packager"`
	Replaces       []string     `desc:"REPLACES,omitempty" json:"replaces,omitempty"`
	Conflicts      []string     `desc:"CONFLICTS,omitempty" json:"conflicts,omitempty"`
	Provides       []string     `desc:"PROVIDES,omitempty" json:"provides,omitempty"`
	Depends        []Dependency `desc:"DEPENDS,omitempty" json:"depends,omitempty"`
	OptDepends     []Dependency `desc:"OPTDEPENDS,omitempty" json:"optdepends,omitempty"`
	MakeDepends    []Dependency `desc:"MAKEDEPENDS,omitempty" json:"makedepends,omitempty"`
	CheckDepends   []Dependency `desc:"CHECKDEPENDS,omitempty" json:"checkdepends,omitempty"`
}

// Files is the file list of one package, from the .files database.
type Files struct {
	Files []string `desc:"FILES" json:"files"`
}

// Decode reads a Package from a desc member and validates it.
func Decode(data []byte) (*Package, error) {
	var pkg Package
	if err := desc.Unmarshal(data, &pkg); err != nil {
		return nil, err
	}
	if err := pkg.Validate(); err != nil {
		return nil, err
	}
	return &pkg, nil
}

// Validate checks that every required field was present in the record.
// The decoder leaves missing fields at their zero value, so presence is
// checked here.
func (p *Package) Validate() error {
	var missing []string
	for _, f := range []struct {
		name  string
		empty bool
	}{
		{"FILENAME", p.FileName == ""},
		{"NAME", p.Name == ""},
		{"VERSION", p.Version == ""},
		{"MD5SUM", p.MD5Sum == ""},
		{"SHA256SUM", p.SHA256Sum == ""},
		{"ARCH", p.Arch == ""},
		{"BUILDDATE", p.BuildDate.IsZero()},
		{"PACKAGER", p.Packager == ""},
	} {
		if f.empty {
			missing = append(missing, f.name)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("package %q: %w: %s", p.Name, ErrMissingField, strings.Join(missing, ", "))
	}
	return nil
}

// BaseName returns BASE if set, otherwise NAME.
func (p *Package) BaseName() string {
	if p.Base != nil {
		return *p.Base
	}
	return p.Name
}

// NameVersion returns the "name-version" key, which is also the name of
// the package's directory in the database archive.
func (p *Package) NameVersion() string {
	return p.Name + "-" + p.Version
}

// FileURL returns the download URL of the package file under the
// repository base URL.
func (p *Package) FileURL(base string) (string, error) {
	u, err := url.JoinPath(base, p.FileName)
	if err != nil {
		return "", fmt.Errorf("invalid repository URL %q: %w", base, err)
	}
	return u, nil
}
