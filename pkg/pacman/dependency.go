package pacman

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConstraintNotFound = errors.New("constraint not found")
	ErrVersionNotFound    = errors.New("version not found")
	ErrNameNotFound       = errors.New("dependency name not found")
	ErrUnknownConstraint  = errors.New("unknown constraint")
)

// Constraint is the comparison in a versioned dependency.
type Constraint uint8

const (
	LessThan Constraint = iota + 1
	MoreThan
	Equals
	MoreOrEqual
	LessOrEqual
)

// constraints is ordered so that two-character operators match first.
var constraints = []Constraint{MoreOrEqual, LessOrEqual, LessThan, MoreThan, Equals}

func (c Constraint) String() string {
	switch c {
	case LessThan:
		return "<"
	case MoreThan:
		return ">"
	case Equals:
		return "="
	case MoreOrEqual:
		return ">="
	case LessOrEqual:
		return "<="
	default:
		return fmt.Sprintf("Constraint(%d)", uint8(c))
	}
}

// ParseConstraint parses one of <, >, =, >=, <=.
func ParseConstraint(s string) (Constraint, error) {
	for _, c := range constraints {
		if s == c.String() {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownConstraint, s)
}

// DependencyVersion is the version half of "name>=1.0".
type DependencyVersion struct {
	Constraint Constraint `json:"constraint"`
	Version    string     `json:"version"`
}

// ParseDependencyVersion parses a constraint followed by a version, such
// as ">=1.0".
func ParseDependencyVersion(s string) (DependencyVersion, error) {
	for _, c := range constraints {
		op := c.String()
		if !strings.HasPrefix(s, op) {
			continue
		}
		if len(s) == len(op) {
			return DependencyVersion{}, ErrVersionNotFound
		}
		return DependencyVersion{Constraint: c, Version: s[len(op):]}, nil
	}
	return DependencyVersion{}, ErrConstraintNotFound
}

func (v DependencyVersion) String() string {
	return v.Constraint.String() + v.Version
}

// Dependency names a package, optionally constrained to a version range.
// Optional dependencies carry a human-readable reason after a colon:
//
//	python>=3.10: for the plugin host
type Dependency struct {
	Name    string
	Version *DependencyVersion
	Reason  string
}

// ParseDependency parses "name", "name<op>version" or either form followed
// by ": reason".
func ParseDependency(s string) (Dependency, error) {
	var d Dependency
	if spec, reason, ok := strings.Cut(s, ": "); ok {
		s, d.Reason = spec, reason
	}

	pos := strings.IndexAny(s, "<>=")
	if pos < 0 {
		d.Name = s
	} else {
		v, err := ParseDependencyVersion(s[pos:])
		if err != nil {
			return Dependency{}, fmt.Errorf("dependency %q: %w", s, err)
		}
		d.Name, d.Version = s[:pos], &v
	}

	if d.Name == "" {
		return Dependency{}, fmt.Errorf("dependency %q: %w", s, ErrNameNotFound)
	}
	return d, nil
}

func (d Dependency) String() string {
	s := d.Name
	if d.Version != nil {
		s += d.Version.String()
	}
	if d.Reason != "" {
		s += ": " + d.Reason
	}
	return s
}

func (d Dependency) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Dependency) UnmarshalText(text []byte) error {
	parsed, err := ParseDependency(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
