// Package mirror selects repository mirrors with priority-based failover.
package mirror

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DefaultPriority is the priority assigned to mirrors without an explicit priority.
// Higher priority values are tried first.
const DefaultPriority = 100

// Mirror is one location serving a repository's database and package files.
type Mirror struct {
	URL      string `json:"url"`
	Priority int    `json:"priority"`
}

func (m Mirror) String() string {
	return fmt.Sprintf("priority=%d:%s", m.Priority, m.URL)
}

// Parse parses a mirror string into a Mirror.
// Format: "priority=N:https://mirror.example.com/core/os/x86_64" or just the URL.
// If no priority is specified, DefaultPriority (100) is used.
//
// Supported schemes are http, https, s3 (s3://bucket/prefix) and file.
func Parse(s string) (Mirror, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Mirror{}, fmt.Errorf("empty mirror URL")
	}

	priority := DefaultPriority
	if rest, ok := strings.CutPrefix(s, "priority="); ok {
		value, u, ok := strings.Cut(rest, ":")
		if !ok {
			return Mirror{}, fmt.Errorf("invalid mirror format: missing colon after priority value in %q", s)
		}
		p, err := strconv.Atoi(value)
		if err != nil {
			return Mirror{}, fmt.Errorf("invalid priority value %q in mirror: %w", value, err)
		}
		if p < 0 {
			return Mirror{}, fmt.Errorf("priority must be non-negative, got %d", p)
		}
		priority, s = p, u
	}

	if err := validate(s); err != nil {
		return Mirror{}, err
	}
	return Mirror{URL: s, Priority: priority}, nil
}

// ParseAll parses multiple mirror strings.
// Returns an error if any mirror is invalid or if the list is empty.
func ParseAll(mirrors []string) ([]Mirror, error) {
	if len(mirrors) == 0 {
		return nil, fmt.Errorf("at least one mirror is required")
	}

	out := make([]Mirror, 0, len(mirrors))
	for _, s := range mirrors {
		m, err := Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func validate(s string) error {
	if s == "" {
		return fmt.Errorf("empty mirror URL")
	}

	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid mirror URL %q: %w", s, err)
	}

	switch u.Scheme {
	case "http", "https", "s3":
		if u.Host == "" {
			return fmt.Errorf("mirror URL %q must have a host", s)
		}
	case "file":
		if u.Path == "" {
			return fmt.Errorf("mirror URL %q must have a path", s)
		}
	default:
		return fmt.Errorf("mirror URL must use http, https, s3 or file scheme, got %q", u.Scheme)
	}
	return nil
}
