package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/epithet-ssh/pacdb/pkg/archive"
	"github.com/epithet-ssh/pacdb/pkg/fetch"
	"github.com/epithet-ssh/pacdb/pkg/mirror"
)

//go:embed schema.cue
var schemaSource string

// Config is the server configuration.
type Config struct {
	Listen   string   `yaml:"listen" json:"listen"`
	LogLevel string   `yaml:"log_level" json:"log_level"`
	TLS      TLS      `yaml:"tls" json:"tls"`
	Repos    []Repo   `yaml:"repos" json:"repos"`
	Archive  *Archive `yaml:"archive,omitempty" json:"archive,omitempty"`
}

// TLS configures connections to HTTP mirrors.
type TLS struct {
	Insecure   bool   `yaml:"insecure" json:"insecure"`
	CACertFile string `yaml:"ca_cert_file,omitempty" json:"ca_cert_file,omitempty"`
	Timeout    string `yaml:"timeout,omitempty" json:"timeout,omitempty"` // e.g. "90s"
}

// Repo configures one repository and its mirrors.
type Repo struct {
	Name              string   `yaml:"name" json:"name"`
	Mirrors           []string `yaml:"mirrors" json:"mirrors"` // "[priority=N:]url"
	BaseURL           string   `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	Files             bool     `yaml:"files" json:"files"`
	Cooldown          string   `yaml:"cooldown,omitempty" json:"cooldown,omitempty"`
	CredentialsSecret string   `yaml:"credentials_secret,omitempty" json:"credentials_secret,omitempty"`
}

// Archive configures snapshot archival to S3.
type Archive struct {
	Bucket      string `yaml:"bucket" json:"bucket"`
	Prefix      string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Compression string `yaml:"compression" json:"compression"`
}

// Load reads configuration from a file or CUE directory.
func Load(path string) (*Config, error) {
	ctx := cuecontext.New()
	val, err := LoadValue(ctx, path)
	if err != nil {
		return nil, err
	}
	return FromValue(ctx, val)
}

// LoadPaths unifies every file matching patterns into one configuration.
func LoadPaths(patterns []string) (*Config, error) {
	ctx := cuecontext.New()
	val, err := LoadAndUnifyPaths(ctx, patterns)
	if err != nil {
		return nil, err
	}
	return FromValue(ctx, val)
}

// Parse reads configuration from YAML or JSON.
func Parse(data []byte) (*Config, error) {
	ctx := cuecontext.New()
	val, err := loadData(ctx, "", data)
	if err != nil {
		return nil, err
	}
	return FromValue(ctx, val)
}

// SSMAPI is the subset of the SSM client used by LoadFromSSM.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// LoadFromSSM reads a YAML or JSON document from an SSM parameter,
// decrypting SecureString parameters.
func LoadFromSSM(ctx context.Context, client SSMAPI, name string) (*Config, error) {
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve SSM parameter: %w", err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return nil, fmt.Errorf("SSM parameter %s has no value", name)
	}
	return Parse([]byte(*out.Parameter.Value))
}

// FromValue unifies val with the schema, applies defaults, and decodes it.
// val must have been built in ctx.
func FromValue(ctx *cue.Context, val cue.Value) (*Config, error) {
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(val)
	if err := unified.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks what the schema cannot: mirror URLs, durations, and
// unique repository names.
func (c *Config) Validate() error {
	if len(c.Repos) == 0 {
		return errors.New("at least one repository is required")
	}

	if _, err := c.TLS.TimeoutDuration(); err != nil {
		return fmt.Errorf("invalid tls.timeout: %w", err)
	}

	seen := make(map[string]bool, len(c.Repos))
	for _, r := range c.Repos {
		if seen[r.Name] {
			return fmt.Errorf("duplicate repository %q", r.Name)
		}
		seen[r.Name] = true

		if len(r.Mirrors) == 0 {
			return fmt.Errorf("repository %s: at least one mirror is required", r.Name)
		}
		if _, err := r.MirrorList(); err != nil {
			return fmt.Errorf("repository %s: %w", r.Name, err)
		}
		if _, err := r.CooldownDuration(); err != nil {
			return fmt.Errorf("repository %s: invalid cooldown: %w", r.Name, err)
		}
	}

	if c.Archive != nil {
		if _, err := c.Archive.CompressionKind(); err != nil {
			return fmt.Errorf("invalid archive.compression: %w", err)
		}
	}
	return nil
}

// Level returns the slog level named by log_level.
func (c *Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// FetchTLS converts the TLS section for pkg/fetch.
func (t TLS) FetchTLS() fetch.TLSConfig {
	return fetch.TLSConfig{
		Insecure:   t.Insecure,
		CACertFile: t.CACertFile,
	}
}

// TimeoutDuration returns the HTTP timeout, or fetch.DefaultTimeout.
func (t TLS) TimeoutDuration() (time.Duration, error) {
	if t.Timeout == "" {
		return fetch.DefaultTimeout, nil
	}
	return parseDuration(t.Timeout)
}

// MirrorList parses the repository's mirrors.
func (r Repo) MirrorList() ([]mirror.Mirror, error) {
	return mirror.ParseAll(r.Mirrors)
}

// CooldownDuration returns how long a failing mirror is skipped, or
// mirror.DefaultCooldown.
func (r Repo) CooldownDuration() (time.Duration, error) {
	if r.Cooldown == "" {
		return mirror.DefaultCooldown, nil
	}
	return parseDuration(r.Cooldown)
}

// CompressionKind parses the snapshot compression.
func (a Archive) CompressionKind() (archive.Compression, error) {
	return archive.ParseCompression(a.Compression)
}

func parseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", s)
	}
	return d, nil
}
