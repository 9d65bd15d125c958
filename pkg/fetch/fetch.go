// Package fetch opens repository files from mirrors: HTTP(S) servers, S3
// buckets and local directories.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/epithet-ssh/pacdb/pkg/mirror"
)

// Source opens files relative to a repository root.
type Source interface {
	// Open returns the contents of file and its size, or -1 if the size is
	// not known in advance. The caller must close the reader.
	Open(ctx context.Context, file string) (io.ReadCloser, int64, error)
}

// NotFoundError indicates the file does not exist on the source.
type NotFoundError struct {
	File   string
	Source string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found on %s", e.File, e.Source)
}

// UnavailableError indicates the source is temporarily unable to serve
// requests. This is typically a transient infrastructure issue.
type UnavailableError struct {
	Source  string
	Message string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %s", e.Source, e.Message)
}

// StatusError indicates the source refused the request, such as a 401 or
// 403 from an HTTP mirror.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Message)
}

// IsNotFound reports whether err is a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// isSuccessful determines whether an error should count as a mirror
// failure. Only infrastructure errors (connection failures, timeouts, 5xx)
// trip the breaker. A missing file or a refused request is the same on
// every mirror.
func isSuccessful(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}

	var nf *NotFoundError
	if errors.As(err, &nf) {
		return true
	}

	var status *StatusError
	if errors.As(err, &status) {
		return true
	}

	// Unknown errors are treated as infrastructure failures. This includes
	// connection refused, DNS failures, TLS errors and *UnavailableError.
	return false
}

// Options configures the sources built by NewSource.
type Options struct {
	TLS TLSConfig

	// Timeout bounds each HTTP request, body included. Default: DefaultTimeout.
	Timeout time.Duration

	// HTTPClient overrides the client built from TLS and Timeout.
	HTTPClient *http.Client

	// Credentials are sent as HTTP basic auth to every HTTP mirror.
	Credentials *Credentials

	// S3 overrides the client built from the default AWS configuration.
	S3 S3API
}

// NewSource builds the source for one mirror from its URL scheme.
func NewSource(ctx context.Context, m mirror.Mirror, opts Options) (Source, error) {
	u, err := url.Parse(m.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid mirror URL %q: %w", m.URL, err)
	}

	switch u.Scheme {
	case "http", "https":
		if err := opts.TLS.ValidateURL(m.URL); err != nil {
			return nil, err
		}
		client := opts.HTTPClient
		if client == nil {
			client, err = NewHTTPClient(opts.TLS, opts.Timeout)
			if err != nil {
				return nil, err
			}
		}
		return NewHTTP(m.URL, client, opts.Credentials), nil

	case "s3":
		client := opts.S3
		if client == nil {
			awsCfg, err := config.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to load AWS config: %w", err)
			}
			client = s3.NewFromConfig(awsCfg)
		}
		return NewS3(client, u.Host, strings.Trim(u.Path, "/")), nil

	case "file":
		return NewDir(u.Path), nil

	default:
		return nil, fmt.Errorf("unsupported mirror scheme %q", u.Scheme)
	}
}

// Mirrored is a Source that fails over between mirrors.
type Mirrored struct {
	pool    *mirror.Pool
	sources map[string]Source
}

// NewMirrored builds a source for every mirror and a pool to choose
// between them.
func NewMirrored(ctx context.Context, mirrors []mirror.Mirror, opts Options, poolOpts ...mirror.Option) (*Mirrored, error) {
	if opts.HTTPClient == nil {
		client, err := NewHTTPClient(opts.TLS, opts.Timeout)
		if err != nil {
			return nil, err
		}
		opts.HTTPClient = client
	}

	sources := make(map[string]Source, len(mirrors))
	for _, m := range mirrors {
		src, err := NewSource(ctx, m, opts)
		if err != nil {
			return nil, err
		}
		sources[m.URL] = src
	}

	poolOpts = append([]mirror.Option{mirror.WithIsSuccessful(isSuccessful)}, poolOpts...)
	return &Mirrored{
		pool:    mirror.NewPool(mirrors, poolOpts...),
		sources: sources,
	}, nil
}

// Open opens file on the first mirror able to serve it.
func (m *Mirrored) Open(ctx context.Context, file string) (io.ReadCloser, int64, error) {
	var (
		rc   io.ReadCloser
		size int64
	)
	err := m.pool.Do(ctx, func(ctx context.Context, mir mirror.Mirror) error {
		r, n, err := m.sources[mir.URL].Open(ctx, file)
		if err != nil {
			return err
		}
		rc, size = r, n
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return rc, size, nil
}

// Pool returns the mirror pool, for health reporting.
func (m *Mirrored) Pool() *mirror.Pool {
	return m.pool
}
