package fetch

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// TLSConfig holds TLS configuration options for HTTP mirrors.
type TLSConfig struct {
	// Insecure disables TLS certificate verification and allows http://
	// mirrors. NOT RECOMMENDED FOR PRODUCTION USE.
	Insecure bool `json:"insecure,omitempty"`

	// CACertFile is path to a PEM file containing trusted CA certificates.
	// If empty, system CA certificates are used.
	CACertFile string `json:"ca_cert_file,omitempty"`
}

// DefaultTimeout is the default timeout for HTTP requests. Database
// archives can be several megabytes, so this is longer than an API call.
const DefaultTimeout = 2 * time.Minute

// NewHTTPClient creates an http.Client with the specified TLS configuration
// and timeout. A zero timeout selects DefaultTimeout.
func NewHTTPClient(cfg TLSConfig, timeout time.Duration) (*http.Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	tlsCfg := &tls.Config{}

	if cfg.Insecure {
		tlsCfg.InsecureSkipVerify = true
	}

	if cfg.CACertFile != "" {
		caCert, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate file %q: %w", cfg.CACertFile, err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate file %q: no valid certificates found", cfg.CACertFile)
		}
		tlsCfg.RootCAs = pool
	}

	return &http.Client{
		Transport: &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: tlsCfg,
		},
		Timeout: timeout,
	}, nil
}

// ValidateURL checks if a URL is allowed given this TLS configuration.
// Returns an error if the URL uses http:// without insecure mode enabled.
func (c TLSConfig) ValidateURL(url string) error {
	if strings.HasPrefix(url, "http://") && !c.Insecure {
		return fmt.Errorf("URL %q uses insecure http:// protocol; use https:// or pass --insecure flag to allow insecure connections", url)
	}
	return nil
}
