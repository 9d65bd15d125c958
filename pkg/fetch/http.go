package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// UserAgent is sent with every HTTP request.
const UserAgent = "pacdb/1"

// HTTP reads files from a mirror served over HTTP(S).
type HTTP struct {
	base   string
	client *http.Client
	creds  *Credentials
}

// NewHTTP creates a source for the repository at base. creds may be nil.
func NewHTTP(base string, client *http.Client, creds *Credentials) *HTTP {
	return &HTTP{base: base, client: client, creds: creds}
}

func (h *HTTP) Open(ctx context.Context, file string) (io.ReadCloser, int64, error) {
	u, err := url.JoinPath(h.base, file)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid mirror URL %q: %w", h.base, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", UserAgent)
	if h.creds != nil {
		req.SetBasicAuth(h.creds.Username, h.creds.Password)
	}

	res, err := h.client.Do(req)
	if err != nil {
		return nil, 0, err
	}

	if res.StatusCode == http.StatusOK {
		return res.Body, res.ContentLength, nil
	}

	// Map HTTP status codes to source errors
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
	switch {
	case res.StatusCode == http.StatusNotFound:
		return nil, 0, &NotFoundError{File: file, Source: h.base}
	case res.StatusCode >= 500:
		return nil, 0, &UnavailableError{Source: h.base, Message: fmt.Sprintf("%s: %s", res.Status, body)}
	default:
		return nil, 0, &StatusError{Code: res.StatusCode, Message: string(body)}
	}
}
