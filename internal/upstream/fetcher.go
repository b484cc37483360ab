// Package upstream fetches the integrator export document.
package upstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/integrator/internal/payload"
	"github.com/MrSnakeDoc/integrator/internal/version"
)

const (
	// DefaultURL is the integrator export endpoint.
	DefaultURL = "https://hub.alpes.one/api/v1/integrator/export/1902"

	DefaultTimeout = 30 * time.Second

	// maxBodyBytes caps a response body; anything longer is malformed for us.
	maxBodyBytes = 10 << 20

	// maxErrorBody is how much of a failed response is kept for logging.
	maxErrorBody = 2 << 10
)

// ErrUnavailable covers transport failures, timeouts and non-2xx answers.
var ErrUnavailable = errors.New("upstream unavailable")

// UpstreamError is returned when the upstream answered with a non-2xx status.
type UpstreamError struct {
	StatusCode int
	Body       string // truncated
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream answered %d", e.StatusCode)
}

// Unwrap lets callers test the error with errors.Is(err, ErrUnavailable).
func (e *UpstreamError) Unwrap() error { return ErrUnavailable }

// Fetcher performs one bounded GET per call. It never retries.
type Fetcher struct {
	url    string
	client *http.Client
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient replaces the HTTP client (tests use httptest's).
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// New creates a fetcher for url. A zero timeout means DefaultTimeout.
func New(url string, timeout time.Duration, opts ...Option) *Fetcher {
	if url == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	f := &Fetcher{
		url:    url,
		client: newClient(timeout),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

func newClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   timeout,
			ResponseHeaderTimeout: timeout,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:    2,
			IdleConnTimeout: 90 * time.Second,
		},
	}
}

// URL is the address every Fetch hits.
func (f *Fetcher) URL() string { return f.url }

// Fetch GETs the upstream document and decodes it.
//
// Errors wrap ErrUnavailable (transport, timeout, *UpstreamError for non-2xx)
// or payload.ErrMalformed (body is not one JSON value). An empty body
// decodes to payload.Null.
func (f *Fetcher) Fetch(ctx context.Context) (payload.Value, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("upstream: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	// Read one byte past the cap so oversize bodies are detected, not truncated.
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", payload.ErrMalformed, maxBodyBytes)
	}

	v, err := payload.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("upstream: %w", err)
	}
	return v, nil
}
