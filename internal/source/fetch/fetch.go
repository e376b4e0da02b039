// Package fetch is the outbound HTTP client shared by source adapters.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/time/rate"
)

// Browser-like defaults. Several markup sources reject bare client user agents.
const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	defaultAccept   = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	defaultLanguage = "en-US,en;q=0.5"
	defaultTimeout  = 15 * time.Second
	maxBodyBytes    = 10 << 20
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// Config tunes a Fetcher. Zero values fall back to defaults.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// RatePerSecond caps outbound requests. 0 disables limiting.
	RatePerSecond float64
	Burst         int
	// Transport overrides the underlying round tripper (tests).
	Transport http.RoundTripper
}

// Fetcher issues rate-limited requests with decoded bodies.
// Safe for concurrent use; holds no per-call state.
type Fetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
}

// New creates a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &Fetcher{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: NewDecodingTransport(cfg.Transport),
		},
		limiter:   limiter,
		userAgent: cfg.UserAgent,
	}
}

// HTTPClient exposes the underlying client for SDKs that bring their own request logic.
func (f *Fetcher) HTTPClient() *http.Client { return f.client }

// Get fetches rawURL with params appended and returns the decoded body.
func (f *Fetcher) Get(ctx context.Context, rawURL string, params url.Values, header http.Header) ([]byte, error) {
	u, err := withParams(rawURL, params)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	copyHeader(req.Header, header)
	return f.Do(req)
}

// GetJSON fetches rawURL and decodes the JSON body into out.
func (f *Fetcher) GetJSON(ctx context.Context, rawURL string, params url.Values, header http.Header, out any) error {
	h := http.Header{"Accept": []string{"application/json"}}
	copyHeader(h, header)
	body, err := f.Get(ctx, rawURL, params, h)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return nil
}

// PostJSON sends payload as JSON and decodes the JSON response into out.
func (f *Fetcher) PostJSON(ctx context.Context, rawURL string, payload, out any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	body, err := f.Do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return nil
}

// Do waits for the rate limiter, sends req with default headers and reads the body.
func (f *Fetcher) Do(req *http.Request) ([]byte, error) {
	if err := f.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	setDefault(req.Header, "User-Agent", f.userAgent)
	setDefault(req.Header, "Accept", defaultAccept)
	setDefault(req.Header, "Accept-Language", defaultLanguage)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &StatusError{Code: resp.StatusCode, URL: req.URL.Redacted()}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func withParams(rawURL string, params url.Values) (string, error) {
	if len(params) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func copyHeader(dst, src http.Header) {
	for k, vs := range src {
		dst.Del(k)
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func setDefault(h http.Header, key, value string) {
	if h.Get(key) == "" {
		h.Set(key, value)
	}
}
