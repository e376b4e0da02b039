package fetch

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// DecodingTransport advertises br/gzip and transparently decodes the response body.
type DecodingTransport struct {
	next http.RoundTripper
}

// NewDecodingTransport wraps next. nil means http.DefaultTransport.
func NewDecodingTransport(next http.RoundTripper) *DecodingTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &DecodingTransport{next: next}
}

// RoundTrip implements http.RoundTripper.
func (t *DecodingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Accept-Encoding", "br, gzip")
	}

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if err := decodeBody(resp); err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("decode response body: %w", err)
	}
	return resp, nil
}

type decodedBody struct {
	io.Reader
	closers []io.Closer
}

func (b *decodedBody) Close() error {
	var errs []error
	for _, c := range b.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// decodeBody unwraps Content-Encoding layers in reverse order of application.
func decodeBody(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}
	encodings := resp.Header.Values("Content-Encoding")
	if len(encodings) == 0 {
		return nil
	}

	var r io.Reader = resp.Body
	closers := []io.Closer{resp.Body}
	for i := len(encodings) - 1; i >= 0; i-- {
		for _, enc := range reverse(strings.Split(encodings[i], ",")) {
			switch strings.ToLower(strings.TrimSpace(enc)) {
			case "", "identity":
			case "gzip", "x-gzip":
				zr, err := gzip.NewReader(r)
				if err != nil {
					return fmt.Errorf("gzip: %w", err)
				}
				closers = append([]io.Closer{zr}, closers...)
				r = zr
			case "br":
				r = brotli.NewReader(r)
			default:
				return fmt.Errorf("unsupported content encoding %q", enc)
			}
		}
	}

	resp.Body = &decodedBody{Reader: r, closers: closers}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

func reverse(parts []string) []string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[len(parts)-1-i] = p
	}
	return out
}
