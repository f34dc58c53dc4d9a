// Package transfer implements the resilient file-fetch engine: a single
// attempt executor with atomic publish and checksum verification, and a
// bounded-concurrency manager that schedules attempts through the retry
// executor.
package transfer

import (
	"fmt"
	"net/url"
	"os"

	"github.com/limsync/limsync/pkg/retry"
	"github.com/limsync/limsync/pkg/types"
)

// Request describes one resource to fetch. Construct with NewRequest,
// which validates parameters and creates the destination directory; treat
// the value as read-only afterwards.
type Request struct {
	// URL is the resource locator.
	URL string

	// Dir is the destination directory. The fetched file is published
	// under its URL-derived name inside this directory.
	Dir string

	// ExpectedHash, when set, is compared case-sensitively against the
	// hex MD5 of the streamed content.
	ExpectedHash string

	// Headers are sent on both the size probe and the body fetch.
	Headers map[string]string

	// Progress, when set, receives floor(received/total*100) after each
	// chunk, if the total size is known.
	Progress func(percent int)

	// Policy governs the fixed-delay download retries.
	Policy retry.Policy
}

// RequestOption configures a Request at construction.
type RequestOption func(*Request)

// WithExpectedHash sets the expected content hash.
func WithExpectedHash(hash string) RequestOption {
	return func(r *Request) { r.ExpectedHash = hash }
}

// WithHeaders sets request headers.
func WithHeaders(headers map[string]string) RequestOption {
	return func(r *Request) { r.Headers = headers }
}

// WithProgress sets the progress sink.
func WithProgress(fn func(percent int)) RequestOption {
	return func(r *Request) { r.Progress = fn }
}

// WithPolicy sets the download retry policy.
func WithPolicy(p retry.Policy) RequestOption {
	return func(r *Request) { r.Policy = p }
}

// NewRequest validates the locator and destination and creates the
// destination directory (idempotent).
func NewRequest(rawURL, dir string, opts ...RequestOption) (*Request, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("%w: url must not be empty", types.ErrInvalidRequest)
	}
	if dir == "" {
		return nil, fmt.Errorf("%w: destination directory must not be empty", types.ErrInvalidRequest)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidRequest, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", types.ErrInvalidRequest, u.Scheme)
	}

	r := &Request{
		URL:    rawURL,
		Dir:    dir,
		Policy: retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidRequest, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create destination directory: %w", err)
	}

	return r, nil
}
