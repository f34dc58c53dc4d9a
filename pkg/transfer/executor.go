package transfer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/limsync/limsync/pkg/types"
)

// defaultChunkSize is the streaming buffer size in bytes.
const defaultChunkSize = 8192

// tempSuffix marks in-progress downloads next to their destination.
const tempSuffix = ".part"

// Executor performs one end-to-end fetch attempt: probe size, stream to a
// temp file while hashing, atomically publish, verify checksum. Each retry
// attempt re-runs all steps from scratch; there is no partial resume.
type Executor struct {
	client    *http.Client
	chunkSize int
	clock     types.Clock
	logger    *zap.Logger
}

// NewExecutor creates a transfer executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		client:    &http.Client{},
		chunkSize: defaultChunkSize,
		clock:     types.NewRealClock(),
		logger:    zap.NewNop(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithClient sets the HTTP client used for probe and body fetches.
func WithClient(client *http.Client) ExecutorOption {
	return func(e *Executor) { e.client = client }
}

// WithChunkSize sets the streaming buffer size.
func WithChunkSize(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// WithExecutorClock sets the clock used for fallback filenames.
func WithExecutorClock(clock types.Clock) ExecutorOption {
	return func(e *Executor) { e.clock = clock }
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(logger *zap.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// RunOnce performs a single fetch attempt for the request.
//
// The destination only ever contains either the previous complete file or
// the new complete file: the body streams into <dest>.part and is renamed
// into place only after the stream completes. On a checksum mismatch the
// attempt fails but the published file is not rolled back; the caller must
// treat a mismatch result as needing cleanup.
func (e *Executor) RunOnce(ctx context.Context, req *Request) (Result, error) {
	totalSize := e.probeSize(ctx, req)

	final := filepath.Join(req.Dir, e.deriveFilename(req.URL))
	tmp := final + tempSuffix

	computed, err := e.streamToTemp(ctx, req, tmp, totalSize)
	if err != nil {
		e.cleanupTemp(tmp)
		return Result{}, types.NewTransferError("fetch", err).
			WithContext("url", req.URL)
	}

	// Publish: remove any previous version, then rename the complete temp
	// file into place.
	if err := os.Remove(final); err != nil && !os.IsNotExist(err) {
		e.cleanupTemp(tmp)
		return Result{}, types.NewTransferError("publish",
			fmt.Errorf("remove previous file %s: %w", final, err)).
			WithContext("path", final)
	}
	if err := os.Rename(tmp, final); err != nil {
		e.cleanupTemp(tmp)
		return Result{}, types.NewTransferError("publish", err).
			WithContext("path", final)
	}

	if req.ExpectedHash != "" && computed != req.ExpectedHash {
		return Result{}, types.NewTransferError("verify",
			fmt.Errorf("%w: expected %s, got %s",
				types.ErrHashMismatch, req.ExpectedHash, computed)).
			WithContext("path", final)
	}

	return Result{Status: StatusSuccess, Path: final, Hash: computed}, nil
}

// probeSize issues a metadata-only HEAD request for the content length.
// Any failure is swallowed: the transfer proceeds with unknown size and
// progress reporting becomes a no-op.
func (e *Executor) probeSize(ctx context.Context, req *Request) int64 {
	headReq, err := http.NewRequestWithContext(ctx, http.MethodHead, req.URL, nil)
	if err != nil {
		return 0
	}
	applyHeaders(headReq, req.Headers)

	resp, err := e.client.Do(headReq)
	if err != nil {
		e.logger.Debug("size probe failed",
			zap.String("url", req.URL),
			zap.Error(err))
		return 0
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 || resp.ContentLength < 0 {
		return 0
	}
	return resp.ContentLength
}

// streamToTemp fetches the body into the temp file in fixed-size chunks,
// feeding each chunk into the hash accumulator and the progress sink.
// Cancellation is checked at every chunk boundary so a hung connection can
// be abandoned without a pool-wide shutdown.
func (e *Executor) streamToTemp(ctx context.Context, req *Request, tmp string, totalSize int64) (string, error) {
	getReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	applyHeaders(getReq, req.Headers)

	resp, err := e.client.Do(getReq)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch %s: unexpected status %d", req.URL, resp.StatusCode)
	}

	if totalSize == 0 && resp.ContentLength > 0 {
		totalSize = resp.ContentLength
	}

	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create temp file %s: %w", tmp, err)
	}

	digest := md5.New()
	received, err := e.copyChunks(ctx, f, resp.Body, digest, req.Progress, totalSize)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close temp file %s: %w", tmp, cerr)
	}
	if err != nil {
		return "", err
	}

	if totalSize > 0 && received != totalSize {
		return "", fmt.Errorf("fetch %s: size mismatch, got %d of %d bytes", req.URL, received, totalSize)
	}

	return hex.EncodeToString(digest.Sum(nil)), nil
}

// copyChunks streams body to f chunk by chunk, hashing and reporting
// progress along the way.
func (e *Executor) copyChunks(ctx context.Context, f *os.File, body io.Reader, digest hash.Hash, progress func(int), totalSize int64) (int64, error) {
	buf := make([]byte, e.chunkSize)
	var received int64

	for {
		select {
		case <-ctx.Done():
			return received, ctx.Err()
		default:
		}

		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return received, fmt.Errorf("write chunk: %w", werr)
			}
			digest.Write(buf[:n])
			received += int64(n)

			if totalSize > 0 && progress != nil {
				// A body longer than the probed size still fails the
				// transfer below; the sink never sees more than 100.
				pct := int(received * 100 / totalSize)
				if pct > 100 {
					pct = 100
				}
				progress(pct)
			}
		}
		if err == io.EOF {
			return received, nil
		}
		if err != nil {
			return received, fmt.Errorf("read body: %w", err)
		}
	}
}

// cleanupTemp removes a stale temp file. Best effort: a secondary delete
// failure is logged, never raised over the original error.
func (e *Executor) cleanupTemp(tmp string) {
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		e.logger.Warn("temp file cleanup failed",
			zap.String("path", tmp),
			zap.Error(err))
	}
}

// deriveFilename extracts the file name from the locator path, falling
// back to a timestamp-based name when the path carries none.
func (e *Executor) deriveFilename(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if name := path.Base(u.Path); name != "" && name != "." && name != "/" {
			return name
		}
	}
	return fmt.Sprintf("download_%d", e.clock.Now().Unix())
}

func applyHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}
