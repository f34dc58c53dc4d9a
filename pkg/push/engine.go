package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/limsync/limsync/pkg/errcode"
	"github.com/limsync/limsync/pkg/metrics"
	"github.com/limsync/limsync/pkg/retry"
	"github.com/limsync/limsync/pkg/types"
)

// DefaultBatchSize bounds how many records travel in one envelope.
const DefaultBatchSize = 100

// maxResponseBody caps how much of a response body is read.
const maxResponseBody = 1 << 20

// EngineConfig defines configuration for the push engine.
type EngineConfig struct {
	// Endpoint is the push URL.
	Endpoint string

	// AppID and AppSecret sign each envelope.
	AppID     string
	AppSecret string

	// BatchSize bounds records per envelope. Defaults to DefaultBatchSize.
	BatchSize int

	// Policy governs the exponential push retries.
	Policy retry.Policy

	// Client is the HTTP client for sends (optional).
	Client *http.Client

	// Clock for backoff sleeps (optional, defaults to real clock).
	Clock types.Clock

	// Logger for send and validation logging.
	Logger *zap.Logger

	// Metrics receives request and batch counters. May be nil.
	Metrics *metrics.Collector
}

// Summary is the aggregate outcome of one Send call: batches are
// independent, so some may succeed while others fail (at-least-once,
// partial-success semantics).
type Summary struct {
	BatchCount   int
	SuccessCount int
	FailureCount int
}

// Engine validates, batches, signs, and transmits outbound records.
// It holds no mutable state of its own beyond the injected counters, so a
// single Engine is safe to use from concurrent callers; within one Send
// call batches go out sequentially, in order.
type Engine struct {
	endpoint  string
	appID     string
	appSecret string
	batchSize int
	policy    retry.Policy
	client    *http.Client
	clock     types.Clock
	logger    *zap.Logger
	metrics   *metrics.Collector
}

// NewEngine validates the configuration and creates a push engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.AppID == "" {
		return nil, fmt.Errorf("%w: appid must not be empty", types.ErrInvalidRequest)
	}
	if cfg.AppSecret == "" {
		return nil, fmt.Errorf("%w: appsecret must not be empty", types.ErrInvalidRequest)
	}
	if _, err := url.ParseRequestURI(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("%w: invalid endpoint: %v", types.ErrInvalidRequest, err)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Policy == (retry.Policy{}) {
		cfg.Policy = retry.DefaultPolicy()
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidRequest, err)
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Clock == nil {
		cfg.Clock = types.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Engine{
		endpoint:  cfg.Endpoint,
		appID:     cfg.AppID,
		appSecret: cfg.AppSecret,
		batchSize: cfg.BatchSize,
		policy:    cfg.Policy,
		client:    cfg.Client,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}, nil
}

// Send validates records, partitions them into order-preserving batches,
// and transmits each batch with retries. A batch that exhausts its retry
// budget is recorded as failed and processing moves on; there is no
// cross-batch rollback.
func (e *Engine) Send(ctx context.Context, records []Record) Summary {
	valid := e.filterValid(records)
	batches := partition(valid, e.batchSize)

	summary := Summary{BatchCount: len(batches)}
	for i, batch := range batches {
		e.logger.Info("sending batch",
			zap.Int("batch", i+1),
			zap.Int("batches", len(batches)),
			zap.Int("records", len(batch)))

		if err := e.sendBatch(ctx, batch); err != nil {
			summary.FailureCount++
			e.metrics.Inc(metrics.BatchError)
			e.logger.Error("batch failed",
				zap.Int("batch", i+1),
				zap.Int("records", len(batch)),
				zap.String("error", err.Error()))
			continue
		}

		summary.SuccessCount++
		e.metrics.Inc(metrics.BatchSuccess)
	}
	return summary
}

// filterValid drops invalid records with a logged reason and a parse.error
// increment. A single bad record never aborts the whole job.
func (e *Engine) filterValid(records []Record) []Record {
	valid := make([]Record, 0, len(records))
	for _, r := range records {
		if err := r.Validate(); err != nil {
			e.metrics.Inc(metrics.ParseError)
			e.logger.Warn("dropping invalid record",
				zap.String("detect_no", r.DetectNo),
				zap.String("error", err.Error()))
			continue
		}
		valid = append(valid, r)
	}
	return valid
}

// sendBatch transmits one signed envelope with exponential backoff,
// classifying failures through the result-code table.
func (e *Engine) sendBatch(ctx context.Context, batch []Record) error {
	envelope := newEnvelope(e.appID, e.appSecret, batch)

	executor := retry.NewExecutor(e.policy,
		retry.WithBackoff(retry.NewExponentialBackoff(e.policy)),
		retry.WithClassifier(errcode.Retryable),
		retry.WithClock(e.clock),
		retry.WithLogger(e.logger),
	)

	_, attempts, err := retry.ExecuteAttempts(executor, ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.post(ctx, envelope)
	})
	if err != nil {
		e.metrics.Inc(metrics.RequestFailure)
		return err
	}

	e.metrics.Inc(metrics.RequestSuccess)
	if attempts > 1 {
		// Success after at least one retry, tracked separately so retry
		// effectiveness stays observable.
		e.metrics.Inc(metrics.RequestRetrySuccess)
	}
	return nil
}

// apiResponse is the service's response body shape.
type apiResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// post performs a single HTTP send of the envelope.
func (e *Engine) post(ctx context.Context, envelope Envelope) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("send batch [request_id=%s]: %w", requestID, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("read response [request_id=%s]: %w", requestID, err)
	}

	if resp.StatusCode >= 400 {
		class := errcode.FromHTTPStatus(resp.StatusCode)
		return &errcode.StatusError{
			Class: class,
			Message: fmt.Sprintf("push rejected [request_id=%s]: status %d: %s",
				requestID, resp.StatusCode, class.Description),
		}
	}

	var parsed apiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		// An unparseable body from a 2xx response usually means a proxy or
		// gateway interposed; treat it as a retryable server-side fault.
		return &errcode.StatusError{
			Class:   errcode.FromCode(errcode.InternalError),
			Message: fmt.Sprintf("invalid response format [request_id=%s]: %v", requestID, err),
		}
	}

	if parsed.Code == errcode.Success || parsed.Code == 0 {
		e.logger.Debug("batch accepted",
			zap.String("request_id", requestID),
			zap.String("message", parsed.Msg))
		return nil
	}

	class := errcode.FromCode(parsed.Code)
	return &errcode.StatusError{
		Class: class,
		Message: fmt.Sprintf("push failed [request_id=%s]: code %d: %s",
			requestID, parsed.Code, parsed.Msg),
	}
}

// partition splits records into size-bounded batches, preserving input
// order.
func partition(records []Record, size int) [][]Record {
	if len(records) == 0 {
		return nil
	}
	batches := make([][]Record, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[start:end])
	}
	return batches
}
