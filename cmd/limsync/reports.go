package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/limsync/limsync/pkg/errcode"
	"github.com/limsync/limsync/pkg/push"
	"github.com/limsync/limsync/pkg/retry"
)

const maxResponseBody = 1 << 20

// report is one downloadable entry returned by the query endpoint.
type report struct {
	BoardNo    string `json:"board_no"`
	ReportPath string `json:"report_path"`
}

type queryRequest struct {
	AppID     string `json:"appid"`
	Sign      string `json:"sign"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

type queryResponse struct {
	Code int      `json:"code"`
	Msg  string   `json:"msg"`
	Data []report `json:"data"`
}

// reportClient queries the service for reports ready to download.
type reportClient struct {
	endpoint  string
	appID     string
	appSecret string
	client    *http.Client
	exec      *retry.Executor
	logger    *zap.Logger
}

func newReportClient(endpoint, appID, appSecret string, policy retry.Policy, logger *zap.Logger) (*reportClient, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("query endpoint is required")
	}
	return &reportClient{
		endpoint:  endpoint,
		appID:     appID,
		appSecret: appSecret,
		client:    &http.Client{Timeout: 60 * time.Second},
		exec: retry.NewExecutor(policy,
			retry.WithBackoff(retry.NewExponentialBackoff(policy)),
			retry.WithClassifier(errcode.Retryable),
			retry.WithLogger(logger),
		),
		logger: logger,
	}, nil
}

// List fetches the reports available between start and end, retrying on
// transient failures.
func (c *reportClient) List(ctx context.Context, start, end time.Time) ([]report, error) {
	return retry.Execute(c.exec, ctx, func(ctx context.Context) ([]report, error) {
		return c.query(ctx, start, end)
	})
}

func (c *reportClient) query(ctx context.Context, start, end time.Time) ([]report, error) {
	const layout = "2006-01-02 15:04:05"
	body, err := json.Marshal(queryRequest{
		AppID:     c.appID,
		Sign:      push.Sign(c.appID, c.appSecret),
		StartTime: start.Format(layout),
		EndTime:   end.Format(layout),
	})
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read query response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &errcode.StatusError{
			Class:   errcode.FromHTTPStatus(resp.StatusCode),
			Message: fmt.Sprintf("query returned HTTP %d", resp.StatusCode),
		}
	}

	var qr queryResponse
	if err := json.Unmarshal(raw, &qr); err != nil {
		return nil, &errcode.StatusError{
			Class:   errcode.FromCode(errcode.InternalError),
			Message: fmt.Sprintf("unparseable query response: %v", err),
		}
	}
	if qr.Code != errcode.Success && qr.Code != 0 {
		return nil, &errcode.StatusError{
			Class:   errcode.FromCode(qr.Code),
			Message: qr.Msg,
		}
	}
	return qr.Data, nil
}

// downloadURL normalizes a report path into a fetchable URL. Paths
// without a scheme are assumed to be https hosts.
func downloadURL(reportPath string) string {
	if strings.HasPrefix(reportPath, "http://") || strings.HasPrefix(reportPath, "https://") {
		return reportPath
	}
	return "https://" + strings.TrimPrefix(reportPath, "/")
}
