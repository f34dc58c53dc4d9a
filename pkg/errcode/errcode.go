// Package errcode defines the result-code classification table shared by
// the download and push paths.
//
// The table maps service result codes to a human description and a
// retryable flag. Codes not present in the table are treated as
// non-retryable: an unknown code is more likely a permanent contract
// violation than a transient outage.
package errcode

import (
	"errors"
	"net"
	"net/url"
)

// Service result codes.
const (
	Success            = 200
	InvalidAuth        = 201
	NoData             = 202
	UploadFailed       = 203
	TooManyRequests    = 429
	InternalError      = 500
	BadGateway         = 502
	ServiceUnavailable = 503
	GatewayTimeout     = 504
)

// Classification describes a result code: what it means and whether
// repeating the operation is likely to succeed.
type Classification struct {
	Code        int
	Description string
	Retryable   bool
}

var table = map[int]Classification{
	Success:            {Success, "success", false},
	InvalidAuth:        {InvalidAuth, "invalid appid or appsecret", false},
	NoData:             {NoData, "no data found", false},
	UploadFailed:       {UploadFailed, "upload failed", true},
	TooManyRequests:    {TooManyRequests, "too many requests", true},
	InternalError:      {InternalError, "internal server error", true},
	BadGateway:         {BadGateway, "bad gateway", true},
	ServiceUnavailable: {ServiceUnavailable, "service unavailable", true},
	GatewayTimeout:     {GatewayTimeout, "gateway timeout", true},
}

// FromCode looks up the classification for a service result code.
// Unknown codes fail closed: non-retryable.
func FromCode(code int) Classification {
	if c, ok := table[code]; ok {
		return c
	}
	return Classification{Code: code, Description: "unknown code", Retryable: false}
}

// IsRetryable reports whether a service result code is worth retrying.
func IsRetryable(code int) bool {
	return FromCode(code).Retryable
}

// FromHTTPStatus maps an HTTP status code to a classification.
//
// 400/401/403 are credential or request-shape failures and map to the
// invalid-auth entry. Unknown 4xx codes are non-retryable (the request
// itself is wrong; repeating it cannot help), while unknown 5xx codes map
// to internal-error and stay retryable.
func FromHTTPStatus(status int) Classification {
	switch status {
	case 400, 401, 403:
		return table[InvalidAuth]
	case 429:
		return table[TooManyRequests]
	case 502:
		return table[BadGateway]
	case 503:
		return table[ServiceUnavailable]
	case 504:
		return table[GatewayTimeout]
	}
	if status >= 400 && status < 500 {
		return Classification{Code: status, Description: "client error", Retryable: false}
	}
	return table[InternalError]
}

// StatusError is an error carrying a result-code classification.
type StatusError struct {
	Class   Classification
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Class.Description
}

// Retryable reports whether the underlying classification is retryable.
func (e *StatusError) Retryable() bool {
	return e.Class.Retryable
}

// Retryable decides whether a failed operation is worth retrying.
//
// Classified errors follow their classification. Transport-level failures
// (timeouts, refused connections, DNS errors) surface as *url.Error or
// net.Error before any status code exists and are retryable. Everything
// else fails closed.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
