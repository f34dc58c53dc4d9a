package types

import (
	"errors"
	"strings"
	"testing"
)

func TestTransferError_MessageAndUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewTransferError("fetch", cause)

	if !strings.Contains(err.Error(), "fetch") {
		t.Errorf("expected operation name in message, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("expected cause in message, got %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to match the cause")
	}
	if errors.Unwrap(err) != cause {
		t.Error("expected Unwrap to return the cause")
	}
}

func TestTransferError_IsSentinel(t *testing.T) {
	err := NewTransferError("verify", ErrHashMismatch)

	if !errors.Is(err, ErrHashMismatch) {
		t.Error("expected wrapped sentinel to match")
	}
	if errors.Is(err, ErrQueueFull) {
		t.Error("unexpected sentinel match")
	}
}

func TestTransferError_WithContext(t *testing.T) {
	err := NewTransferError("publish", errors.New("rename failed")).
		WithContext("path", "/data/report.pdf").
		WithContext("attempt", 2)

	if err.Context["path"] != "/data/report.pdf" {
		t.Errorf("expected path context, got %v", err.Context["path"])
	}
	if err.Context["attempt"] != 2 {
		t.Errorf("expected attempt context, got %v", err.Context["attempt"])
	}
}
