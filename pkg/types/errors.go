// Package types defines error types
package types

import (
	"errors"
	"fmt"
)

// Predefined errors
var (
	// ErrManagerClosed indicates the transfer manager no longer accepts work
	ErrManagerClosed = errors.New("transfer manager is closed")

	// ErrQueueFull indicates the transfer queue is full
	ErrQueueFull = errors.New("transfer queue is full")

	// ErrInvalidRequest indicates invalid request parameters
	ErrInvalidRequest = errors.New("invalid request")

	// ErrHashMismatch indicates downloaded content failed checksum verification
	ErrHashMismatch = errors.New("checksum mismatch")
)

// TransferError represents an error in transfer processing with
// operation context attached.
type TransferError struct {
	// Op is the name of the operation where the error occurred
	Op string

	// Cause is the underlying error
	Cause error

	// Context contains error context information
	Context map[string]interface{}
}

// Error implements the error interface
func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer error in operation %s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying error
func (e *TransferError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is a specific error
func (e *TransferError) Is(target error) bool {
	return errors.Is(e.Cause, target)
}

// NewTransferError creates a new transfer error
func NewTransferError(op string, cause error) *TransferError {
	return &TransferError{
		Op:      op,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds error context
func (e *TransferError) WithContext(key string, value interface{}) *TransferError {
	e.Context[key] = value
	return e
}
