package model

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrConfig is returned when the feed configuration is missing or invalid.
	// It is detected before any I/O and is fatal.
	ErrConfig = errors.New("invalid configuration")
	// ErrTimeout is returned when a confirm or wait deadline passes without activity
	ErrTimeout = errors.New("timeout")
	// ErrFormat is returned when wire data from a response cannot be decoded
	ErrFormat = errors.New("malformed change data")
	// ErrSource is returned when the data source fails during a query
	ErrSource = errors.New("data source error")
	// ErrInternal marks a broken invariant. It always kills the feed.
	ErrInternal = errors.New("internal error")
	// ErrCanceled is returned when the operation is canceled by the caller
	ErrCanceled = errors.New("operation canceled")
)

// IsFatal reports whether err must terminate the feed instead of being retried.
// Only configuration errors and internal invariant violations are fatal.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfig) || errors.Is(err, ErrInternal)
}

// WrapError wraps data source errors to model errors.
// It converts context.Canceled and context.DeadlineExceeded to ErrCanceled.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsCanceled(err) {
		return ErrCanceled
	}
	return err
}

// IsCanceled returns true if the error is due to context cancellation or deadline exceeded.
// It checks both direct context errors and wrapped errors (e.g., from MongoDB driver).
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, ErrCanceled) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "context canceled") || strings.Contains(errStr, "context deadline exceeded")
}
