// Package errors provides error types and utilities for the giftrelay packages.
package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"syscall"
	"time"
)

// Kind represents the category of error
type Kind string

const (
	// KindTransient represents upstream failures eligible for retry
	KindTransient Kind = "transient"
	// KindValidation represents malformed input
	KindValidation Kind = "validation"
	// KindTimeout represents a queued item that waited too long
	KindTimeout Kind = "timeout"
	// KindCacheWrite represents durable persistence failures
	KindCacheWrite Kind = "cache_write"
	// KindBatchItem represents a single failed item of a batch
	KindBatchItem Kind = "batch_item"
	// KindCache represents cache-specific errors
	KindCache Kind = "cache"
	// KindOperation represents any other operation error
	KindOperation Kind = "operation"
)

// Common errors
var (
	// Upstream errors
	ErrTransientUpstream = errors.New("transient upstream failure")
	ErrUpstream          = errors.New("upstream request failed")

	// Queue and batch errors
	ErrTimeout     = errors.New("queued item timed out before starting")
	ErrQueueClosed = errors.New("queue is closed")
	ErrBatchItem   = errors.New("batch item failed")
	ErrPanic       = errors.New("work item panicked")

	// Cache errors
	ErrCacheClosed     = errors.New("cache is closed")
	ErrKeyNotFound     = errors.New("key not found")
	ErrCacheWrite      = errors.New("cache persistence failed")
	ErrQuotaExceeded   = errors.New("storage quota exceeded")
	ErrContextCanceled = errors.New("operation canceled by context")

	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrInvalidInput  = errors.New("invalid input")
)

// Error represents a giftrelay operation error
type Error struct {
	Kind Kind
	Op   string
	Key  any
	Err  error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Key != nil {
		return fmt.Sprintf("%s: %s: key=%v: %v", e.Kind, e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the target error is an *Error of the same kind and op
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Op == t.Op && errors.Is(e.Err, t.Err)
}

// New creates a new *Error of the given kind
func New(kind Kind, op string, key any, err error) error {
	return &Error{Kind: kind, Op: op, Key: key, Err: err}
}

// UpstreamError is returned by upstream clients for non-2xx responses.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the status is worth retrying (429 and 5xx).
func (e *UpstreamError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Is lets errors.Is match ErrTransientUpstream / ErrUpstream.
func (e *UpstreamError) Is(target error) bool {
	switch target {
	case ErrTransientUpstream:
		return e.Transient()
	case ErrUpstream:
		return true
	}
	return false
}

// kindOf determines the kind based on the error
func kindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrTransientUpstream):
		return KindTransient
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrCacheWrite) || errors.Is(err, ErrQuotaExceeded):
		return KindCacheWrite
	case errors.Is(err, ErrBatchItem):
		return KindBatchItem
	case errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrInvalidInput):
		return KindValidation
	case errors.Is(err, ErrCacheClosed) || errors.Is(err, ErrKeyNotFound):
		return KindCache
	default:
		return KindOperation
	}
}

// Metrics tracks error statistics
type Metrics struct {
	Transient  atomic.Int64
	Validation atomic.Int64
	Timeout    atomic.Int64
	CacheWrite atomic.Int64
	BatchItem  atomic.Int64
	Cache      atomic.Int64
	Operation  atomic.Int64

	PanicRecoveries atomic.Int64
	LastError       atomic.Value // time.Time
}

var metrics = &Metrics{}

// GetErrorMetrics returns the current error metrics
func GetErrorMetrics() *Metrics {
	return metrics
}

// ResetErrorMetrics resets all error metrics
func ResetErrorMetrics() {
	metrics.Transient.Store(0)
	metrics.Validation.Store(0)
	metrics.Timeout.Store(0)
	metrics.CacheWrite.Store(0)
	metrics.BatchItem.Store(0)
	metrics.Cache.Store(0)
	metrics.Operation.Store(0)
	metrics.PanicRecoveries.Store(0)
	metrics.LastError.Store(time.Time{})
}

func record(kind Kind) {
	switch kind {
	case KindTransient:
		metrics.Transient.Add(1)
	case KindValidation:
		metrics.Validation.Add(1)
	case KindTimeout:
		metrics.Timeout.Add(1)
	case KindCacheWrite:
		metrics.CacheWrite.Add(1)
	case KindBatchItem:
		metrics.BatchItem.Add(1)
	case KindCache:
		metrics.Cache.Add(1)
	default:
		metrics.Operation.Add(1)
	}
	metrics.LastError.Store(time.Now())
}

// Wrap wraps an error with context and updates metrics
func Wrap(op string, key any, err error) error {
	if err == nil {
		return nil
	}
	kind := kindOf(err)
	record(kind)
	return New(kind, op, key, err)
}

// Recover converts a recovered panic value into an error. It must be called
// directly from a deferred function.
func Recover(op string, r any) error {
	if r == nil {
		return nil
	}
	metrics.PanicRecoveries.Add(1)
	return Wrap(op, nil, fmt.Errorf("%w: %v", ErrPanic, r))
}

// Classify reports whether a transport-level error is transient. It returns a
// short reason used for logging and metrics labels.
func Classify(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return fmt.Sprintf("status_%d", upErr.StatusCode), upErr.Transient()
	}
	if errors.Is(err, ErrTransientUpstream) {
		return "transient", true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return "dial", true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout", true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout", true
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return "reset", true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return "eof", true
	}
	return "", false
}

// IsTransient checks if the error is eligible for retry
func IsTransient(err error) bool {
	_, ok := Classify(err)
	return ok
}

// IsTimeout checks if the error is a queue timeout
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsKeyNotFound checks if the error is a key not found error
func IsKeyNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// IsCacheClosed checks if the error is a cache closed error
func IsCacheClosed(err error) bool {
	return errors.Is(err, ErrCacheClosed)
}

// IsQuotaExceeded checks if the error is a storage quota error
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

// IsKind checks if an error is an *Error of a specific kind
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
