package source

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors adapters can wrap to signal common failure modes.
var (
	ErrFetchTimeout     = errors.New("fetch timed out")
	ErrNavigationFailed = errors.New("page navigation failed")
	ErrNotFound         = errors.New("resource not found")
	ErrParse            = errors.New("failed to parse page content")
)

// ErrorClass tags an adapter failure for the retry state machine.
type ErrorClass int

const (
	// ClassTransient failures are retried with backoff up to the budget.
	ClassTransient ErrorClass = iota
	// ClassPermanent failures are recorded and never retried.
	ClassPermanent
	// ClassFatal failures abort the owning coordinator.
	ClassFatal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassPermanent:
		return "permanent"
	case ClassFatal:
		return "fatal"
	default:
		return "transient"
	}
}

// AdapterError wraps an underlying error with its classification.
type AdapterError struct {
	Class ErrorClass
	Err   error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &AdapterError{Class: ClassTransient, Err: err}
}

// Permanent wraps err as a contained, non-retryable failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &AdapterError{Class: ClassPermanent, Err: err}
}

// Fatal wraps err as a run-aborting failure.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &AdapterError{Class: ClassFatal, Err: err}
}

// Classify returns the error class for err.
//
// Explicit tags win. Untagged errors fall back to sentinel and network
// inspection; anything still unrecognized is treated as transient so a
// misbehaving adapter costs at most the retry budget, never silent data loss.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassTransient
	}

	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Class
	}

	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrParse):
		return ClassPermanent
	case errors.Is(err, ErrFetchTimeout), errors.Is(err, ErrNavigationFailed):
		return ClassTransient
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}

	return ClassTransient
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return err != nil && Classify(err) == ClassTransient
}

// IsPermanent reports whether err is contained but not retryable.
func IsPermanent(err error) bool {
	return err != nil && Classify(err) == ClassPermanent
}

// IsFatal reports whether err should abort the coordinator.
func IsFatal(err error) bool {
	return err != nil && Classify(err) == ClassFatal
}
