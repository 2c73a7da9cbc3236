package api

import (
	"errors"
	"fmt"
)

var (
	ErrUnavailable      = errors.New("backend unavailable")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNotFound         = errors.New("not found")
	ErrMalformedPayload = errors.New("malformed payload")
)

// RetryableError marks a failure the caller may retry by re-triggering the
// action. Err is the sentinel, Cause the underlying failure.
type RetryableError struct {
	Err   error
	Cause error
}

func (e *RetryableError) Error() string {
	if e.Cause == nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %v", e.Err, e.Cause)
}

func (e *RetryableError) Unwrap() []error {
	return []error{e.Err, e.Cause}
}

// IsRetryable reports whether err is, or wraps, a *RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

func unavailable(cause error) error {
	return &RetryableError{Err: ErrUnavailable, Cause: cause}
}
