package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrLeaseNotRenewable signals that the server refused to renew a lease.
// It is consumed by the maintenance scheduler as a trigger to fall back to
// rotation and is never surfaced to foreground callers.
var ErrLeaseNotRenewable = errors.New("lease is not renewable")

// NetworkError wraps a transport-level failure (connection refused, DNS,
// timeout). Network errors are always retryable up to the retry deadline.
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ResponseError is a non-2xx response from the secret-management service.
// Errors carries the server-reported error strings when the body could be
// parsed.
type ResponseError struct {
	StatusCode int
	Method     string
	Path       string
	Errors     []string
}

func (e *ResponseError) Error() string {
	msg := fmt.Sprintf("%s %s returned status %d", e.Method, e.Path, e.StatusCode)
	if len(e.Errors) > 0 {
		msg += ": " + strings.Join(e.Errors, "; ")
	}
	return msg
}

// RotationError is terminal for a single lease: rotation could not produce a
// replacement record. It is surfaced only through the lease's OnError
// callback.
type RotationError struct {
	Key string
	Err error
}

func (e *RotationError) Error() string {
	return fmt.Sprintf("rotation failed for lease %q: %v", e.Key, e.Err)
}

func (e *RotationError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	var respErr *ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 404
}

// IsPermissionDenied reports whether err is a 403 response.
func IsPermissionDenied(err error) bool {
	var respErr *ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 403
}

// IsRateLimited reports whether err is a 429 response.
func IsRateLimited(err error) bool {
	var respErr *ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 429
}

// IsStandby reports whether err is one of the health-endpoint standby
// status codes (429 standby, 472 DR secondary, 473 performance standby).
func IsStandby(err error) bool {
	var respErr *ResponseError
	if !errors.As(err, &respErr) {
		return false
	}
	switch respErr.StatusCode {
	case 429, 472, 473:
		return true
	}
	return false
}

// Retryable classifies an error as worth retrying. It is a pure function of
// the error: network failures, 5xx, 429, and any status in allow are
// retryable; every other error (4xx, malformed responses, cancelled
// contexts) is terminal immediately.
func Retryable(err error, allow []int) bool {
	if err == nil {
		return false
	}

	// Cancellation means the caller is gone; a deadline on a single attempt
	// still leaves room for another try.
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var nErr net.Error
	if errors.As(err, &nErr) {
		return true
	}

	var respErr *ResponseError
	if errors.As(err, &respErr) {
		if respErr.StatusCode == 429 || respErr.StatusCode >= 500 {
			return true
		}
		for _, code := range allow {
			if respErr.StatusCode == code {
				return true
			}
		}
		return false
	}

	return false
}
