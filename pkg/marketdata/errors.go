package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel classes for exchange call failures. Callers branch on the class,
// never on venue-specific details.
var (
	// ErrRateLimited means the venue's request budget was exceeded; the call
	// is retried with backoff.
	ErrRateLimited = errors.New("rate limited by exchange")
	// ErrTransient covers network failures and temporary server errors; the
	// call is retried with backoff.
	ErrTransient = errors.New("transient exchange error")
	// ErrFatal covers bad credentials, unsupported markets and malformed
	// requests; the unit is failed for the run without retrying.
	ErrFatal = errors.New("fatal exchange error")
)

// AdapterError wraps a classified exchange failure with its origin.
type AdapterError struct {
	Exchange string
	Symbol   string
	Kind     error
	Err      error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s %s: %v: %v", e.Exchange, e.Symbol, e.Kind, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Kind
}

// IsRateLimited reports whether err is classified as a rate-limit failure.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsTransient reports whether err is classified as a retryable transient failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsRetryable reports whether err should be retried with backoff.
func IsRetryable(err error) bool {
	return IsRateLimited(err) || IsTransient(err)
}

// IsFatal reports whether err is a non-retryable adapter failure.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// classifyStatus maps a sidecar HTTP status to an error class.
func classifyStatus(statusCode int) error {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case statusCode >= 500:
		return ErrTransient
	default:
		// Remaining 4xx: bad request, auth failure, unknown market
		return ErrFatal
	}
}

// classifyTransport maps a transport-level error to an error class. Context
// cancellation passes through so callers can tell shutdown from failure.
func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrTransient
	}
	return ErrTransient
}
