package nphies

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"time"
)

// RetryPolicy controls how the client treats transient failures. Policy is
// separate from transport mechanics so tests and callers can tune attempts
// and delays independently.
type RetryPolicy struct {
	MaxRetries int           // retries after the first attempt
	BaseDelay  time.Duration // delay before the first retry
	MaxDelay   time.Duration // backoff ceiling
}

// DefaultRetryPolicy matches the clearinghouse guidance: three retries with
// exponential backoff capped at ten seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}
}

// Backoff returns the sleep before retry attempt n (1-based): exponential
// growth from BaseDelay with full jitter, capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if backoff > float64(p.MaxDelay) {
		backoff = float64(p.MaxDelay)
	}
	// Full jitter spreads concurrent workers so a clearinghouse hiccup does
	// not produce a synchronized retry storm.
	return time.Duration(rand.Float64() * backoff)
}

// RetryableStatus reports whether an HTTP status is a transient fault worth
// retrying. 5xx is transient; 4xx is a deterministic rejection and is never
// retried.
func RetryableStatus(status int) bool {
	return status >= 500 && status <= 599
}

// RetryableError reports whether a request error is transient: timeouts,
// connection resets, and other network-level failures. Context cancellation
// is a caller decision, not a fault, and is not retried.
func RetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
