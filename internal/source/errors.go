package source

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// UnavailableError marks an adapter failure that should degrade to "no
// evidence" rather than abort a fusion pass: timeouts, connection errors,
// backend 5xx responses.
type UnavailableError struct {
	Source     string
	Err        error
	StatusCode int
}

func (e *UnavailableError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s adapter unavailable (status %d): %v", e.Source, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s adapter unavailable: %v", e.Source, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// IsUnavailable reports whether the error chain indicates an unavailable
// backend: an explicit UnavailableError, a cancelled or timed-out context,
// or a network-level timeout.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}

	var ue *UnavailableError
	if errors.As(err, &ue) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isRetryableStatus reports whether an HTTP status from a backend indicates
// a transient server-side issue.
func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
