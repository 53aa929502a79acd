package httpclient

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// StatusError is a non-2xx HTTP response surfaced as an error. RetryAfterHint
// carries the provider's throttle signal when one was present.
type StatusError struct {
	StatusCode     int
	Body           string
	RetryAfterHint time.Duration
}

func (e *StatusError) Error() string {
	if e.RetryAfterHint > 0 {
		return fmt.Sprintf("HTTP %d: %s (retry after %v)", e.StatusCode, e.Body, e.RetryAfterHint)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// RetryAfter implements the retry package's carrier interface.
func (e *StatusError) RetryAfter() time.Duration {
	return e.RetryAfterHint
}

// IsRateLimited reports whether err is an HTTP 429.
func IsRateLimited(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests
}

// IsNotFound reports whether err is an HTTP 404.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// IsTransient reports whether err is a retriable server-side failure:
// 408, 5xx, or a transport-level error (non-StatusError).
func IsTransient(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		// Network errors arrive untyped from the transport.
		return err != nil
	}
	return se.StatusCode == http.StatusRequestTimeout || se.StatusCode >= 500
}

// IsNonRetriable reports whether err is a 4xx other than 408/429.
func IsNonRetriable(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.StatusCode >= 400 && se.StatusCode < 500 &&
		se.StatusCode != http.StatusTooManyRequests &&
		se.StatusCode != http.StatusRequestTimeout
}
