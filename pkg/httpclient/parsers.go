package httpclient

import (
	"net/http"
	"strconv"
	"time"
)

// ParseRetryAfter extracts the provider's throttle delay from response
// headers. Precedence: retry-after-ms (milliseconds), then Retry-After as
// seconds, then Retry-After as an HTTP date. Returns zero when absent or
// unparseable.
func ParseRetryAfter(headers http.Header) time.Duration {
	if ms := headers.Get("retry-after-ms"); ms != "" {
		if v, err := strconv.ParseInt(ms, 10, 64); err == nil && v > 0 {
			return time.Duration(v) * time.Millisecond
		}
	}

	ra := headers.Get("Retry-After")
	if ra == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(ra); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
