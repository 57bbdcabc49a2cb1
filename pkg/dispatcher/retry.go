package dispatcher

import (
	"math"
	"net/http"
	"strconv"
	"time"
)

// retryableStatus reports whether status is one of the codes spec.md
// §4.3 "Reconnect / retry" names as retryable: 408, 425, 429, 5xx.
func retryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return status >= 500 && status <= 599
}

// backoffDelay computes min_delay * multiplier^attempt, honoring a
// Retry-After header (parsed as seconds) when the upstream sent one.
func backoffDelay(policy RetryPolicy, attempt int, retryAfter string) time.Duration {
	if retryAfter != "" {
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	mult := policy.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	delay := float64(policy.BaseDelay) * math.Pow(mult, float64(attempt))
	return time.Duration(delay)
}
