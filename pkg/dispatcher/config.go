package dispatcher

import (
	"strings"
	"time"
)

// RetryPolicy controls exponential backoff for retryable upstream
// failures (spec.md §4.3 "Reconnect / retry").
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// Config is the dispatcher's operator-configured behavior, loaded via
// pkg/svcconfig.
type Config struct {
	// HeaderBlocklist names request headers never forwarded upstream
	// (e.g. Host, Cookie, Authorization of the reverse-proxy's own
	// front door).
	HeaderBlocklist []string

	Retry RetryPolicy

	// ThrottleKbps smooths non-live item delivery to this rate; 0
	// disables throttling.
	ThrottleKbps int

	// SharedBufferSize is the default per-subscriber channel depth for
	// SharedStreamRegistry.
	SharedBufferSize int

	// UpstreamTimeout bounds a single upstream round trip attempt.
	UpstreamTimeout time.Duration

	ResourceCache ResourceCacheConfig

	// AccountExpiredAsStream selects how AuthFailureResponse reports
	// rejected/expired credentials: the account-expired custom stream
	// (spec.md §7 AuthFailure) when true, a plain 403 when false.
	AccountExpiredAsStream bool
}

// DefaultConfig returns reasonable defaults matching spec.md's stated
// policy shape; operators override these via svcconfig.
func DefaultConfig() Config {
	return Config{
		HeaderBlocklist: []string{"Host", "Connection", "Cookie", "Authorization"},
		Retry: RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   250 * time.Millisecond,
			Multiplier:  2.0,
		},
		SharedBufferSize: 64,
		UpstreamTimeout:  15 * time.Second,
		ResourceCache: ResourceCacheConfig{
			Capacity: 512,
		},
	}
}

func (c Config) isBlocked(header string) bool {
	for _, h := range c.HeaderBlocklist {
		if strings.EqualFold(h, header) {
			return true
		}
	}
	return false
}
