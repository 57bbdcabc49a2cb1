// Package dispatcher turns one client request into an upstream HTTP byte
// stream, applying permission gating, shared-stream fan-out, provider
// resolution with grace-period overflow, retry/backoff, and throttling.
package dispatcher

import (
	"context"
	"io"
	"net/http"
)

// RequestKind distinguishes the player-API action families a request maps
// to, mirroring the Xtream Codes endpoint surface (live/movie/series/
// catchup) without importing any HTTP routing.
type RequestKind int

const (
	Live RequestKind = iota
	Movie
	Series
	Catchup
)

func (k RequestKind) String() string {
	switch k {
	case Live:
		return "live"
	case Movie:
		return "movie"
	case Series:
		return "series"
	case Catchup:
		return "catchup"
	default:
		return "unknown"
	}
}

// shareable reports whether this item kind currently opts into
// SharedStreamRegistry fan-out (spec.md §4.3 step 2: "currently Live").
func (k RequestKind) shareable() bool { return k == Live }

// ConnectionPermission is decided upstream of the dispatcher (by a
// per-user connection counter this module does not own) and gates step 1
// of the decision pipeline.
type ConnectionPermission int

const (
	PermissionAllowed ConnectionPermission = iota
	PermissionExhausted
)

// StreamRequest is everything the dispatcher needs to resolve one client
// request into a response stream.
type StreamRequest struct {
	ClientFingerprint    string
	ClientIP             string
	InputName            string
	Kind                 RequestKind
	User                 string
	SessionToken         string
	VirtualID            string
	RequestedURL         string
	RequestHeaders       http.Header
	ConnectionPermission ConnectionPermission

	// Method defaults to GET; set to POST for player APIs that require it.
	Method string
}

// StreamDetails is what the dispatcher hands back to the (out of scope)
// HTTP layer: the byte stream, upstream metadata, and bookkeeping info.
type StreamDetails struct {
	Body                io.ReadCloser
	Headers             http.Header
	Status              int
	ProviderName        string
	FinalURL            string
	Reconnect           bool
	GraceDeadlineMillis int64
}

// Session is the active-user session record the dispatcher refreshes on
// every streamable request (spec.md §4.3 step 9). pkg/sessionstore
// implements SessionStore against this shape.
type Session struct {
	User         string
	SessionToken string
	VirtualID    string
	Provider     string
	SessionURL   string
	ClientIP     string
}

// SessionStore is the subset of session bookkeeping the dispatcher depends
// on; pkg/sessionstore provides in-memory and Redis-backed implementations.
type SessionStore interface {
	Touch(sess Session) error
}

// noopSessionStore discards session bookkeeping, used when the caller does
// not wire a SessionStore.
type noopSessionStore struct{}

func (noopSessionStore) Touch(Session) error { return nil }

// MetricsSink receives dispatch-lifecycle events for pkg/svcmetrics to turn
// into Prometheus counters. A nil sink is always safe to call through;
// Dispatcher falls back to a no-op implementation.
type MetricsSink interface {
	GraceAdmission(provider string)
	ExhaustedStream(kind string)
}

type noopMetricsSink struct{}

func (noopMetricsSink) GraceAdmission(string) {}
func (noopMetricsSink) ExhaustedStream(string) {}

// ProvisioningHook is the named external collaborator spec.md §4.3 step 3
// calls out: "optionally invoke an external provisioning hook" when every
// provider for an input is fully exhausted. This module never implements
// the panel-API back-end itself (spec.md §1's non-goals) — it only
// defines the shape a caller's provisioning client must satisfy to plug
// into the retry-after-provisioning step. A nil hook (the default) skips
// the step entirely.
type ProvisioningHook interface {
	Provision(ctx context.Context, inputName string) error
}
