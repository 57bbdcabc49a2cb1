package providerpool

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// AllocationState tags what kind of capacity (if any) a ConnectionHandle
// was granted.
type AllocationState int

const (
	// Exhausted means no provider had capacity; the handle holds nothing.
	Exhausted AllocationState = iota
	// Available means the provider had capacity strictly within its hard
	// limit.
	Available
	// GracePeriod means the provider was allocated inside its bounded
	// overflow window and must be re-checked before streaming starts.
	GracePeriod
)

const (
	releaseActive   uint32 = 0
	releaseShared   uint32 = 1
	releaseReleased uint32 = 2
)

// ConnectionHandle is a scoped acquisition of capacity from one
// ProviderConfig. Release is mandatory on every exit path unless the
// handle has been promoted to Shared, in which case the registry that
// holds it is responsible for the eventual release.
type ConnectionHandle struct {
	id       uuid.UUID
	state    AllocationState
	provider *ProviderConfig

	release atomic.Uint32
}

func exhaustedHandle() *ConnectionHandle {
	return &ConnectionHandle{state: Exhausted}
}

func newHandle(state AllocationState, provider *ProviderConfig) *ConnectionHandle {
	h := &ConnectionHandle{id: uuid.New(), state: state, provider: provider}
	h.release.Store(releaseActive)
	return h
}

// ID uniquely identifies this acquisition, used to correlate provider-pool
// log lines with the dispatcher request that holds the handle. The zero
// UUID on an Exhausted handle is never logged against a real provider.
func (h *ConnectionHandle) ID() uuid.UUID { return h.id }

// State reports how this handle was allocated.
func (h *ConnectionHandle) State() AllocationState { return h.state }

// ProviderName returns the backing provider's name, or "" if Exhausted.
func (h *ConnectionHandle) ProviderName() string {
	if h.provider == nil {
		return ""
	}
	return h.provider.Name
}

// Provider returns the backing ProviderConfig, or nil if Exhausted.
func (h *ConnectionHandle) Provider() *ProviderConfig { return h.provider }

// Promote transitions Active -> Shared via CAS: subsequent Release calls
// become no-ops, because a shared producer's registry now owns the
// eventual release (exactly once, when the last subscriber departs).
func (h *ConnectionHandle) Promote() {
	if h.provider == nil {
		return
	}
	h.release.CompareAndSwap(releaseActive, releaseShared)
}

// Release decrements the provider's connection counter exactly once, iff
// the handle is still Active. Releasing an Exhausted, already-Released,
// or Shared handle is a no-op. Idempotent and safe to call multiple
// times (e.g. once explicitly and once via a deferred cleanup).
func (h *ConnectionHandle) Release() {
	if h.provider == nil {
		return
	}
	if h.release.CompareAndSwap(releaseActive, releaseReleased) {
		h.provider.release()
	}
}

// ForceRelease releases the handle regardless of its current state
// (Active or Shared), transitioning unconditionally to Released unless
// already there. Used to guarantee release on abnormal teardown paths.
func (h *ConnectionHandle) ForceRelease() {
	if h.provider == nil {
		return
	}
	for {
		cur := h.release.Load()
		if cur == releaseReleased {
			return
		}
		if h.release.CompareAndSwap(cur, releaseReleased) {
			h.provider.release()
			return
		}
	}
}
