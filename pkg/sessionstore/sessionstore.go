// Package sessionstore implements the active-user session bookkeeping
// spec.md §4.3 step 9 calls for: a record keyed by (user, session_token,
// virtual_id, provider) refreshed on every streamable request, with an
// in-memory default and an optional Redis-backed implementation so session
// state survives process restarts in a multi-instance deployment.
package sessionstore

import (
	"sync"
	"time"

	"github.com/streamrelay/ipxcore/pkg/dispatcher"
)

// Record is a session's persisted state plus the time it was last
// refreshed, used to expire sessions no active stream has touched in a
// while.
type Record struct {
	dispatcher.Session
	LastSeen time.Time
}

func key(s dispatcher.Session) string {
	return s.User + "\x00" + s.SessionToken + "\x00" + s.VirtualID + "\x00" + s.Provider
}

// Memory is an in-memory SessionStore, the default when no external store
// is configured. Safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]Record
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]Record)}
}

// Touch creates or refreshes sess's record.
func (m *Memory) Touch(sess dispatcher.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[key(sess)] = Record{Session: sess, LastSeen: time.Now()}
	return nil
}

// Active returns every session last touched within maxAge.
func (m *Memory) Active(maxAge time.Duration) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cutoff := time.Now().Add(-maxAge)
	out := make([]Record, 0, len(m.sessions))
	for _, r := range m.sessions {
		if r.LastSeen.After(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

// Evict removes sessions last touched before maxAge ago, returning the
// number removed. Intended to be called periodically.
func (m *Memory) Evict(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for k, r := range m.sessions {
		if r.LastSeen.Before(cutoff) {
			delete(m.sessions, k)
			removed++
		}
	}
	return removed
}

var _ dispatcher.SessionStore = (*Memory)(nil)
