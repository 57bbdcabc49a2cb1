// Package providerpool allocates connection slots across upstream
// providers, grouped by input and priority, with a bounded grace-period
// overflow and hot-reloadable configuration.
package providerpool

import "sync/atomic"

// ProviderConfig is one upstream endpoint: either an input's main provider
// or one of its aliases.
type ProviderConfig struct {
	ID             uint16
	Name           string
	URL            string
	Username       string
	Password       string
	Priority       int16 // lower = preferred
	MaxConnections uint16
	Headers        map[string]string

	current atomic.Int64
}

// NewProviderConfig builds a ProviderConfig with a zeroed connection
// counter.
func NewProviderConfig(id uint16, name, url, username, password string, priority int16, maxConnections uint16, headers map[string]string) *ProviderConfig {
	return &ProviderConfig{
		ID:             id,
		Name:           name,
		URL:            url,
		Username:       username,
		Password:       password,
		Priority:       priority,
		MaxConnections: maxConnections,
		Headers:        headers,
	}
}

// CurrentConnections returns the live connection counter.
func (p *ProviderConfig) CurrentConnections() int64 { return p.current.Load() }

func (p *ProviderConfig) setCurrentConnections(v int64) { p.current.Store(v) }

// tryAcquireNoGrace atomically increments the counter iff current < max.
// MaxConnections == 0 means unbounded.
func (p *ProviderConfig) tryAcquireNoGrace() bool {
	if p.MaxConnections == 0 {
		p.current.Add(1)
		return true
	}
	max := int64(p.MaxConnections)
	for {
		cur := p.current.Load()
		if cur >= max {
			return false
		}
		if p.current.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// tryAcquireWithGrace atomically increments the counter iff
// current < max + graceSlots.
func (p *ProviderConfig) tryAcquireWithGrace(graceSlots int64) bool {
	if p.MaxConnections == 0 {
		p.current.Add(1)
		return true
	}
	limit := int64(p.MaxConnections) + graceSlots
	for {
		cur := p.current.Load()
		if cur >= limit {
			return false
		}
		if p.current.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// forceAcquire unconditionally increments the counter, used to re-pin an
// active session onto its exact starting provider regardless of limits.
func (p *ProviderConfig) forceAcquire() {
	p.current.Add(1)
}

func (p *ProviderConfig) release() {
	p.current.Add(-1)
}

// isExhausted reports whether the provider has no remaining no-grace
// capacity.
func (p *ProviderConfig) isExhausted() bool {
	if p.MaxConnections == 0 {
		return false
	}
	return p.current.Load() >= int64(p.MaxConnections)
}

// isOverLimit reports whether the provider currently holds strictly more
// than its hard max, i.e. it is presently consuming grace capacity.
func (p *ProviderConfig) isOverLimit() bool {
	if p.MaxConnections == 0 {
		return false
	}
	return p.current.Load() > int64(p.MaxConnections)
}
