package providerpool

import "sync/atomic"

// priorityGroup is a non-empty set of ProviderConfigs sharing one priority
// value, plus a round-robin cursor. A group of one provider never needs
// the cursor.
type priorityGroup struct {
	providers []*ProviderConfig
	index     atomic.Uint64 // only meaningful when len(providers) > 1
}

func newPriorityGroup(providers []*ProviderConfig) *priorityGroup {
	return &priorityGroup{providers: providers}
}

func (g *priorityGroup) isExhausted() bool {
	for _, p := range g.providers {
		if !p.isExhausted() {
			return false
		}
	}
	return true
}

// tryAllocate sweeps the group once, starting from the cursor position and
// wrapping modulo the group size. On success the cursor moves to the
// provider after the one allocated; after a failed sweep it is left where
// the sweep started.
func (g *priorityGroup) tryAllocate(withGrace bool, graceSlots int64) *ProviderConfig {
	count := len(g.providers)
	if count == 1 {
		p := g.providers[0]
		if allocateOne(p, withGrace, graceSlots) {
			return p
		}
		return nil
	}

	start := int(g.index.Load() % uint64(count))
	idx := start
	for i := 0; i < count; i++ {
		p := g.providers[idx]
		if allocateOne(p, withGrace, graceSlots) {
			g.index.Store(uint64((idx + 1) % count))
			return p
		}
		idx = (idx + 1) % count
	}
	g.index.Store(uint64(idx))
	return nil
}

// getNext mirrors tryAllocate's traversal but never allocates capacity;
// it shares the same cursor so redirect-cycling and real acquisitions
// interleave fairly.
func (g *priorityGroup) getNext() *ProviderConfig {
	count := len(g.providers)
	if count == 1 {
		return g.providers[0]
	}

	idx := int(g.index.Load() % uint64(count))
	p := g.providers[idx]
	g.index.Store(uint64((idx + 1) % count))
	return p
}

func allocateOne(p *ProviderConfig, withGrace bool, graceSlots int64) bool {
	if withGrace {
		return p.tryAcquireWithGrace(graceSlots)
	}
	return p.tryAcquireNoGrace()
}

// lineup is the ordered list of priority groups for one logical input,
// either a single provider or a set of priority groups built from the
// input's main provider plus its aliases. groupIndex is a second,
// lineup-level cursor distinct from each priorityGroup's own round-robin
// index: it picks which priority group a sweep starts from, and only
// advances when the group it just used has become fully exhausted.
type lineup struct {
	single     *ProviderConfig // set iff this input has no aliases
	groups     []*priorityGroup
	groupIndex atomic.Uint64
}

func newSingleLineup(p *ProviderConfig) *lineup {
	return &lineup{single: p}
}

func newMultiLineup(groups []*priorityGroup) *lineup {
	return &lineup{groups: groups}
}

// acquire implements the allocation algorithm from spec.md §4.2: iterate
// priority groups ascending; within a group try no-grace first, then (if
// grace is enabled and the whole group failed no-grace) a with-grace
// pass.
func (l *lineup) acquire(graceEnabled bool, graceSlots int64) (*ProviderConfig, AllocationState) {
	if l.single != nil {
		if p := l.single; allocateOne(p, false, graceSlots) {
			return p, Available
		}
		if graceEnabled {
			if p := l.single; allocateOne(p, true, graceSlots) {
				return p, GracePeriod
			}
		}
		return nil, Exhausted
	}

	count := len(l.groups)
	mainIdx := int(l.groupIndex.Load())
	for index := mainIdx; index < count; index++ {
		g := l.groups[index]
		p := g.tryAllocate(false, graceSlots)
		state := Available
		if p == nil && graceEnabled {
			p = g.tryAllocate(true, graceSlots)
			state = GracePeriod
		}
		if p != nil {
			if g.isExhausted() {
				l.groupIndex.Store(uint64((index + 1) % count))
			}
			return p, state
		}
	}
	return nil, Exhausted
}

// getNext cycles through the lineup read-only, for 302-redirect rotation.
// It shares groupIndex with acquire so redirect cycling and real
// allocation interleave fairly on the same cursor.
func (l *lineup) getNext() *ProviderConfig {
	if l.single != nil {
		return l.single
	}
	count := len(l.groups)
	mainIdx := int(l.groupIndex.Load())
	for index := mainIdx; index < count; index++ {
		g := l.groups[index]
		p := g.getNext()
		if p != nil {
			if g.isExhausted() {
				l.groupIndex.Store(uint64((index + 1) % count))
			}
			return p
		}
	}
	return nil
}

// allProviders flattens the lineup for iteration (active_connections,
// hot-reload carryover capture).
func (l *lineup) allProviders() []*ProviderConfig {
	if l.single != nil {
		return []*ProviderConfig{l.single}
	}
	var out []*ProviderConfig
	for _, g := range l.groups {
		out = append(out, g.providers...)
	}
	return out
}

func (l *lineup) findByName(name string) *ProviderConfig {
	for _, p := range l.allProviders() {
		if p.Name == name {
			return p
		}
	}
	return nil
}
