package providerpool

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/streamrelay/ipxcore/pkg/obslog"
)

// snapshot is the published, immutable view of every input's lineup, kept
// behind an atomic pointer so readers never observe a partially-updated
// configuration (the Go analogue of the original's arc-swap pointer).
type snapshot struct {
	lineups map[string]*lineup // keyed by input name
}

// ProviderPool allocates connection slots across a set of inputs, each
// either a single provider or an aliased multi-provider group organized
// by priority.
type ProviderPool struct {
	log *obslog.Logger

	gracePeriodMillis      atomic.Int64
	gracePeriodTimeoutSecs atomic.Int64

	current atomic.Pointer[snapshot]

	connections sync.Map // clientAddr -> *ConnectionHandle
}

// New builds a ProviderPool from the initial set of inputs.
func New(inputs []InputConfig, gracePeriodMillis, gracePeriodTimeoutSecs int64, log *obslog.Logger) *ProviderPool {
	if log == nil {
		log = obslog.New("providerpool")
	}
	pp := &ProviderPool{log: log}
	pp.gracePeriodMillis.Store(gracePeriodMillis)
	pp.gracePeriodTimeoutSecs.Store(gracePeriodTimeoutSecs)
	pp.current.Store(buildSnapshot(inputs, nil))
	return pp
}

// GracePeriodMillis returns the configured grace wait, in milliseconds.
func (pp *ProviderPool) GracePeriodMillis() int64 { return pp.gracePeriodMillis.Load() }

func buildLineup(input InputConfig) *lineup {
	if len(input.Aliases) == 0 {
		return newSingleLineup(NewProviderConfig(input.ID, input.Name, input.URL, input.Username, input.Password, input.Priority, input.MaxConnections, input.Headers))
	}

	byPriority := make(map[int16][]*ProviderConfig)
	main := NewProviderConfig(input.ID, input.Name, input.URL, input.Username, input.Password, input.Priority, input.MaxConnections, input.Headers)
	byPriority[input.Priority] = append(byPriority[input.Priority], main)
	for _, a := range input.Aliases {
		p := NewProviderConfig(a.ID, a.Name, a.URL, a.Username, a.Password, a.Priority, a.MaxConnections, nil)
		byPriority[a.Priority] = append(byPriority[a.Priority], p)
	}

	priorities := make([]int16, 0, len(byPriority))
	for p := range byPriority {
		priorities = append(priorities, p)
	}
	sort.Slice(priorities, func(i, j int) bool { return priorities[i] < priorities[j] })

	groups := make([]*priorityGroup, 0, len(priorities))
	for _, p := range priorities {
		groups = append(groups, newPriorityGroup(byPriority[p]))
	}
	return newMultiLineup(groups)
}

// buildSnapshot constructs a fresh snapshot for inputs, carrying over the
// live connection counter from carryOver (name -> count) when present.
func buildSnapshot(inputs []InputConfig, carryOver map[string]int64) *snapshot {
	lineups := make(map[string]*lineup, len(inputs))
	for _, input := range inputs {
		l := buildLineup(input)
		if carryOver != nil {
			for _, p := range l.allProviders() {
				if count, ok := carryOver[p.Name]; ok {
					p.setCurrentConnections(count)
				}
			}
		}
		lineups[input.Name] = l
	}
	return &snapshot{lineups: lineups}
}

// UpdateConfig hot-reloads the input set: inputs that are unchanged per
// inputsDiffer keep their existing lineup untouched; changed or new
// inputs are rebuilt, carrying over the live connection counter from any
// provider whose name matches across the old and new configurations.
// Providers that disappear are simply not copied into the new snapshot.
func (pp *ProviderPool) UpdateConfig(newInputs []InputConfig, gracePeriodMillis, gracePeriodTimeoutSecs int64, oldByName map[string]InputConfig) {
	pp.gracePeriodMillis.Store(gracePeriodMillis)
	pp.gracePeriodTimeoutSecs.Store(gracePeriodTimeoutSecs)

	old := pp.current.Load()
	changed := len(old.lineups) != len(newInputs)
	if !changed {
		for _, ni := range newInputs {
			oi, ok := oldByName[ni.Name]
			if !ok || inputsDiffer(oi, ni) {
				changed = true
				break
			}
		}
	}
	if !changed {
		return
	}

	carryOver := make(map[string]int64)
	for _, l := range old.lineups {
		for _, p := range l.allProviders() {
			carryOver[p.Name] = p.CurrentConnections()
		}
	}

	next := buildSnapshot(newInputs, carryOver)
	for _, ni := range newInputs {
		if oi, ok := oldByName[ni.Name]; ok && !inputsDiffer(oi, ni) {
			if l, ok := old.lineups[ni.Name]; ok {
				next.lineups[ni.Name] = l
			}
		}
	}
	pp.current.Store(next)
	pp.log.Info("provider configuration reloaded: %d inputs", len(newInputs))
}

func (pp *ProviderPool) lineupFor(name string) *lineup {
	return pp.current.Load().lineups[name]
}

// Acquire allocates the next available provider connection for
// inputName, registering the resulting handle under clientAddr so a
// later Release(clientAddr) can tear it down.
func (pp *ProviderPool) Acquire(inputName, clientAddr string) *ConnectionHandle {
	l := pp.lineupFor(inputName)
	if l == nil {
		return exhaustedHandle()
	}
	graceMillis := pp.gracePeriodMillis.Load()
	provider, state := l.acquire(graceMillis > 0, 1)
	var h *ConnectionHandle
	if provider == nil {
		h = exhaustedHandle()
	} else {
		h = newHandle(state, provider)
		pp.log.Debug("acquired provider %s (%v) for %s [handle %s]", provider.Name, state, clientAddr, h.ID())
	}
	pp.registerConnection(clientAddr, h)
	return h
}

// AcquireNoGrace behaves like Acquire but never admits a provider through
// grace-period overflow, regardless of the pool's configured grace
// period. The dispatcher uses this for the single retry spec.md §4.3
// step 3 allows after an external provisioning hook reports success —
// a freshly provisioned provider should be evaluated at its hard limit,
// not handed a second grace window on top of a pre-existing one.
func (pp *ProviderPool) AcquireNoGrace(inputName, clientAddr string) *ConnectionHandle {
	l := pp.lineupFor(inputName)
	if l == nil {
		return exhaustedHandle()
	}
	provider, state := l.acquire(false, 1)
	var h *ConnectionHandle
	if provider == nil {
		h = exhaustedHandle()
	} else {
		h = newHandle(state, provider)
		pp.log.Debug("acquired provider %s (%v) for %s [handle %s] after provisioning", provider.Name, state, clientAddr, h.ID())
	}
	pp.registerConnection(clientAddr, h)
	return h
}

// ForceAcquire unconditionally re-pins an active session to the exact
// provider named providerName, bypassing normal allocation — used to keep
// a continuation request (e.g. a seek) on the provider the session
// started on.
func (pp *ProviderPool) ForceAcquire(providerName, clientAddr string) *ConnectionHandle {
	snap := pp.current.Load()
	var found *ProviderConfig
	for _, l := range snap.lineups {
		if p := l.findByName(providerName); p != nil {
			found = p
			break
		}
	}
	var h *ConnectionHandle
	if found == nil {
		h = exhaustedHandle()
	} else {
		found.forceAcquire()
		h = newHandle(Available, found)
	}
	pp.registerConnection(clientAddr, h)
	return h
}

// GetNext returns the next provider in inputName's lineup for redirect
// rotation, without allocating any capacity.
func (pp *ProviderPool) GetNext(inputName string) *ProviderConfig {
	l := pp.lineupFor(inputName)
	if l == nil {
		return nil
	}
	return l.getNext()
}

// Release tears down the outstanding guard registered for clientAddr, if
// any. Idempotent.
func (pp *ProviderPool) Release(clientAddr string) {
	if v, ok := pp.connections.LoadAndDelete(clientAddr); ok {
		v.(*ConnectionHandle).Release()
	}
}

func (pp *ProviderPool) registerConnection(clientAddr string, h *ConnectionHandle) {
	if h.State() == Exhausted {
		return
	}
	pp.connections.Store(clientAddr, h)
}

// IsOverLimit reports whether providerName currently holds strictly more
// than its hard connection limit (i.e. it is using grace capacity).
func (pp *ProviderPool) IsOverLimit(providerName string) bool {
	snap := pp.current.Load()
	for _, l := range snap.lineups {
		if p := l.findByName(providerName); p != nil {
			return p.isOverLimit()
		}
	}
	return false
}

// ActiveConnections returns the live connection counter for every
// provider with at least one active connection.
func (pp *ProviderPool) ActiveConnections() map[string]int64 {
	snap := pp.current.Load()
	result := make(map[string]int64)
	for _, l := range snap.lineups {
		for _, p := range l.allProviders() {
			if count := p.CurrentConnections(); count > 0 {
				result[p.Name] = count
			}
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
