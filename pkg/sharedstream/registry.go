// Package sharedstream implements single-producer, multi-subscriber fan-out
// for active upstream streams, so concurrent clients watching the same live
// channel share one upstream connection instead of each opening their own.
package sharedstream

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/streamrelay/ipxcore/pkg/obslog"
	"github.com/streamrelay/ipxcore/pkg/providerpool"
)

// Registry tracks the shared stream (if any) currently active for each
// upstream URL. The zero value is not usable; construct with New.
type Registry struct {
	log *obslog.Logger

	streams sync.Map // url -> *sharedStream
	sf      singleflight.Group
}

// New builds an empty Registry.
func New(log *obslog.Logger) *Registry {
	if log == nil {
		log = obslog.New("sharedstream")
	}
	return &Registry{log: log}
}

// Subscribe attaches subscriberAddr to the existing shared stream for url,
// if one exists. It never blocks and never opens an upstream connection
// itself.
func (r *Registry) Subscribe(url, subscriberAddr string, bufferSize int) (*Subscription, string, bool) {
	v, ok := r.streams.Load(url)
	if !ok {
		return nil, "", false
	}
	s := v.(*sharedStream)
	return s.addSubscriber(subscriberAddr, bufferSize), s.providerName(), true
}

// Register installs upstream as the shared producer for url and promotes
// handle so it is released exactly once, by the producer, when the last
// subscriber departs. If a concurrent Register call for the same url wins
// the installation race, this call returns ok=false and the caller is
// responsible for closing its own upstream body and releasing its own
// handle before falling back to Subscribe.
//
// Concurrent Register attempts for the same url are serialized through a
// singleflight.Group: only the first to arrive actually installs a
// sharedStream; the rest observe the installed stream and compare their own
// handle against the one that won, rather than each racing the sync.Map
// independently.
func (r *Registry) Register(
	url string,
	upstream ByteReadCloser,
	firstSubscriberAddr string,
	headers map[string]string,
	bufferSize int,
	handle *providerpool.ConnectionHandle,
) (*Subscription, string, bool) {
	v, _, _ := r.sf.Do(url, func() (any, error) {
		if existing, ok := r.streams.Load(url); ok {
			return existing.(*sharedStream), nil
		}
		s := newSharedStream(r, url, upstream, headers, handle)
		r.streams.Store(url, s)
		return s, nil
	})

	s := v.(*sharedStream)
	if s.handle != handle {
		return nil, "", false
	}
	sub := s.addSubscriber(firstSubscriberAddr, bufferSize)
	// Pumping starts only once the first subscriber is attached, so it
	// receives the upstream from its first byte.
	go s.pump()
	r.log.Debug("registered shared stream for %s via provider %s", url, s.providerName())
	return sub, s.providerName(), true
}

// GetSharedStateHeaders returns the upstream response headers captured when
// the shared stream for url was registered.
func (r *Registry) GetSharedStateHeaders(url string) (map[string]string, bool) {
	v, ok := r.streams.Load(url)
	if !ok {
		return nil, false
	}
	return v.(*sharedStream).headers, true
}

// ActiveCount reports how many shared streams are currently registered,
// used by pkg/svcmetrics to report the producer count.
func (r *Registry) ActiveCount() int {
	n := 0
	r.streams.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
