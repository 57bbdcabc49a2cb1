package sharedstream

import (
	"io"
	"sync"

	"github.com/streamrelay/ipxcore/pkg/providerpool"
)

// ByteReadCloser is the upstream body a shared stream pumps from. It is
// satisfied directly by *http.Response.Body.
type ByteReadCloser interface {
	io.Reader
	io.Closer
}

const pumpChunkSize = 32 * 1024

// sharedStream is one upstream connection fanned out to N subscribers.
type sharedStream struct {
	registry *Registry
	url      string
	upstream ByteReadCloser
	headers  map[string]string
	handle   *providerpool.ConnectionHandle

	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool
}

func newSharedStream(r *Registry, url string, upstream ByteReadCloser, headers map[string]string, handle *providerpool.ConnectionHandle) *sharedStream {
	handle.Promote()
	return &sharedStream{
		registry: r,
		url:      url,
		upstream: upstream,
		headers:  headers,
		handle:   handle,
		subs:     make(map[string]*Subscription),
	}
}

func (s *sharedStream) providerName() string { return s.handle.ProviderName() }

func (s *sharedStream) addSubscriber(addr string, bufferSize int) *Subscription {
	sub := newSubscription(addr, bufferSize, s)
	s.mu.Lock()
	s.subs[addr] = sub
	s.mu.Unlock()
	return sub
}

// removeSubscriber detaches addr; once the last subscriber is gone the
// stream tears itself down.
func (s *sharedStream) removeSubscriber(addr string) {
	s.mu.Lock()
	delete(s.subs, addr)
	empty := len(s.subs) == 0
	s.mu.Unlock()
	if empty {
		s.teardown()
	}
}

// pump reads upstream until it errors or is closed, broadcasting every
// chunk to every current subscriber. It never blocks on a single slow
// subscriber — a full per-subscriber buffer just drops that chunk for that
// subscriber.
func (s *sharedStream) pump() {
	buf := make([]byte, pumpChunkSize)
	for {
		n, err := s.upstream.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.broadcast(chunk)
		}
		if err != nil {
			break
		}
	}
	s.teardown()
}

func (s *sharedStream) broadcast(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, sub := range s.subs {
		select {
		case sub.data <- chunk:
		default:
			s.registry.log.Warn("dropping chunk for slow subscriber %s on %s", addr, s.url)
		}
	}
}

// teardown drains subscribers, closes upstream, and releases the promoted
// handle exactly once. Safe to call from both the producer's natural EOF
// path and from the last subscriber's departure.
func (s *sharedStream) teardown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		close(sub.data)
	}
	s.upstream.Close()
	s.handle.ForceRelease()
	s.registry.streams.Delete(s.url)
}
