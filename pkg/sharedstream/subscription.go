package sharedstream

import (
	"io"
	"sync"
)

// Subscription is one subscriber's view of a sharedStream: an io.ReadCloser
// fed by the producer's broadcast, with its own bounded buffer so a slow
// reader never throttles the producer or any other subscriber.
type Subscription struct {
	addr   string
	data   chan []byte
	stream *sharedStream

	leftover  []byte
	closeOnce sync.Once
}

const defaultSubscriberBuffer = 64

func newSubscription(addr string, bufferSize int, s *sharedStream) *Subscription {
	if bufferSize <= 0 {
		bufferSize = defaultSubscriberBuffer
	}
	return &Subscription{
		addr:   addr,
		data:   make(chan []byte, bufferSize),
		stream: s,
	}
}

// Read implements io.Reader, draining queued chunks in order and returning
// io.EOF once the producer has torn the stream down.
func (sub *Subscription) Read(p []byte) (int, error) {
	if len(sub.leftover) == 0 {
		chunk, ok := <-sub.data
		if !ok {
			return 0, io.EOF
		}
		sub.leftover = chunk
	}
	n := copy(p, sub.leftover)
	sub.leftover = sub.leftover[n:]
	return n, nil
}

// Close detaches this subscriber from its shared stream. Idempotent.
func (sub *Subscription) Close() error {
	sub.closeOnce.Do(func() {
		sub.stream.removeSubscriber(sub.addr)
	})
	return nil
}
