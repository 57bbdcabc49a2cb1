package sharedstream

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/streamrelay/ipxcore/pkg/providerpool"
)

// fakeUpstream is an io.ReadCloser over a fixed byte slice, closing once and
// recording whether Close was called.
type fakeUpstream struct {
	r      *bytes.Reader
	mu     sync.Mutex
	closed bool
}

func newFakeUpstream(data []byte) *fakeUpstream {
	return &fakeUpstream{r: bytes.NewReader(data)}
}

func (f *fakeUpstream) Read(p []byte) (int, error) { return f.r.Read(p) }

func (f *fakeUpstream) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeUpstream) wasClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func testHandle(t *testing.T) *providerpool.ConnectionHandle {
	t.Helper()
	pool := providerpool.New([]providerpool.InputConfig{
		{ID: 1, Name: "input-a", Enabled: true, MaxConnections: 10},
	}, 0, 0, nil)
	h := pool.Acquire("input-a", "test-client")
	if h.State() == providerpool.Exhausted {
		t.Fatal("expected available handle")
	}
	return h
}

func drain(t *testing.T, sub *Subscription) []byte {
	t.Helper()
	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := sub.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out
			}
			t.Fatalf("unexpected read error: %v", err)
		}
	}
}

func TestRegisterThenSubscribeFanOut(t *testing.T) {
	r := New(nil)
	payload := bytes.Repeat([]byte("abcd"), 4096)
	upstream := newFakeUpstream(payload)
	handle := testHandle(t)

	first, providerName, ok := r.Register("http://example/live.ts", upstream, "client-1", map[string]string{"Content-Type": "video/ts"}, 32, handle)
	if !ok {
		t.Fatal("expected Register to win the race")
	}
	if providerName == "" {
		t.Fatal("expected a provider name")
	}

	second, _, ok := r.Subscribe("http://example/live.ts", "client-2", 32)
	if !ok {
		t.Fatal("expected Subscribe to find the registered stream")
	}

	var wg sync.WaitGroup
	var gotFirst, gotSecond []byte
	wg.Add(2)
	go func() { defer wg.Done(); gotFirst = drain(t, first) }()
	go func() { defer wg.Done(); gotSecond = drain(t, second) }()
	wg.Wait()

	if !bytes.Equal(gotFirst, payload) {
		t.Fatalf("first subscriber got %d bytes, want %d", len(gotFirst), len(payload))
	}
	if !bytes.Equal(gotSecond, payload) {
		t.Fatalf("second subscriber got %d bytes, want %d", len(gotSecond), len(payload))
	}
	if !upstream.wasClosed() {
		t.Fatal("expected upstream to be closed after producer drained")
	}
}

func TestRegisterRaceLoserMustFallBack(t *testing.T) {
	r := New(nil)
	handleA := testHandle(t)
	handleB := testHandle(t)
	// upstreamA never delivers data or EOF, so A's stream stays installed
	// while B registers.
	upstreamA, upstreamAWriter := io.Pipe()
	defer upstreamAWriter.Close()
	upstreamB := newFakeUpstream([]byte("B"))

	url := "http://example/live2.ts"

	// Install A directly first so the race is deterministic: B must lose.
	subA, _, ok := r.Register(url, upstreamA, "client-a", nil, 8, handleA)
	if !ok {
		t.Fatal("A should win as the sole registrant")
	}
	defer subA.Close()

	subB, _, ok := r.Register(url, upstreamB, "client-b", nil, 8, handleB)
	if ok {
		t.Fatal("B should lose since A already installed the stream")
	}
	if subB != nil {
		t.Fatal("loser must not receive a subscription")
	}

	// The loser's own handle must still be releasable by its caller.
	if handleB.State() != providerpool.Available {
		t.Fatalf("loser handle should remain Active/Available until its caller releases it, got %v", handleB.State())
	}
	handleB.Release()
}

func TestTeardownReleasesHandleExactlyOnce(t *testing.T) {
	r := New(nil)
	handle := testHandle(t)
	upstream := newFakeUpstream([]byte("x"))

	sub, _, ok := r.Register("http://example/live3.ts", upstream, "only-client", nil, 8, handle)
	if !ok {
		t.Fatal("expected Register to succeed")
	}

	drain(t, sub)

	deadline := time.Now().Add(time.Second)
	for r.ActiveCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if r.ActiveCount() != 0 {
		t.Fatal("expected shared stream to be torn down after EOF")
	}

	// Release on an already force-released handle must stay a no-op.
	handle.Release()
}
