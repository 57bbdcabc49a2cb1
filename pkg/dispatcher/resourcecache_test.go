package dispatcher

import (
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
)

func TestResourceCacheTeeThenHit(t *testing.T) {
	dir := t.TempDir()
	rc := NewResourceCache(ResourceCacheConfig{Dir: dir, Capacity: 8})

	body := io.NopCloser(strings.NewReader("hello world"))
	tee := rc.TeeStore("http://example/logo.png", "image/png", body)
	got, err := io.ReadAll(tee)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := tee.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("unexpected tee read: %q", got)
	}

	cached, contentType, ok := rc.Get("http://example/logo.png")
	if !ok {
		t.Fatal("expected cache hit after tee-store")
	}
	defer cached.Close()
	if contentType != "image/png" {
		t.Fatalf("unexpected content type: %q", contentType)
	}
	cachedBytes, _ := io.ReadAll(cached)
	if string(cachedBytes) != "hello world" {
		t.Fatalf("unexpected cached bytes: %q", cachedBytes)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 file on disk, got %d", len(entries))
	}
}

// errAfterN returns errN instead of io.EOF once it has served n bytes of
// payload, simulating a client disconnect or dropped upstream connection
// partway through the body.
type errAfterN struct {
	payload []byte
	n       int
	errN    error
	read    int
}

func (e *errAfterN) Read(p []byte) (int, error) {
	if e.read >= e.n {
		return 0, e.errN
	}
	remaining := e.payload[e.read:e.n]
	c := copy(p, remaining)
	e.read += c
	return c, nil
}

func TestResourceCacheTeeDoesNotCacheTruncatedRead(t *testing.T) {
	dir := t.TempDir()
	rc := NewResourceCache(ResourceCacheConfig{Dir: dir, Capacity: 8})

	payload := []byte("hello world")
	body := io.NopCloser(&errAfterN{payload: payload, n: 5, errN: io.ErrUnexpectedEOF})
	tee := rc.TeeStore("http://example/clip.ts", "video/mp2t", body)

	buf := make([]byte, 4096)
	n, err := tee.Read(buf)
	if n != 5 {
		t.Fatalf("expected 5 bytes before the simulated drop, got %d", n)
	}
	if err != nil {
		t.Fatalf("unexpected error on first read: %v", err)
	}
	if _, err := tee.Read(buf); err != io.ErrUnexpectedEOF {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}

	// The HTTP layer closes on a client disconnect without ever seeing
	// io.EOF from the upstream body.
	if err := tee.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, _, ok := rc.Get("http://example/clip.ts"); ok {
		t.Fatal("truncated read must not populate the cache")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected the temp file to be removed, got %d entries", len(entries))
	}
}

func TestShouldCacheRejectsPartialContent(t *testing.T) {
	h := make(http.Header)
	h.Set("Content-Range", "bytes 0-10/100")
	if ShouldCache(http.StatusOK, h) {
		t.Fatal("expected partial content to be ineligible for caching")
	}
	if !ShouldCache(http.StatusOK, make(http.Header)) {
		t.Fatal("expected plain 200 OK to be cacheable")
	}
}
