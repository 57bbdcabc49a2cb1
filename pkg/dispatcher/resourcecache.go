package dispatcher

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/streamrelay/ipxcore/pkg/lru"
)

// ResourceCacheConfig configures the read-through disk cache for
// non-streaming resources (images, XML) named in spec.md §4.3 "Resource
// cache (read-through)".
type ResourceCacheConfig struct {
	Dir      string
	Capacity int
}

// cachedResource is the metadata ResourceCache keeps in memory; the bytes
// themselves live on disk under Dir.
type cachedResource struct {
	path        string
	contentType string
	size        int64
}

// ResourceCache is an LRU-indexed, disk-backed read-through cache. Only
// complete 200-OK responses with no Content-Range header are cached,
// matching spec.md's rule that partial/range responses never populate it.
type ResourceCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *cachedResource]
	dir   string
}

// NewResourceCache builds a ResourceCache rooted at cfg.Dir. If Dir is
// empty, caching is disabled and Get/TeeStore are no-ops.
func NewResourceCache(cfg ResourceCacheConfig) *ResourceCache {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 256
	}
	return &ResourceCache{
		cache: lru.New[string, *cachedResource](capacity),
		dir:   cfg.Dir,
	}
}

func (rc *ResourceCache) enabled() bool { return rc.dir != "" }

func cacheKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// Get returns a reader over the cached body for url, if present.
func (rc *ResourceCache) Get(url string) (io.ReadCloser, string, bool) {
	if !rc.enabled() {
		return nil, "", false
	}
	rc.mu.Lock()
	entry, ok := rc.cache.Get(cacheKey(url))
	rc.mu.Unlock()
	if !ok {
		return nil, "", false
	}
	f, err := os.Open(entry.path)
	if err != nil {
		rc.mu.Lock()
		rc.cache.Remove(cacheKey(url))
		rc.mu.Unlock()
		return nil, "", false
	}
	return f, entry.contentType, true
}

// ShouldCache reports whether an upstream response is eligible for
// caching: status 200, no Content-Range header.
func ShouldCache(status int, header http.Header) bool {
	return status == http.StatusOK && header.Get("Content-Range") == ""
}

// TeeStore wraps body in a tee that writes to a temp file and, once fully
// read and closed, atomically publishes it into the cache keyed by url.
// Callers still read exactly what upstream returned; caching is a
// side-effect of draining the returned reader to completion.
func (rc *ResourceCache) TeeStore(url, contentType string, body io.ReadCloser) io.ReadCloser {
	if !rc.enabled() {
		return body
	}
	if err := os.MkdirAll(rc.dir, 0o755); err != nil {
		return body
	}
	tmp, err := os.CreateTemp(rc.dir, "resource-*.tmp")
	if err != nil {
		return body
	}
	return &teeStoreReader{
		rc:          rc,
		url:         url,
		contentType: contentType,
		body:        body,
		tmp:         tmp,
	}
}

type teeStoreReader struct {
	rc          *ResourceCache
	url         string
	contentType string
	body        io.ReadCloser
	tmp         *os.File
	written     int64
	failed      bool
	eof         bool
}

func (t *teeStoreReader) Read(p []byte) (int, error) {
	n, err := t.body.Read(p)
	if n > 0 && !t.failed {
		if _, werr := t.tmp.Write(p[:n]); werr != nil {
			t.failed = true
		} else {
			t.written += int64(n)
		}
	}
	if err == io.EOF {
		t.eof = true
	}
	return n, err
}

// Close publishes the temp file into the cache only when the upstream
// body was read to completion (t.eof) without a local write failure
// (t.failed). A client or upstream that disconnects mid-download closes
// the reader without ever returning io.EOF from Read, which must not
// leave a truncated file masquerading as a complete 200-OK resource.
func (t *teeStoreReader) Close() error {
	err := t.body.Close()
	tmpName := t.tmp.Name()
	t.tmp.Close()
	if t.failed || !t.eof {
		os.Remove(tmpName)
		return err
	}
	finalPath := filepath.Join(t.rc.dir, cacheKey(t.url))
	if renameErr := os.Rename(tmpName, finalPath); renameErr != nil {
		os.Remove(tmpName)
		return err
	}
	t.rc.mu.Lock()
	t.rc.cache.Put(cacheKey(t.url), &cachedResource{
		path:        finalPath,
		contentType: t.contentType,
		size:        t.written,
	})
	t.rc.mu.Unlock()
	return err
}
