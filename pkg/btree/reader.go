package btree

import (
	"os"
	"sync/atomic"

	"github.com/streamrelay/ipxcore/pkg/lru"
)

// diskReader centralizes page and value reads against an open file, with
// an optional bounded page cache. QueryHandle and UpdateHandle each own one
// with caching enabled (default 1024 pages); Load uses one without a cache
// since it reads every page exactly once anyway.
type diskReader struct {
	f     *os.File
	cache *lru.Cache[int64, []byte]

	hits   atomic.Int64
	misses atomic.Int64
}

func newDiskReader(f *os.File, cacheCapacity int) *diskReader {
	var cache *lru.Cache[int64, []byte]
	if cacheCapacity > 0 {
		cache = lru.New[int64, []byte](cacheCapacity)
	}
	return &diskReader{f: f, cache: cache}
}

func (r *diskReader) readPage(offset int64) ([]byte, error) {
	if r.cache != nil {
		if b, ok := r.cache.Get(offset); ok {
			r.hits.Add(1)
			return b, nil
		}
	}
	r.misses.Add(1)
	buf, err := readPageAt(r.f, offset)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.Put(offset, buf)
	}
	return buf, nil
}

// cacheStats reports the cumulative page cache hit and miss counts.
func (r *diskReader) cacheStats() (hits, misses int64) {
	return r.hits.Load(), r.misses.Load()
}

// invalidate drops the cached page at offset, if any. Nothing in the
// package calls it: copy-on-write updates always write to fresh offsets,
// so a cached page never goes stale.
func (r *diskReader) invalidate(offset int64) {
	if r.cache != nil {
		r.cache.Remove(offset)
	}
}

func (r *diskReader) readValue(vi ValueInfo) ([]byte, error) {
	if vi.Mode == storageSingle {
		blob := make([]byte, vi.StoredLength)
		if _, err := r.f.ReadAt(blob, int64(vi.ByteOffset)); err != nil {
			return nil, err
		}
		return decodeSingleBlob(blob)
	}
	block, err := r.readPage(int64(vi.BlockOffset))
	if err != nil {
		return nil, err
	}
	items, err := decodeBlock(block)
	if err != nil {
		return nil, err
	}
	if int(vi.IndexInBlock) >= len(items) {
		return nil, newPageError(InvalidIndex, "packed value index out of range")
	}
	return items[vi.IndexInBlock], nil
}

// readNodeAt decodes the node page at offset, recursively following child
// pointers for internal nodes and resolving every leaf value.
func readNodeAt[K, V any](r *diskReader, offset int64, codec Codec[K, V]) (*node[K, V], error) {
	page, err := r.readPage(offset)
	if err != nil {
		return nil, err
	}
	if _, err := decodePageHeader(page[:pageHeaderSize]); err != nil {
		return nil, err
	}
	isLeaf, keysBlock, secondBlock, err := decodeNodeBody(page[pageHeaderSize:])
	if err != nil {
		return nil, err
	}

	keyItems, err := decodeBlock(keysBlock)
	if err != nil {
		return nil, err
	}
	keys := make([]K, len(keyItems))
	for i, kb := range keyItems {
		k, err := codec.DecodeKey(kb)
		if err != nil {
			return nil, err
		}
		keys[i] = k
	}

	if isLeaf {
		viItems, err := decodeBlock(secondBlock)
		if err != nil {
			return nil, err
		}
		values := make([]V, len(viItems))
		for i, vib := range viItems {
			vi, err := decodeValueInfo(vib)
			if err != nil {
				return nil, err
			}
			raw, err := r.readValue(vi)
			if err != nil {
				return nil, err
			}
			v, err := codec.DecodeValue(raw)
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		return &node[K, V]{leaf: true, keys: keys, values: values}, nil
	}

	ptrItems, err := decodeBlock(secondBlock)
	if err != nil {
		return nil, err
	}
	children := make([]*node[K, V], len(ptrItems))
	for i, pb := range ptrItems {
		childOffset, err := decodeUint64(pb)
		if err != nil {
			return nil, err
		}
		child, err := readNodeAt(r, int64(childOffset), codec)
		if err != nil {
			return nil, err
		}
		children[i] = child
	}
	return &node[K, V]{leaf: false, keys: keys, children: children}, nil
}
