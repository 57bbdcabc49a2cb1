package btree

import "os"

// DefaultCacheCapacity is the default number of 4 KiB pages held in a
// QueryHandle or UpdateHandle's block cache.
const DefaultCacheCapacity = 1024

// QueryHandle is a read-only, disk-streaming facade over a BTreeStore
// file: it never loads the whole tree into memory, instead paging nodes in
// on demand through a bounded LRU block cache. Any number of QueryHandles
// may coexist with each other and with one UpdateHandle on the same file;
// readers take no lock.
type QueryHandle[K, V any] struct {
	f          *os.File
	reader     *diskReader
	codec      Codec[K, V]
	rootOffset int64
}

// OpenQuery opens path read-only for query access, with a block cache of
// cacheCapacity pages (DefaultCacheCapacity if <= 0).
func OpenQuery[K, V any](path string, codec Codec[K, V], cacheCapacity int) (*QueryHandle[K, V], error) {
	if cacheCapacity <= 0 {
		cacheCapacity = DefaultCacheCapacity
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	hdrBuf, err := readPageAt(f, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	rootOffset, err := decodeFileHeader(hdrBuf)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &QueryHandle[K, V]{
		f:          f,
		reader:     newDiskReader(f, cacheCapacity),
		codec:      codec,
		rootOffset: int64(rootOffset),
	}, nil
}

// Close releases the underlying file descriptor.
func (q *QueryHandle[K, V]) Close() error {
	return q.f.Close()
}

// CacheStats reports this handle's cumulative page-cache hit and miss
// counts, used by pkg/svcmetrics to report page-cache hit ratio.
func (q *QueryHandle[K, V]) CacheStats() (hits, misses int64) {
	return q.reader.cacheStats()
}

// Query looks up key, reading only the pages on the root-to-leaf path.
func (q *QueryHandle[K, V]) Query(key K) (V, bool, error) {
	return queryAt(q.reader, q.rootOffset, q.codec, key)
}

// QueryLE returns the largest stored key <= key.
func (q *QueryHandle[K, V]) QueryLE(key K) (K, V, bool, error) {
	return queryLEAt(q.reader, q.rootOffset, q.codec, key)
}

// queryAt walks from rootOffset to a leaf following upper-bound child
// selection, reading only the pages on that path.
func queryAt[K, V any](reader *diskReader, rootOffset int64, codec Codec[K, V], key K) (V, bool, error) {
	var zero V
	offset := rootOffset
	for {
		page, err := reader.readPage(offset)
		if err != nil {
			return zero, false, err
		}
		isLeaf, keysBlock, secondBlock, err := decodeNodeBody(page[pageHeaderSize:])
		if err != nil {
			return zero, false, err
		}
		keyItems, err := decodeBlock(keysBlock)
		if err != nil {
			return zero, false, err
		}
		keys := make([]K, len(keyItems))
		for i, kb := range keyItems {
			k, err := codec.DecodeKey(kb)
			if err != nil {
				return zero, false, err
			}
			keys[i] = k
		}

		if isLeaf {
			idx := lowerBoundSlice(keys, key, codec.CompareKey)
			if idx >= len(keys) || codec.CompareKey(keys[idx], key) != 0 {
				return zero, false, nil
			}
			viItems, err := decodeBlock(secondBlock)
			if err != nil {
				return zero, false, err
			}
			vi, err := decodeValueInfo(viItems[idx])
			if err != nil {
				return zero, false, err
			}
			raw, err := reader.readValue(vi)
			if err != nil {
				return zero, false, err
			}
			v, err := codec.DecodeValue(raw)
			return v, err == nil, err
		}

		ptrItems, err := decodeBlock(secondBlock)
		if err != nil {
			return zero, false, err
		}
		childIdx := upperBoundSlice(keys, key, codec.CompareKey)
		childOffset, err := decodeUint64(ptrItems[childIdx])
		if err != nil {
			return zero, false, err
		}
		offset = int64(childOffset)
	}
}

// queryLEAt scans the full ascending leaf sequence for the largest key
// <= key. It is a linear disk_iter walk rather than a tree descent because
// "largest key <= target" requires inspecting the in-order predecessor
// across leaf boundaries, which a single root-to-leaf descent cannot
// resolve when the exact key is absent.
func queryLEAt[K, V any](reader *diskReader, rootOffset int64, codec Codec[K, V], key K) (K, V, bool, error) {
	var best struct {
		k     K
		v     V
		found bool
	}
	it, err := newDiskIterator(reader, rootOffset, codec)
	if err != nil {
		var zk K
		var zv V
		return zk, zv, false, err
	}
	for {
		k, v, ok, err := it.Next()
		if err != nil {
			var zk K
			var zv V
			return zk, zv, false, err
		}
		if !ok {
			break
		}
		if codec.CompareKey(k, key) > 0 {
			break
		}
		best.k, best.v, best.found = k, v, true
	}
	return best.k, best.v, best.found, nil
}

// DiskIter returns an owned, depth-first leaf traversal yielding every
// stored key exactly once in ascending order.
func (q *QueryHandle[K, V]) DiskIter() (*DiskIterator[K, V], error) {
	return newDiskIterator(q.reader, q.rootOffset, q.codec)
}

func lowerBoundSlice[K any](keys []K, key K, cmp func(a, b K) int) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp(keys[mid], key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func upperBoundSlice[K any](keys []K, key K, cmp func(a, b K) int) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp(keys[mid], key) > 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}
