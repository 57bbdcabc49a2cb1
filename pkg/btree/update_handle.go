package btree

import (
	"io"
	"os"
)

// UpdateHandle is the sole mutation facade for a BTreeStore file: opening
// one acquires the sidecar lock exclusively for the handle's lifetime, so
// at most one UpdateHandle may be open on a file at a time (any number of
// QueryHandles may coexist with it).
type UpdateHandle[K, V any] struct {
	f          *os.File
	lock       *sidecarLock
	reader     *diskReader
	codec      Codec[K, V]
	rootOffset int64
}

// OpenUpdate opens path for mutation, failing with ErrLockBusy if another
// handle already holds the sidecar lock.
func OpenUpdate[K, V any](path string, codec Codec[K, V], cacheCapacity int) (*UpdateHandle[K, V], error) {
	if cacheCapacity <= 0 {
		cacheCapacity = DefaultCacheCapacity
	}
	lock, err := acquireLock(path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		lock.release()
		return nil, err
	}
	hdrBuf, err := readPageAt(f, 0)
	if err != nil {
		f.Close()
		lock.release()
		return nil, err
	}
	rootOffset, err := decodeFileHeader(hdrBuf)
	if err != nil {
		f.Close()
		lock.release()
		return nil, err
	}
	return &UpdateHandle[K, V]{
		f:          f,
		lock:       lock,
		reader:     newDiskReader(f, cacheCapacity),
		codec:      codec,
		rootOffset: int64(rootOffset),
	}, nil
}

// Close releases the file descriptor and the sidecar lock.
func (h *UpdateHandle[K, V]) Close() error {
	err := h.f.Close()
	h.lock.release()
	return err
}

// CacheStats reports this handle's cumulative page-cache hit and miss
// counts, used by pkg/svcmetrics to report page-cache hit ratio.
func (h *UpdateHandle[K, V]) CacheStats() (hits, misses int64) {
	return h.reader.cacheStats()
}

// Query and QueryLE mirror QueryHandle, reading against this handle's own
// (possibly more up to date) root.
func (h *UpdateHandle[K, V]) Query(key K) (V, bool, error) {
	return queryAt(h.reader, h.rootOffset, h.codec, key)
}

func (h *UpdateHandle[K, V]) QueryLE(key K) (K, V, bool, error) {
	return queryLEAt(h.reader, h.rootOffset, h.codec, key)
}

// DiskIter returns an ascending leaf traversal against the current root.
func (h *UpdateHandle[K, V]) DiskIter() (*DiskIterator[K, V], error) {
	return newDiskIterator(h.reader, h.rootOffset, h.codec)
}

type pathFrame[K any] struct {
	offset int64
	keys   []K
	isLeaf bool
	items  [][]byte // leaf: value_info blocks; internal: child pointer blocks
	idx    int       // leaf: index of the found key; internal: child index taken
	found  bool       // leaf only
}

// walkToLeaf descends from offset to the leaf that would hold key,
// recording every frame visited along the way.
func (h *UpdateHandle[K, V]) walkToLeaf(key K) ([]pathFrame[K], error) {
	var path []pathFrame[K]
	offset := h.rootOffset
	for {
		page, err := h.reader.readPage(offset)
		if err != nil {
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
			k, err := h.codec.DecodeKey(kb)
			if err != nil {
				return nil, err
			}
			keys[i] = k
		}
		items, err := decodeBlock(secondBlock)
		if err != nil {
			return nil, err
		}

		if isLeaf {
			idx := lowerBoundSlice(keys, key, h.codec.CompareKey)
			found := idx < len(keys) && h.codec.CompareKey(keys[idx], key) == 0
			path = append(path, pathFrame[K]{offset: offset, keys: keys, isLeaf: true, items: items, idx: idx, found: found})
			return path, nil
		}

		childIdx := upperBoundSlice(keys, key, h.codec.CompareKey)
		path = append(path, pathFrame[K]{offset: offset, keys: keys, isLeaf: false, items: items, idx: childIdx})
		childOffset, err := decodeUint64(items[childIdx])
		if err != nil {
			return nil, err
		}
		offset = int64(childOffset)
	}
}

// updateOnce performs one copy-on-write point update: it appends a new
// value blob (or singleton packed block) at EOF, rewrites the owning leaf
// into a fresh page at EOF with the updated ValueInfo, then rewrites every
// ancestor on the path into fresh pages with the updated child pointer. It
// advances h.rootOffset in memory but does not commit the file header —
// callers batch that so UpdateBatch can commit once for N updates.
func (h *UpdateHandle[K, V]) updateOnce(key K, value V) (bool, error) {
	path, err := h.walkToLeaf(key)
	if err != nil {
		return false, err
	}
	leaf := path[len(path)-1]
	if !leaf.found {
		return false, nil
	}

	eof, err := h.f.Seek(0, io.SeekEnd)
	if err != nil {
		return false, err
	}
	nextOffset := eof

	raw := h.codec.EncodeValue(value)
	var vi ValueInfo
	if len(raw) < packedValueThreshold {
		// Page-align so the block occupies a clean page boundary: it will
		// later be read back with a full-page read (readPage always reads
		// PageSize bytes), and a page-aligned, page-padded write keeps that
		// read from straddling whatever gets appended right after it.
		nextOffset = alignUp(nextOffset, PageSize)
		blockBuf := encodeBlock([][]byte{raw})
		if err := writePageAt(h.f, nextOffset, blockBuf); err != nil {
			return false, err
		}
		vi = ValueInfo{Mode: storagePacked, BlockOffset: uint64(nextOffset), IndexInBlock: 0, StoredLength: uint32(len(raw))}
		nextOffset += PageSize
	} else {
		blob := encodeSingleBlob(raw)
		if err := writeRawAt(h.f, nextOffset, blob); err != nil {
			return false, err
		}
		vi = ValueInfo{Mode: storageSingle, ByteOffset: uint64(nextOffset), StoredLength: uint32(len(blob))}
		nextOffset += int64(len(blob))
	}

	newViItems := append([][]byte{}, leaf.items...)
	newViItems[leaf.idx] = vi.encode()
	keyItemsEnc := make([][]byte, len(leaf.keys))
	for i, k := range leaf.keys {
		keyItemsEnc[i] = h.codec.EncodeKey(k)
	}
	body := encodeNodeBody(true, encodeBlock(keyItemsEnc), encodeBlock(newViItems))
	if len(body)+pageHeaderSize > PageSize {
		return false, ErrNodeOverflow
	}
	nextOffset = alignUp(nextOffset, PageSize)
	hdr := pageHeader{PageType: PageLeaf, CellCount: uint16(len(leaf.keys)), FreeStart: uint16(pageHeaderSize + len(body)), FreeEnd: PageSize}
	if err := writePageAt(h.f, nextOffset, append(hdr.encode(), body...)); err != nil {
		return false, err
	}
	newChildOffset := nextOffset
	nextOffset += PageSize

	for i := len(path) - 2; i >= 0; i-- {
		fr := path[i]
		newPtrItems := append([][]byte{}, fr.items...)
		newPtrItems[fr.idx] = encodeUint64(uint64(newChildOffset))
		keyItemsEnc := make([][]byte, len(fr.keys))
		for j, k := range fr.keys {
			keyItemsEnc[j] = h.codec.EncodeKey(k)
		}
		body := encodeNodeBody(false, encodeBlock(keyItemsEnc), encodeBlock(newPtrItems))
		if len(body)+pageHeaderSize > PageSize {
			return false, ErrNodeOverflow
		}
		hdr := pageHeader{PageType: PageInternal, CellCount: uint16(len(fr.keys)), FreeStart: uint16(pageHeaderSize + len(body)), FreeEnd: PageSize}
		if err := writePageAt(h.f, nextOffset, append(hdr.encode(), body...)); err != nil {
			return false, err
		}
		newChildOffset = nextOffset
		nextOffset += PageSize
	}

	h.rootOffset = newChildOffset
	return true, nil
}

// commitRoot performs the atomic 8-byte root-offset write plus fsync that
// makes a round of COW updates durable.
func (h *UpdateHandle[K, V]) commitRoot() error {
	return writeRootOffset(h.f, uint64(h.rootOffset))
}

// Update performs a single copy-on-write value replacement for an existing
// key, committing the header immediately. ok is false if key is absent —
// Update never inserts; use UpsertBatch for insert-or-update.
func (h *UpdateHandle[K, V]) Update(key K, value V) (bool, error) {
	ok, err := h.updateOnce(key, value)
	if err != nil || !ok {
		return ok, err
	}
	return true, h.commitRoot()
}

// UpdateBatch applies N point updates sequentially, each reusing the root
// produced by the previous one, and commits the header exactly once at the
// end. It reports how many of the supplied keys were actually found and
// updated.
func (h *UpdateHandle[K, V]) UpdateBatch(pairs []struct {
	Key   K
	Value V
}) (int, error) {
	applied := 0
	for _, p := range pairs {
		ok, err := h.updateOnce(p.Key, p.Value)
		if err != nil {
			return applied, err
		}
		if ok {
			applied++
		}
	}
	if applied == 0 {
		return 0, nil
	}
	return applied, h.commitRoot()
}

// UpsertBatch inserts-or-updates every pair, handling brand-new keys
// (including node splits) by reloading the live tree into memory, applying
// the upserts there, and appending the resulting nodes/value blocks at the
// current EOF before committing a new root — the in-memory BPlusTree
// insert logic already implements the split bookkeeping this needs, so
// this function reuses it rather than re-deriving an on-disk recursive
// split variant. Unlike a page-by-page upsert, it loads the whole live
// tree into memory.
func (h *UpdateHandle[K, V]) UpsertBatch(pairs []struct {
	Key   K
	Value V
}) error {
	bt, err := h.loadLiveTree()
	if err != nil {
		return err
	}
	for _, p := range pairs {
		bt.Insert(p.Key, p.Value)
	}
	eof, err := h.f.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	newRoot, err := bt.WriteAppended(h.f, alignUp(eof, PageSize))
	if err != nil {
		return err
	}
	h.rootOffset = int64(newRoot)
	return h.commitRoot()
}

// Compact fully reloads the live tree and rewrites it into a fresh temp
// file swapped into place over path, reclaiming COW garbage and re-packing
// small values. It strictly shrinks (or at worst matches) the file's size
// versus its pre-compaction state. The sidecar lock is already held by
// this handle, so Compact writes the replacement file directly rather than
// going through Store (which would try to acquire the lock again).
func (h *UpdateHandle[K, V]) Compact(path string) error {
	bt, err := h.loadLiveTree()
	if err != nil {
		return err
	}

	tmpPath := path + ".compact.tmp"
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	defer os.Remove(tmpPath)

	rootOffset, err := bt.WriteAppended(tmp, PageSize)
	if err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.WriteAt(encodeFileHeader(rootOffset), 0); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := h.f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	h.f = f
	h.rootOffset = int64(rootOffset)
	h.reader = newDiskReader(f, DefaultCacheCapacity)
	return nil
}

func (h *UpdateHandle[K, V]) loadLiveTree() (*BPlusTree[K, V], error) {
	it, err := h.DiskIter()
	if err != nil {
		return nil, err
	}
	bt := &BPlusTree[K, V]{codec: h.codec, t: newTree[K, V](h.codec, EstimateOrder(16, leafCellOverhead), EstimateOrder(16, internalCellOverhead))}
	for {
		k, v, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		bt.Insert(k, v)
	}
	return bt, nil
}

func alignUp(offset int64, align int64) int64 {
	if offset%align == 0 {
		return offset
	}
	return offset + (align - offset%align)
}
