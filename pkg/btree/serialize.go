package btree

import (
	"os"
)

// valueLayout is the pass-1 decision for one leaf entry: how it will be
// stored and its encoded bytes, ahead of knowing any offsets.
type valueLayout struct {
	mode    valueStorageMode
	payload []byte // packed: raw encoded value; single: the full [flag][payload] blob
}

// Store materializes the in-memory tree to a fresh file at path, atomically
// (write to a temp file in the same directory, then rename), acquiring the
// sidecar lock for the duration. It returns the root page offset recorded
// in the new file's header.
func (bt *BPlusTree[K, V]) Store(path string) (uint64, error) {
	lock, err := acquireLock(path)
	if err != nil {
		return 0, err
	}
	defer lock.release()

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmpPath) // no-op after a successful rename

	rootOffset, err := bt.writeTo(f, PageSize)
	if err != nil {
		f.Close()
		return 0, err
	}
	if _, err := f.WriteAt(encodeFileHeader(rootOffset), 0); err != nil {
		f.Close()
		return 0, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return 0, err
	}
	return rootOffset, nil
}

// WriteAppended serializes the tree's nodes and value blocks starting at
// startOffset (typically the current end of an already-open file) without
// touching the file header, and returns the new root's page offset. Callers
// that want a self-contained new file should use Store instead; this is
// the primitive Compact and UpsertBatch build their own atomic root-offset
// commit on top of.
func (bt *BPlusTree[K, V]) WriteAppended(f *os.File, startOffset int64) (uint64, error) {
	return bt.writeTo(f, startOffset)
}

// writeTo performs the five-pass breadth-first serialization into an
// already-open file handle, starting node allocation at nodesStart.
func (bt *BPlusTree[K, V]) writeTo(f *os.File, nodesStartParam int64) (uint64, error) {
	order := flattenBFS(bt.t.root)
	nodeIndex := make(map[*node[K, V]]int, len(order))
	for i, n := range order {
		nodeIndex[n] = i
	}

	// Pass 1: value layout for every leaf entry.
	type entryRef struct {
		nodeIdx, entryIdx int
	}
	var layouts []valueLayout
	var refs []entryRef
	for ni, n := range order {
		if !n.leaf {
			continue
		}
		for ei, v := range n.values {
			raw := bt.codec.EncodeValue(v)
			if len(raw) < packedValueThreshold {
				layouts = append(layouts, valueLayout{mode: storagePacked, payload: raw})
			} else {
				layouts = append(layouts, valueLayout{mode: storageSingle, payload: encodeSingleBlob(raw)})
			}
			refs = append(refs, entryRef{ni, ei})
		}
	}

	// Pack small values into page-sized blocks, in encounter order.
	var blocks [][][]byte
	valueInfos := make(map[entryRef]ValueInfo, len(refs))
	blocks = append(blocks, nil)
	cur := 0
	curSize := 4 // block count header
	var singleQueue []struct {
		ref   entryRef
		blob  []byte
	}
	for i, layout := range layouts {
		if layout.mode == storagePacked {
			entrySize := 4 + len(layout.payload)
			if curSize+entrySize > PageSize && len(blocks[cur]) > 0 {
				blocks = append(blocks, nil)
				cur++
				curSize = 4
			}
			blocks[cur] = append(blocks[cur], layout.payload)
			valueInfos[refs[i]] = ValueInfo{
				Mode:         storagePacked,
				BlockOffset:  uint64(cur), // resolved to an absolute offset below
				IndexInBlock: uint32(len(blocks[cur]) - 1),
				StoredLength: uint32(len(layout.payload)),
			}
			curSize += entrySize
		} else {
			singleQueue = append(singleQueue, struct {
				ref  entryRef
				blob []byte
			}{refs[i], layout.payload})
		}
	}

	// Pass 2: node offsets, sequential page-aligned, breadth-first.
	nodesStart := nodesStartParam
	offsets := make([]int64, len(order))
	for i := range order {
		offsets[i] = nodesStart + int64(i)*PageSize
	}
	nodesEnd := nodesStart + int64(len(order))*PageSize

	// Pass 3: value-block offsets (packed blocks page-aligned, then single
	// blobs byte-aligned immediately after).
	blockOffsets := make([]int64, len(blocks))
	for i := range blocks {
		blockOffsets[i] = nodesEnd + int64(i)*PageSize
	}
	singleBase := nodesEnd + int64(len(blocks))*PageSize
	runningSingle := singleBase
	for _, sq := range singleQueue {
		valueInfos[sq.ref] = ValueInfo{
			Mode:         storageSingle,
			ByteOffset:   uint64(runningSingle),
			StoredLength: uint32(len(sq.blob)),
		}
		runningSingle += int64(len(sq.blob))
	}
	for ref, vi := range valueInfos {
		if vi.Mode == storagePacked {
			vi.BlockOffset = uint64(blockOffsets[vi.BlockOffset])
			valueInfos[ref] = vi
		}
	}

	// Pass 4: write node pages.
	for i, n := range order {
		var body []byte
		if n.leaf {
			keyItems := make([][]byte, len(n.keys))
			viItems := make([][]byte, len(n.keys))
			for ei, k := range n.keys {
				keyItems[ei] = bt.codec.EncodeKey(k)
				vi := valueInfos[entryRef{i, ei}]
				viItems[ei] = vi.encode()
			}
			body = encodeNodeBody(true, encodeBlock(keyItems), encodeBlock(viItems))
		} else {
			keyItems := make([][]byte, len(n.keys))
			for ki, k := range n.keys {
				keyItems[ki] = bt.codec.EncodeKey(k)
			}
			ptrItems := make([][]byte, len(n.children))
			for ci, child := range n.children {
				ptrItems[ci] = encodeUint64(uint64(offsets[nodeIndex[child]]))
			}
			body = encodeNodeBody(false, encodeBlock(keyItems), encodeBlock(ptrItems))
		}
		if len(body)+pageHeaderSize > PageSize {
			return 0, ErrNodeOverflow
		}
		pt := PageInternal
		if n.leaf {
			pt = PageLeaf
		}
		hdr := pageHeader{
			PageType:  pt,
			CellCount: uint16(len(n.keys)),
			FreeStart: uint16(pageHeaderSize + len(body)),
			FreeEnd:   PageSize,
		}
		full := append(hdr.encode(), body...)
		if err := writePageAt(f, offsets[i], full); err != nil {
			return 0, err
		}
	}

	// Pass 5: write value blocks.
	for i, block := range blocks {
		buf := encodeBlock(block)
		if len(buf) > PageSize {
			return 0, newPageError(NoSpace, "packed value block exceeds page size")
		}
		if err := writeRawAt(f, blockOffsets[i], buf); err != nil {
			return 0, err
		}
	}
	for _, sq := range singleQueue {
		off := int64(valueInfos[sq.ref].ByteOffset)
		if err := writeRawAt(f, off, sq.blob); err != nil {
			return 0, err
		}
	}

	rootOffset := uint64(offsets[0])
	if len(order) == 0 {
		rootOffset = uint64(nodesStart)
	}
	return rootOffset, nil
}

func writeRawAt(f *os.File, offset int64, data []byte) error {
	_, err := f.WriteAt(data, offset)
	return err
}

func flattenBFS[K, V any](root *node[K, V]) []*node[K, V] {
	order := make([]*node[K, V], 0, 16)
	queue := []*node[K, V]{root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		if !n.leaf {
			queue = append(queue, n.children...)
		}
	}
	return order
}

// Load fully deserializes the file at path into an in-memory BPlusTree.
// It fails with ErrBadMagic or ErrUnsupportedVersion on header validation
// failure.
func Load[K, V any](path string, codec Codec[K, V], avgKeySize int) (*BPlusTree[K, V], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	hdrBuf, err := readPageAt(f, 0)
	if err != nil {
		return nil, err
	}
	rootOffset, err := decodeFileHeader(hdrBuf)
	if err != nil {
		return nil, err
	}

	bt := &BPlusTree[K, V]{
		codec: codec,
		t:     newTree[K, V](codec, EstimateOrder(avgKeySize, leafCellOverhead), EstimateOrder(avgKeySize, internalCellOverhead)),
	}
	reader := newDiskReader(f, 0)
	root, err := readNodeAt(reader, int64(rootOffset), codec)
	if err != nil {
		return nil, err
	}
	bt.t.root = root
	return bt, nil
}
