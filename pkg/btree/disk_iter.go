package btree

// DiskIterator performs an owned, depth-first traversal of leaf entries
// without ever materializing more than the current root-to-leaf path in
// memory. It yields every stored key exactly once in ascending order.
type DiskIterator[K, V any] struct {
	reader *diskReader
	codec  Codec[K, V]
	stack  []*iterFrame[K]
}

type iterFrame[K any] struct {
	keys     []K
	isLeaf   bool
	valueRaw [][]byte // leaf: raw value_info blocks, parallel to keys
	children []int64  // internal: child page offsets, parallel to keys+1
	pos      int
}

func newDiskIterator[K, V any](reader *diskReader, rootOffset int64, codec Codec[K, V]) (*DiskIterator[K, V], error) {
	it := &DiskIterator[K, V]{reader: reader, codec: codec}
	frame, err := it.loadFrame(rootOffset)
	if err != nil {
		return nil, err
	}
	it.stack = []*iterFrame[K]{frame}
	return it, nil
}

func (it *DiskIterator[K, V]) loadFrame(offset int64) (*iterFrame[K], error) {
	page, err := it.reader.readPage(offset)
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
		k, err := it.codec.DecodeKey(kb)
		if err != nil {
			return nil, err
		}
		keys[i] = k
	}

	frame := &iterFrame[K]{keys: keys, isLeaf: isLeaf}
	secondItems, err := decodeBlock(secondBlock)
	if err != nil {
		return nil, err
	}
	if isLeaf {
		frame.valueRaw = secondItems
	} else {
		children := make([]int64, len(secondItems))
		for i, pb := range secondItems {
			off, err := decodeUint64(pb)
			if err != nil {
				return nil, err
			}
			children[i] = int64(off)
		}
		frame.children = children
	}
	return frame, nil
}

// Next returns the next (key, value) pair in ascending order, or ok=false
// once the traversal is exhausted.
func (it *DiskIterator[K, V]) Next() (K, V, bool, error) {
	var zk K
	var zv V
	for len(it.stack) > 0 {
		top := it.stack[len(it.stack)-1]
		if top.isLeaf {
			if top.pos >= len(top.keys) {
				it.stack = it.stack[:len(it.stack)-1]
				continue
			}
			i := top.pos
			top.pos++
			vi, err := decodeValueInfo(top.valueRaw[i])
			if err != nil {
				return zk, zv, false, err
			}
			raw, err := it.reader.readValue(vi)
			if err != nil {
				return zk, zv, false, err
			}
			v, err := it.codec.DecodeValue(raw)
			if err != nil {
				return zk, zv, false, err
			}
			return top.keys[i], v, true, nil
		}

		if top.pos >= len(top.children) {
			it.stack = it.stack[:len(it.stack)-1]
			continue
		}
		childOffset := top.children[top.pos]
		top.pos++
		child, err := it.loadFrame(childOffset)
		if err != nil {
			return zk, zv, false, err
		}
		it.stack = append(it.stack, child)
	}
	return zk, zv, false, nil
}

// Close releases resources held by the iterator. The underlying reader is
// owned by the QueryHandle/UpdateHandle that created it, so Close is a
// no-op placeholder kept for symmetry and future-proofing against a
// dedicated per-iterator file handle.
func (it *DiskIterator[K, V]) Close() error {
	return nil
}
