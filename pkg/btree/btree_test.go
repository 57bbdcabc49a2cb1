package btree

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func uint32Codec() Codec[uint32, string] {
	return Codec[uint32, string]{
		CompareKey: func(a, b uint32) int {
			switch {
			case a < b:
				return -1
			case a > b:
				return 1
			default:
				return 0
			}
		},
		EncodeKey: func(k uint32) []byte {
			buf := make([]byte, 4)
			binary.LittleEndian.PutUint32(buf, k)
			return buf
		},
		DecodeKey: func(b []byte) (uint32, error) {
			if len(b) < 4 {
				return 0, errors.New("short key")
			}
			return binary.LittleEndian.Uint32(b), nil
		},
		EncodeValue: func(v string) []byte { return []byte(v) },
		DecodeValue: func(b []byte) (string, error) { return string(b), nil },
	}
}

func TestInMemoryInsertQueryFindLE(t *testing.T) {
	codec := uint32Codec()
	bt := New[uint32, string](codec, 4)
	for i := uint32(0); i < 200; i++ {
		bt.Insert(i, fmt.Sprintf("content %d", i))
	}
	for i := uint32(0); i < 200; i++ {
		v, ok := bt.Query(i)
		if !ok || v != fmt.Sprintf("content %d", i) {
			t.Fatalf("Query(%d) = %q, %v", i, v, ok)
		}
	}
	if _, ok := bt.Query(99999); ok {
		t.Fatalf("expected miss for absent key")
	}
	k, v, ok := bt.FindLE(50)
	if !ok || k != 50 || v != "content 50" {
		t.Fatalf("FindLE(50) = %d, %q, %v", k, v, ok)
	}
}

func TestInsertOverwrite(t *testing.T) {
	codec := uint32Codec()
	bt := New[uint32, string](codec, 4)
	bt.Insert(1, "a")
	bt.Insert(1, "b")
	v, ok := bt.Query(1)
	if !ok || v != "b" {
		t.Fatalf("expected overwritten value, got %q, %v", v, ok)
	}
}

// scenario 3: BTreeStore insert + query round trip through store/load.
func TestStoreLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.btr")

	codec := uint32Codec()
	bt := New[uint32, string](codec, 4)
	for i := uint32(0); i < 500; i++ {
		bt.Insert(i, fmt.Sprintf("content %d", i))
	}
	if _, err := bt.Store(path); err != nil {
		t.Fatalf("Store: %v", err)
	}

	loaded, err := Load[uint32, string](path, codec, 4)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for i := uint32(0); i < 500; i++ {
		v, ok := loaded.Query(i)
		if !ok || v != fmt.Sprintf("content %d", i) {
			t.Fatalf("loaded.Query(%d) = %q, %v", i, v, ok)
		}
	}

	qh, err := OpenQuery[uint32, string](path, codec, 64)
	if err != nil {
		t.Fatalf("OpenQuery: %v", err)
	}
	defer qh.Close()
	for i := uint32(0); i < 500; i++ {
		v, ok, err := qh.Query(i)
		if err != nil {
			t.Fatalf("QueryHandle.Query(%d): %v", i, err)
		}
		if !ok || v != fmt.Sprintf("content %d", i) {
			t.Fatalf("QueryHandle.Query(%d) = %q, %v", i, v, ok)
		}
	}
}

// scenario 4: COW update grows the file; compact shrinks it; results
// remain correct throughout.
func TestCOWUpdateAndCompact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.btr")

	codec := uint32Codec()
	bt := New[uint32, string](codec, 4)
	for i := uint32(0); i < 100; i++ {
		bt.Insert(i, fmt.Sprintf("orig %d", i))
	}
	if _, err := bt.Store(path); err != nil {
		t.Fatalf("Store: %v", err)
	}
	sizeBefore := fileSize(t, path)

	uh, err := OpenUpdate[uint32, string](path, codec, 64)
	if err != nil {
		t.Fatalf("OpenUpdate: %v", err)
	}

	for i := uint32(0); i < 100; i += 2 {
		ok, err := uh.Update(i, fmt.Sprintf("updated %d", i))
		if err != nil {
			t.Fatalf("Update(%d): %v", i, err)
		}
		if !ok {
			t.Fatalf("Update(%d) reported not found", i)
		}
	}

	sizeAfterUpdate := fileSize(t, path)
	if sizeAfterUpdate <= sizeBefore {
		t.Fatalf("expected file to strictly grow after COW updates: before=%d after=%d", sizeBefore, sizeAfterUpdate)
	}

	for i := uint32(0); i < 100; i++ {
		v, ok, err := uh.Query(i)
		if err != nil {
			t.Fatalf("Query(%d): %v", i, err)
		}
		if !ok {
			t.Fatalf("Query(%d) missing", i)
		}
		want := fmt.Sprintf("orig %d", i)
		if i%2 == 0 {
			want = fmt.Sprintf("updated %d", i)
		}
		if v != want {
			t.Fatalf("Query(%d) = %q, want %q", i, v, want)
		}
	}

	if err := uh.Compact(path); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	sizeAfterCompact := fileSize(t, path)
	if sizeAfterCompact >= sizeAfterUpdate {
		t.Fatalf("expected compact to shrink file: afterUpdate=%d afterCompact=%d", sizeAfterUpdate, sizeAfterCompact)
	}

	for i := uint32(0); i < 100; i++ {
		v, ok, err := uh.Query(i)
		if err != nil || !ok {
			t.Fatalf("post-compact Query(%d): %v, %v", i, v, err)
		}
		want := fmt.Sprintf("orig %d", i)
		if i%2 == 0 {
			want = fmt.Sprintf("updated %d", i)
		}
		if v != want {
			t.Fatalf("post-compact Query(%d) = %q, want %q", i, v, want)
		}
	}
	if err := uh.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestUpdateMissingKeyReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.btr")
	codec := uint32Codec()
	bt := New[uint32, string](codec, 4)
	bt.Insert(1, "a")
	if _, err := bt.Store(path); err != nil {
		t.Fatalf("Store: %v", err)
	}
	uh, err := OpenUpdate[uint32, string](path, codec, 16)
	if err != nil {
		t.Fatalf("OpenUpdate: %v", err)
	}
	defer uh.Close()
	ok, err := uh.Update(999, "nope")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if ok {
		t.Fatalf("expected Update on missing key to report not found")
	}
}

func TestConcurrentUpdateHandleIsExclusive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.btr")
	codec := uint32Codec()
	bt := New[uint32, string](codec, 4)
	bt.Insert(1, "a")
	if _, err := bt.Store(path); err != nil {
		t.Fatalf("Store: %v", err)
	}

	uh1, err := OpenUpdate[uint32, string](path, codec, 16)
	if err != nil {
		t.Fatalf("first OpenUpdate: %v", err)
	}
	defer uh1.Close()

	_, err = OpenUpdate[uint32, string](path, codec, 16)
	if !errors.Is(err, ErrLockBusy) {
		t.Fatalf("expected ErrLockBusy for a second concurrent UpdateHandle, got %v", err)
	}
}

// scenario: disk_iter yields every stored key exactly once in ascending
// order.
func TestDiskIteratorTotality(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.btr")
	codec := uint32Codec()
	bt := New[uint32, string](codec, 4)
	const n = 300
	for i := uint32(0); i < n; i++ {
		bt.Insert(i, fmt.Sprintf("v%d", i))
	}
	if _, err := bt.Store(path); err != nil {
		t.Fatalf("Store: %v", err)
	}
	qh, err := OpenQuery[uint32, string](path, codec, 32)
	if err != nil {
		t.Fatalf("OpenQuery: %v", err)
	}
	defer qh.Close()
	it, err := qh.DiskIter()
	if err != nil {
		t.Fatalf("DiskIter: %v", err)
	}
	seen := make(map[uint32]bool, n)
	var lastKey uint32
	var first = true
	for {
		k, v, ok, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		if seen[k] {
			t.Fatalf("key %d visited twice", k)
		}
		seen[k] = true
		if !first && k < lastKey {
			t.Fatalf("keys out of order: %d after %d", k, lastKey)
		}
		first = false
		lastKey = k
		if v != fmt.Sprintf("v%d", k) {
			t.Fatalf("unexpected value for key %d: %q", k, v)
		}
	}
	if len(seen) != n {
		t.Fatalf("expected %d keys, saw %d", n, len(seen))
	}
}

func TestUpsertBatchInsertsNewKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.btr")
	codec := uint32Codec()
	bt := New[uint32, string](codec, 4)
	bt.Insert(1, "a")
	if _, err := bt.Store(path); err != nil {
		t.Fatalf("Store: %v", err)
	}
	uh, err := OpenUpdate[uint32, string](path, codec, 16)
	if err != nil {
		t.Fatalf("OpenUpdate: %v", err)
	}
	defer uh.Close()

	pairs := []struct {
		Key   uint32
		Value string
	}{{2, "b"}, {3, "c"}, {1, "a2"}}
	if err := uh.UpsertBatch(pairs); err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}
	for k, want := range map[uint32]string{1: "a2", 2: "b", 3: "c"} {
		v, ok, err := uh.Query(k)
		if err != nil || !ok || v != want {
			t.Fatalf("Query(%d) = %q, %v, %v; want %q", k, v, ok, err, want)
		}
	}
}

func TestValueCompressionRoundTrip(t *testing.T) {
	big := make([]byte, 4096)
	for i := range big {
		big[i] = byte('a' + i%5)
	}
	blob := encodeSingleBlob(big)
	if blob[0] != compressionFlagLZ4 {
		t.Fatalf("expected highly repetitive payload to compress")
	}
	back, err := decodeSingleBlob(blob)
	if err != nil {
		t.Fatalf("decodeSingleBlob: %v", err)
	}
	if string(back) != string(big) {
		t.Fatalf("round trip mismatch")
	}
}

func TestValueCompressionSkippedBelowThreshold(t *testing.T) {
	small := []byte("short")
	blob := encodeSingleBlob(small)
	if blob[0] != compressionFlagRaw {
		t.Fatalf("expected payload below compressionMinSize to stay raw")
	}
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	return info.Size()
}
