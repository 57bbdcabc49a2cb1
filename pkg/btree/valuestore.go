package btree

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/lz4"
)

// packedValueThreshold is the boundary below which a value is co-located
// with others in a shared packed block rather than getting its own blob.
const packedValueThreshold = 256

// compressionMinSize is the smallest payload compression is even attempted
// on; smaller payloads are always stored raw.
const compressionMinSize = 64

// compressionKeepRatio: a compressed payload is kept only if it is smaller
// than this fraction of the raw size.
const compressionKeepRatio = 0.85

const (
	compressionFlagRaw  byte = 0x00
	compressionFlagLZ4  byte = 0x01
)

// valueStorageMode tags how a value is physically stored.
type valueStorageMode uint8

const (
	storagePacked valueStorageMode = iota
	storageSingle
)

// ValueInfo points at the physical storage location of one value and
// records its stored length. Packed values live at (BlockOffset,
// IndexInBlock) inside a shared packed block; Single values are a blob at
// ByteOffset. StoredLength is always 1+payload_bytes for Single values (the
// compression flag byte plus payload), matching the format note that the
// flag byte is never counted separately from the value's recorded length.
type ValueInfo struct {
	Mode         valueStorageMode
	BlockOffset  uint64
	IndexInBlock uint32
	ByteOffset   uint64
	StoredLength uint32
}

func (v ValueInfo) encode() []byte {
	buf := make([]byte, 1+8+4+8+4)
	buf[0] = byte(v.Mode)
	binary.LittleEndian.PutUint64(buf[1:9], v.BlockOffset)
	binary.LittleEndian.PutUint32(buf[9:13], v.IndexInBlock)
	binary.LittleEndian.PutUint64(buf[13:21], v.ByteOffset)
	binary.LittleEndian.PutUint32(buf[21:25], v.StoredLength)
	return buf
}

func decodeValueInfo(buf []byte) (ValueInfo, error) {
	if len(buf) < 25 {
		return ValueInfo{}, newPageError(Corrupted, "truncated value_info")
	}
	return ValueInfo{
		Mode:         valueStorageMode(buf[0]),
		BlockOffset:  binary.LittleEndian.Uint64(buf[1:9]),
		IndexInBlock: binary.LittleEndian.Uint32(buf[9:13]),
		ByteOffset:   binary.LittleEndian.Uint64(buf[13:21]),
		StoredLength: binary.LittleEndian.Uint32(buf[21:25]),
	}, nil
}

const valueInfoEncodedSize = 25

// encodeSingleBlob builds the [flag][payload] representation for a
// standalone value, attempting LZ4 compression per the policy: only tried
// for payloads >= compressionMinSize, and only kept if it shrinks the
// payload below compressionKeepRatio of its raw size. LZ4 frames are
// length-prefixed internally (klauspost/compress/lz4's frame format carries
// the content size), so no separate original-length field is stored here.
func encodeSingleBlob(payload []byte) []byte {
	if len(payload) >= compressionMinSize {
		if compressed, ok := tryCompress(payload); ok {
			out := make([]byte, 1+len(compressed))
			out[0] = compressionFlagLZ4
			copy(out[1:], compressed)
			return out
		}
	}
	out := make([]byte, 1+len(payload))
	out[0] = compressionFlagRaw
	copy(out[1:], payload)
	return out
}

func tryCompress(payload []byte) ([]byte, bool) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		return nil, false
	}
	if err := w.Close(); err != nil {
		return nil, false
	}
	compressed := buf.Bytes()
	if float64(len(compressed)) < float64(len(payload))*compressionKeepRatio {
		return compressed, true
	}
	return nil, false
}

// decodeSingleBlob reverses encodeSingleBlob.
func decodeSingleBlob(blob []byte) ([]byte, error) {
	if len(blob) < 1 {
		return nil, newPageError(Corrupted, "empty value blob")
	}
	flag, payload := blob[0], blob[1:]
	switch flag {
	case compressionFlagRaw:
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	case compressionFlagLZ4:
		r := lz4.NewReader(bytes.NewReader(payload))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, newPageError(Corrupted, "lz4 frame decode failed: "+err.Error())
		}
		return out, nil
	default:
		return nil, newPageError(Corrupted, "unknown compression flag")
	}
}

// encodeBlock serializes a list of byte strings as a length-prefixed
// bincode-compatible array: [u32 count]([u32 len][payload])*. This shape is
// shared by packed value blocks, a node's key list, a leaf's value_info
// list, and an internal node's child-pointer list.
func encodeBlock(values [][]byte) []byte {
	var buf bytes.Buffer
	countBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(countBuf, uint32(len(values)))
	buf.Write(countBuf)
	lenBuf := make([]byte, 4)
	for _, v := range values {
		binary.LittleEndian.PutUint32(lenBuf, uint32(len(v)))
		buf.Write(lenBuf)
		buf.Write(v)
	}
	return buf.Bytes()
}

func decodeBlock(block []byte) ([][]byte, error) {
	if len(block) < 4 {
		return nil, newPageError(Corrupted, "truncated block")
	}
	count := binary.LittleEndian.Uint32(block[0:4])
	out := make([][]byte, 0, count)
	pos := 4
	for i := uint32(0); i < count; i++ {
		if pos+4 > len(block) {
			return nil, newPageError(Corrupted, "truncated block entry length")
		}
		l := int(binary.LittleEndian.Uint32(block[pos : pos+4]))
		pos += 4
		if pos+l > len(block) {
			return nil, newPageError(Corrupted, "truncated block payload")
		}
		entry := make([]byte, l)
		copy(entry, block[pos:pos+l])
		out = append(out, entry)
		pos += l
	}
	return out, nil
}
