package btree

import (
	"encoding/binary"
	"os"
)

const (
	// PageSize is the fixed page size for every page in a BTreeStore file,
	// including the file header page.
	PageSize = 4096

	// pageHeaderSize is the size in bytes of the per-page header that
	// precedes every node page's body.
	pageHeaderSize = 16

	fileMagic           = "BTRE"
	fileFormatVersion    = uint32(1)
	fileHeaderRootOffset = 8 // byte offset of the root_offset field within page 0
)

// PageType tags what a node page contains.
type PageType uint8

const (
	PageLeaf PageType = iota
	PageInternal
	PageOverflow
)

// pageHeader is the 16-byte header written at the start of every node page.
type pageHeader struct {
	PageType      PageType
	CellCount     uint16
	FreeStart     uint16
	FreeEnd       uint16
	RightSibling  uint64 // reserved for leaf chaining; unused by this implementation
}

func (h pageHeader) encode() []byte {
	buf := make([]byte, pageHeaderSize)
	buf[0] = byte(h.PageType)
	buf[1] = 0 // reserved
	binary.LittleEndian.PutUint16(buf[2:4], h.CellCount)
	binary.LittleEndian.PutUint16(buf[4:6], h.FreeStart)
	binary.LittleEndian.PutUint16(buf[6:8], h.FreeEnd)
	binary.LittleEndian.PutUint64(buf[8:16], h.RightSibling)
	return buf
}

func decodePageHeader(buf []byte) (pageHeader, error) {
	if len(buf) < pageHeaderSize {
		return pageHeader{}, newPageError(Corrupted, "page shorter than header")
	}
	pt := PageType(buf[0])
	if pt != PageLeaf && pt != PageInternal && pt != PageOverflow {
		return pageHeader{}, newPageError(Corrupted, "invalid page_type byte")
	}
	return pageHeader{
		PageType:     pt,
		CellCount:    binary.LittleEndian.Uint16(buf[2:4]),
		FreeStart:    binary.LittleEndian.Uint16(buf[4:6]),
		FreeEnd:      binary.LittleEndian.Uint16(buf[6:8]),
		RightSibling: binary.LittleEndian.Uint64(buf[8:16]),
	}, nil
}

// encodeFileHeader builds the 4096-byte page-0 contents.
func encodeFileHeader(rootOffset uint64) []byte {
	buf := make([]byte, PageSize)
	copy(buf[0:4], fileMagic)
	binary.LittleEndian.PutUint32(buf[4:8], fileFormatVersion)
	binary.LittleEndian.PutUint64(buf[fileHeaderRootOffset:fileHeaderRootOffset+8], rootOffset)
	return buf
}

func decodeFileHeader(buf []byte) (rootOffset uint64, err error) {
	if len(buf) < PageSize {
		return 0, newPageError(Corrupted, "truncated file header")
	}
	if string(buf[0:4]) != fileMagic {
		return 0, ErrBadMagic
	}
	version := binary.LittleEndian.Uint32(buf[4:8])
	if version != fileFormatVersion {
		return 0, ErrUnsupportedVersion
	}
	return binary.LittleEndian.Uint64(buf[fileHeaderRootOffset : fileHeaderRootOffset+8]), nil
}

func readPageAt(f *os.File, offset int64) ([]byte, error) {
	buf := make([]byte, PageSize)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}

func writePageAt(f *os.File, offset int64, body []byte) error {
	if len(body) > PageSize {
		return newPageError(NoSpace, "node body exceeds page size")
	}
	buf := make([]byte, PageSize)
	copy(buf, body)
	_, err := f.WriteAt(buf, offset)
	return err
}

// writeRootOffset performs the atomic 8-byte root-offset update described in
// the format: a single aligned little-endian write, fsynced before return,
// so readers never observe a torn root pointer.
func writeRootOffset(f *os.File, rootOffset uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, rootOffset)
	if _, err := f.WriteAt(buf, fileHeaderRootOffset); err != nil {
		return err
	}
	return f.Sync()
}
