package page

import (
	"encoding/binary"
	"hash/crc32"

	"calico/internal/calicoerr"
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// FileHeader is the root page's fixed-offset header (spec.md §6).
type FileHeader struct {
	PageCount     uint64
	RecordCount   uint64
	FreeListHead  PageID
	RecoveryLsn   Lsn
	PageSize      uint16
}

// Encode writes h into buf at the file-header offset (buf must be a full
// root page). The page_lsn prefix is left untouched; callers set it via
// SetPageLSN.
func (h *FileHeader) Encode(buf []byte) {
	off := FileHeaderOffset(len(buf))
	b := buf[off : off+FileHeaderSize]
	binary.LittleEndian.PutUint32(b[0:4], MagicNumber)
	// crc over everything after the crc field itself
	binary.BigEndian.PutUint64(b[8:16], h.PageCount)
	binary.BigEndian.PutUint64(b[16:24], h.RecordCount)
	binary.BigEndian.PutUint64(b[24:32], uint64(h.FreeListHead))
	binary.BigEndian.PutUint64(b[32:40], uint64(h.RecoveryLsn))
	binary.BigEndian.PutUint16(b[40:42], h.PageSize)

	crc := crc32.Checksum(b[8:42], crcTable)
	binary.BigEndian.PutUint32(b[4:8], crc)
}

// DecodeFileHeader parses and validates the file header from a root page
// buffer, returning Corruption if the magic or crc don't match.
func DecodeFileHeader(buf []byte) (*FileHeader, error) {
	if len(buf) < FileHeaderSize {
		return nil, calicoerr.New(calicoerr.Corruption, "page too small for file header")
	}
	off := FileHeaderOffset(len(buf))
	b := buf[off : off+FileHeaderSize]

	magic := binary.LittleEndian.Uint32(b[0:4])
	if magic != MagicNumber {
		return nil, calicoerr.New(calicoerr.Corruption, "bad file header magic")
	}

	storedCrc := binary.BigEndian.Uint32(b[4:8])
	gotCrc := crc32.Checksum(b[8:42], crcTable)
	if storedCrc != gotCrc {
		return nil, calicoerr.New(calicoerr.Corruption, "file header crc mismatch")
	}

	return &FileHeader{
		PageCount:    binary.BigEndian.Uint64(b[8:16]),
		RecordCount:  binary.BigEndian.Uint64(b[16:24]),
		FreeListHead: PageID(binary.BigEndian.Uint64(b[24:32])),
		RecoveryLsn:  Lsn(binary.BigEndian.Uint64(b[32:40])),
		PageSize:     binary.BigEndian.Uint16(b[40:42]),
	}, nil
}
