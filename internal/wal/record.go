// Package wal implements the write-ahead log (spec.md §4.4): a sequence
// of immutable, fixed-block segment files carrying framed records whose
// payloads are deltas, full page images, or commit markers. Adapted from
// the teacher's pkg/wal (a single growable file of fixed frames with a
// SQLite-style header) generalized to segmented storage with sub-block
// record framing and crc32c per record rather than per frame.
package wal

import (
	"encoding/binary"
	"hash/crc32"

	"calico/internal/page"
)

// RecordHeaderSize is lsn(8) + crc32c(4) + kind(1) + payload_len(2).
const RecordHeaderSize = 15

// Kind fragments a logical record across block boundaries.
type Kind byte

const (
	KindFull   Kind = 0
	KindFirst  Kind = 1
	KindMiddle Kind = 2
	KindLast   Kind = 3
)

// PayloadType tags a logical record's payload (spec.md §4.4).
type PayloadType byte

const (
	PayloadDeltas    PayloadType = 0xD0
	PayloadFullImage PayloadType = 0xF0
	PayloadCommit    PayloadType = 0xC0
)

// CrcTable is the crc32c (Castagnoli) polynomial table used for every
// record checksum, shared across the writer and reader.
var CrcTable = crc32.MakeTable(crc32.Castagnoli)

// Delta is one changed byte range within a page (spec.md §9's "mutable
// slice aliasing" redesign note: ranges are recorded as explicit tuples,
// never as aliased slices into the page buffer). The transaction
// driver's Touch logs a single Delta spanning the whole page.
type Delta struct {
	Offset uint16
	Bytes  []byte
}

// EncodeDeltas builds a deltas payload (type 0xD0) for pageID.
func EncodeDeltas(pageID page.PageID, deltas []Delta) []byte {
	size := 8 + 2
	for _, d := range deltas {
		size += 2 + 2 + len(d.Bytes)
	}
	out := make([]byte, size)
	off := 0
	binary.BigEndian.PutUint64(out[off:], uint64(pageID))
	off += 8
	binary.BigEndian.PutUint16(out[off:], uint16(len(deltas)))
	off += 2
	for _, d := range deltas {
		binary.BigEndian.PutUint16(out[off:], d.Offset)
		off += 2
		binary.BigEndian.PutUint16(out[off:], uint16(len(d.Bytes)))
		off += 2
		copy(out[off:], d.Bytes)
		off += len(d.Bytes)
	}
	return out
}

// DecodeDeltas parses a deltas payload (without its leading type byte).
func DecodeDeltas(buf []byte) (page.PageID, []Delta) {
	pageID := page.PageID(binary.BigEndian.Uint64(buf[0:]))
	count := binary.BigEndian.Uint16(buf[8:])
	off := 10
	deltas := make([]Delta, 0, count)
	for i := 0; i < int(count); i++ {
		offset := binary.BigEndian.Uint16(buf[off:])
		off += 2
		size := binary.BigEndian.Uint16(buf[off:])
		off += 2
		bytes := buf[off : off+int(size)]
		off += int(size)
		deltas = append(deltas, Delta{Offset: offset, Bytes: bytes})
	}
	return pageID, deltas
}

// EncodeFullImage builds a full-image payload (type 0xF0).
func EncodeFullImage(pageID page.PageID, image []byte) []byte {
	out := make([]byte, 8+len(image))
	binary.BigEndian.PutUint64(out[0:], uint64(pageID))
	copy(out[8:], image)
	return out
}

// DecodeFullImage parses a full-image payload.
func DecodeFullImage(buf []byte) (page.PageID, []byte) {
	return page.PageID(binary.BigEndian.Uint64(buf[0:])), buf[8:]
}

// Record is one fully reassembled logical WAL record.
type Record struct {
	Lsn     page.Lsn
	Type    PayloadType
	Payload []byte // type byte stripped
}
