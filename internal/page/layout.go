// Package page implements the on-disk page layout from spec.md §3: the
// file header, node header, slot directory, intra-node free-block
// allocator, cell codec, overflow chain framing and pointer-map entries.
// Every byte offset here is part of the on-disk format and must stay
// bit-exact across readers and writers (spec.md §6).
package page

import "encoding/binary"

// PageID identifies a page; 0 is never a valid id and 1 is the root
// file-header page.
type PageID uint64

// Lsn is a monotone WAL sequence number; 0 means none.
type Lsn uint64

const (
	RootPageID PageID = 1

	// lsnSize is the page_lsn prefix every page carries at offset 0.
	lsnSize = 8

	// FileHeaderSize is the 42-byte file header (spec.md §6). spec.md §3
	// and §6 read as mildly in tension: §3 gives every page, including the
	// root, an 8-byte page_lsn followed immediately by a uniform node
	// header, while §6 describes page 1 as additionally storing the file
	// header somewhere within it. Both a node header and a file header
	// claiming the same bytes right after page_lsn would collide, so we
	// resolve this (see DESIGN.md) by reserving the file header out of the
	// *tail* of page 1: the root node's cell-content area starts
	// FileHeaderSize bytes short of the page end, and the file header
	// lives in that reserved tail. Every other page (and the root's node
	// header/slot directory/cells within its shrunk content area) keeps
	// the uniform layout.
	FileHeaderSize = 42

	// NodeHeaderSize is the 34-byte node header (spec.md §6).
	NodeHeaderSize = 34

	// overflowHeaderSize is page_lsn + next_page_id.
	overflowHeaderSize = lsnSize + 8

	// freeListLinkHeaderSize is page_lsn + next_page_id.
	freeListLinkHeaderSize = lsnSize + 8

	slotSize = 2

	// cellHeaderBound bounds the non-payload bytes of a cell (varint
	// lengths, child id, overflow head) for the local_size formula. It
	// must be the same constant in every implementation of this format.
	cellHeaderBound = 20

	// MagicNumber identifies a Calico data file (stored little-endian,
	// per spec.md §6's explicit "LE" annotation on this one field).
	MagicNumber = 0xE12419B1
)

// FileHeaderOffset returns where the file header sits on the root page,
// given the page size: the last FileHeaderSize bytes of the page.
func FileHeaderOffset(pageSize int) int {
	return pageSize - FileHeaderSize
}

// PageLSN reads the page_lsn prefix common to every page.
func PageLSN(buf []byte) Lsn {
	return Lsn(binary.BigEndian.Uint64(buf[0:8]))
}

// SetPageLSN writes the page_lsn prefix common to every page.
func SetPageLSN(buf []byte, lsn Lsn) {
	binary.BigEndian.PutUint64(buf[0:8], uint64(lsn))
}

// LocalLimits computes min_local/max_local for a given page size, per the
// deterministic formula in spec.md §3 (k=32 for min, k=64 for max).
func LocalLimits(pageSize int) (minLocal, maxLocal int) {
	usable := pageSize - NodeHeaderSize
	minLocal = (usable*32)/256 - cellHeaderBound - slotSize
	maxLocal = (usable*64)/256 - cellHeaderBound - slotSize
	return
}

// ValidPageSize reports whether size is a power of two in [512, 32768].
func ValidPageSize(size int) bool {
	if size < 512 || size > 32768 {
		return false
	}
	return size&(size-1) == 0
}

// PointerMapStride returns the number of data pages (not counting the map
// page itself) covered by one pointer-map page, given the fixed entry
// size used below.
func PointerMapStride(pageSize int) int {
	return (pageSize - lsnSize) / PtrMapEntrySize
}

// IsPointerMapPage reports whether pageNo is a pointer-map page: page 2,
// and every (stride+1)-th page thereafter.
func IsPointerMapPage(id PageID, pageSize int) bool {
	if id == 2 {
		return true
	}
	if id < 2 {
		return false
	}
	stride := int64(PointerMapStride(pageSize))
	offset := int64(id) - 2
	return offset%(stride+1) == 0
}
