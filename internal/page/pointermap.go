package page

import "encoding/binary"

// PtrMapEntryType classifies what a pointer-map entry's back pointer
// refers to (spec.md §3).
type PtrMapEntryType byte

const (
	PtrTreeNode PtrMapEntryType = iota
	PtrOverflowHead
	PtrOverflowLink
	PtrFreeListLink
)

// PtrMapEntrySize is back_pointer (8 bytes) + type (1 byte).
const PtrMapEntrySize = 9

// ptrMapEntriesOffset is where the entry array starts, right after the
// page_lsn prefix.
const ptrMapEntriesOffset = lsnSize

// PtrMapEntry is one decoded pointer-map slot.
type PtrMapEntry struct {
	BackPointer PageID
	Type        PtrMapEntryType
}

// PtrMapSlotForPage returns the index of id's entry within its pointer
// map page, given the map's stride.
func PtrMapSlotForPage(id PageID, pageSize int) (mapPage PageID, slot int) {
	stride := int64(PointerMapStride(pageSize))
	groupSize := stride + 1 // the map page itself plus `stride` data pages
	offset := (int64(id) - 2) % groupSize
	mapPage = id - PageID(offset)
	slot = int(offset) - 1 // slot 0 is the first data page after the map page
	return
}

// ReadPtrMapEntry decodes the entry at slot i in a pointer-map page.
func ReadPtrMapEntry(buf []byte, i int) PtrMapEntry {
	off := ptrMapEntriesOffset + i*PtrMapEntrySize
	return PtrMapEntry{
		BackPointer: PageID(binary.BigEndian.Uint64(buf[off:])),
		Type:        PtrMapEntryType(buf[off+8]),
	}
}

// WritePtrMapEntry writes the entry at slot i in a pointer-map page.
func WritePtrMapEntry(buf []byte, i int, e PtrMapEntry) {
	off := ptrMapEntriesOffset + i*PtrMapEntrySize
	binary.BigEndian.PutUint64(buf[off:], uint64(e.BackPointer))
	buf[off+8] = byte(e.Type)
}
