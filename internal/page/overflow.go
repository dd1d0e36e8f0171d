package page

import "encoding/binary"

// OverflowHeaderSize is the page_lsn + next_page_id prefix on every
// overflow page.
const OverflowHeaderSize = overflowHeaderSize

// OverflowNext reads the next-page-id link from an overflow page.
func OverflowNext(buf []byte) PageID {
	return PageID(binary.BigEndian.Uint64(buf[lsnSize:]))
}

// SetOverflowNext writes the next-page-id link on an overflow page.
func SetOverflowNext(buf []byte, next PageID) {
	binary.BigEndian.PutUint64(buf[lsnSize:], uint64(next))
}

// OverflowPayload returns the raw payload region of an overflow page.
func OverflowPayload(buf []byte) []byte {
	return buf[overflowHeaderSize:]
}

// FreeListLinkNext reads the next-page-id link from a free-list link page.
func FreeListLinkNext(buf []byte) PageID {
	return PageID(binary.BigEndian.Uint64(buf[lsnSize:]))
}

// SetFreeListLinkNext writes the next-page-id link on a free-list link page.
func SetFreeListLinkNext(buf []byte, next PageID) {
	binary.BigEndian.PutUint64(buf[lsnSize:], uint64(next))
}
