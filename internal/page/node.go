package page

import "encoding/binary"

// Node header field offsets, relative to page start.
const (
	offFlags     = 8
	offNextID    = 9
	offPrevID    = 17
	offCellCount = 25
	offCellStart = 27
	offFreeStart = 29
	offFreeTotal = 31
	offFragCount = 33

	slotsOffset = NodeHeaderSize

	flagExternal = 0x01
)

// Node is a thin, stateless view over a node page's bytes: an external
// (leaf) or internal node sharing the same header/slot-directory/
// free-block layout (spec.md §3). Callers hold the backing buffer (a
// pager Frame's data); Node never copies it.
type Node struct {
	buf []byte
}

// NewNode wraps buf as a Node view. buf must be exactly one page.
func NewNode(buf []byte) *Node { return &Node{buf: buf} }

// InitNode initializes buf as a fresh, empty node of the given kind.
func InitNode(buf []byte, isExternal bool) *Node {
	return initNodeTail(buf, isExternal, 0)
}

// InitRootNode initializes buf as a fresh, empty node of the given kind,
// reserving the trailing FileHeaderSize bytes for the file header that
// only page 1 carries (see layout.go's FileHeaderOffset).
func InitRootNode(buf []byte, isExternal bool) *Node {
	return initNodeTail(buf, isExternal, FileHeaderSize)
}

func initNodeTail(buf []byte, isExternal bool, reservedTail int) *Node {
	n := &Node{buf: buf}
	flags := byte(0)
	if isExternal {
		flags = flagExternal
	}
	n.buf[offFlags] = flags
	n.setNextID(0)
	n.setPrevID(0)
	n.setCellCount(0)
	n.setCellStart(uint16(len(buf) - reservedTail))
	n.setFreeStart(0)
	n.setFreeTotal(0)
	n.buf[offFragCount] = 0
	return n
}

func (n *Node) IsExternal() bool { return n.buf[offFlags]&flagExternal != 0 }

func (n *Node) NextID() PageID { return PageID(binary.BigEndian.Uint64(n.buf[offNextID:])) }
func (n *Node) setNextID(id PageID) {
	binary.BigEndian.PutUint64(n.buf[offNextID:], uint64(id))
}
func (n *Node) SetNextID(id PageID) { n.setNextID(id) }

func (n *Node) PrevID() PageID { return PageID(binary.BigEndian.Uint64(n.buf[offPrevID:])) }
func (n *Node) setPrevID(id PageID) {
	binary.BigEndian.PutUint64(n.buf[offPrevID:], uint64(id))
}
func (n *Node) SetPrevID(id PageID) { n.setPrevID(id) }

func (n *Node) CellCount() int { return int(binary.BigEndian.Uint16(n.buf[offCellCount:])) }
func (n *Node) setCellCount(c int) {
	binary.BigEndian.PutUint16(n.buf[offCellCount:], uint16(c))
}

func (n *Node) CellStart() int { return int(binary.BigEndian.Uint16(n.buf[offCellStart:])) }
func (n *Node) setCellStart(v uint16) {
	binary.BigEndian.PutUint16(n.buf[offCellStart:], v)
}

func (n *Node) FreeStart() int { return int(binary.BigEndian.Uint16(n.buf[offFreeStart:])) }
func (n *Node) setFreeStart(v uint16) {
	binary.BigEndian.PutUint16(n.buf[offFreeStart:], v)
}

func (n *Node) FreeTotal() int { return int(binary.BigEndian.Uint16(n.buf[offFreeTotal:])) }
func (n *Node) setFreeTotal(v uint16) {
	binary.BigEndian.PutUint16(n.buf[offFreeTotal:], v)
}

func (n *Node) FragCount() int       { return int(n.buf[offFragCount]) }
func (n *Node) setFragCount(v int)   { n.buf[offFragCount] = byte(v) }

func (n *Node) slotOffset(i int) int { return slotsOffset + i*slotSize }

// CellOffset returns the page offset of cell i's content, per the slot
// directory.
func (n *Node) CellOffset(i int) int {
	return int(binary.BigEndian.Uint16(n.buf[n.slotOffset(i):]))
}

func (n *Node) setCellOffsetAt(slot, value int) {
	binary.BigEndian.PutUint16(n.buf[n.slotOffset(slot):], uint16(value))
}

// PageSize returns the size of the backing page.
func (n *Node) PageSize() int { return len(n.buf) }

// GapSize is the untouched space between the end of the slot directory
// and the start of the cell content area.
func (n *Node) GapSize() int {
	return n.CellStart() - (slotsOffset + n.CellCount()*slotSize)
}

// UsableSpace is the total space available for new cells: the gap plus
// everything on the free-block list (fragments are lost, not usable).
func (n *Node) UsableSpace() int {
	return n.FreeTotal() + n.GapSize()
}

// InsertSlot inserts a new slot at index i pointing at offset, shifting
// later slots right. It does not touch the cell region.
func (n *Node) InsertSlot(i, offset int) {
	count := n.CellCount()
	for j := count; j > i; j-- {
		n.setCellOffsetAt(j, n.CellOffset(j-1))
	}
	n.setCellOffsetAt(i, offset)
	n.setCellCount(count + 1)
}

// RemoveSlot deletes slot i, shifting later slots left.
func (n *Node) RemoveSlot(i int) {
	count := n.CellCount()
	for j := i; j < count-1; j++ {
		n.setCellOffsetAt(j, n.CellOffset(j+1))
	}
	n.setCellCount(count - 1)
}

// freeBlockHeaderSize is the (next-offset, size) pair stored inline at the
// start of every free block on the list.
const freeBlockHeaderSize = 4

// Allocate reserves size bytes in the cell region and returns their
// offset, or 0 if there is no room (caller should Defragment and retry).
func (n *Node) Allocate(size int) int {
	if n.GapSize() >= size {
		newStart := n.CellStart() - size
		n.setCellStart(uint16(newStart))
		return newStart
	}

	// First-fit walk of the free-block list.
	prevPtrOffset := offFreeStart
	cur := n.FreeStart()
	for cur != 0 {
		blockSize := int(binary.BigEndian.Uint16(n.buf[cur+2:]))
		next := int(binary.BigEndian.Uint16(n.buf[cur:]))
		if blockSize >= size {
			leftover := blockSize - size
			if leftover < freeBlockHeaderSize {
				// Whole block consumed (plus a fragment of leftover bytes).
				n.writeNextPtr(prevPtrOffset, next)
				n.setFreeTotal(uint16(n.FreeTotal() - blockSize))
				n.setFragCount(n.FragCount() + leftover)
				return cur
			}
			// Shrink in place: surviving free space moves to the tail of
			// the block, cell goes at the front.
			newBlockOffset := cur + size
			binary.BigEndian.PutUint16(n.buf[newBlockOffset:], uint16(next))
			binary.BigEndian.PutUint16(n.buf[newBlockOffset+2:], uint16(leftover))
			n.writeNextPtr(prevPtrOffset, newBlockOffset)
			n.setFreeTotal(uint16(n.FreeTotal() - size))
			return cur
		}
		prevPtrOffset = cur
		cur = next
	}
	return 0
}

// writeNextPtr updates either the header's free_start field or a free
// block's next-pointer field, depending on whether headerOrBlockOffset is
// offFreeStart.
func (n *Node) writeNextPtr(headerOrBlockOffset, next int) {
	if headerOrBlockOffset == offFreeStart {
		n.setFreeStart(uint16(next))
		return
	}
	binary.BigEndian.PutUint16(n.buf[headerOrBlockOffset:], uint16(next))
}

// Free releases a cell's region back to the node: sub-4-byte regions
// become fragments, everything else is pushed onto the free-block list.
func (n *Node) Free(offset, size int) {
	if size < freeBlockHeaderSize {
		n.setFragCount(n.FragCount() + size)
		return
	}
	head := n.FreeStart()
	binary.BigEndian.PutUint16(n.buf[offset:], uint16(head))
	binary.BigEndian.PutUint16(n.buf[offset+2:], uint16(size))
	n.setFreeStart(uint16(offset))
	n.setFreeTotal(uint16(n.FreeTotal() + size))
}

// Defragment repacks every live cell contiguously at the page's end, in
// slot order, clearing the free-block list and fragment count. sizeOf
// must return a cell's total footprint given its current offset; skip, if
// >= 0, is a slot whose cell is about to be overwritten and should be
// dropped from the rebuild. Idempotent and preserves key order.
func (n *Node) Defragment(sizeOf func(offset int) int, skip int) {
	count := n.CellCount()
	scratch := make([]byte, len(n.buf))
	cellEnd := len(n.buf)

	newOffsets := make([]int, count)
	for i := 0; i < count; i++ {
		if i == skip {
			continue
		}
		off := n.CellOffset(i)
		sz := sizeOf(off)
		cellEnd -= sz
		copy(scratch[cellEnd:cellEnd+sz], n.buf[off:off+sz])
		newOffsets[i] = cellEnd
	}

	copy(n.buf[cellEnd:], scratch[cellEnd:])
	for i := 0; i < count; i++ {
		if i == skip {
			continue
		}
		n.setCellOffsetAt(i, newOffsets[i])
	}

	n.setCellStart(uint16(cellEnd))
	n.setFreeStart(0)
	n.setFreeTotal(0)
	n.setFragCount(0)
}
