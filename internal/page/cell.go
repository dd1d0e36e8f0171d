package page

import (
	"encoding/binary"

	"calico/internal/encoding"
)

// Meta bundles the two pieces of per-page-size state the cell codec needs
// and which kind of node it is reading/writing -- the "NodeMeta" vtable
// from spec.md §9's design notes, minus the function pointers: Go
// dispatches on Meta.IsExternal directly instead of carrying closures.
type Meta struct {
	IsExternal bool
	MinLocal   int
	MaxLocal   int
}

// LocalBudget returns how many bytes of payload (key, plus value for an
// external cell) are stored on-page before the rest spills to overflow,
// per spec.md §3's local_size policy.
func (m Meta) LocalBudget(keySize, valueSize int) int {
	total := keySize + valueSize
	if total <= m.MaxLocal {
		return total
	}
	budget := keySize
	if m.MinLocal > budget {
		budget = m.MinLocal
	}
	return budget
}

// Parsed is a cell's decoded header -- everything needed to read its
// payload or compute its footprint without copying key/value bytes.
type Parsed struct {
	Ptr              int
	KeyPtr           int
	KeySize          int
	LocalPayloadSize int // external: local value bytes; internal: 0
	TotalPayloadSize int // external: total value size; internal: 0
	HasOverflow      bool
	OverflowHead     PageID
	ChildID          PageID // internal cells only
	Footprint        int
}

// ParseCell decodes the cell at offset ptr in buf.
func ParseCell(m Meta, buf []byte, ptr int) Parsed {
	p := Parsed{Ptr: ptr}
	off := ptr

	if !m.IsExternal {
		p.ChildID = PageID(binary.BigEndian.Uint64(buf[off:]))
		off += 8
	}

	keySize, n := encoding.GetVarint(buf[off:])
	off += n
	p.KeySize = int(keySize)

	var valueSize uint64
	if m.IsExternal {
		valueSize, n = encoding.GetVarint(buf[off:])
		off += n
		p.TotalPayloadSize = int(valueSize)
	}

	p.KeyPtr = off

	localBudget := m.LocalBudget(p.KeySize, int(valueSize))
	localKeyBytes := p.KeySize
	if localBudget < localKeyBytes {
		localKeyBytes = localBudget
	}
	off += localKeyBytes

	if m.IsExternal {
		localValueBytes := localBudget - localKeyBytes
		if localValueBytes < 0 {
			localValueBytes = 0
		}
		p.LocalPayloadSize = localValueBytes
		off += localValueBytes
	}

	spilled := (p.KeySize + p.TotalPayloadSize) > localBudget
	p.HasOverflow = spilled
	if spilled {
		p.OverflowHead = PageID(binary.BigEndian.Uint64(buf[off:]))
		off += 8
	}

	p.Footprint = off - ptr
	return p
}

// CellSizeFor returns the total footprint of the cell at ptr, without
// building a Parsed.
func CellSizeFor(m Meta, buf []byte, ptr int) int {
	return ParseCell(m, buf, ptr).Footprint
}

// Key returns the cell's key bytes. Keys are never split by the engine
// (oversized keys are rejected at the public API), so the full key is
// always local.
func Key(buf []byte, p Parsed) []byte {
	return buf[p.KeyPtr : p.KeyPtr+p.KeySize]
}

// LocalValue returns an external cell's locally-stored value bytes.
func LocalValue(buf []byte, p Parsed) []byte {
	start := p.KeyPtr + p.KeySize
	return buf[start : start+p.LocalPayloadSize]
}

// EmplaceExternal writes a complete external cell to out[0:], per
// spec.md §4.2: full key, up to local_size value bytes, and an optional
// overflow head. Returns the number of bytes written.
func EmplaceExternal(out []byte, totalValueSize int, key, localValue []byte, overflowHead PageID) int {
	off := 0
	off += encoding.PutVarint(out[off:], uint64(len(key)))
	off += encoding.PutVarint(out[off:], uint64(totalValueSize))
	copy(out[off:], key)
	off += len(key)
	copy(out[off:], localValue)
	off += len(localValue)
	if overflowHead != 0 {
		binary.BigEndian.PutUint64(out[off:], uint64(overflowHead))
		off += 8
	}
	return off
}

// EmplaceInternal writes a complete internal cell: child id, key, and an
// optional overflow head for the pathological oversized-key case.
func EmplaceInternal(out []byte, child PageID, key []byte, overflowHead PageID) int {
	off := 0
	binary.BigEndian.PutUint64(out[off:], uint64(child))
	off += 8
	off += encoding.PutVarint(out[off:], uint64(len(key)))
	copy(out[off:], key)
	off += len(key)
	if overflowHead != 0 {
		binary.BigEndian.PutUint64(out[off:], uint64(overflowHead))
		off += 8
	}
	return off
}

// ExternalCellFootprint returns the footprint EmplaceExternal(key,
// totalValueSize) will occupy, given localValueLen local value bytes and
// whether the cell carries an overflow head.
func ExternalCellFootprint(keyLen, totalValueSize, localValueLen int, hasOverflow bool) int {
	n := encoding.VarintLen(uint64(keyLen)) + encoding.VarintLen(uint64(totalValueSize)) + keyLen + localValueLen
	if hasOverflow {
		n += 8
	}
	return n
}

// InternalCellFootprint returns the footprint EmplaceInternal will occupy.
func InternalCellFootprint(keyLen int, hasOverflow bool) int {
	n := 8 + encoding.VarintLen(uint64(keyLen)) + keyLen
	if hasOverflow {
		n += 8
	}
	return n
}

// PromoteCell converts an external cell's in-memory representation into
// internal form: prepend room for a left child id, and truncate the
// payload to the key alone (dropping the value), per spec.md §4.2. It is
// used when the leftmost key of a right sibling is promoted into the
// parent during a leaf split.
func PromoteCell(child PageID, key []byte) []byte {
	out := make([]byte, InternalCellFootprint(len(key), false))
	EmplaceInternal(out, child, key, 0)
	return out
}

// ReadChildID reads an internal cell's embedded left-child id.
func ReadChildID(buf []byte, ptr int) PageID {
	return PageID(binary.BigEndian.Uint64(buf[ptr:]))
}

// WriteChildID overwrites an internal cell's embedded left-child id in
// place, without touching the rest of the cell.
func WriteChildID(buf []byte, ptr int, child PageID) {
	binary.BigEndian.PutUint64(buf[ptr:], uint64(child))
}

// ReadOverflowHead reads a parsed cell's overflow chain head. Only valid
// when p.HasOverflow.
func ReadOverflowHead(p Parsed) PageID { return p.OverflowHead }
