package tree

import (
	"calico/internal/calicoerr"
	"calico/internal/page"
	"calico/internal/txn"
)

// CursorStatus reports whether a cursor still sees a valid position.
type CursorStatus int

const (
	StatusValid CursorStatus = iota
	StatusOffEnd
	StatusInvalidated
)

// Cursor iterates committed leaf content in key order (spec.md §4.5).
// It holds (node_id, slot_index); next/prev traverse leaf sibling links
// at node boundaries.
type Cursor struct {
	tr     *Tree
	t      *txn.Txn
	nodeID page.PageID
	index  int
	status CursorStatus
}

// NewCursor creates an unpositioned cursor bound to t.
func (tr *Tree) NewCursor(t *txn.Txn) *Cursor {
	return &Cursor{tr: tr, t: t, status: StatusOffEnd}
}

// Invalidate marks c unusable. Nothing calls it automatically: a mutation
// made through the same Txn after the cursor was positioned leaves the
// cursor's status unchanged.
func (c *Cursor) Invalidate() { c.status = StatusInvalidated }

func (c *Cursor) Status() CursorStatus { return c.status }

// Seek positions c at the first key >= target.
func (c *Cursor) Seek(target []byte) error {
	res, err := c.tr.search(c.t, target)
	if err != nil {
		return err
	}
	c.nodeID = res.leafID
	c.index = res.index
	c.status = StatusValid
	return c.normalize()
}

// SeekFirst positions c at the smallest key in the tree.
func (c *Cursor) SeekFirst() error {
	id := c.tr.rootID
	for {
		fr, err := c.t.Acquire(id)
		if err != nil {
			return err
		}
		n := page.NewNode(fr.Data())
		isExternal := n.IsExternal()
		var next page.PageID
		if !isExternal {
			if n.CellCount() > 0 {
				cell := page.ParseCell(c.tr.meta(false), fr.Data(), n.CellOffset(0))
				next = cell.ChildID
			} else {
				next = n.NextID()
			}
		}
		c.t.Release(fr)
		if isExternal {
			c.nodeID = id
			c.index = 0
			c.status = StatusValid
			return c.normalize()
		}
		id = next
	}
}

// SeekLast positions c at the largest key in the tree.
func (c *Cursor) SeekLast() error {
	id := c.tr.rootID
	for {
		fr, err := c.t.Acquire(id)
		if err != nil {
			return err
		}
		n := page.NewNode(fr.Data())
		isExternal := n.IsExternal()
		next := n.NextID()
		count := n.CellCount()
		c.t.Release(fr)
		if isExternal {
			c.nodeID = id
			c.index = count - 1
			if count == 0 {
				c.status = StatusOffEnd
				return nil
			}
			c.status = StatusValid
			return nil
		}
		id = next
	}
}

// normalize moves an off-the-end leaf index onto the next leaf, if any.
func (c *Cursor) normalize() error {
	fr, err := c.t.Acquire(c.nodeID)
	if err != nil {
		return err
	}
	n := page.NewNode(fr.Data())
	count := n.CellCount()
	next := n.NextID()
	c.t.Release(fr)

	if c.index < count {
		return nil
	}
	if next == 0 {
		c.status = StatusOffEnd
		return nil
	}
	c.nodeID = next
	c.index = 0
	return c.normalize()
}

// Next advances to the following key.
func (c *Cursor) Next() error {
	if c.status != StatusValid {
		return calicoerr.New(calicoerr.LogicError, "cursor not positioned")
	}
	c.index++
	return c.normalize()
}

// Prev moves to the preceding key.
func (c *Cursor) Prev() error {
	if c.status != StatusValid {
		return calicoerr.New(calicoerr.LogicError, "cursor not positioned")
	}
	if c.index > 0 {
		c.index--
		return nil
	}
	fr, err := c.t.Acquire(c.nodeID)
	if err != nil {
		return err
	}
	prev := page.NewNode(fr.Data()).PrevID()
	c.t.Release(fr)
	if prev == 0 {
		c.status = StatusOffEnd
		return nil
	}
	prevFr, err := c.t.Acquire(prev)
	if err != nil {
		return err
	}
	count := page.NewNode(prevFr.Data()).CellCount()
	c.t.Release(prevFr)

	c.nodeID = prev
	c.index = count - 1
	return nil
}

// Key returns the key at the cursor's current position.
func (c *Cursor) Key() ([]byte, error) {
	fr, err := c.t.Acquire(c.nodeID)
	if err != nil {
		return nil, err
	}
	defer c.t.Release(fr)
	n := page.NewNode(fr.Data())
	cell := page.ParseCell(c.tr.meta(true), fr.Data(), n.CellOffset(c.index))
	return append([]byte(nil), page.Key(fr.Data(), cell)...), nil
}

// Value returns the (possibly overflow-reassembled) value at the
// cursor's current position.
func (c *Cursor) Value() ([]byte, error) {
	fr, err := c.t.Acquire(c.nodeID)
	if err != nil {
		return nil, err
	}
	n := page.NewNode(fr.Data())
	cell := page.ParseCell(c.tr.meta(true), fr.Data(), n.CellOffset(c.index))
	local := page.LocalValue(fr.Data(), cell)
	if !cell.HasOverflow {
		v := append([]byte(nil), local...)
		c.t.Release(fr)
		return v, nil
	}
	localCopy := append([]byte(nil), local...)
	c.t.Release(fr)
	return c.tr.readOverflow(c.t, cell, localCopy)
}
