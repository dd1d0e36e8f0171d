package tree

import (
	"calico/internal/calicoerr"
	"calico/internal/page"
	"calico/internal/txn"
)

// Put inserts or overwrites key with value. inserted reports whether key
// was absent before the call (for record_count bookkeeping).
func (tr *Tree) Put(t *txn.Txn, key, value []byte) (inserted bool, err error) {
	if len(key) == 0 {
		return false, calicoerr.New(calicoerr.InvalidArgument, "empty key")
	}
	if len(key) > tr.MaxKeyLen() {
		return false, calicoerr.New(calicoerr.InvalidArgument, "key exceeds maximum size %d", tr.MaxKeyLen())
	}

	res, err := tr.search(t, key)
	if err != nil {
		return false, err
	}

	if res.exact {
		if err := tr.removeCellAt(t, res.leafID, res.index, true); err != nil {
			return false, err
		}
	}

	localBudget := tr.meta(true).LocalBudget(len(key), len(value))
	localLen := len(key)
	if localBudget < localLen {
		localLen = localBudget
	}
	localValueLen := localBudget - localLen
	if localValueLen < 0 {
		localValueLen = 0
	}
	if localValueLen > len(value) {
		localValueLen = len(value)
	}

	var overflowHead page.PageID
	if len(key)+len(value) > localBudget {
		tail := value[localValueLen:]
		head, err := tr.writeChain(t, tail)
		if err != nil {
			return false, err
		}
		overflowHead = head
	}

	footprint := page.ExternalCellFootprint(len(key), len(value), localValueLen, overflowHead != 0)
	cellBytes := make([]byte, footprint)
	page.EmplaceExternal(cellBytes, len(value), key, value[:localValueLen], overflowHead)

	if err := tr.insertWithSplit(t, res.parents, res.leafID, res.index, key, cellBytes, true); err != nil {
		return false, err
	}
	return !res.exact, nil
}

// removeCellAt frees the cell at slot index in node id: releases its
// overflow chain (external cells only, when freeOverflow is set) and
// removes the slot, leaving the node's remaining content untouched. It
// Touches the node itself before returning.
func (tr *Tree) removeCellAt(t *txn.Txn, id page.PageID, index int, freeOverflow bool) error {
	fr, err := t.Acquire(id)
	if err != nil {
		return err
	}
	if err := t.Mutate(fr); err != nil {
		t.Release(fr)
		return err
	}
	n := page.NewNode(fr.Data())
	cell := page.ParseCell(tr.meta(n.IsExternal()), fr.Data(), n.CellOffset(index))
	if freeOverflow && cell.HasOverflow {
		if err := tr.freeChain(t, cell.OverflowHead); err != nil {
			t.Release(fr)
			return err
		}
	}
	n.Free(cell.Ptr, cell.Footprint)
	n.RemoveSlot(index)
	if err := t.Touch(fr); err != nil {
		t.Release(fr)
		return err
	}
	t.Release(fr)
	return nil
}

// cellEntry is an in-memory, already-encoded cell plus the key used to
// order it and (for internal cells) its embedded left-child pointer.
type cellEntry struct {
	key     []byte
	raw     []byte
	childID page.PageID
}

// gatherEntries reads every cell of node id into memory, in slot order.
func (tr *Tree) gatherEntries(t *txn.Txn, id page.PageID, isExternal bool) ([]cellEntry, page.PageID, error) {
	fr, err := t.Acquire(id)
	if err != nil {
		return nil, 0, err
	}
	defer t.Release(fr)

	n := page.NewNode(fr.Data())
	m := tr.meta(isExternal)
	count := n.CellCount()
	entries := make([]cellEntry, count)
	for i := 0; i < count; i++ {
		off := n.CellOffset(i)
		cell := page.ParseCell(m, fr.Data(), off)
		raw := append([]byte(nil), fr.Data()[off:off+cell.Footprint]...)
		entries[i] = cellEntry{
			key:     append([]byte(nil), page.Key(fr.Data(), cell)...),
			raw:     raw,
			childID: cell.ChildID,
		}
	}
	return entries, n.NextID(), nil
}

// insertWithSplit attempts to place cellBytes (whose key is key) at slot
// index of node id. If the node has room, it's a simple in-place
// insert. Otherwise the node is split into two pages of roughly equal
// byte occupancy and a separator is recursively inserted into the
// parent (per path), growing the tree upward and, if necessary,
// splitting the root (spec.md §4.5's split-resolution loop).
func (tr *Tree) insertWithSplit(t *txn.Txn, path []parentStep, id page.PageID, index int, key, cellBytes []byte, isExternal bool) error {
	fr, err := t.Acquire(id)
	if err != nil {
		return err
	}
	if err := t.Mutate(fr); err != nil {
		t.Release(fr)
		return err
	}
	n := page.NewNode(fr.Data())

	off := n.Allocate(len(cellBytes))
	if off == 0 {
		n.Defragment(func(o int) int { return page.CellSizeFor(tr.meta(isExternal), fr.Data(), o) }, -1)
		off = n.Allocate(len(cellBytes))
	}
	if off != 0 {
		copy(fr.Data()[off:off+len(cellBytes)], cellBytes)
		n.InsertSlot(index, off)
		return t.Touch(fr)
	}
	t.Release(fr)

	return tr.splitAndInsert(t, path, id, index, key, cellBytes, isExternal)
}

// splitAndInsert performs a full split of node id to make room for
// (key, cellBytes) at slot index, then recurses to insert the resulting
// separator into the parent (or grows the tree by one level if id has
// no parent, i.e. id is the root).
func (tr *Tree) splitAndInsert(t *txn.Txn, path []parentStep, id page.PageID, index int, key, cellBytes []byte, isExternal bool) error {
	if len(path) == 0 && id == tr.rootID {
		return tr.splitRoot(t, index, key, cellBytes, isExternal)
	}

	entries, oldNextID, err := tr.gatherEntries(t, id, isExternal)
	if err != nil {
		return err
	}
	combined := make([]cellEntry, 0, len(entries)+1)
	combined = append(combined, entries[:index]...)
	combined = append(combined, cellEntry{key: key, raw: cellBytes})
	combined = append(combined, entries[index:]...)

	leftCount := splitPoint(combined, isExternal)

	rightFr, err := t.Allocate()
	if err != nil {
		return err
	}

	leftFr, err := t.Acquire(id)
	if err != nil {
		return err
	}
	if err := t.Mutate(leftFr); err != nil {
		return err
	}
	origPrevID := page.NewNode(leftFr.Data()).PrevID()

	var leftNode, rightNode *page.Node
	if id == tr.rootID {
		leftNode = page.InitRootNode(leftFr.Data(), isExternal)
	} else {
		leftNode = page.InitNode(leftFr.Data(), isExternal)
	}
	rightNode = page.InitNode(rightFr.Data(), isExternal)

	var separatorKey []byte
	var separatorRaw []byte

	if isExternal {
		leftNode.SetPrevID(origPrevID)
		writeEntries(leftNode, leftFr.Data(), combined[:leftCount])
		writeEntries(rightNode, rightFr.Data(), combined[leftCount:])

		rightNode.SetNextID(oldNextID)
		rightNode.SetPrevID(id)
		leftNode.SetNextID(rightFr.ID())

		if oldNextID != 0 {
			if err := tr.fixPrevLink(t, oldNextID, rightFr.ID()); err != nil {
				return err
			}
		}

		separatorKey = combined[leftCount].key
		separatorRaw = page.PromoteCell(id, separatorKey)
	} else {
		median := combined[leftCount-1]
		leftEntries := combined[:leftCount-1]
		rightEntries := combined[leftCount:]

		writeEntries(leftNode, leftFr.Data(), leftEntries)
		writeEntries(rightNode, rightFr.Data(), rightEntries)

		leftNode.SetNextID(median.childID)
		rightNode.SetNextID(oldNextID)

		separatorKey = median.key
		separatorRaw = page.PromoteCell(id, separatorKey)
	}

	if err := t.Touch(leftFr); err != nil {
		return err
	}
	if err := t.Touch(rightFr); err != nil {
		return err
	}
	t.Release(leftFr)
	t.Release(rightFr)

	if len(path) == 0 {
		// id is the root but path is empty only reaches here for internal
		// recursion after splitRoot already grew the tree; unreachable in
		// practice since splitRoot is handled above. Defensive error.
		return calicoerr.New(calicoerr.LogicError, "split with no parent path for non-root node")
	}

	parent := path[len(path)-1]
	return tr.insertWithSplit(t, path[:len(path)-1], parent.id, parent.index, separatorKey, separatorRaw, false)
}

// splitRoot implements spec.md §4.5's split_root: the root keeps its
// page id; its content moves into a freshly allocated child, the root
// becomes a trivial internal node pointing at that child, and the
// original overflowing insert is retried through insertWithSplit on the
// new child (parent = the root, at position 0), which inserts in place
// if the child has room and splits it otherwise.
func (tr *Tree) splitRoot(t *txn.Txn, index int, key, cellBytes []byte, isExternal bool) error {
	rootFr, err := t.Acquire(tr.rootID)
	if err != nil {
		return err
	}
	if err := t.Mutate(rootFr); err != nil {
		return err
	}
	rootNode := page.NewNode(rootFr.Data())
	wasExternal := rootNode.IsExternal()
	oldNextID := rootNode.NextID()
	oldPrevID := rootNode.PrevID()

	childFr, err := t.Allocate()
	if err != nil {
		return err
	}
	childNode := page.InitNode(childFr.Data(), wasExternal)

	count := rootNode.CellCount()
	for i := 0; i < count; i++ {
		off := rootNode.CellOffset(i)
		sz := page.CellSizeFor(tr.meta(wasExternal), rootFr.Data(), off)
		newOff := childNode.Allocate(sz)
		copy(childFr.Data()[newOff:newOff+sz], rootFr.Data()[off:off+sz])
		childNode.InsertSlot(i, newOff)
	}
	childNode.SetNextID(oldNextID)
	childNode.SetPrevID(oldPrevID)

	newRoot := page.InitRootNode(rootFr.Data(), false)
	newRoot.SetNextID(childFr.ID())

	if err := t.Touch(rootFr); err != nil {
		return err
	}
	if err := t.Touch(childFr); err != nil {
		return err
	}
	t.Release(rootFr)
	t.Release(childFr)

	return tr.insertWithSplit(t, []parentStep{{id: tr.rootID, index: 0}}, childFr.ID(), index, key, cellBytes, isExternal)
}

// fixPrevLink updates id's prev_id after a new left sibling is spliced
// in between it and its old left sibling.
func (tr *Tree) fixPrevLink(t *txn.Txn, id, newPrev page.PageID) error {
	fr, err := t.Acquire(id)
	if err != nil {
		return err
	}
	if err := t.Mutate(fr); err != nil {
		t.Release(fr)
		return err
	}
	page.NewNode(fr.Data()).SetPrevID(newPrev)
	if err := t.Touch(fr); err != nil {
		t.Release(fr)
		return err
	}
	t.Release(fr)
	return nil
}

// writeEntries inserts entries into a freshly initialized, empty node in
// order.
func writeEntries(n *page.Node, buf []byte, entries []cellEntry) {
	for i, e := range entries {
		off := n.Allocate(len(e.raw))
		copy(buf[off:off+len(e.raw)], e.raw)
		n.InsertSlot(i, off)
	}
}

// splitPoint picks the left-side cell count that divides combined as
// close to evenly as possible by byte size, ensuring at least one cell
// on each side (two on the left for an internal split, whose leftCount
// also donates the separator).
func splitPoint(combined []cellEntry, isExternal bool) int {
	total := 0
	prefix := make([]int, len(combined)+1)
	for i, e := range combined {
		total += len(e.raw)
		prefix[i+1] = total
	}
	half := total / 2

	minLeft := 1
	if !isExternal {
		minLeft = 2
	}
	best := minLeft
	bestDiff := prefix[len(combined)]
	for k := minLeft; k < len(combined); k++ {
		diff := prefix[k] - half
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			bestDiff = diff
			best = k
		}
	}
	return best
}
