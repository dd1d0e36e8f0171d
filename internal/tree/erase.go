package tree

import (
	"calico/internal/calicoerr"
	"calico/internal/page"
	"calico/internal/txn"
)

// maxUsableSpace returns the total cell-region capacity of node id: every
// page gets pageSize - NodeHeaderSize, except the root, which additionally
// reserves FileHeaderSize for the file header it carries.
func (tr *Tree) maxUsableSpace(id page.PageID) int {
	usable := tr.pageSize - page.NodeHeaderSize
	if id == tr.rootID {
		usable -= page.FileHeaderSize
	}
	return usable
}

// Erase removes key, returning calicoerr.ErrNotFound if absent.
func (tr *Tree) Erase(t *txn.Txn, key []byte) error {
	res, err := tr.search(t, key)
	if err != nil {
		return err
	}
	if !res.exact {
		return calicoerr.ErrNotFound
	}
	if err := tr.removeCellAt(t, res.leafID, res.index, true); err != nil {
		return err
	}
	return tr.resolveUnderflow(t, res.parents, res.leafID)
}

// resolveUnderflow checks whether node id has underflowed (spec.md
// §4.5's 3/4-max-usable-space rule, or cell_count == 0 for the root)
// and, if so, merges or rotates with a sibling, propagating upward.
func (tr *Tree) resolveUnderflow(t *txn.Txn, path []parentStep, id page.PageID) error {
	fr, err := t.Acquire(id)
	if err != nil {
		return err
	}
	n := page.NewNode(fr.Data())
	isExternal := n.IsExternal()
	cellCount := n.CellCount()
	usable := n.UsableSpace()
	t.Release(fr)

	if id == tr.rootID {
		if !isExternal && cellCount == 0 {
			return tr.collapseRoot(t)
		}
		return nil
	}

	if usable <= (tr.maxUsableSpace(id)*3)/4 {
		return nil
	}
	if len(path) == 0 {
		return nil
	}

	parent := path[len(path)-1]
	return tr.resolveNonRootUnderflow(t, path[:len(path)-1], parent, id, isExternal, cellCount)
}

// collapseRoot handles an internal root with a single child: the
// child's content is merged directly into the root page (spec.md
// §4.5's root-underflow case), keeping the root's page id fixed.
func (tr *Tree) collapseRoot(t *txn.Txn) error {
	rootFr, err := t.Acquire(tr.rootID)
	if err != nil {
		return err
	}
	childID := page.NewNode(rootFr.Data()).NextID()
	if childID == 0 {
		t.Release(rootFr)
		return nil // empty root leaf, nothing to collapse
	}
	t.Release(rootFr)

	childFr, err := t.Acquire(childID)
	if err != nil {
		return err
	}
	childNode := page.NewNode(childFr.Data())
	childIsExternal := childNode.IsExternal()
	entries, childNextID, err := tr.gatherEntries(t, childID, childIsExternal)
	if err != nil {
		t.Release(childFr)
		return err
	}
	childPrevID := page.PageID(0)
	if childIsExternal {
		childPrevID = childNode.PrevID()
	}
	t.Release(childFr)

	rootFr, err = t.Acquire(tr.rootID)
	if err != nil {
		return err
	}
	if err := t.Mutate(rootFr); err != nil {
		t.Release(rootFr)
		return err
	}
	newRoot := page.InitRootNode(rootFr.Data(), childIsExternal)
	writeEntries(newRoot, rootFr.Data(), entries)
	newRoot.SetNextID(childNextID)
	if childIsExternal {
		newRoot.SetPrevID(childPrevID)
	}
	if err := t.Touch(rootFr); err != nil {
		t.Release(rootFr)
		return err
	}
	t.Release(rootFr)

	return t.Free(childID)
}

// resolveNonRootUnderflow merges id with a sibling if their combined
// content fits one page, else rotates a cell across from whichever
// sibling can spare one, else leaves id underfull (spec.md §4.5).
func (tr *Tree) resolveNonRootUnderflow(t *txn.Txn, grandparentPath []parentStep, parent parentStep, id page.PageID, isExternal bool, cellCount int) error {
	parentEntries, parentNextID, err := tr.gatherEntries(t, parent.id, false)
	if err != nil {
		return err
	}
	childCount := len(parentEntries) + 1
	childIDAt := func(i int) page.PageID {
		if i == len(parentEntries) {
			return parentNextID
		}
		return parentEntries[i].childID
	}

	childIndex := parent.index
	var leftID, rightID page.PageID
	if childIndex > 0 {
		leftID = childIDAt(childIndex - 1)
	}
	if childIndex < childCount-1 {
		rightID = childIDAt(childIndex + 1)
	}

	if leftID != 0 {
		ok, err := tr.tryMerge(t, grandparentPath, parent, leftID, id, childIndex-1, isExternal)
		if err != nil || ok {
			return err
		}
	}
	if rightID != 0 {
		ok, err := tr.tryMerge(t, grandparentPath, parent, id, rightID, childIndex, isExternal)
		if err != nil || ok {
			return err
		}
	}

	if leftID != 0 {
		ok, err := tr.tryRotate(t, grandparentPath, parent, leftID, id, childIndex-1, isExternal, cellCount, true)
		if err != nil || ok {
			return err
		}
	}
	if rightID != 0 {
		ok, err := tr.tryRotate(t, grandparentPath, parent, id, rightID, childIndex, isExternal, cellCount, false)
		if err != nil || ok {
			return err
		}
	}
	return nil
}

// tryMerge attempts to combine leftID and rightID (adjacent siblings
// separated by parent's cell at sepIndex) into leftID, if their content
// fits in one page. Returns ok=true if the merge happened.
func (tr *Tree) tryMerge(t *txn.Txn, grandparentPath []parentStep, parent parentStep, leftID, rightID page.PageID, sepIndex int, isExternal bool) (bool, error) {
	leftEntries, leftNextID, err := tr.gatherEntries(t, leftID, isExternal)
	if err != nil {
		return false, err
	}
	rightEntries, rightNextID, err := tr.gatherEntries(t, rightID, isExternal)
	if err != nil {
		return false, err
	}

	parentEntries, _, err := tr.gatherEntries(t, parent.id, false)
	if err != nil {
		return false, err
	}
	sepKey := parentEntries[sepIndex].key

	combined := append([]cellEntry{}, leftEntries...)
	if !isExternal {
		combined = append(combined, cellEntry{key: sepKey, raw: page.PromoteCell(leftID, sepKey), childID: leftNextID})
	}
	combined = append(combined, rightEntries...)

	total := 0
	for _, e := range combined {
		total += len(e.raw)
	}
	if total > tr.maxUsableSpace(leftID) {
		return false, nil
	}

	leftFr, err := t.Acquire(leftID)
	if err != nil {
		return false, err
	}
	if err := t.Mutate(leftFr); err != nil {
		t.Release(leftFr)
		return false, err
	}
	newLeft := page.InitNode(leftFr.Data(), isExternal)
	writeEntries(newLeft, leftFr.Data(), combined)
	if isExternal {
		newLeft.SetNextID(rightNextID)
		if rightNextID != 0 {
			if err := tr.fixPrevLink(t, rightNextID, leftID); err != nil {
				t.Release(leftFr)
				return false, err
			}
		}
	} else {
		newLeft.SetNextID(rightNextID)
	}
	if err := t.Touch(leftFr); err != nil {
		t.Release(leftFr)
		return false, err
	}
	t.Release(leftFr)

	if err := tr.patchParentAfterMerge(t, parent.id, sepIndex, leftID); err != nil {
		return false, err
	}
	if err := t.Free(rightID); err != nil {
		return false, err
	}

	return true, tr.resolveUnderflow(t, grandparentPath, parent.id)
}

// patchParentAfterMerge repoints whichever child pointer referenced the
// now-freed right sibling to leftID, then removes the separator cell.
func (tr *Tree) patchParentAfterMerge(t *txn.Txn, parentID page.PageID, sepIndex int, leftID page.PageID) error {
	fr, err := t.Acquire(parentID)
	if err != nil {
		return err
	}
	if err := t.Mutate(fr); err != nil {
		t.Release(fr)
		return err
	}
	n := page.NewNode(fr.Data())
	if sepIndex+1 < n.CellCount() {
		cell := page.ParseCell(tr.meta(false), fr.Data(), n.CellOffset(sepIndex+1))
		binaryPatchChildID(fr.Data(), cell.Ptr, leftID)
	} else {
		n.SetNextID(leftID)
	}
	cell := page.ParseCell(tr.meta(false), fr.Data(), n.CellOffset(sepIndex))
	n.Free(cell.Ptr, cell.Footprint)
	n.RemoveSlot(sepIndex)
	return t.Touch(fr)
}

// binaryPatchChildID overwrites an internal cell's embedded left-child id
// in place.
func binaryPatchChildID(buf []byte, cellPtr int, child page.PageID) {
	page.WriteChildID(buf, cellPtr, child)
}

// tryRotate moves one cell across the leftID/rightID boundary to relieve
// an underflowing side, if the donor has more than cellCount+1 cells.
// donorIsLeft indicates whether leftID is the underflowing node (false) or
// the donor candidate is leftID (true, i.e. id is rightID).
func (tr *Tree) tryRotate(t *txn.Txn, grandparentPath []parentStep, parent parentStep, leftID, rightID page.PageID, sepIndex int, isExternal bool, underflowCellCount int, donorIsLeft bool) (bool, error) {
	donorID := rightID
	if donorIsLeft {
		donorID = leftID
	}
	donorFr, err := t.Acquire(donorID)
	if err != nil {
		return false, err
	}
	donorCount := page.NewNode(donorFr.Data()).CellCount()
	t.Release(donorFr)

	if donorCount <= underflowCellCount+1 {
		return false, nil
	}

	leftEntries, leftNextID, err := tr.gatherEntries(t, leftID, isExternal)
	if err != nil {
		return false, err
	}
	rightEntries, rightNextID, err := tr.gatherEntries(t, rightID, isExternal)
	if err != nil {
		return false, err
	}

	var newSepKey []byte

	if donorIsLeft {
		moved := leftEntries[len(leftEntries)-1]
		leftEntries = leftEntries[:len(leftEntries)-1]
		if isExternal {
			rightEntries = append([]cellEntry{moved}, rightEntries...)
			newSepKey = moved.key
		} else {
			parentEntries, _, err := tr.gatherEntries(t, parent.id, false)
			if err != nil {
				return false, err
			}
			demoted := cellEntry{key: parentEntries[sepIndex].key, raw: page.PromoteCell(moved.childID, parentEntries[sepIndex].key), childID: moved.childID}
			rightEntries = append([]cellEntry{demoted}, rightEntries...)
			newSepKey = moved.key
			leftNextID = moved.childID
		}
	} else {
		moved := rightEntries[0]
		rightEntries = rightEntries[1:]
		if isExternal {
			leftEntries = append(leftEntries, moved)
			if len(rightEntries) == 0 {
				newSepKey = moved.key
			} else {
				newSepKey = rightEntries[0].key
			}
		} else {
			parentEntries, _, err := tr.gatherEntries(t, parent.id, false)
			if err != nil {
				return false, err
			}
			demoted := cellEntry{key: parentEntries[sepIndex].key, raw: page.PromoteCell(leftNextID, parentEntries[sepIndex].key), childID: leftNextID}
			leftEntries = append(leftEntries, demoted)
			newSepKey = moved.key
			leftNextID = moved.childID
		}
	}

	leftFr, err := t.Acquire(leftID)
	if err != nil {
		return false, err
	}
	if err := t.Mutate(leftFr); err != nil {
		t.Release(leftFr)
		return false, err
	}
	var newLeft *page.Node
	if leftID == tr.rootID {
		newLeft = page.InitRootNode(leftFr.Data(), isExternal)
	} else {
		newLeft = page.InitNode(leftFr.Data(), isExternal)
	}
	writeEntries(newLeft, leftFr.Data(), leftEntries)
	newLeft.SetNextID(leftNextID)
	if err := t.Touch(leftFr); err != nil {
		t.Release(leftFr)
		return false, err
	}
	t.Release(leftFr)

	rightFr, err := t.Acquire(rightID)
	if err != nil {
		return false, err
	}
	if err := t.Mutate(rightFr); err != nil {
		t.Release(rightFr)
		return false, err
	}
	newRight := page.InitNode(rightFr.Data(), isExternal)
	writeEntries(newRight, rightFr.Data(), rightEntries)
	newRight.SetNextID(rightNextID)
	if err := t.Touch(rightFr); err != nil {
		t.Release(rightFr)
		return false, err
	}
	t.Release(rightFr)

	if err := tr.removeCellAt(t, parent.id, sepIndex, false); err != nil {
		return false, err
	}
	newSepRaw := page.PromoteCell(leftID, newSepKey)
	if err := tr.insertWithSplit(t, grandparentPath, parent.id, sepIndex, newSepKey, newSepRaw, false); err != nil {
		return false, err
	}
	return true, nil
}
