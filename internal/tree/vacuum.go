package tree

import (
	"calico/internal/page"
	"calico/internal/txn"
)

// refField names which field of an owning page holds a pointer that
// must be rewritten when the page it points at relocates.
type refField int

const (
	fieldChildSlot    refField = iota // internal cell's embedded child id at slot `index`
	fieldNextID                       // node header's next_id (internal rightmost child, or leaf sibling link)
	fieldPrevID                       // leaf header's prev_id sibling link
	fieldCellOverflow                 // a cell's trailing overflow-head pointer at slot `index`
	fieldOverflowNext                 // an overflow page's next-link
)

// referrer is one place on disk holding a pointer to some page; vacuum
// rewrites these in place when the pointed-to page relocates.
type referrer struct {
	owner page.PageID
	field refField
	index int
}

// Vacuum compacts the tree by relocating every live page with an id
// beyond the post-compaction page count into a free slot below it, then
// truncating the file. It walks the tree and every overflow chain to
// discover back-pointers directly, rather than consulting a maintained
// on-disk pointer-map index (see DESIGN.md): vacuum is an
// infrequent, whole-file maintenance operation, so an O(live pages) walk
// is an acceptable trade against threading pointer-map upkeep through
// every split/merge/rotate/overflow mutation path.
func (tr *Tree) Vacuum(t *txn.Txn) error {
	refs := make(map[page.PageID][]referrer)
	var live []page.PageID
	visited := map[page.PageID]bool{tr.rootID: true}

	if err := tr.walkVacuum(t, tr.rootID, refs, &live, visited); err != nil {
		return err
	}

	freeIDs, err := tr.walkFreelist(t)
	if err != nil {
		return err
	}

	targetCount := page.PageID(1 + len(live))

	holes := make([]page.PageID, 0)
	for _, id := range freeIDs {
		if id <= targetCount {
			holes = append(holes, id)
		}
	}
	movers := make([]page.PageID, 0)
	for _, id := range live {
		if id > targetCount {
			movers = append(movers, id)
		}
	}
	if len(movers) != len(holes) {
		// Nothing safe to do: the live/free accounting didn't balance
		// (e.g. concurrent structural assumption violated). Leave the
		// file as-is rather than risk misplacing a page.
		return nil
	}

	pairs := make(map[page.PageID]page.PageID, len(movers))
	for i, oldID := range movers {
		pairs[oldID] = holes[i]
	}

	// Phase B: patch every referrer of a moving page while all pages are
	// still at their original location. A referrer page that itself moves
	// is patched at its old location here, and Phase C then copies that
	// patched content to its new home.
	for oldID, newID := range pairs {
		for _, r := range refs[oldID] {
			if err := tr.applyReferrerPatch(t, r, newID); err != nil {
				return err
			}
		}
	}

	// Phase C: copy each mover's (now possibly patched) content into its
	// new home.
	for oldID, newID := range pairs {
		srcFr, err := t.Acquire(oldID)
		if err != nil {
			return err
		}
		content := append([]byte(nil), srcFr.Data()...)
		t.Release(srcFr)

		dstFr, err := t.Acquire(newID)
		if err != nil {
			return err
		}
		if err := t.Mutate(dstFr); err != nil {
			t.Release(dstFr)
			return err
		}
		copy(dstFr.Data(), content)
		if err := t.Touch(dstFr); err != nil {
			t.Release(dstFr)
			return err
		}
		t.Release(dstFr)
	}

	h, err := t.Header()
	if err != nil {
		return err
	}
	h.FreeListHead = 0
	h.PageCount = uint64(targetCount)
	if err := t.WriteHeader(h); err != nil {
		return err
	}

	return t.Truncate(uint64(targetCount))
}

// walkVacuum recursively visits the live tree and overflow chains from
// id, recording live page ids and every pointer field that refers to
// each one.
func (tr *Tree) walkVacuum(t *txn.Txn, id page.PageID, refs map[page.PageID][]referrer, live *[]page.PageID, visited map[page.PageID]bool) error {
	fr, err := t.Acquire(id)
	if err != nil {
		return err
	}
	n := page.NewNode(fr.Data())
	isExternal := n.IsExternal()
	count := n.CellCount()
	m := tr.meta(isExternal)

	type childRef struct {
		id    page.PageID
		field refField
		index int
	}
	var children []childRef
	var overflowHeads []struct {
		id    page.PageID
		index int
	}

	if isExternal {
		for i := 0; i < count; i++ {
			cell := page.ParseCell(m, fr.Data(), n.CellOffset(i))
			if cell.HasOverflow {
				overflowHeads = append(overflowHeads, struct {
					id    page.PageID
					index int
				}{cell.OverflowHead, i})
			}
		}
		if next := n.NextID(); next != 0 {
			children = append(children, childRef{next, fieldNextID, -1})
		}
		if prev := n.PrevID(); prev != 0 {
			refs[prev] = append(refs[prev], referrer{owner: id, field: fieldPrevID})
		}
	} else {
		for i := 0; i < count; i++ {
			cell := page.ParseCell(m, fr.Data(), n.CellOffset(i))
			children = append(children, childRef{cell.ChildID, fieldChildSlot, i})
		}
		if next := n.NextID(); next != 0 {
			children = append(children, childRef{next, fieldNextID, -1})
		}
	}
	t.Release(fr)

	for _, c := range children {
		refs[c.id] = append(refs[c.id], referrer{owner: id, field: c.field, index: c.index})
		if !visited[c.id] {
			visited[c.id] = true
			*live = append(*live, c.id)
			if err := tr.walkVacuum(t, c.id, refs, live, visited); err != nil {
				return err
			}
		}
	}

	for _, oh := range overflowHeads {
		refs[oh.id] = append(refs[oh.id], referrer{owner: id, field: fieldCellOverflow, index: oh.index})
		cur := oh.id
		for cur != 0 {
			if visited[cur] {
				break
			}
			visited[cur] = true
			*live = append(*live, cur)

			curFr, err := t.Acquire(cur)
			if err != nil {
				return err
			}
			next := page.OverflowNext(curFr.Data())
			t.Release(curFr)

			if next != 0 {
				refs[next] = append(refs[next], referrer{owner: cur, field: fieldOverflowNext})
			}
			cur = next
		}
	}
	return nil
}

// walkFreelist returns every page id currently sitting on the free list.
func (tr *Tree) walkFreelist(t *txn.Txn) ([]page.PageID, error) {
	h, err := t.Header()
	if err != nil {
		return nil, err
	}
	var ids []page.PageID
	cur := h.FreeListHead
	for cur != 0 {
		fr, err := t.Acquire(cur)
		if err != nil {
			return nil, err
		}
		next := page.FreeListLinkNext(fr.Data())
		t.Release(fr)
		ids = append(ids, cur)
		cur = next
	}
	return ids, nil
}

// applyReferrerPatch rewrites the single pointer field described by r to
// newID.
func (tr *Tree) applyReferrerPatch(t *txn.Txn, r referrer, newID page.PageID) error {
	fr, err := t.Acquire(r.owner)
	if err != nil {
		return err
	}
	if err := t.Mutate(fr); err != nil {
		t.Release(fr)
		return err
	}
	n := page.NewNode(fr.Data())

	switch r.field {
	case fieldNextID:
		n.SetNextID(newID)
	case fieldPrevID:
		n.SetPrevID(newID)
	case fieldChildSlot:
		ptr := n.CellOffset(r.index)
		page.WriteChildID(fr.Data(), ptr, newID)
	case fieldCellOverflow:
		isExternal := n.IsExternal()
		ptr := n.CellOffset(r.index)
		cell := page.ParseCell(tr.meta(isExternal), fr.Data(), ptr)
		patchOff := cell.Ptr + cell.Footprint - 8
		page.WriteChildID(fr.Data(), patchOff, newID)
	case fieldOverflowNext:
		page.SetOverflowNext(fr.Data(), newID)
	}

	if err := t.Touch(fr); err != nil {
		t.Release(fr)
		return err
	}
	t.Release(fr)
	return nil
}
