package tree

import (
	"calico/internal/pager"
	"calico/internal/page"
	"calico/internal/txn"
)

// readOverflow reassembles a value whose local prefix is local and whose
// remainder spills across the overflow chain starting at cell.OverflowHead.
func (tr *Tree) readOverflow(t *txn.Txn, cell page.Parsed, local []byte) ([]byte, error) {
	out := make([]byte, 0, cell.TotalPayloadSize)
	out = append(out, local...)

	id := cell.OverflowHead
	for id != 0 {
		fr, err := t.Acquire(id)
		if err != nil {
			return nil, err
		}
		payload := page.OverflowPayload(fr.Data())
		remaining := cell.TotalPayloadSize - len(out)
		if remaining < len(payload) {
			payload = payload[:remaining]
		}
		out = append(out, payload...)
		next := page.OverflowNext(fr.Data())
		t.Release(fr)
		id = next
	}
	return out, nil
}

// writeChain writes tail (the bytes of a value that don't fit locally)
// across a freshly-allocated chain of overflow pages, returning the
// chain's head page id.
func (tr *Tree) writeChain(t *txn.Txn, tail []byte) (page.PageID, error) {
	if len(tail) == 0 {
		return 0, nil
	}

	capacity := tr.pageSize - page.OverflowHeaderSize
	numPages := (len(tail) + capacity - 1) / capacity

	ids := make([]page.PageID, numPages)
	frames := make([]*pager.Frame, numPages)

	for i := 0; i < numPages; i++ {
		fr, err := t.Allocate()
		if err != nil {
			return 0, err
		}
		ids[i] = fr.ID()
		frames[i] = fr
	}

	for i := numPages - 1; i >= 0; i-- {
		start := i * capacity
		end := start + capacity
		if end > len(tail) {
			end = len(tail)
		}
		buf := frames[i].Data()
		var next page.PageID
		if i+1 < numPages {
			next = ids[i+1]
		}
		page.SetOverflowNext(buf, next)
		copy(page.OverflowPayload(buf), tail[start:end])
	}

	for _, fr := range frames {
		if err := t.Touch(fr); err != nil {
			return 0, err
		}
		t.Release(fr)
	}

	return ids[0], nil
}

// freeChain releases every page in an overflow chain back to the free
// list.
func (tr *Tree) freeChain(t *txn.Txn, head page.PageID) error {
	id := head
	for id != 0 {
		fr, err := t.Acquire(id)
		if err != nil {
			return err
		}
		next := page.OverflowNext(fr.Data())
		t.Release(fr)
		if err := t.Free(id); err != nil {
			return err
		}
		id = next
	}
	return nil
}
