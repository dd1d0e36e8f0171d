package pager

import (
	"calico/internal/calicoerr"
	"calico/internal/page"
)

// popFreelist pops the head of the on-disk free list (spec.md §4.3's LIFO
// page-recycling list), if any, returning its id and true. When the list
// is empty it returns (0, false, nil) so the caller appends a fresh page
// instead.
func (p *Pager) popFreelist() (page.PageID, bool, error) {
	hdrFrame, err := p.Acquire(page.RootPageID)
	if err != nil {
		return 0, false, err
	}
	defer p.Release(hdrFrame)

	h, err := page.DecodeFileHeader(hdrFrame.Data())
	if err != nil {
		return 0, false, err
	}
	if h.FreeListHead == 0 {
		return 0, false, nil
	}

	head := h.FreeListHead
	headFrame, err := p.Acquire(head)
	if err != nil {
		return 0, false, err
	}
	next := page.FreeListLinkNext(headFrame.Data())
	p.Release(headFrame)

	if err := p.Upgrade(hdrFrame); err != nil {
		return 0, false, err
	}
	h.FreeListHead = next
	p.WriteHeader(hdrFrame, h)
	p.Release(hdrFrame)

	return head, true, nil
}

// PushFreelist recycles id onto the head of the free list. The caller
// must not hold any pin on id beyond this call; the page's prior content
// is discarded.
func (p *Pager) PushFreelist(id page.PageID) error {
	if id == page.RootPageID {
		return calicoerr.New(calicoerr.LogicError, "cannot free the root page")
	}

	hdrFrame, err := p.Acquire(page.RootPageID)
	if err != nil {
		return err
	}
	h, err := page.DecodeFileHeader(hdrFrame.Data())
	if err != nil {
		p.Release(hdrFrame)
		return err
	}
	oldHead := h.FreeListHead

	fr, err := p.Acquire(id)
	if err != nil {
		p.Release(hdrFrame)
		return err
	}
	if err := p.Upgrade(fr); err != nil {
		p.Release(fr)
		p.Release(hdrFrame)
		return err
	}
	for i := range fr.buf {
		fr.buf[i] = 0
	}
	page.SetFreeListLinkNext(fr.buf, oldHead)
	p.MarkDirty(fr)
	p.Release(fr)

	if err := p.Upgrade(hdrFrame); err != nil {
		p.Release(hdrFrame)
		return err
	}
	h.FreeListHead = id
	p.WriteHeader(hdrFrame, h)
	p.Release(hdrFrame)
	return nil
}
