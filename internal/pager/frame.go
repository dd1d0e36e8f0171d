package pager

import "calico/internal/page"

// queueKind tracks which of the two-queue cache's lists a Frame sits on.
type queueKind int

const (
	queueNone queueKind = iota
	queueCold
	queueHot
)

// Frame is an in-memory slot holding one page's content plus metadata,
// per spec.md §3: a page-sized buffer, pin count, dirty flag, and the
// page LSN observed on load. A Frame is clean iff its buffer matches
// on-disk content.
type Frame struct {
	id      page.PageID
	buf     []byte
	pins    int
	dirty   bool
	lsn     page.Lsn // page_lsn as of the last SetFrameLsn, or on load
	queue   queueKind
	element any // *list.Element on whichever queue it's in
}

func (f *Frame) ID() page.PageID { return f.id }
func (f *Frame) Data() []byte    { return f.buf }
func (f *Frame) IsDirty() bool   { return f.dirty }
func (f *Frame) Lsn() page.Lsn   { return f.lsn }
func (f *Frame) IsPinned() bool  { return f.pins > 0 }
