// Package pager implements the bounded frame cache over the data file
// (spec.md §4.3): page acquisition/release, the WAL-before-data eviction
// rule, and the two-queue (cold FIFO / hot LRU) replacement policy,
// adapted from the teacher's pkg/pager (an LRU cache.map[uint32]*cacheEntry
// over an mmap'd file) generalized to two queues and an injected Env.
package pager

import (
	"container/list"
	"sync"

	"calico/internal/calicoerr"
	"calico/internal/env"
	"calico/internal/page"
)

// WalDurability is the slice of the WAL the Pager depends on: it must
// know the highest durably-flushed LSN to enforce WAL-before-data on
// eviction and explicit Flush.
type WalDurability interface {
	FlushedLsn() page.Lsn
}

// Options configures the Pager (spec.md §6's page_size/cache_size).
type Options struct {
	PageSize   int
	FrameCount int // >= 8
	MaxDirty   int // 0 => no explicit cap beyond FrameCount
}

// Pager owns a fixed pool of page-sized frames over a single data file.
type Pager struct {
	mu sync.Mutex

	e        env.Env
	editor   env.RandEditor
	path     string
	pageSize int
	wal      WalDurability

	frameCount int
	maxDirty   int

	frames map[page.PageID]*Frame
	cold   *list.List // FIFO: back = oldest
	hot    *list.List // LRU: front = most recently used

	pageCount uint64 // cached file-header page_count
	dirtyN    int

	writer page.PageID // nonzero while a frame is upgraded for writing

	latched error // sticky error once set (spec.md §7)

	hits   uint64 // Acquire calls served from the resident frame map
	misses uint64 // Acquire calls that read from the data file
}

// Open opens or creates the data file at path, sizing it to at least one
// page (the root/file-header page) if it didn't already exist.
func Open(e env.Env, path string, opts Options, wal WalDurability) (*Pager, error) {
	if !page.ValidPageSize(opts.PageSize) {
		return nil, calicoerr.New(calicoerr.InvalidArgument, "page size %d out of range", opts.PageSize)
	}
	if opts.FrameCount < 8 {
		opts.FrameCount = 8
	}

	var editor env.RandEditor
	var err error
	if m, ok := e.(env.Mappable); ok {
		editor, err = m.NewMappedEditor(path)
	} else {
		editor, err = e.NewEditor(path)
	}
	if err != nil {
		return nil, calicoerr.Wrap(calicoerr.Io, err, "open data file")
	}

	p := &Pager{
		e:          e,
		editor:     editor,
		path:       path,
		pageSize:   opts.PageSize,
		wal:        wal,
		frameCount: opts.FrameCount,
		maxDirty:   opts.MaxDirty,
		frames:     make(map[page.PageID]*Frame),
		cold:       list.New(),
		hot:        list.New(),
	}

	size, err := editor.Size()
	if err != nil {
		return nil, calicoerr.Wrap(calicoerr.Io, err, "stat data file")
	}

	if size == 0 {
		if err := p.initRoot(); err != nil {
			return nil, err
		}
	} else {
		p.pageCount = uint64(size) / uint64(opts.PageSize)
	}

	return p, nil
}

func (p *Pager) initRoot() error {
	if err := p.editor.Resize(int64(p.pageSize)); err != nil {
		return calicoerr.Wrap(calicoerr.Io, err, "size data file")
	}
	p.pageCount = 1

	buf := make([]byte, p.pageSize)
	page.SetPageLSN(buf, 0)
	page.InitRootNode(buf, true)
	h := &page.FileHeader{PageCount: 1, PageSize: uint16(p.pageSize)}
	h.Encode(buf)
	if _, err := p.editor.WriteAt(buf, 0); err != nil {
		return calicoerr.Wrap(calicoerr.Io, err, "write file header")
	}
	return nil
}

func (p *Pager) PageSize() int { return p.pageSize }

func (p *Pager) PageCount() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pageCount
}

// Stats reports cache hit ratio and dirty-page count for get_property.
type Stats struct {
	Hits, Misses uint64
	DirtyPages   int
	FrameCount   int
}

func (p *Pager) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Hits: p.hits, Misses: p.misses, DirtyPages: p.dirtyN, FrameCount: len(p.frames)}
}

// Header reads the root page's file header.
func (p *Pager) Header() (*page.FileHeader, error) {
	fr, err := p.Acquire(page.RootPageID)
	if err != nil {
		return nil, err
	}
	defer p.Release(fr)
	return page.DecodeFileHeader(fr.Data())
}

// WriteHeader re-encodes h onto the root page and marks it dirty. Caller
// is responsible for logging/releasing as part of the enclosing
// transaction.
func (p *Pager) WriteHeader(fr *Frame, h *page.FileHeader) {
	h.Encode(fr.buf)
	p.MarkDirty(fr)
}

// Latched returns the sticky engine-wide error, if any I/O or corruption
// failure has occurred.
func (p *Pager) Latched() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latched
}

func (p *Pager) latch(err error) error {
	p.mu.Lock()
	p.latchLocked(err)
	p.mu.Unlock()
	return err
}

// latchLocked records the pager's first fatal error. Caller holds p.mu.
func (p *Pager) latchLocked(err error) error {
	if p.latched == nil {
		p.latched = err
	}
	return err
}

// Allocate returns a writable page with a freshly assigned id: popped
// from the free list, or appended beyond the current page count.
func (p *Pager) Allocate() (*Frame, error) {
	p.mu.Lock()
	if p.latched != nil {
		err := p.latched
		p.mu.Unlock()
		return nil, err
	}
	p.mu.Unlock()

	id, fromFreelist, err := p.popFreelist()
	if err != nil {
		return nil, err
	}

	if !fromFreelist {
		p.mu.Lock()
		p.pageCount++
		id = page.PageID(p.pageCount)
		newSize := int64(p.pageCount) * int64(p.pageSize)
		p.mu.Unlock()
		if err := p.editor.Resize(newSize); err != nil {
			return nil, p.latch(calicoerr.Wrap(calicoerr.Io, err, "grow data file"))
		}
	}

	fr := &Frame{id: id, buf: make([]byte, p.pageSize), pins: 1, lsn: 0}
	p.mu.Lock()
	p.frames[id] = fr
	fr.queue = queueCold
	fr.element = p.cold.PushFront(id)
	p.mu.Unlock()

	if err := p.evictIfNeeded(); err != nil {
		return nil, err
	}
	return fr, nil
}

// Acquire returns a pinned, shared-reference Frame for id, loading it
// from disk (or zero-initializing it, if somehow past EOF) on a miss.
func (p *Pager) Acquire(id page.PageID) (*Frame, error) {
	p.mu.Lock()
	if p.latched != nil {
		err := p.latched
		p.mu.Unlock()
		return nil, err
	}
	if fr, ok := p.frames[id]; ok {
		fr.pins++
		p.touch(fr)
		p.hits++
		p.mu.Unlock()
		return fr, nil
	}
	p.misses++
	p.mu.Unlock()

	buf := make([]byte, p.pageSize)
	off := int64(id-1) * int64(p.pageSize)
	size, err := p.editor.Size()
	if err != nil {
		return nil, p.latch(calicoerr.Wrap(calicoerr.Io, err, "stat data file"))
	}
	if off < size {
		n, err := p.editor.ReadAt(buf, off)
		if err != nil && n == 0 {
			return nil, p.latch(calicoerr.Wrap(calicoerr.Io, err, "read page %d", id))
		}
	}

	fr := &Frame{id: id, buf: buf, pins: 1, lsn: page.PageLSN(buf)}
	p.mu.Lock()
	p.frames[id] = fr
	fr.queue = queueCold
	fr.element = p.cold.PushFront(id)
	p.mu.Unlock()

	if err := p.evictIfNeeded(); err != nil {
		return nil, err
	}
	return fr, nil
}

// touch promotes fr on a cache hit: cold -> hot on first repeat access,
// hot entries move to the front (MRU) of the hot LRU. Caller holds p.mu.
func (p *Pager) touch(fr *Frame) {
	switch fr.queue {
	case queueCold:
		p.cold.Remove(fr.element.(*list.Element))
		fr.queue = queueHot
		fr.element = p.hot.PushFront(fr.id)
	case queueHot:
		p.hot.MoveToFront(fr.element.(*list.Element))
	}
}

// Upgrade marks a pinned frame writable. The core is single-writer: at
// most one frame may be upgraded at a time.
func (p *Pager) Upgrade(fr *Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer != 0 && p.writer != fr.id {
		return calicoerr.New(calicoerr.LogicError, "page %d already has a writer", p.writer)
	}
	p.writer = fr.id
	return nil
}

// MarkDirty flags fr as modified; used after writing into fr.Data().
func (p *Pager) MarkDirty(fr *Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !fr.dirty {
		fr.dirty = true
		p.dirtyN++
	}
}

// SetFrameLsn updates fr's observed page LSN (called once the WAL record
// covering its latest mutation is assigned) and stamps it into the
// buffer's page_lsn prefix.
func (p *Pager) SetFrameLsn(fr *Frame, lsn page.Lsn) {
	fr.lsn = lsn
	page.SetPageLSN(fr.buf, lsn)
}

// Release decrements fr's pin count.
func (p *Pager) Release(fr *Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fr.pins > 0 {
		fr.pins--
	}
	if p.writer == fr.id && fr.pins == 0 {
		p.writer = 0
	}
}

// Flush writes every dirty frame whose page LSN is <= upToLsn and whose
// covering WAL record is durable, per spec.md §4.3/§5's WAL-before-data
// rule.
func (p *Pager) Flush(upToLsn page.Lsn) error {
	p.mu.Lock()
	durable := p.wal.FlushedLsn()
	var toWrite []*Frame
	for _, fr := range p.frames {
		if fr.dirty && fr.lsn <= upToLsn && fr.lsn <= durable {
			toWrite = append(toWrite, fr)
		}
	}
	p.mu.Unlock()

	for _, fr := range toWrite {
		if err := p.writeFrame(fr); err != nil {
			return err
		}
	}
	return nil
}

// ForceFlushAll writes every dirty frame regardless of WAL durability.
// Used only by crash recovery, where the content being written already
// came straight out of the WAL, so the WAL-before-data rule is moot.
func (p *Pager) ForceFlushAll() error {
	p.mu.Lock()
	var toWrite []*Frame
	for _, fr := range p.frames {
		if fr.dirty {
			toWrite = append(toWrite, fr)
		}
	}
	p.mu.Unlock()

	for _, fr := range toWrite {
		if err := p.writeFrame(fr); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pager) writeFrame(fr *Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeFrameLocked(fr)
}

// writeFrameLocked writes fr's current content to the data file and
// clears its dirty bit. Caller holds p.mu.
func (p *Pager) writeFrameLocked(fr *Frame) error {
	if _, err := p.editor.WriteAt(fr.buf, int64(fr.id-1)*int64(p.pageSize)); err != nil {
		return p.latchLocked(calicoerr.Wrap(calicoerr.Io, err, "write page %d", fr.id))
	}
	if fr.dirty {
		fr.dirty = false
		p.dirtyN--
	}
	return nil
}

// Sync fsyncs the data file.
func (p *Pager) Sync() error {
	if err := p.editor.Sync(); err != nil {
		return p.latch(calicoerr.Wrap(calicoerr.Io, err, "sync data file"))
	}
	return nil
}

// Truncate resizes the data file downward after vacuum, invalidating any
// cached frames beyond the new page count.
func (p *Pager) Truncate(pageCount uint64) error {
	p.mu.Lock()
	for id, fr := range p.frames {
		if uint64(id) > pageCount {
			p.unlinkFromListLocked(fr)
			if err := p.evictFrameLocked(fr); err != nil {
				p.mu.Unlock()
				return err
			}
		}
	}
	p.pageCount = pageCount
	p.mu.Unlock()

	if err := p.editor.Resize(int64(pageCount) * int64(p.pageSize)); err != nil {
		return p.latch(calicoerr.Wrap(calicoerr.Io, err, "truncate data file"))
	}
	return nil
}

// unlinkFromListLocked removes fr's element from whichever of p.cold/
// p.hot it sits on. Caller holds p.mu.
func (p *Pager) unlinkFromListLocked(fr *Frame) {
	if fr.element == nil {
		return
	}
	switch fr.queue {
	case queueCold:
		p.cold.Remove(fr.element.(*list.Element))
	case queueHot:
		p.hot.Remove(fr.element.(*list.Element))
	}
	fr.element = nil
}

// evictIfNeeded drops unpinned, evictable frames until the pool is back
// under its frame budget. A dirty frame is only evictable once the WAL
// has durably recorded a record covering its page LSN (spec.md §4.3);
// evictFrameLocked writes such a frame to the data file before dropping
// it, so eviction never loses content that was never otherwise flushed.
// When no candidate is evictable, eviction simply stops and returns nil
// -- the pool then runs over budget rather than corrupt data. Busy is not
// returned, even when every frame is pinned.
func (p *Pager) evictIfNeeded() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.frames) > p.frameCount {
		ok, err := p.evictOneLocked()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
	return nil
}

func (p *Pager) evictOneLocked() (bool, error) {
	durable := p.wal.FlushedLsn()

	tryList := func(l *list.List) (bool, error) {
		for e := l.Back(); e != nil; e = e.Prev() {
			id := e.Value.(page.PageID)
			fr := p.frames[id]
			if fr == nil || fr.IsPinned() {
				continue
			}
			if fr.dirty && fr.lsn > durable {
				continue // WAL-before-data: not safe to evict yet
			}
			l.Remove(e)
			fr.element = nil
			if err := p.evictFrameLocked(fr); err != nil {
				return false, err
			}
			return true, nil
		}
		return false, nil
	}

	if ok, err := tryList(p.cold); ok || err != nil {
		return ok, err
	}
	return tryList(p.hot)
}

// evictFrameLocked drops fr from the cache; callers must have already
// verified it's unpinned and, if dirty, that its WAL record is durable
// (or that the caller doesn't care, as Truncate doesn't). A dirty frame
// is written to the data file first, so dropping it never loses content
// that hadn't otherwise reached disk. Caller holds p.mu.
func (p *Pager) evictFrameLocked(fr *Frame) error {
	if fr.dirty {
		if err := p.writeFrameLocked(fr); err != nil {
			return err
		}
	}
	delete(p.frames, fr.id)
	return nil
}

// Close releases the pager's file handle.
func (p *Pager) Close() error {
	return p.editor.Close()
}
