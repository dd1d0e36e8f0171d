// Package txn implements the transaction/recovery driver (spec.md §4.6):
// it sequences B+-tree mutations through WAL before-images and deltas,
// commits and aborts transactions, and replays the log on reopen. It is
// the one package that wires a concrete *wal.Writer into the Pager (via
// the pager.WalDurability interface) so pager stays decoupled from wal.
package txn

import (
	"sync"

	"calico/internal/calicoerr"
	"calico/internal/env"
	"calico/internal/pager"
	"calico/internal/page"
	"calico/internal/wal"
)

// Manager owns the Pager and WAL writer and hands out transactions.
// Calico is single-writer: only one Txn may be open for mutation at a
// time, enforced by writerMu.
type Manager struct {
	e    env.Env
	p    *pager.Pager
	w    *wal.Writer
	opts ManagerOptions

	writerMu sync.Mutex
	latched  error
}

// ManagerOptions configures the Manager's WAL.
type ManagerOptions struct {
	WalDir       string
	BlockSize    int
	SegmentLimit int64
}

// Open opens the data file and WAL, running crash recovery if the WAL
// contains records past the file header's recovery_lsn.
func Open(e env.Env, dataPath string, pagerOpts pager.Options, mgrOpts ManagerOptions) (*Manager, error) {
	// The Pager needs a durability source before the WAL writer exists:
	// open it first against bootDurability, which reports a FlushedLsn of
	// 0 until the real writer is spliced in below, so page loads during
	// recovery never appear "durable" prematurely.
	boot := &bootDurability{}
	p, err := pager.Open(e, dataPath, pagerOpts, boot)
	if err != nil {
		return nil, err
	}

	h, err := p.Header()
	if err != nil {
		return nil, err
	}

	w, err := wal.Open(e, wal.Options{
		Dir:          mgrOpts.WalDir,
		BlockSize:    mgrOpts.BlockSize,
		SegmentLimit: mgrOpts.SegmentLimit,
	}, h.RecoveryLsn)
	if err != nil {
		return nil, err
	}
	boot.real = w

	m := &Manager{e: e, p: p, w: w, opts: mgrOpts}

	if err := m.recover(h); err != nil {
		return nil, err
	}
	return m, nil
}

// bootDurability lets the Pager exist before the WAL does; once the real
// writer is assigned it's used for every subsequent FlushedLsn call.
type bootDurability struct {
	real *wal.Writer
}

func (b *bootDurability) FlushedLsn() page.Lsn {
	if b.real == nil {
		return 0
	}
	return b.real.FlushedLsn()
}

// Pager exposes the underlying pager for stats/property lookups.
func (m *Manager) Pager() *pager.Pager { return m.p }

// WalSegmentNumber reports the WAL writer's current segment number.
func (m *Manager) WalSegmentNumber() uint64 { return m.w.SegmentNumber() }

func (m *Manager) Latched() error {
	if m.latched != nil {
		return m.latched
	}
	return m.p.Latched()
}

func (m *Manager) latch(err error) error {
	if m.latched == nil {
		m.latched = err
	}
	return err
}

// Begin starts a new write transaction. Calico is single-writer: Begin
// blocks (via writerMu) until any previous transaction has committed or
// aborted.
func (m *Manager) Begin() (*Txn, error) {
	if err := m.Latched(); err != nil {
		return nil, err
	}
	m.writerMu.Lock()
	return &Txn{
		mgr:     m,
		touched: make(map[page.PageID]*touchedPage),
		frames:  make(map[page.PageID]*pager.Frame),
	}, nil
}

// touchedPage tracks per-page transaction state: whether a full image has
// already been emitted, whether the page was allocated in this txn, and
// its captured before-image.
type touchedPage struct {
	hasFullImage bool
	isNew        bool   // allocated within this txn: nothing to restore on abort
	before       []byte // captured pre-mutation content, for Abort to restore in-memory
}

// Txn is one in-flight write transaction (spec.md §4.6). It is not safe
// for concurrent use.
type Txn struct {
	mgr     *Manager
	touched map[page.PageID]*touchedPage
	frames  map[page.PageID]*pager.Frame
	startLsn page.Lsn
	done    bool
}

// Acquire returns the pinned frame for id, read-only (no mutation tracking
// needed until Mutate is called on it).
func (t *Txn) Acquire(id page.PageID) (*pager.Frame, error) {
	if fr, ok := t.frames[id]; ok {
		return fr, nil
	}
	fr, err := t.mgr.p.Acquire(id)
	if err != nil {
		return nil, t.mgr.latch(err)
	}
	t.frames[id] = fr
	return fr, nil
}

// Allocate returns a brand-new page, pinned for this transaction. New
// pages need no before-image: their prior content is irrelevant.
func (t *Txn) Allocate() (*pager.Frame, error) {
	fr, err := t.mgr.p.Allocate()
	if err != nil {
		return nil, t.mgr.latch(err)
	}
	t.frames[fr.ID()] = fr
	t.touched[fr.ID()] = &touchedPage{hasFullImage: true, isNew: true}
	return fr, nil
}

// Free recycles id onto the pager's free list as part of this
// transaction. Per spec.md §4.5 step on merges: freeing happens after
// the page's final content is no longer needed.
func (t *Txn) Free(id page.PageID) error {
	delete(t.frames, id)
	delete(t.touched, id)
	if err := t.mgr.p.PushFreelist(id); err != nil {
		return t.mgr.latch(err)
	}
	return nil
}

// Mutate prepares fr for writing: on the first mutation of this page
// within the transaction, it captures a full-image WAL record of its
// current (pre-mutation) content, per spec.md §4.6's before-image rule.
// The caller then mutates fr.Data() directly (e.g. via page.Node
// methods) and must call Touch when done to log the resulting deltas.
func (t *Txn) Mutate(fr *pager.Frame) error {
	if err := t.mgr.p.Upgrade(fr); err != nil {
		return err
	}
	tp, ok := t.touched[fr.ID()]
	if !ok {
		tp = &touchedPage{}
		t.touched[fr.ID()] = tp
	}
	if !tp.hasFullImage {
		before := append([]byte(nil), fr.Data()...)
		lsn, err := t.mgr.w.AppendFullImage(fr.ID(), before)
		if err != nil {
			return t.mgr.latch(err)
		}
		tp.hasFullImage = true
		tp.before = before
		t.mgr.p.SetFrameLsn(fr, lsn)
	}
	return nil
}

// Touch logs the current content of fr as a deltas record (spec.md
// §4.4: a single delta spanning the whole page) and marks it dirty in
// the pager. Call once per page after all of a single logical
// operation's mutations to that page have been applied.
func (t *Txn) Touch(fr *pager.Frame) error {
	deltas := []wal.Delta{{Offset: 0, Bytes: append([]byte(nil), fr.Data()...)}}
	lsn, err := t.mgr.w.AppendDeltas(fr.ID(), deltas)
	if err != nil {
		return t.mgr.latch(err)
	}
	t.mgr.p.SetFrameLsn(fr, lsn)
	t.mgr.p.MarkDirty(fr)
	return nil
}

// Header reads the current file header through this transaction's view.
func (t *Txn) Header() (*page.FileHeader, error) {
	return t.mgr.p.Header()
}

// WriteHeader mutates and logs the root page's file header as part of
// this transaction.
func (t *Txn) WriteHeader(h *page.FileHeader) error {
	fr, err := t.Acquire(page.RootPageID)
	if err != nil {
		return err
	}
	if err := t.Mutate(fr); err != nil {
		return err
	}
	t.mgr.p.WriteHeader(fr, h)
	return t.Touch(fr)
}

// PageSize reports the pager's configured page size.
func (t *Txn) PageSize() int { return t.mgr.p.PageSize() }

// Truncate shrinks the data file to pageCount pages, used by vacuum once
// live pages have been packed into the low end of the file. Any frames
// this Txn still holds beyond the new page count must already have been
// released by the caller.
func (t *Txn) Truncate(pageCount uint64) error {
	if err := t.mgr.p.Truncate(pageCount); err != nil {
		return t.mgr.latch(err)
	}
	return nil
}

// Release unpins fr. Safe to call multiple times.
func (t *Txn) Release(fr *pager.Frame) {
	t.mgr.p.Release(fr)
}

// Commit appends a commit record, flushes the WAL, and advances
// recovery_lsn past it. Dirty pages may still be flushed to the data
// file lazily afterward.
func (t *Txn) Commit() error {
	if t.done {
		return calicoerr.New(calicoerr.LogicError, "transaction already finished")
	}
	defer t.finish()

	lsn, err := t.mgr.w.AppendCommit()
	if err != nil {
		return t.mgr.latch(err)
	}
	if err := t.mgr.w.Flush(); err != nil {
		return t.mgr.latch(err)
	}

	h, err := t.mgr.p.Header()
	if err != nil {
		return err
	}
	h.RecoveryLsn = lsn
	if err := t.WriteHeader(h); err != nil {
		return err
	}
	return nil
}

// Abort walks this transaction's touched pages and restores each from
// its captured full image, discarding the in-progress mutation. Every
// touched page's full image is already durable in the WAL by the time
// Mutate returns, but the pager's cached frame buffer was mutated
// in-place; Abort must copy the captured before-image back into that
// buffer itself (not just drop the pin), since the same *pager.Frame
// stays resident in the cache across this transaction's lifetime and
// would otherwise still show the discarded edit on the next Acquire.
func (t *Txn) Abort() error {
	if t.done {
		return calicoerr.New(calicoerr.LogicError, "transaction already finished")
	}
	defer t.finish()
	for id, tp := range t.touched {
		if tp.isNew {
			// Never linked into the tree before the abort: reclaim it
			// rather than leak it.
			if fr, ok := t.frames[id]; ok {
				t.mgr.p.Release(fr)
				delete(t.frames, id)
			}
			if err := t.mgr.p.PushFreelist(id); err != nil {
				return t.mgr.latch(err)
			}
			continue
		}
		if tp.before == nil {
			continue
		}
		fr, ok := t.frames[id]
		if !ok {
			continue
		}
		copy(fr.Data(), tp.before)
		t.mgr.p.SetFrameLsn(fr, page.PageLSN(tp.before))
	}
	return nil
}

func (t *Txn) finish() {
	for _, fr := range t.frames {
		t.mgr.p.Release(fr)
	}
	t.done = true
	t.mgr.writerMu.Unlock()
}

// Sync fsyncs the data file; called at checkpoint or shutdown.
func (m *Manager) Sync() error {
	return m.p.Sync()
}

// Close flushes the WAL, syncs the data file, and closes both.
func (m *Manager) Close() error {
	if err := m.w.Close(); err != nil {
		return err
	}
	if err := m.p.Flush(m.w.FlushedLsn()); err != nil {
		return err
	}
	if err := m.p.Sync(); err != nil {
		return err
	}
	return m.p.Close()
}
