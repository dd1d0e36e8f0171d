package pager_test

import (
	"testing"

	"calico/internal/env"
	"calico/internal/page"
	"calico/internal/pager"
)

// alwaysDurable reports every page's LSN as flushed, for tests that don't
// exercise the WAL-before-data eviction rule directly.
type alwaysDurable struct{}

func (alwaysDurable) FlushedLsn() page.Lsn { return ^page.Lsn(0) }

func openTestPager(t *testing.T, frameCount int) *pager.Pager {
	t.Helper()
	p, err := pager.Open(env.NewMem(), "db", pager.Options{PageSize: 512, FrameCount: frameCount}, alwaysDurable{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestOpenInitializesRootPage(t *testing.T) {
	p := openTestPager(t, 8)
	if p.PageCount() != 1 {
		t.Fatalf("got page count %d, want 1", p.PageCount())
	}

	fr, err := p.Acquire(page.RootPageID)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer p.Release(fr)

	h, err := page.DecodeFileHeader(fr.Data())
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if h.PageCount != 1 {
		t.Fatalf("got header page count %d, want 1", h.PageCount)
	}
}

func TestAllocateGrowsPageCount(t *testing.T) {
	p := openTestPager(t, 8)
	before := p.PageCount()

	fr, err := p.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	defer p.Release(fr)

	if p.PageCount() != before+1 {
		t.Fatalf("got page count %d, want %d", p.PageCount(), before+1)
	}
	if fr.ID() != page.PageID(before+1) {
		t.Fatalf("got frame id %d, want %d", fr.ID(), before+1)
	}
}

func TestAcquireCachesAndReportsHit(t *testing.T) {
	p := openTestPager(t, 8)

	fr1, err := p.Acquire(page.RootPageID)
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	p.Release(fr1)
	statsBefore := p.Stats()

	fr2, err := p.Acquire(page.RootPageID)
	if err != nil {
		t.Fatalf("acquire 2: %v", err)
	}
	defer p.Release(fr2)

	statsAfter := p.Stats()
	if statsAfter.Hits != statsBefore.Hits+1 {
		t.Fatalf("expected a cache hit, got hits before=%d after=%d", statsBefore.Hits, statsAfter.Hits)
	}
	if fr1 != fr2 {
		t.Fatalf("expected the same resident frame on a cache hit")
	}
}

func TestMarkDirtyAndFlushWritesToDisk(t *testing.T) {
	p := openTestPager(t, 8)

	fr, err := p.Acquire(page.RootPageID)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	copy(fr.Data()[100:105], []byte("dirty"))
	p.MarkDirty(fr)
	p.SetFrameLsn(fr, page.Lsn(1))
	p.Release(fr)

	if err := p.Flush(page.Lsn(1)); err != nil {
		t.Fatalf("flush: %v", err)
	}

	stats := p.Stats()
	if stats.DirtyPages != 0 {
		t.Fatalf("expected no dirty pages after flush, got %d", stats.DirtyPages)
	}
}

func TestUpgradeRejectsConcurrentWriter(t *testing.T) {
	p := openTestPager(t, 8)

	fr1, err := p.Allocate()
	if err != nil {
		t.Fatalf("allocate 1: %v", err)
	}
	defer p.Release(fr1)
	if err := p.Upgrade(fr1); err != nil {
		t.Fatalf("upgrade 1: %v", err)
	}

	fr2, err := p.Allocate()
	if err != nil {
		t.Fatalf("allocate 2: %v", err)
	}
	defer p.Release(fr2)
	if err := p.Upgrade(fr2); err == nil {
		t.Fatalf("expected upgrade of a second page to fail while the first is still writer")
	}
}

func TestTruncateDropsFramesBeyondNewCount(t *testing.T) {
	p := openTestPager(t, 8)

	fr, err := p.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	p.Release(fr)
	before := p.PageCount()

	if err := p.Truncate(before - 1); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if p.PageCount() != before-1 {
		t.Fatalf("got page count %d, want %d", p.PageCount(), before-1)
	}
}

// TestEvictionFlushesDirtyFrameBeforeDropping guards against silently
// dropping committed content: a dirty, durable frame evicted under cache
// pressure must have its bytes written to the data file first, so a
// later Acquire (after the frame has long left the cache) still sees
// them.
func TestEvictionFlushesDirtyFrameBeforeDropping(t *testing.T) {
	p := openTestPager(t, 4)

	fr, err := p.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	victim := fr.ID()
	copy(fr.Data()[100:105], []byte("alive"))
	p.MarkDirty(fr)
	p.SetFrameLsn(fr, page.Lsn(1))
	p.Release(fr)

	for i := 0; i < 20; i++ {
		other, err := p.Allocate()
		if err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
		p.Release(other)
	}

	stats := p.Stats()
	if stats.DirtyPages != 0 {
		t.Fatalf("expected eviction to have cleared the victim's dirty bit, got %d dirty pages", stats.DirtyPages)
	}

	got, err := p.Acquire(victim)
	if err != nil {
		t.Fatalf("acquire victim after eviction: %v", err)
	}
	defer p.Release(got)
	if string(got.Data()[100:105]) != "alive" {
		t.Fatalf("evicted dirty frame's content was lost: got %q, want %q", got.Data()[100:105], "alive")
	}
}

func TestEvictionRespectsFrameBudget(t *testing.T) {
	p := openTestPager(t, 8)

	for i := 0; i < 20; i++ {
		fr, err := p.Allocate()
		if err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
		p.Release(fr)
	}

	stats := p.Stats()
	if stats.FrameCount > 8+1 {
		t.Fatalf("resident frame count %d exceeds budget by more than one", stats.FrameCount)
	}
}
