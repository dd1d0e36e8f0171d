package pager_test

import (
	"testing"

	"calico/internal/page"
)

func TestPushFreelistThenAllocateReuses(t *testing.T) {
	p := openTestPager(t, 8)

	fr, err := p.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	id := fr.ID()
	p.Release(fr)

	if err := p.PushFreelist(id); err != nil {
		t.Fatalf("push freelist: %v", err)
	}

	before := p.PageCount()
	fr2, err := p.Allocate()
	if err != nil {
		t.Fatalf("allocate after push: %v", err)
	}
	defer p.Release(fr2)

	if fr2.ID() != id {
		t.Fatalf("expected recycled id %d, got %d", id, fr2.ID())
	}
	if p.PageCount() != before {
		t.Fatalf("reused page should not grow the file: before=%d after=%d", before, p.PageCount())
	}
}

func TestPushFreelistRejectsRootPage(t *testing.T) {
	p := openTestPager(t, 8)
	if err := p.PushFreelist(page.RootPageID); err == nil {
		t.Fatalf("expected error freeing the root page")
	}
}

func TestFreelistIsLIFO(t *testing.T) {
	p := openTestPager(t, 8)

	fr1, err := p.Allocate()
	if err != nil {
		t.Fatalf("allocate 1: %v", err)
	}
	id1 := fr1.ID()
	p.Release(fr1)

	fr2, err := p.Allocate()
	if err != nil {
		t.Fatalf("allocate 2: %v", err)
	}
	id2 := fr2.ID()
	p.Release(fr2)

	if err := p.PushFreelist(id1); err != nil {
		t.Fatalf("push 1: %v", err)
	}
	if err := p.PushFreelist(id2); err != nil {
		t.Fatalf("push 2: %v", err)
	}

	got, err := p.Allocate()
	if err != nil {
		t.Fatalf("allocate 3: %v", err)
	}
	p.Release(got)
	if got.ID() != id2 {
		t.Fatalf("expected LIFO order to hand back %d first, got %d", id2, got.ID())
	}
}
