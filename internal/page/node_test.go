package page_test

import (
	"bytes"
	"testing"

	"calico/internal/page"
)

func TestInitNodeDefaults(t *testing.T) {
	buf := make([]byte, 512)
	n := page.InitNode(buf, true)

	if !n.IsExternal() {
		t.Fatalf("expected external node")
	}
	if n.CellCount() != 0 {
		t.Fatalf("expected zero cells, got %d", n.CellCount())
	}
	if n.CellStart() != 512 {
		t.Fatalf("expected cell start at page end (512), got %d", n.CellStart())
	}
	if n.FreeTotal() != 0 || n.FragCount() != 0 {
		t.Fatalf("expected no free space or fragments on a fresh node")
	}
}

func TestInitRootNodeReservesFileHeaderTail(t *testing.T) {
	buf := make([]byte, 512)
	n := page.InitRootNode(buf, true)
	want := 512 - page.FileHeaderSize
	if n.CellStart() != want {
		t.Fatalf("got cell start %d, want %d", n.CellStart(), want)
	}
}

func TestNextPrevIDRoundTrip(t *testing.T) {
	buf := make([]byte, 512)
	n := page.InitNode(buf, true)
	n.SetNextID(page.PageID(77))
	n.SetPrevID(page.PageID(33))
	if n.NextID() != 77 {
		t.Fatalf("got next %d, want 77", n.NextID())
	}
	if n.PrevID() != 33 {
		t.Fatalf("got prev %d, want 33", n.PrevID())
	}
}

func TestInsertAndRemoveSlot(t *testing.T) {
	buf := make([]byte, 512)
	n := page.InitNode(buf, true)

	n.InsertSlot(0, 100)
	n.InsertSlot(1, 200)
	n.InsertSlot(1, 150) // insert in the middle

	if n.CellCount() != 3 {
		t.Fatalf("got %d cells, want 3", n.CellCount())
	}
	offsets := []int{n.CellOffset(0), n.CellOffset(1), n.CellOffset(2)}
	want := []int{100, 150, 200}
	for i := range want {
		if offsets[i] != want[i] {
			t.Fatalf("slot %d: got %d, want %d", i, offsets[i], want[i])
		}
	}

	n.RemoveSlot(1)
	if n.CellCount() != 2 {
		t.Fatalf("got %d cells after remove, want 2", n.CellCount())
	}
	if n.CellOffset(0) != 100 || n.CellOffset(1) != 200 {
		t.Fatalf("unexpected slots after remove: %d, %d", n.CellOffset(0), n.CellOffset(1))
	}
}

func TestAllocateFromGapShrinksCellStart(t *testing.T) {
	buf := make([]byte, 512)
	n := page.InitNode(buf, true)

	before := n.CellStart()
	off := n.Allocate(40)
	if off != before-40 {
		t.Fatalf("got offset %d, want %d", off, before-40)
	}
	if n.CellStart() != before-40 {
		t.Fatalf("cell start not updated: got %d, want %d", n.CellStart(), before-40)
	}
}

func TestFreeThenAllocateReusesBlock(t *testing.T) {
	buf := make([]byte, 512)
	n := page.InitNode(buf, true)

	off := n.Allocate(40)
	n.Free(off, 40)
	if n.FreeTotal() != 40 {
		t.Fatalf("got free total %d, want 40", n.FreeTotal())
	}

	// Allocate serves the gap before the free-block list, so use up the
	// gap to make the next allocation come from the freed block.
	n.Allocate(n.GapSize())

	reused := n.Allocate(40)
	if reused != off {
		t.Fatalf("expected first-fit reuse at %d, got %d", off, reused)
	}
	if n.FreeTotal() != 0 {
		t.Fatalf("expected free list drained, got %d", n.FreeTotal())
	}
}

func TestFreeSmallRegionBecomesFragment(t *testing.T) {
	buf := make([]byte, 512)
	n := page.InitNode(buf, true)

	off := n.Allocate(2)
	n.Free(off, 2)
	if n.FragCount() != 2 {
		t.Fatalf("got frag count %d, want 2", n.FragCount())
	}
	if n.FreeTotal() != 0 {
		t.Fatalf("small region should not join the free-block list")
	}
}

func TestDefragmentPreservesOrderAndReclaimsSpace(t *testing.T) {
	buf := make([]byte, 512)
	n := page.InitNode(buf, true)

	sizes := []int{20, 30, 25}
	offs := make([]int, len(sizes))
	for i, sz := range sizes {
		off := n.Allocate(sz)
		for j := 0; j < sz; j++ {
			buf[off+j] = byte('A' + i)
		}
		offs[i] = off
		n.InsertSlot(i, off)
	}

	// Free the middle cell, remove its slot, then defragment to reclaim
	// the hole it left behind.
	n.Free(offs[1], sizes[1])
	n.RemoveSlot(1)
	n.Defragment(func(off int) int {
		for i, o := range offs {
			if o == off {
				return sizes[i]
			}
		}
		return 0
	}, -1)

	if n.FreeTotal() != 0 || n.FragCount() != 0 {
		t.Fatalf("defragment should clear free list and fragments, got total=%d frag=%d",
			n.FreeTotal(), n.FragCount())
	}

	// Cell 0's bytes must still read back correctly after relocation.
	newOff := n.CellOffset(0)
	want := bytes.Repeat([]byte{'A'}, sizes[0])
	if !bytes.Equal(buf[newOff:newOff+sizes[0]], want) {
		t.Fatalf("cell 0 content corrupted after defragment")
	}
}

func TestUsableSpaceIsGapPlusFreeList(t *testing.T) {
	buf := make([]byte, 512)
	n := page.InitNode(buf, true)

	before := n.UsableSpace()
	off := n.Allocate(50)
	n.Free(off, 50)

	after := n.UsableSpace()
	if after != before {
		t.Fatalf("freeing back an allocation should restore usable space: before=%d after=%d", before, after)
	}
}
