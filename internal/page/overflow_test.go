package page_test

import (
	"bytes"
	"testing"

	"calico/internal/page"
)

func TestOverflowNextRoundTrip(t *testing.T) {
	buf := make([]byte, 512)
	page.SetOverflowNext(buf, page.PageID(17))
	if got := page.OverflowNext(buf); got != 17 {
		t.Fatalf("got %d, want 17", got)
	}
}

func TestOverflowPayloadSkipsHeader(t *testing.T) {
	buf := make([]byte, 512)
	copy(buf[page.OverflowHeaderSize:], []byte("payload bytes"))
	if !bytes.Equal(page.OverflowPayload(buf)[:13], []byte("payload bytes")) {
		t.Fatalf("payload region not aligned past header")
	}
}

func TestFreeListLinkNextRoundTrip(t *testing.T) {
	buf := make([]byte, 512)
	page.SetFreeListLinkNext(buf, page.PageID(5))
	if got := page.FreeListLinkNext(buf); got != 5 {
		t.Fatalf("got %d, want 5", got)
	}
}

func TestPtrMapEntryRoundTrip(t *testing.T) {
	buf := make([]byte, 512)
	e := page.PtrMapEntry{BackPointer: page.PageID(123), Type: page.PtrOverflowHead}
	page.WritePtrMapEntry(buf, 3, e)

	got := page.ReadPtrMapEntry(buf, 3)
	if got != e {
		t.Fatalf("got %+v, want %+v", got, e)
	}
}

func TestPtrMapSlotForPageWithinGroup(t *testing.T) {
	pageSize := 512
	stride := page.PointerMapStride(pageSize)

	mapPage, slot := page.PtrMapSlotForPage(page.PageID(3), pageSize)
	if mapPage != 2 {
		t.Fatalf("page 3 should map to page 2, got %d", mapPage)
	}
	if slot != 0 {
		t.Fatalf("page 3 should be slot 0, got %d", slot)
	}

	last := page.PageID(2 + int64(stride))
	mapPage2, slot2 := page.PtrMapSlotForPage(last, pageSize)
	if mapPage2 != 2 {
		t.Fatalf("last page in group should still map to page 2, got %d", mapPage2)
	}
	if slot2 != stride-1 {
		t.Fatalf("got slot %d, want %d", slot2, stride-1)
	}
}
