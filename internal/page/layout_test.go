package page_test

import (
	"testing"

	"calico/internal/page"
)

func TestValidPageSize(t *testing.T) {
	valid := []int{512, 1024, 2048, 4096, 8192, 16384, 32768}
	for _, sz := range valid {
		if !page.ValidPageSize(sz) {
			t.Fatalf("expected %d to be valid", sz)
		}
	}
	invalid := []int{0, 256, 511, 513, 1000, 65536, -4096}
	for _, sz := range invalid {
		if page.ValidPageSize(sz) {
			t.Fatalf("expected %d to be invalid", sz)
		}
	}
}

func TestPageLSNRoundTrip(t *testing.T) {
	buf := make([]byte, 64)
	page.SetPageLSN(buf, page.Lsn(12345))
	if got := page.PageLSN(buf); got != 12345 {
		t.Fatalf("got %d, want 12345", got)
	}
}

func TestLocalLimitsGrowWithPageSize(t *testing.T) {
	minSmall, maxSmall := page.LocalLimits(512)
	minBig, maxBig := page.LocalLimits(8192)
	if minSmall <= 0 || maxSmall <= minSmall {
		t.Fatalf("bad limits for 512: min=%d max=%d", minSmall, maxSmall)
	}
	if minBig <= minSmall || maxBig <= maxSmall {
		t.Fatalf("limits did not grow with page size: small=(%d,%d) big=(%d,%d)",
			minSmall, maxSmall, minBig, maxBig)
	}
}

func TestFileHeaderOffsetIsPageTail(t *testing.T) {
	off := page.FileHeaderOffset(4096)
	if off != 4096-page.FileHeaderSize {
		t.Fatalf("got %d, want %d", off, 4096-page.FileHeaderSize)
	}
}

func TestIsPointerMapPage(t *testing.T) {
	if !page.IsPointerMapPage(2, 512) {
		t.Fatalf("page 2 must always be a pointer-map page")
	}
	if page.IsPointerMapPage(1, 512) {
		t.Fatalf("root page must never be a pointer-map page")
	}
	stride := page.PointerMapStride(512)
	next := page.PageID(2 + stride + 1)
	if !page.IsPointerMapPage(next, 512) {
		t.Fatalf("expected page %d (one stride past page 2) to be a pointer-map page", next)
	}
	if page.IsPointerMapPage(next-1, 512) {
		t.Fatalf("page %d should be an ordinary data page", next-1)
	}
}
