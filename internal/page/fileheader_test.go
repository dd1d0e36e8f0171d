package page_test

import (
	"testing"

	"calico/internal/calicoerr"
	"calico/internal/page"
)

func TestFileHeaderEncodeDecodeRoundTrip(t *testing.T) {
	buf := make([]byte, 4096)
	h := &page.FileHeader{
		PageCount:    10,
		RecordCount:  500,
		FreeListHead: page.PageID(3),
		RecoveryLsn:  page.Lsn(99),
		PageSize:     4096,
	}
	h.Encode(buf)

	got, err := page.DecodeFileHeader(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *got != *h {
		t.Fatalf("got %+v, want %+v", *got, *h)
	}
}

func TestDecodeFileHeaderRejectsBadMagic(t *testing.T) {
	buf := make([]byte, 4096)
	h := &page.FileHeader{PageCount: 1, PageSize: 4096}
	h.Encode(buf)

	off := page.FileHeaderOffset(len(buf))
	buf[off] ^= 0xFF // corrupt the magic

	if _, err := page.DecodeFileHeader(buf); !calicoerr.Of(err, calicoerr.Corruption) {
		t.Fatalf("expected Corruption, got %v", err)
	}
}

func TestDecodeFileHeaderRejectsBadCrc(t *testing.T) {
	buf := make([]byte, 4096)
	h := &page.FileHeader{PageCount: 1, PageSize: 4096}
	h.Encode(buf)

	off := page.FileHeaderOffset(len(buf))
	buf[off+10] ^= 0xFF // corrupt a body byte without touching magic

	if _, err := page.DecodeFileHeader(buf); !calicoerr.Of(err, calicoerr.Corruption) {
		t.Fatalf("expected Corruption, got %v", err)
	}
}

func TestDecodeFileHeaderRejectsTooSmallBuffer(t *testing.T) {
	if _, err := page.DecodeFileHeader(make([]byte, 4)); !calicoerr.Of(err, calicoerr.Corruption) {
		t.Fatalf("expected Corruption for undersized buffer, got %v", err)
	}
}
