package wal_test

import (
	"bytes"
	"testing"

	"calico/internal/page"
	"calico/internal/wal"
)

func TestEncodeDecodeDeltas(t *testing.T) {
	deltas := []wal.Delta{
		{Offset: 10, Bytes: []byte("abc")},
		{Offset: 50, Bytes: []byte("xyz123")},
	}
	buf := wal.EncodeDeltas(page.PageID(7), deltas)

	gotID, gotDeltas := wal.DecodeDeltas(buf)
	if gotID != 7 {
		t.Fatalf("got page id %d, want 7", gotID)
	}
	if len(gotDeltas) != len(deltas) {
		t.Fatalf("got %d deltas, want %d", len(gotDeltas), len(deltas))
	}
	for i := range deltas {
		if gotDeltas[i].Offset != deltas[i].Offset {
			t.Fatalf("delta %d: got offset %d, want %d", i, gotDeltas[i].Offset, deltas[i].Offset)
		}
		if !bytes.Equal(gotDeltas[i].Bytes, deltas[i].Bytes) {
			t.Fatalf("delta %d: got bytes %q, want %q", i, gotDeltas[i].Bytes, deltas[i].Bytes)
		}
	}
}

func TestEncodeDecodeFullImage(t *testing.T) {
	image := bytes.Repeat([]byte("p"), 512)
	buf := wal.EncodeFullImage(page.PageID(3), image)

	gotID, gotImage := wal.DecodeFullImage(buf)
	if gotID != 3 {
		t.Fatalf("got page id %d, want 3", gotID)
	}
	if !bytes.Equal(gotImage, image) {
		t.Fatalf("image corrupted on round trip")
	}
}
