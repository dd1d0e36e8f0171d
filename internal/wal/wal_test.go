package wal_test

import (
	"bytes"
	"testing"

	"calico/internal/env"
	"calico/internal/page"
	"calico/internal/wal"
)

func TestAppendFlushAndReplayInOrder(t *testing.T) {
	e := env.NewMem()
	w, err := wal.Open(e, wal.Options{Dir: "wal", BlockSize: 256, SegmentLimit: 1 << 20}, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	lsn1, err := w.AppendDeltas(page.PageID(1), []wal.Delta{{Offset: 0, Bytes: []byte("hello")}})
	if err != nil {
		t.Fatalf("append deltas: %v", err)
	}
	lsn2, err := w.AppendFullImage(page.PageID(2), bytes.Repeat([]byte("x"), 50))
	if err != nil {
		t.Fatalf("append full image: %v", err)
	}
	lsn3, err := w.AppendCommit()
	if err != nil {
		t.Fatalf("append commit: %v", err)
	}
	if !(lsn1 < lsn2 && lsn2 < lsn3) {
		t.Fatalf("expected strictly increasing lsns, got %d %d %d", lsn1, lsn2, lsn3)
	}

	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if w.FlushedLsn() != lsn3 {
		t.Fatalf("got flushed lsn %d, want %d", w.FlushedLsn(), lsn3)
	}

	r, err := wal.OpenForward(e, "wal", 256, 0)
	if err != nil {
		t.Fatalf("open forward: %v", err)
	}
	recs, err := r.AllRecords()
	if err != nil {
		t.Fatalf("all records: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	if recs[0].Lsn != lsn1 || recs[0].Type != wal.PayloadDeltas {
		t.Fatalf("record 0 mismatch: %+v", recs[0])
	}
	if recs[1].Lsn != lsn2 || recs[1].Type != wal.PayloadFullImage {
		t.Fatalf("record 1 mismatch: %+v", recs[1])
	}
	if recs[2].Lsn != lsn3 || recs[2].Type != wal.PayloadCommit {
		t.Fatalf("record 2 mismatch: %+v", recs[2])
	}

	gotID, gotImage := wal.DecodeFullImage(recs[1].Payload)
	if gotID != 2 || !bytes.Equal(gotImage, bytes.Repeat([]byte("x"), 50)) {
		t.Fatalf("full image payload corrupted: id=%d", gotID)
	}
}

func TestAppendSpanningMultipleBlocks(t *testing.T) {
	e := env.NewMem()
	w, err := wal.Open(e, wal.Options{Dir: "wal", BlockSize: 64, SegmentLimit: 1 << 20}, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	big := bytes.Repeat([]byte("z"), 500)
	lsn, err := w.AppendFullImage(page.PageID(1), big)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	r, err := wal.OpenForward(e, "wal", 64, 0)
	if err != nil {
		t.Fatalf("open forward: %v", err)
	}
	recs, err := r.AllRecords()
	if err != nil {
		t.Fatalf("all records: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if recs[0].Lsn != lsn {
		t.Fatalf("got lsn %d, want %d", recs[0].Lsn, lsn)
	}
	gotID, gotImage := wal.DecodeFullImage(recs[0].Payload)
	if gotID != 1 || !bytes.Equal(gotImage, big) {
		t.Fatalf("reassembled full image corrupted across block boundaries")
	}
}

func TestSegmentRotationOnLimit(t *testing.T) {
	e := env.NewMem()
	w, err := wal.Open(e, wal.Options{Dir: "wal", BlockSize: 64, SegmentLimit: 128}, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	for i := 0; i < 20; i++ {
		if _, err := w.AppendFullImage(page.PageID(1), bytes.Repeat([]byte("a"), 40)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if w.SegmentNumber() == 0 {
		t.Fatalf("expected segment rotation to have advanced past segment 0")
	}

	r, err := wal.OpenForward(e, "wal", 64, 0)
	if err != nil {
		t.Fatalf("open forward: %v", err)
	}
	recs, err := r.AllRecords()
	if err != nil {
		t.Fatalf("all records: %v", err)
	}
	if len(recs) != 20 {
		t.Fatalf("got %d records across segments, want 20", len(recs))
	}
}

func TestOpenBackwardYieldsNewestSegmentFirst(t *testing.T) {
	e := env.NewMem()
	w, err := wal.Open(e, wal.Options{Dir: "wal", BlockSize: 64, SegmentLimit: 100}, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := w.AppendFullImage(page.PageID(1), bytes.Repeat([]byte("b"), 40)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if w.SegmentNumber() == 0 {
		t.Skip("rotation did not occur; nothing to verify ordering across segments")
	}

	r, err := wal.OpenBackward(e, "wal", 64, 0)
	if err != nil {
		t.Fatalf("open backward: %v", err)
	}
	var lsns []page.Lsn
	r.Each(func(rec wal.Record) error {
		lsns = append(lsns, rec.Lsn)
		return nil
	})
	if len(lsns) == 0 {
		t.Fatalf("expected some records")
	}
	// Records within the newest segment must still come out before those
	// in the oldest segment, i.e. not globally ascending.
	ascending := true
	for i := 1; i < len(lsns); i++ {
		if lsns[i] < lsns[i-1] {
			ascending = false
			break
		}
	}
	if ascending {
		t.Fatalf("expected backward segment order to break global ascending order, got %v", lsns)
	}
}
