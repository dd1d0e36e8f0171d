package page_test

import (
	"bytes"
	"testing"

	"calico/internal/page"
)

func externalMeta() page.Meta {
	minLocal, maxLocal := page.LocalLimits(4096)
	return page.Meta{IsExternal: true, MinLocal: minLocal, MaxLocal: maxLocal}
}

func internalMeta() page.Meta {
	minLocal, maxLocal := page.LocalLimits(4096)
	return page.Meta{IsExternal: false, MinLocal: minLocal, MaxLocal: maxLocal}
}

func TestExternalCellRoundTripNoOverflow(t *testing.T) {
	m := externalMeta()
	key := []byte("hello")
	value := []byte("world")

	out := make([]byte, page.ExternalCellFootprint(len(key), len(value), len(value), false))
	n := page.EmplaceExternal(out, len(value), key, value, 0)
	if n != len(out) {
		t.Fatalf("wrote %d bytes, expected footprint %d", n, len(out))
	}

	p := page.ParseCell(m, out, 0)
	if p.HasOverflow {
		t.Fatalf("expected no overflow for small value")
	}
	if !bytes.Equal(page.Key(out, p), key) {
		t.Fatalf("got key %q, want %q", page.Key(out, p), key)
	}
	if !bytes.Equal(page.LocalValue(out, p), value) {
		t.Fatalf("got value %q, want %q", page.LocalValue(out, p), value)
	}
	if p.Footprint != len(out) {
		t.Fatalf("parsed footprint %d != written %d", p.Footprint, len(out))
	}
}

func TestExternalCellRoundTripWithOverflow(t *testing.T) {
	m := externalMeta()
	key := []byte("k")
	totalValueSize := m.MaxLocal * 4
	localBudget := m.LocalBudget(len(key), totalValueSize)
	localValue := bytes.Repeat([]byte("x"), localBudget-len(key))

	out := make([]byte, page.ExternalCellFootprint(len(key), totalValueSize, len(localValue), true))
	page.EmplaceExternal(out, totalValueSize, key, localValue, page.PageID(42))

	p := page.ParseCell(m, out, 0)
	if !p.HasOverflow {
		t.Fatalf("expected overflow for oversized value")
	}
	if p.OverflowHead != 42 {
		t.Fatalf("got overflow head %d, want 42", p.OverflowHead)
	}
	if p.TotalPayloadSize != totalValueSize {
		t.Fatalf("got total payload %d, want %d", p.TotalPayloadSize, totalValueSize)
	}
	if !bytes.Equal(page.Key(out, p), key) {
		t.Fatalf("got key %q, want %q", page.Key(out, p), key)
	}
}

func TestInternalCellRoundTrip(t *testing.T) {
	m := internalMeta()
	key := []byte("separator")

	out := make([]byte, page.InternalCellFootprint(len(key), false))
	page.EmplaceInternal(out, page.PageID(7), key, 0)

	p := page.ParseCell(m, out, 0)
	if p.ChildID != 7 {
		t.Fatalf("got child %d, want 7", p.ChildID)
	}
	if !bytes.Equal(page.Key(out, p), key) {
		t.Fatalf("got key %q, want %q", page.Key(out, p), key)
	}

	page.WriteChildID(out, 0, page.PageID(99))
	p2 := page.ParseCell(m, out, 0)
	if p2.ChildID != 99 {
		t.Fatalf("WriteChildID did not take effect: got %d, want 99", p2.ChildID)
	}
}

func TestPromoteCellDropsValue(t *testing.T) {
	key := []byte("promoted")
	out := page.PromoteCell(page.PageID(5), key)

	m := internalMeta()
	p := page.ParseCell(m, out, 0)
	if p.ChildID != 5 {
		t.Fatalf("got child %d, want 5", p.ChildID)
	}
	if !bytes.Equal(page.Key(out, p), key) {
		t.Fatalf("got key %q, want %q", page.Key(out, p), key)
	}
	if len(out) != page.InternalCellFootprint(len(key), false) {
		t.Fatalf("promoted cell should be exactly key-sized, got %d bytes", len(out))
	}
}

func TestCellSizeForMatchesFootprint(t *testing.T) {
	m := externalMeta()
	key := []byte("abc")
	value := []byte("defgh")
	out := make([]byte, page.ExternalCellFootprint(len(key), len(value), len(value), false))
	page.EmplaceExternal(out, len(value), key, value, 0)

	if got := page.CellSizeFor(m, out, 0); got != len(out) {
		t.Fatalf("got %d, want %d", got, len(out))
	}
}
