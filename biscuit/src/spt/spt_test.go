package spt

import "testing"

func TestCreateZeroPageThenFind(t *testing.T) {
	tb := New()
	e := tb.CreateZeroPage(1, 0x1000, true)
	if e.Kind() != ZeroPage {
		t.Fatalf("kind = %v, want ZeroPage", e.Kind())
	}
	got, ok := tb.Find(0x1fff)
	if !ok || got != e {
		t.Fatal("Find should round down to the page containing uvaddr")
	}
}

func TestCreateFilePageWidensExisting(t *testing.T) {
	tb := New()
	e := tb.CreateFilePage(1, 0x2000, nil, 0, 100, false, true)
	if e.Kind() != MMappedPage {
		t.Fatalf("kind = %v, want MMappedPage", e.Kind())
	}
	e2 := tb.CreateFilePage(1, 0x2000, nil, 0, 200, false, true)
	if e2 != e {
		t.Fatal("overlapping file page at the same address must reuse the entry")
	}
	_, _, rb := e.File()
	if rb != 200 {
		t.Fatalf("readBytes = %d, want widened to 200", rb)
	}
}

func TestSwapRoundTrip(t *testing.T) {
	tb := New()
	e := tb.CreateStackPage(1, 0x3000)
	e.MarkSwapped(5, StackPage)
	if e.Kind() != Swapped {
		t.Fatalf("kind after MarkSwapped = %v, want Swapped", e.Kind())
	}
	slot, ok := e.SwapSlot()
	if !ok || slot != 5 {
		t.Fatalf("SwapSlot = %d,%v want 5,true", slot, ok)
	}
	e.ClearSwap()
	if e.Kind() != StackPage {
		t.Fatalf("kind after ClearSwap = %v, want StackPage", e.Kind())
	}
}

func TestRemove(t *testing.T) {
	tb := New()
	tb.CreateZeroPage(1, 0x4000, true)
	tb.Remove(0x4000)
	if _, ok := tb.Find(0x4000); ok {
		t.Fatal("entry should have been removed")
	}
}
