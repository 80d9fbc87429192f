package mmap

import (
	"defs"
	"testing"
)

func TestCreateDup(t *testing.T) {
	tb := New()
	e1, err := tb.Create(0x1000, 4096, nil)
	if err != 0 {
		t.Fatalf("unexpected error %v", err)
	}
	if _, err := tb.Create(0x1000, 4096, nil); err != defs.EDUP {
		t.Fatalf("expected EDUP on duplicate base, got %v", err)
	}
	got, ok := tb.FindByAddr(0x1050)
	if !ok || got != e1 {
		t.Fatal("FindByAddr should locate the mapping containing the address")
	}
}

func TestRemove(t *testing.T) {
	tb := New()
	e, _ := tb.Create(0x2000, 4096, nil)
	tb.Remove(e.ID)
	if _, ok := tb.Find(e.ID); ok {
		t.Fatal("mapping should have been removed")
	}
}
