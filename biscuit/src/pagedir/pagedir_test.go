package pagedir

import (
	"testing"

	"mem"
)

func TestInstallLookupRoundTrip(t *testing.T) {
	d := New()
	if d.Mapped(0x1000) {
		t.Fatal("fresh dir should have no mappings")
	}
	d.Install(0x1000, mem.Pa_t(0x4000), true)
	pa, ok := d.Lookup(0x1000)
	if !ok || pa != 0x4000 {
		t.Fatalf("Lookup = (%v, %v), want (0x4000, true)", pa, ok)
	}
	if !d.Writable(0x1000) {
		t.Fatal("expected writable mapping")
	}
}

func TestInstallRoundsDownToPage(t *testing.T) {
	d := New()
	d.Install(0x1000, mem.Pa_t(0x4000), false)
	pa, ok := d.Lookup(0x1000 + 0x123)
	if !ok || pa != 0x4000 {
		t.Fatalf("Lookup at offset within page = (%v, %v), want (0x4000, true)", pa, ok)
	}
}

func TestDestroyRemovesMapping(t *testing.T) {
	d := New()
	d.Install(0x2000, mem.Pa_t(0x8000), true)
	d.Destroy(0x2000)
	if d.Mapped(0x2000) {
		t.Fatal("expected mapping removed")
	}
	// destroying an unmapped address must not panic
	d.Destroy(0x9000)
}

func TestMarkWriteSetsAccessedAndDirty(t *testing.T) {
	d := New()
	d.Install(0x3000, mem.Pa_t(0x1000), true)
	d.MarkWrite(0x3000)
	if !d.Accessed(0x3000) {
		t.Fatal("expected accessed bit set")
	}
	if !d.Dirty(0x3000) {
		t.Fatal("expected dirty bit set")
	}
}

func TestMarkReadSetsAccessedOnly(t *testing.T) {
	d := New()
	d.Install(0x3000, mem.Pa_t(0x1000), true)
	d.MarkRead(0x3000)
	if !d.Accessed(0x3000) {
		t.Fatal("expected accessed bit set")
	}
	if d.Dirty(0x3000) {
		t.Fatal("expected dirty bit unset")
	}
}
