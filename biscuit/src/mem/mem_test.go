package mem

import "testing"

func TestRefpgNewZeroed(t *testing.T) {
	Phys_init(64)
	pg, pa, ok := Physmem.Refpg_new()
	if !ok {
		t.Fatal("refpg_new failed")
	}
	for _, w := range pg {
		if w != 0 {
			t.Fatalf("page not zeroed")
		}
	}
	if Physmem.Refcnt(pa) != 0 {
		t.Fatalf("fresh page refcnt = %d, want 0", Physmem.Refcnt(pa))
	}
	Physmem.Refup(pa)
	if Physmem.Refcnt(pa) != 1 {
		t.Fatalf("refcnt after refup = %d, want 1", Physmem.Refcnt(pa))
	}
	if Physmem.Refdown(pa) != true {
		t.Fatalf("refdown should have freed the page")
	}
}

func TestDmapRoundTrip(t *testing.T) {
	Phys_init(8)
	_, pa, ok := Physmem.Refpg_new()
	if !ok {
		t.Fatal("refpg_new failed")
	}
	pg := Physmem.Dmap(pa)
	got := Physmem.Dmap_v2p(pg)
	if got != pa {
		t.Fatalf("Dmap_v2p(Dmap(pa)) = %v, want %v", got, pa)
	}
}

func TestAllocExhaustion(t *testing.T) {
	Phys_init(2)
	_, _, ok1 := Physmem.Refpg_new()
	_, _, ok2 := Physmem.Refpg_new()
	_, _, ok3 := Physmem.Refpg_new()
	if !ok1 || !ok2 {
		t.Fatal("expected first two allocations to succeed")
	}
	if ok3 {
		t.Fatal("expected third allocation to fail: pool exhausted")
	}
}
