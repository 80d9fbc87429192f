package alloc

import (
	"testing"

	"block"
	"defs"
	"frame"
	"mem"
	"pagedir"
	"spt"
	"swap"
)

func newAllocator(t *testing.T, npages int) *Allocator {
	t.Helper()
	mem.Phys_init(npages)
	ft := frame.NewTable()
	st := frame.NewSharedTable()
	sw := swap.New(block.NewMemDevice(npages * swap.SectorsPerPage))
	return New(ft, st, sw)
}

func TestGetFrameAllocatesFreshPages(t *testing.T) {
	a := newAllocator(t, 4)
	tbl := spt.New()
	owner := tbl.CreateZeroPage(defs.Tid_t(1), 0x1000, true)

	fr, err := a.GetFrame(owner, true)
	if err != 0 {
		t.Fatalf("GetFrame err = %v", err)
	}
	owner.SetFrame(fr)
	if a.Frames.Len() != 1 {
		t.Fatalf("Frames.Len() = %d, want 1", a.Frames.Len())
	}
}

func TestGetFrameEvictsWhenPoolExhausted(t *testing.T) {
	a := newAllocator(t, 2)
	tbl := spt.New()

	var entries []*spt.Entry_t
	for i := 0; i < 2; i++ {
		e := tbl.CreateZeroPage(defs.Tid_t(1), uintptr(0x1000*(i+1)), true)
		fr, err := a.GetFrame(e, true)
		if err != 0 {
			t.Fatalf("GetFrame[%d] err = %v", i, err)
		}
		e.SetFrame(fr)
		entries = append(entries, e)
	}

	// the pool is now exhausted; a third request must evict the oldest,
	// unreferenced entry (entries[0], by the clock scan's FIFO order).
	e3 := tbl.CreateZeroPage(defs.Tid_t(1), 0x9000, true)
	fr3, err := a.GetFrame(e3, true)
	if err != 0 {
		t.Fatalf("GetFrame after exhaustion err = %v", err)
	}
	e3.SetFrame(fr3)

	if entries[0].Resident() {
		t.Fatal("expected evicted entry to no longer be resident")
	}
	if entries[0].Kind() != spt.Swapped {
		t.Fatalf("evicted entry kind = %v, want Swapped", entries[0].Kind())
	}
	if _, ok := entries[0].SwapSlot(); !ok {
		t.Fatal("expected evicted entry to have a swap slot")
	}
	if !entries[1].Resident() {
		t.Fatal("expected second entry to remain resident")
	}
}

func TestEvictionDestroysPageDirectoryMapping(t *testing.T) {
	a := newAllocator(t, 2)
	tbl := spt.New()
	dir := pagedir.New()

	var entries []*spt.Entry_t
	for i := 0; i < 2; i++ {
		uv := uintptr(0x1000 * (i + 1))
		e := tbl.CreateZeroPage(defs.Tid_t(1), uv, true)
		fr, err := a.GetFrame(e, true)
		if err != 0 {
			t.Fatalf("GetFrame[%d] err = %v", i, err)
		}
		e.SetFrame(fr)
		e.SetDir(dir)
		dir.Install(uv, fr.Pa, true)
		entries = append(entries, e)
	}

	if !dir.Mapped(entries[0].Uvaddr()) {
		t.Fatal("expected first page to be mapped before eviction")
	}

	e3 := tbl.CreateZeroPage(defs.Tid_t(1), 0x9000, true)
	fr3, err := a.GetFrame(e3, true)
	if err != 0 {
		t.Fatalf("GetFrame after exhaustion err = %v", err)
	}
	e3.SetFrame(fr3)

	if dir.Mapped(entries[0].Uvaddr()) {
		t.Fatal("expected the evicted entry's page-directory mapping to be destroyed")
	}
	if !dir.Mapped(entries[1].Uvaddr()) {
		t.Fatal("expected the still-resident entry's mapping to remain")
	}
}

type fakeFile struct {
	data []byte
}

func (f *fakeFile) ReadAt(buf []uint8, off int) (int, defs.Err_t) {
	n := copy(buf, f.data[off:])
	return n, 0
}
func (f *fakeFile) WriteAt(buf []uint8, off int) (int, defs.Err_t) {
	n := copy(f.data[off:], buf)
	return n, 0
}
func (f *fakeFile) Size() (int, defs.Err_t) { return len(f.data), 0 }
func (f *fakeFile) Reopen() defs.Err_t      { return 0 }
func (f *fakeFile) Close() defs.Err_t       { return 0 }
func (f *fakeFile) FileID() int64           { return 1 }

func TestEvictionWritesBackDirtyFilePage(t *testing.T) {
	a := newAllocator(t, 2)
	tbl := spt.New()
	dir := pagedir.New()
	file := &fakeFile{data: make([]byte, mem.PGSIZE)}

	uv := uintptr(0x1000)
	e := tbl.CreateFilePage(defs.Tid_t(1), uv, file, 0, mem.PGSIZE, true, true)
	fr, err := a.GetFrame(e, true)
	if err != 0 {
		t.Fatalf("GetFrame err = %v", err)
	}
	e.SetFrame(fr)
	e.SetDir(dir)
	dir.Install(uv, fr.Pa, true)

	page := mem.Pg2bytes(mem.Physmem.Dmap(fr.Pa))
	for i := range page {
		page[i] = 0x5a
	}
	dir.MarkWrite(uv) // simulates hardware setting the dirty bit on a store

	// fill the rest of the pool so the next GetFrame must evict e.
	e2 := tbl.CreateZeroPage(defs.Tid_t(1), 0x2000, true)
	fr2, err := a.GetFrame(e2, true)
	if err != 0 {
		t.Fatalf("GetFrame[e2] err = %v", err)
	}
	e2.SetFrame(fr2)

	e3 := tbl.CreateZeroPage(defs.Tid_t(1), 0x9000, true)
	fr3, err := a.GetFrame(e3, true)
	if err != 0 {
		t.Fatalf("GetFrame after exhaustion err = %v", err)
	}
	e3.SetFrame(fr3)

	for i, b := range file.data {
		if b != 0x5a {
			t.Fatalf("file.data[%d] = %#x, want 0x5a (dirty page not written back)", i, b)
		}
	}
	if dir.Mapped(uv) {
		t.Fatal("expected the evicted file page's mapping to be destroyed")
	}
}

func TestGetFrameAllPinnedReturnsEALLPINNED(t *testing.T) {
	a := newAllocator(t, 1)
	tbl := spt.New()
	e := tbl.CreateZeroPage(defs.Tid_t(1), 0x1000, true)
	fr, err := a.GetFrame(e, true)
	if err != 0 {
		t.Fatal(err)
	}
	e.SetFrame(fr)
	fr.Pinned = true

	e2 := tbl.CreateZeroPage(defs.Tid_t(1), 0x2000, true)
	if _, err := a.GetFrame(e2, true); err != defs.EALLPINNED {
		t.Fatalf("GetFrame err = %v, want EALLPINNED", err)
	}
}
