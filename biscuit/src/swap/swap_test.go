package swap

import (
	"bytes"
	"testing"

	"block"
	"defs"
	"mem"
)

func newMgr(t *testing.T, pages int) *Mgr {
	t.Helper()
	dev := block.NewMemDevice(pages * SectorsPerPage)
	return New(dev)
}

func TestAllocFreeRoundTrip(t *testing.T) {
	m := newMgr(t, 2)
	if m.Free_slots() != 2 {
		t.Fatalf("Free_slots() = %d, want 2", m.Free_slots())
	}
	s, err := m.Alloc()
	if err != 0 {
		t.Fatalf("Alloc() err = %v", err)
	}
	if m.Free_slots() != 1 {
		t.Fatalf("Free_slots() after Alloc = %d, want 1", m.Free_slots())
	}
	m.Free(s)
	if m.Free_slots() != 2 {
		t.Fatalf("Free_slots() after Free = %d, want 2", m.Free_slots())
	}
}

func TestAllocExhaustionReturnsEOOSWAP(t *testing.T) {
	m := newMgr(t, 1)
	if _, err := m.Alloc(); err != 0 {
		t.Fatalf("first Alloc() err = %v", err)
	}
	if _, err := m.Alloc(); err != defs.EOOSWAP {
		t.Fatalf("second Alloc() err = %v, want EOOSWAP", err)
	}
}

func TestWriteReadPageRoundTrip(t *testing.T) {
	m := newMgr(t, 2)
	s, err := m.Alloc()
	if err != 0 {
		t.Fatal(err)
	}
	page := bytes.Repeat([]byte{0x7f}, mem.PGSIZE)
	if err := m.WritePage(s, page); err != 0 {
		t.Fatalf("WritePage err = %v", err)
	}
	got := make([]byte, mem.PGSIZE)
	if err := m.ReadPage(s, got); err != 0 {
		t.Fatalf("ReadPage err = %v", err)
	}
	if !bytes.Equal(got, page) {
		t.Fatal("read back different page than written")
	}
}

func TestDoubleFreeIsANoOp(t *testing.T) {
	m := newMgr(t, 1)
	s, _ := m.Alloc()
	m.Free(s)
	if m.Free_slots() != 1 {
		t.Fatalf("Free_slots() after first Free = %d, want 1", m.Free_slots())
	}
	m.Free(s)
	if m.Free_slots() != 1 {
		t.Fatalf("Free_slots() after redundant Free = %d, want 1 (idempotent)", m.Free_slots())
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
	if need := off + len(buf); need > len(f.data) {
		f.data = append(f.data, make([]byte, need-len(f.data))...)
	}
	n := copy(f.data[off:], buf)
	return n, 0
}
func (f *fakeFile) Size() (int, defs.Err_t) { return len(f.data), 0 }
func (f *fakeFile) Reopen() defs.Err_t      { return 0 }
func (f *fakeFile) Close() defs.Err_t       { return 0 }
func (f *fakeFile) FileID() int64           { return 1 }

func TestReadPageToFileStreamsSwapIntoFileOffset(t *testing.T) {
	m := newMgr(t, 1)
	s, err := m.Alloc()
	if err != 0 {
		t.Fatal(err)
	}
	page := bytes.Repeat([]byte{0x42}, mem.PGSIZE)
	if err := m.WritePage(s, page); err != 0 {
		t.Fatalf("WritePage err = %v", err)
	}

	f := &fakeFile{data: make([]byte, mem.PGSIZE)}
	off := mem.PGSIZE
	if err := m.ReadPageToFile(s, f, off); err != 0 {
		t.Fatalf("ReadPageToFile err = %v", err)
	}
	if !bytes.Equal(f.data[off:off+mem.PGSIZE], page) {
		t.Fatal("file did not receive the swapped page at the requested offset")
	}
}
