// Package swap implements the swap manager: a bitmap of free page-sized
// slots on a block.Device, written and read a full page at a time.
package swap

import (
	"sync"

	"block"
	"defs"
	"fdops"
	"mem"
)

// SectorsPerPage is how many block.SectorSize sectors make up one page.
const SectorsPerPage = mem.PGSIZE / block.SectorSize

/// Slot identifies a page-sized region of the swap device.
type Slot int

const noSlot Slot = -1

/// Mgr is the swap manager. Mgr's own lock is always the innermost of the
/// three in the global lock order: a caller that holds the frame-table or
/// shared-table lock while calling into Mgr must have taken it (in that
/// order) first.
type Mgr struct {
	mu    sync.Mutex
	dev   block.Device
	free  []bool // true == free
	nfree int
}

/// New creates a swap manager over dev, with every slot initially free.
func New(dev block.Device) *Mgr {
	n := dev.NumSectors() / SectorsPerPage
	m := &Mgr{
		dev:  dev,
		free: make([]bool, n),
	}
	for i := range m.free {
		m.free[i] = true
	}
	m.nfree = n
	return m
}

/// Alloc finds a free slot, marks it used, and returns it. Returns
/// defs.EOOSWAP if the device is full.
func (m *Mgr) Alloc() (Slot, defs.Err_t) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, free := range m.free {
		if free {
			m.free[i] = false
			m.nfree--
			return Slot(i), 0
		}
	}
	return noSlot, defs.EOOSWAP
}

/// Free releases slot back to the free pool. Freeing an already-free slot
/// is a no-op: a page can independently become un-swapped-for (evicted
/// clean, then the process exits) and re-freed from more than one path,
/// and release(index) must tolerate that rather than treat it as a bug.
func (m *Mgr) Free(s Slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.free[s] {
		return
	}
	m.free[s] = true
	m.nfree++
}

/// WritePage writes the full page page (len mem.PGSIZE) to slot.
func (m *Mgr) WritePage(s Slot, page []byte) defs.Err_t {
	if len(page) != mem.PGSIZE {
		panic("swap: page size")
	}
	base := int(s) * SectorsPerPage
	for i := 0; i < SectorsPerPage; i++ {
		lo, hi := i*block.SectorSize, (i+1)*block.SectorSize
		if err := m.dev.WriteSector(base+i, page[lo:hi]); err != nil {
			return defs.EIO
		}
	}
	return 0
}

/// ReadPage reads slot's full page into page (len mem.PGSIZE).
func (m *Mgr) ReadPage(s Slot, page []byte) defs.Err_t {
	if len(page) != mem.PGSIZE {
		panic("swap: page size")
	}
	base := int(s) * SectorsPerPage
	for i := 0; i < SectorsPerPage; i++ {
		lo, hi := i*block.SectorSize, (i+1)*block.SectorSize
		if err := m.dev.ReadSector(base+i, page[lo:hi]); err != nil {
			return defs.EIO
		}
	}
	return 0
}

/// ReadPageToFile reads slot's page directly into file at byte offset
/// off, without routing it back through a frame. This is what
/// pagefault.Handler.Munmap uses to flush a still-swapped mmap'd page
/// straight to its backing file: faulting the page back into memory first
/// just to write it out again and immediately tear the mapping down would
/// be wasted work for a mapping that is being removed.
func (m *Mgr) ReadPageToFile(s Slot, file fdops.Fdops_i, off int) defs.Err_t {
	var page [mem.PGSIZE]byte
	if err := m.ReadPage(s, page[:]); err != 0 {
		return err
	}
	if _, err := file.WriteAt(page[:], off); err != 0 {
		return err
	}
	return 0
}

/// Free_slots reports how many slots remain unused, for diagnostics.
func (m *Mgr) Free_slots() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nfree
}
