// Package pagedir models the page-directory hardware the rest of this
// tree treats as an external collaborator: installing a translation,
// tearing one down, and reading/clearing the accessed and dirty bits a
// real MMU would set. Walking real multi-level page tables is
// bootloader/interrupt-dispatch plumbing and out of scope; what matters
// to the demand-paging core is the *interface* a page table exposes, so
// this package backs it with a plain map instead of mem.Pmap_t walks.
package pagedir

import (
	"sync"

	"mem"
)

type pte struct {
	pa       mem.Pa_t
	writable bool
	accessed bool
	dirty    bool
}

/// Dir is one process's page directory.
type Dir struct {
	mu    sync.Mutex
	table map[uintptr]pte
}

/// New returns an empty page directory.
func New() *Dir {
	return &Dir{table: make(map[uintptr]pte)}
}

/// Install maps uvaddr (rounded down to a page boundary) to the physical
/// page kpage, replacing any existing mapping.
func (d *Dir) Install(uvaddr uintptr, kpage mem.Pa_t, writable bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	page := uvaddr &^ uintptr(mem.PGOFFSET)
	d.table[page] = pte{pa: kpage, writable: writable}
}

/// Destroy removes any mapping for uvaddr. It is not an error to destroy
/// an address that was never mapped.
func (d *Dir) Destroy(uvaddr uintptr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	page := uvaddr &^ uintptr(mem.PGOFFSET)
	delete(d.table, page)
}

/// Lookup returns the physical page mapped at uvaddr, if any.
func (d *Dir) Lookup(uvaddr uintptr) (mem.Pa_t, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	page := uvaddr &^ uintptr(mem.PGOFFSET)
	e, ok := d.table[page]
	return e.pa, ok
}

/// Mapped reports whether uvaddr currently has a valid translation.
func (d *Dir) Mapped(uvaddr uintptr) bool {
	_, ok := d.Lookup(uvaddr)
	return ok
}

/// Writable reports whether the mapping at uvaddr allows writes.
func (d *Dir) Writable(uvaddr uintptr) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	page := uvaddr &^ uintptr(mem.PGOFFSET)
	return d.table[page].writable
}

/// Accessed reports the accessed bit for uvaddr, the way the second-
/// chance clock algorithm inspects a real MMU's A bit; clearing it is a
/// separate SetAccessed(uvaddr, false) call.
func (d *Dir) Accessed(uvaddr uintptr) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	page := uvaddr &^ uintptr(mem.PGOFFSET)
	e := d.table[page]
	return e.accessed
}

/// SetAccessed sets or clears the accessed bit for uvaddr.
func (d *Dir) SetAccessed(uvaddr uintptr, v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	page := uvaddr &^ uintptr(mem.PGOFFSET)
	e := d.table[page]
	e.accessed = v
	d.table[page] = e
}

/// Dirty reports the dirty bit for uvaddr.
func (d *Dir) Dirty(uvaddr uintptr) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	page := uvaddr &^ uintptr(mem.PGOFFSET)
	return d.table[page].dirty
}

/// SetDirty sets or clears the dirty bit for uvaddr.
func (d *Dir) SetDirty(uvaddr uintptr, v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	page := uvaddr &^ uintptr(mem.PGOFFSET)
	e := d.table[page]
	e.dirty = v
	d.table[page] = e
}

/// MarkWrite simulates a store through the mapping: sets both accessed
/// and dirty, the way hardware would on a write.
func (d *Dir) MarkWrite(uvaddr uintptr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	page := uvaddr &^ uintptr(mem.PGOFFSET)
	e := d.table[page]
	e.accessed = true
	e.dirty = true
	d.table[page] = e
}

/// MarkRead simulates a load through the mapping: sets accessed only.
func (d *Dir) MarkRead(uvaddr uintptr) {
	d.SetAccessed(uvaddr, true)
}
