// Package spt implements the per-process supplemental page table: the
// record of every virtual page a process knows about, whether or not it
// currently has a physical frame, grounded on vm/page.c's spt_* and
// create_*_page functions.
package spt

import (
	"sync"

	"defs"
	"fdops"
	"frame"
	"hashtable"
	"mem"
	"pagedir"
)

/// Kind identifies what backs a supplemental page table entry.
type Kind int

const (
	// ZeroPage is a freshly demanded, zero-filled anonymous page.
	ZeroPage Kind = iota
	// NewStackPage is a stack page not yet grown into; same as
	// ZeroPage except it participates in the stack-growth bookkeeping.
	NewStackPage
	// StackPage is an anonymous stack page currently resident.
	StackPage
	// FilePage is backed by a file, read lazily on first fault.
	FilePage
	// MMappedPage is backed by an explicit mmap table entry.
	MMappedPage
	// Swapped means the page is not resident; Restore names what kind
	// (ZeroPage, StackPage or FilePage) to restore it as once it is paged back
	// in. Folding the "evicted" state into one variant instead of a
	// separate per-kind swapped-flag matches the corpus's habit of
	// reusing one struct for a family of closely related states (e.g.
	// fd.Fd_t's Perms bitmask) rather than adding new top-level types.
	Swapped
)

/// Entry_t is one page's supplemental page table record.
type Entry_t struct {
	mu sync.Mutex

	tid    defs.Tid_t
	uvaddr uintptr
	kind   Kind
	restore Kind // valid only when kind == Swapped

	// file-backed fields
	file      fdops.Fdops_i
	fileOff   int
	readBytes int

	// swap-backed fields
	swapSlot    int
	hasSwapSlot bool

	writable bool
	modified bool
	pinned   bool

	cur *frame.Entry_t // nil when not resident
	dir *pagedir.Dir   // the page directory this entry is installed into, once faulted in
}

var _ frame.Owner = (*Entry_t)(nil)

/// Uvaddr implements frame.Owner.
func (e *Entry_t) Uvaddr() uintptr { return e.uvaddr }

/// ThreadID implements frame.Owner.
func (e *Entry_t) ThreadID() defs.Tid_t { return e.tid }

/// Kind reports the entry's current backing kind.
func (e *Entry_t) Kind() Kind {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.kind
}

/// Resident reports whether the entry currently has a physical frame.
func (e *Entry_t) Resident() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cur != nil
}

/// Frame returns the entry's current frame, or nil if not resident.
func (e *Entry_t) Frame() *frame.Entry_t {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cur
}

/// SetFrame installs fr as the entry's current frame (or nil to mark it
/// non-resident).
func (e *Entry_t) SetFrame(fr *frame.Entry_t) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cur = fr
}

/// SetDir records which page directory this entry's page was installed
/// into, so a later eviction can tear that translation back down.
func (e *Entry_t) SetDir(d *pagedir.Dir) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dir = d
}

/// Unmap implements frame.Owner: it destroys this entry's translation in
/// its recorded page directory, if it has ever been installed into one.
func (e *Entry_t) Unmap() {
	e.mu.Lock()
	d, uvaddr := e.dir, e.uvaddr
	e.mu.Unlock()
	if d != nil {
		d.Destroy(uvaddr)
	}
}

/// Writable reports whether writes to this page are allowed.
func (e *Entry_t) Writable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writable
}

/// Pinned reports whether the entry's frame must not be evicted.
func (e *Entry_t) Pinned() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pinned
}

/// SetPinned pins or unpins the entry.
func (e *Entry_t) SetPinned(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pinned = v
}

/// File returns the backing file, offset, and the number of bytes of the
/// page that come from the file (the remainder is zero-filled), valid
/// for FilePage/MMappedPage entries and for Swapped entries whose
/// restore kind is FilePage.
func (e *Entry_t) File() (fdops.Fdops_i, int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.file, e.fileOff, e.readBytes
}

/// MarkSwapped records that the entry's page now lives at slot on the
/// swap device, remembering restore as the kind to become once reloaded.
func (e *Entry_t) MarkSwapped(slot int, restore Kind) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.kind = Swapped
	e.restore = restore
	e.swapSlot = slot
	e.hasSwapSlot = true
	e.cur = nil
}

/// SwapSlot returns the swap slot backing a Swapped entry.
func (e *Entry_t) SwapSlot() (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.swapSlot, e.hasSwapSlot
}

/// ClearSwap restores the entry to its pre-swap kind after a successful
/// reload, dropping the swap-slot bookkeeping (the caller frees the slot
/// separately once the page has been read back).
func (e *Entry_t) ClearSwap() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.kind = e.restore
	e.hasSwapSlot = false
}

/// Modified reports the entry's cached dirty bit.
func (e *Entry_t) Modified() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.modified
}

/// SetModified sets the entry's cached dirty bit.
func (e *Entry_t) SetModified(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.modified = v
}

/// SyncModified pulls the page directory's hardware-style dirty bit (set
/// by an actual store through the installed mapping) into the entry's
/// own cached bit. Eviction calls this before checking Modified, since
/// once the mapping is torn down the page directory can no longer answer.
func (e *Entry_t) SyncModified() {
	e.mu.Lock()
	d, uvaddr := e.dir, e.uvaddr
	e.mu.Unlock()
	if d != nil && d.Dirty(uvaddr) {
		e.SetModified(true)
	}
}

/// Table is one process's supplemental page table, keyed by page-aligned
/// virtual address.
type Table struct {
	ht *hashtable.Hashtable_t
}

/// New returns an empty supplemental page table.
func New() *Table {
	return &Table{ht: hashtable.MkHash(32)}
}

func pagekey(uvaddr uintptr) int {
	return int(uvaddr) &^ (mem.PGSIZE - 1)
}

/// Find returns the entry covering uvaddr's page, if any.
func (t *Table) Find(uvaddr uintptr) (*Entry_t, bool) {
	v, ok := t.ht.Get(pagekey(uvaddr))
	if !ok {
		return nil, false
	}
	return v.(*Entry_t), true
}

/// CreateZeroPage adds a fresh zero-filled anonymous entry at uvaddr.
func (t *Table) CreateZeroPage(tid defs.Tid_t, uvaddr uintptr, writable bool) *Entry_t {
	e := &Entry_t{tid: tid, uvaddr: pageAligned(uvaddr), kind: ZeroPage, writable: writable}
	t.ht.Set(pagekey(uvaddr), e)
	return e
}

/// CreateStackPage adds a not-yet-grown-into stack entry at uvaddr.
func (t *Table) CreateStackPage(tid defs.Tid_t, uvaddr uintptr) *Entry_t {
	e := &Entry_t{tid: tid, uvaddr: pageAligned(uvaddr), kind: NewStackPage, writable: true}
	t.ht.Set(pagekey(uvaddr), e)
	return e
}

// CreateFilePage inserts a file-backed entry at uvaddr, following
// create_file_page's widen logic: if an entry already exists at this
// address (e.g. from an earlier, shorter mmap of the same region) and it
// is already a FilePage or MMappedPage, the existing entry's read_bytes
// is widened to cover the larger of the two requests rather than
// inserting a duplicate, since two overlapping file mappings of the same
// uvaddr must agree on one frame. The existing entry's kind and writable
// flag are left as they were; an existing entry of any other kind is not
// upgraded to a file-backed one.
func (t *Table) CreateFilePage(tid defs.Tid_t, uvaddr uintptr, file fdops.Fdops_i, off, readBytes int, writable, mmapped bool) *Entry_t {
	key := pagekey(uvaddr)
	if v, ok := t.ht.Get(key); ok {
		existing := v.(*Entry_t)
		existing.mu.Lock()
		if existing.kind == FilePage || existing.kind == MMappedPage {
			if readBytes > existing.readBytes {
				existing.readBytes = readBytes
			}
			existing.mu.Unlock()
			return existing
		}
		existing.mu.Unlock()
	}
	kind := FilePage
	if mmapped {
		kind = MMappedPage
	}
	e := &Entry_t{
		tid: tid, uvaddr: pageAligned(uvaddr), kind: kind,
		file: file, fileOff: off, readBytes: readBytes, writable: writable,
	}
	t.ht.Set(key, e)
	return e
}

/// Remove deletes the entry at uvaddr's page, if present.
func (t *Table) Remove(uvaddr uintptr) {
	key := pagekey(uvaddr)
	if _, ok := t.ht.Get(key); ok {
		t.ht.Del(key)
	}
}

/// Entries returns every entry currently in the table, for teardown.
func (t *Table) Entries() []*Entry_t {
	pairs := t.ht.Elems()
	out := make([]*Entry_t, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p.Value.(*Entry_t))
	}
	return out
}

func pageAligned(uvaddr uintptr) uintptr {
	return uvaddr &^ uintptr(mem.PGSIZE-1)
}
