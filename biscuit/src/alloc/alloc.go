// Package alloc is the allocator glue: it turns a request for a
// physical frame into either a fresh page from mem.Physmem or, once
// that pool is exhausted, an eviction of frame.Table's clock victim,
// grounded on vm/frame.c's ft_get_victim plus the write-back paths
// vm/page.c's spt_destroy_entry takes before dropping a frame.
package alloc

import (
	"defs"
	"frame"
	"limits"
	"mem"
	"spt"
	"swap"
)

/// Allocator owns the three tables the global lock order names, in
/// order: frame table, shared table, swap manager. Acquire().Release()
/// on those follows that order everywhere in this package.
type Allocator struct {
	Frames *frame.Table
	Shared *frame.SharedTable
	Swap   *swap.Mgr
}

/// New returns an allocator over the given tables.
func New(ft *frame.Table, st *frame.SharedTable, sw *swap.Mgr) *Allocator {
	return &Allocator{Frames: ft, Shared: st, Swap: sw}
}

/// GetFrame returns a frame for owner, allocating fresh physical memory
/// if available and evicting a victim otherwise. Callers must not hold
/// the frame table lock; GetFrame takes it internally in the order the
/// global lock order requires.
func (a *Allocator) GetFrame(owner frame.Owner, writable bool) (*frame.Entry_t, defs.Err_t) {
	_, pa, ok := mem.Physmem.Refpg_new()
	if !ok {
		if err := a.evictOne(); err != 0 {
			return nil, err
		}
		_, pa, ok = mem.Physmem.Refpg_new()
		if !ok {
			return nil, defs.EOOM
		}
	}
	mem.Physmem.Refup(pa)
	a.Frames.Lock()
	e := a.Frames.Insert(pa, owner, writable)
	a.Frames.Unlock()
	return e, 0
}

/// Pin marks fr as pinned against eviction, e.g. while a syscall has its
/// backing page lent out as a user I/O buffer. Returns false and leaves
/// fr unpinned if the system-wide pinned-frame limit is already
/// exhausted, mirroring the original's resource-limit-as-backpressure
/// pattern rather than letting every frame be pinned at once. This is the
/// single-frame primitive pagefault.Handler.Pin composes to pin a whole
/// vaddr range, faulting in any page that isn't resident yet first.
func (a *Allocator) Pin(fr *frame.Entry_t) bool {
	if !limits.Syslimit.Pinnedframes.Take() {
		return false
	}
	a.Frames.Lock()
	fr.Pinned = true
	a.Frames.Unlock()
	return true
}

/// Unpin releases a frame pinned by Pin. The single-frame counterpart to
/// pagefault.Handler.Unpin's vaddr-range walk.
func (a *Allocator) Unpin(fr *frame.Entry_t) {
	a.Frames.Lock()
	fr.Pinned = false
	a.Frames.Unlock()
	limits.Syslimit.Pinnedframes.Give()
}

// evictOne picks frame.Table's clock victim and writes it back before
// freeing its physical page, following spt_destroy_entry: a dirty
// private file page is written back to its file; an anonymous page
// (stack or zero-filled) is written to swap; a shared read-only page is
// simply dropped, since the file it was read from still has the only
// copy that matters.
func (a *Allocator) evictOne() defs.Err_t {
	a.Frames.Lock()
	victim, err := a.Frames.Victim()
	if err != 0 {
		a.Frames.Unlock()
		return err
	}
	owners := append([]frame.Owner(nil), victim.Owners...)
	// A frame with a SharedTable entry is evicted via the shared path
	// regardless of how many owners it currently has (a read-only file
	// mapping with exactly one current mapper is still shared, since
	// singleflight.Do may hand the same frame to a second mapper before
	// this victim scan runs again).
	shared := victim.Key != nil
	pa := victim.Pa
	key := victim.Key
	tbl := victim.Table
	a.Frames.Unlock()

	if shared {
		if tbl != nil && key != nil {
			tbl.Lock()
			tbl.Remove(*key)
			tbl.Unlock()
		}
		for _, o := range owners {
			if spte, ok := o.(*spt.Entry_t); ok {
				spte.SetFrame(nil)
			}
		}
	} else if len(owners) == 1 {
		if err := a.writeBackPrivate(pa, owners[0]); err != 0 {
			return err
		}
	}

	// Tear down every owner's page-directory translation before the
	// physical page is handed back to the free pool, so a reused frame
	// is never still reachable through a stale mapping (spt_destroy_entry
	// unmaps before it frees).
	for _, o := range owners {
		o.Unmap()
	}

	a.Frames.Lock()
	a.Frames.Remove(pa)
	a.Frames.Unlock()
	mem.Physmem.Refdown(pa)
	return 0
}

func (a *Allocator) writeBackPrivate(pa mem.Pa_t, owner frame.Owner) defs.Err_t {
	spte, ok := owner.(*spt.Entry_t)
	if !ok {
		return 0
	}
	page := mem.Pg2bytes(mem.Physmem.Dmap(pa))
	spte.SyncModified()

	switch spte.Kind() {
	case spt.FilePage, spt.MMappedPage:
		if spte.Modified() {
			file, off, _ := spte.File()
			if file != nil {
				if _, err := file.WriteAt(page[:], off); err != 0 {
					return err
				}
			}
		}
		spte.SetFrame(nil)
		return 0
	default: // ZeroPage, NewStackPage, StackPage
		a.Shared.Lock() // swap sits below shared in the lock order
		slot, err := a.Swap.Alloc()
		a.Shared.Unlock()
		if err != 0 {
			return err
		}
		if err := a.Swap.WritePage(slot, page[:]); err != 0 {
			return err
		}
		// A page that is evicted before it was ever grown into still
		// comes back as an ordinary stack page: it now has a frame,
		// so it is no longer "new".
		restore := spte.Kind()
		if restore == spt.NewStackPage {
			restore = spt.StackPage
		}
		spte.MarkSwapped(int(slot), restore)
		return 0
	}
}
