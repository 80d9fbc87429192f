// Package pagefault implements the page-fault handler that composes
// the supplemental page table, frame table/shared table, swap manager,
// and allocator glue, grounded on userprog/exception.c's page_fault.
package pagefault

import (
	"fmt"

	"golang.org/x/sync/singleflight"

	"alloc"
	"defs"
	"fdops"
	"frame"
	"mem"
	"mmap"
	"pagedir"
	"spt"
	"swap"
)

// MaxPush is the largest single push instruction can extend the stack
// by in one fault (a PUSHA), per exception.c's MAX_PUSH_SIZE.
const MaxPush = 32

// MaxStackPages bounds how far a stack may grow, per exception.c's
// MAX_STACK_PAGES.
const MaxStackPages = 2048

// StackGrower is the per-thread stack-growth accounting Fault consults
// and updates, matching exception.c's t->stack_page_cnt: the cap on how
// far one thread's stack may grow is tracked on that thread, not as a
// single process-wide ceiling.
type StackGrower interface {
	StackPageCount() int
	GrowStack()
}

/// Handler ties one process's supplemental page table and page
/// directory to the shared allocator/frame/shared/swap tables.
type Handler struct {
	Alloc *alloc.Allocator

	// sf collapses concurrent first-faults on the same shared file page
	// into a single frame allocation and read, so two processes mmapping
	// the same file at the same moment never race each other into
	// inserting two different frames under one SharedKey.
	sf singleflight.Group
}

/// NewHandler returns a fault handler over the given allocator.
func NewHandler(a *alloc.Allocator) *Handler {
	return &Handler{Alloc: a}
}

// sharedPlaceholder stands in for the real spt.Entry_t owner while a
// shared frame is being allocated inside sf.Do, since the function given
// to Do cannot know about every caller currently waiting on it. Every
// real caller -- including whichever one happened to run Do's function --
// adds itself as an owner once Do returns.
type sharedPlaceholder struct{}

func (sharedPlaceholder) Uvaddr() uintptr      { return 0 }
func (sharedPlaceholder) ThreadID() defs.Tid_t { return -1 }
func (sharedPlaceholder) Unmap()               {}

/// Fault handles a page fault at uvaddr in the faulting thread tid's
/// address space (table, dir). esp is the faulting thread's stack
/// pointer at the time of the fault, used only for the stack-growth
/// heuristic. isWrite reports whether the fault was caused by a write.
/// Returns 0 on success (the page is now mapped) or a fatal defs.Err_t
/// the caller must use to kill the thread.
func (h *Handler) Fault(tid defs.Tid_t, table *spt.Table, dir *pagedir.Dir, esp, uvaddr uintptr, isWrite bool, sg StackGrower) defs.Err_t {
	e, ok := table.Find(uvaddr)
	if !ok {
		if !isPushLike(esp, uvaddr) {
			return defs.EFAULT
		}
		if sg.StackPageCount() >= MaxStackPages {
			return defs.EFAULT
		}
		e = table.CreateStackPage(tid, uvaddr)
		sg.GrowStack()
	}

	if e.Resident() {
		// Another fault raced us and already filled it in, or this
		// is a spurious fault after a TLB-stale write-protect trap;
		// neither is an error.
		return 0
	}

	if isWrite && !e.Writable() {
		return defs.EFAULT
	}

	if err := h.load(e); err != 0 {
		return err
	}

	fr := e.Frame()
	e.SetDir(dir)
	dir.Install(e.Uvaddr(), fr.Pa, e.Writable())
	if isWrite {
		dir.MarkWrite(e.Uvaddr())
	} else {
		dir.MarkRead(e.Uvaddr())
	}
	fr.Reference = true
	return 0
}

/// Munmap tears down mapping id from mm: every page it covers is
/// unmapped from dir, flushed to its file at its original offset if it
/// was ever modified (read directly off the swap device without
/// faulting it back in first, if it was swapped out), and removed from
/// table. This is munmap's destruction walk -- the only thing mmap
/// followed immediately by munmap is required to guarantee is that
/// every dirty page lands in the file at exactly its original offset.
func (h *Handler) Munmap(table *spt.Table, dir *pagedir.Dir, mm *mmap.Table, id int) defs.Err_t {
	entry, ok := mm.Find(id)
	if !ok {
		return defs.EINVAL
	}

	for uv := entry.Base; uv < entry.Base+uintptr(entry.Length); uv += uintptr(mem.PGSIZE) {
		spte, ok := table.Find(uv)
		if !ok {
			continue
		}
		if err := h.flushAndRelease(spte); err != 0 {
			return err
		}
		spte.Unmap()
		table.Remove(uv)
	}

	mm.Remove(id)
	return 0
}

// flushAndRelease writes spte's page back to its file at its recorded
// offset if it has ever been modified, then drops this entry's claim on
// whatever frame or swap slot currently backs it. A swapped-out page is
// streamed straight from the swap device to the file, never faulted back
// into memory first.
func (h *Handler) flushAndRelease(spte *spt.Entry_t) defs.Err_t {
	if spte.Kind() == spt.Swapped {
		slot, hasSlot := spte.SwapSlot()
		if !hasSlot {
			return 0
		}
		file, off, _ := spte.File()
		if file != nil {
			if err := h.Alloc.Swap.ReadPageToFile(swap.Slot(slot), file, off); err != 0 {
				return err
			}
		}
		h.Alloc.Swap.Free(swap.Slot(slot))
		return 0
	}

	if !spte.Resident() {
		return 0
	}
	spte.SyncModified()
	if spte.Modified() {
		file, off, _ := spte.File()
		if file != nil {
			fr := spte.Frame()
			page := mem.Pg2bytes(mem.Physmem.Dmap(fr.Pa))
			if _, err := file.WriteAt(page[:], off); err != 0 {
				return err
			}
		}
	}
	h.releaseFrame(spte)
	return 0
}

// releaseFrame drops spte's ownership of its current frame, freeing the
// frame (and its shared-table entry, if any) once it has no owners left.
func (h *Handler) releaseFrame(spte *spt.Entry_t) {
	fr := spte.Frame()
	if fr == nil {
		return
	}

	h.Alloc.Frames.Lock()
	fr.RemoveOwner(spte)
	lastOwner := len(fr.Owners) == 0
	key, stbl := fr.Key, fr.Table
	h.Alloc.Frames.Unlock()

	if !lastOwner {
		return
	}
	if key != nil && stbl != nil {
		stbl.Lock()
		stbl.Remove(*key)
		stbl.Unlock()
	}
	h.Alloc.Frames.Lock()
	h.Alloc.Frames.Remove(fr.Pa)
	h.Alloc.Frames.Unlock()
	mem.Physmem.Refdown(fr.Pa)
}

/// Pin walks every page covering the byte range [base, base+length) in
/// table, faulting in any page that is not yet resident (so, e.g., a
/// read(2)/write(2) syscall can safely use the range as a kernel I/O
/// buffer for the duration of the I/O) and pinning its frame against
/// eviction. Unlike Fault, Pin never creates a new entry: every page in
/// the range must already be known to table, or Pin fails with
/// defs.EFAULT. On any failure, every frame Pin already pinned in this
/// call is unpinned before returning, so a partially-pinned range never
/// leaks pins.
func (h *Handler) Pin(table *spt.Table, dir *pagedir.Dir, base uintptr, length int) defs.Err_t {
	var pinned []*frame.Entry_t
	start := base &^ uintptr(mem.PGSIZE-1)
	for uv := start; uv < base+uintptr(length); uv += uintptr(mem.PGSIZE) {
		e, ok := table.Find(uv)
		if !ok {
			h.unpinAll(pinned)
			return defs.EFAULT
		}
		if !e.Resident() {
			if err := h.load(e); err != 0 {
				h.unpinAll(pinned)
				return err
			}
			fr := e.Frame()
			e.SetDir(dir)
			dir.Install(e.Uvaddr(), fr.Pa, e.Writable())
		}
		fr := e.Frame()
		if !h.Alloc.Pin(fr) {
			h.unpinAll(pinned)
			return defs.EALLPINNED
		}
		pinned = append(pinned, fr)
	}
	return 0
}

func (h *Handler) unpinAll(frs []*frame.Entry_t) {
	for _, fr := range frs {
		h.Alloc.Unpin(fr)
	}
}

/// Unpin releases every frame covering the byte range [base, base+length)
/// in table that a prior Pin call pinned. Pages that are not currently
/// resident are skipped, matching Pin's own page-at-a-time view of the
/// range rather than assuming every page was (or still is) resident.
func (h *Handler) Unpin(table *spt.Table, base uintptr, length int) {
	start := base &^ uintptr(mem.PGSIZE-1)
	for uv := start; uv < base+uintptr(length); uv += uintptr(mem.PGSIZE) {
		e, ok := table.Find(uv)
		if !ok || !e.Resident() {
			continue
		}
		h.Alloc.Unpin(e.Frame())
	}
}

// load fills e's frame from whatever currently backs it: a read-only
// mmap'd page dedups onto an existing frame if one already exists for
// the same file+offset; otherwise (including FilePage entries, which
// are never deduplicated), a private page is
// allocated fresh and filled from swap, from the file, or left
// zero-filled.
func (h *Handler) load(e *spt.Entry_t) defs.Err_t {
	switch e.Kind() {
	case spt.MMappedPage:
		if e.Writable() {
			return h.loadFile(e)
		}
		return h.loadShared(e)
	case spt.ZeroPage, spt.NewStackPage, spt.StackPage:
		return h.loadAnon(e)
	case spt.FilePage:
		return h.loadFile(e)
	case spt.Swapped:
		return h.loadFromSwap(e)
	}
	return defs.EFAULT
}

func (h *Handler) loadShared(e *spt.Entry_t) defs.Err_t {
	file, off, readBytes := e.File()
	key := frame.SharedKey{FileID: file.FileID(), Offset: off}
	sfKey := fmt.Sprintf("%d:%d", key.FileID, key.Offset)

	v, err, _ := h.sf.Do(sfKey, func() (interface{}, error) {
		h.Alloc.Frames.Lock()
		h.Alloc.Shared.Lock()
		if fr, ok := h.Alloc.Shared.Find(key); ok {
			h.Alloc.Shared.Unlock()
			h.Alloc.Frames.Unlock()
			return fr, nil
		}
		h.Alloc.Shared.Unlock()
		h.Alloc.Frames.Unlock()

		fr, aerr := h.Alloc.GetFrame(sharedPlaceholder{}, false)
		if aerr != 0 {
			return nil, aerr
		}
		if ferr := fillFromFile(fr.Pa, file, off, readBytes); ferr != 0 {
			return nil, ferr
		}
		h.Alloc.Frames.Lock()
		h.Alloc.Shared.Lock()
		h.Alloc.Shared.Insert(key, fr)
		h.Alloc.Shared.Unlock()
		h.Alloc.Frames.Unlock()
		return fr, nil
	})
	if err != nil {
		return err.(defs.Err_t)
	}

	fr := v.(*frame.Entry_t)
	fr.AddOwner(e)
	e.SetFrame(fr)
	return 0
}

func (h *Handler) loadAnon(e *spt.Entry_t) defs.Err_t {
	fr, err := h.Alloc.GetFrame(e, true)
	if err != 0 {
		return err
	}
	e.SetFrame(fr)
	return 0
}

func (h *Handler) loadFile(e *spt.Entry_t) defs.Err_t {
	fr, err := h.Alloc.GetFrame(e, e.Writable())
	if err != 0 {
		return err
	}
	file, off, readBytes := e.File()
	if err := fillFromFile(fr.Pa, file, off, readBytes); err != 0 {
		return err
	}
	e.SetFrame(fr)
	return 0
}

func (h *Handler) loadFromSwap(e *spt.Entry_t) defs.Err_t {
	slot, ok := e.SwapSlot()
	if !ok {
		return defs.EFAULT
	}
	fr, err := h.Alloc.GetFrame(e, true)
	if err != 0 {
		return err
	}
	page := mem.Pg2bytes(mem.Physmem.Dmap(fr.Pa))
	if err := h.Alloc.Swap.ReadPage(swap.Slot(slot), page[:]); err != 0 {
		return err
	}
	h.Alloc.Swap.Free(swap.Slot(slot))
	e.ClearSwap()
	e.SetFrame(fr)
	return 0
}

func fillFromFile(pa mem.Pa_t, file fdops.Fdops_i, off, readBytes int) defs.Err_t {
	page := mem.Pg2bytes(mem.Physmem.Dmap(pa))
	for i := range page {
		page[i] = 0
	}
	if file == nil || readBytes == 0 {
		return 0
	}
	n, err := file.ReadAt(page[:readBytes], off)
	if err != 0 {
		return err
	}
	for i := n; i < readBytes; i++ {
		page[i] = 0
	}
	return 0
}

// isPushLike implements page_fault's stack-growth heuristic: the fault
// is within MaxPush bytes below the current stack pointer, consistent
// with a PUSH/PUSHA instruction extending the stack rather than a wild
// access. Whether the thread is actually allowed to grow its stack this
// far is a separate question the caller answers via StackGrower.
func isPushLike(esp, uvaddr uintptr) bool {
	if uvaddr >= esp {
		return false
	}
	return esp-uvaddr <= MaxPush
}
