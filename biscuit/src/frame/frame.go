// Package frame implements the global frame table and the shared
// read-only page table, grounded on vm/frame.c's ft_* and st_* functions:
// insertion, lookup, removal, and the second-chance clock victim scan.
package frame

import (
	"container/list"
	"sync"

	"defs"
	"hashtable"
	"mem"
)

/// Owner is the narrow view a supplemental page table entry exposes to
/// the frame table, enough to identify it during eviction without frame
/// importing the spt package (which itself references *Entry_t).
type Owner interface {
	Uvaddr() uintptr
	ThreadID() defs.Tid_t
	// Unmap tears down whatever page-directory translation this owner
	// installed for its frame, e.g. so a reused physical page is never
	// left reachable through a stale mapping after eviction.
	Unmap()
}

/// Entry_t is one physical frame's bookkeeping record.
type Entry_t struct {
	Pa        mem.Pa_t
	Owners    []Owner
	Writable  bool
	Modified  bool
	Reference bool
	Pinned    bool

	// Key is set when this frame also has an entry in a SharedTable, so
	// eviction can remove both together.
	Key   *SharedKey
	Table *SharedTable

	elem *list.Element // this entry's node in Table.order
}

/// AddOwner records an additional owner of this frame (>1 only for a
/// shared read-only file-backed page).
func (e *Entry_t) AddOwner(o Owner) {
	e.Owners = append(e.Owners, o)
}

/// RemoveOwner drops o from this frame's owner list.
func (e *Entry_t) RemoveOwner(o Owner) {
	for i, ow := range e.Owners {
		if ow == o {
			e.Owners = append(e.Owners[:i], e.Owners[i+1:]...)
			return
		}
	}
}

/// Table is the global frame table: one entry per physical frame
/// currently backing some virtual page.
type Table struct {
	mu    sync.Mutex
	byPa  map[mem.Pa_t]*Entry_t
	order *list.List // insertion order, for the clock scan
}

/// NewTable returns an empty frame table.
func NewTable() *Table {
	return &Table{
		byPa:  make(map[mem.Pa_t]*Entry_t),
		order: list.New(),
	}
}

/// Lock acquires the frame table's lock. Callers must take this before
/// any SharedTable lock, per the global lock order.
func (t *Table) Lock() {
	t.mu.Lock()
}

/// Unlock releases the frame table's lock.
func (t *Table) Unlock() {
	t.mu.Unlock()
}

/// Insert adds a new entry for pa. The caller must hold the table lock.
func (t *Table) Insert(pa mem.Pa_t, owner Owner, writable bool) *Entry_t {
	e := &Entry_t{Pa: pa, Writable: writable}
	e.Owners = append(e.Owners, owner)
	e.elem = t.order.PushBack(e)
	t.byPa[pa] = e
	return e
}

/// Find returns the entry for pa, if any. The caller must hold the table lock.
func (t *Table) Find(pa mem.Pa_t) (*Entry_t, bool) {
	e, ok := t.byPa[pa]
	return e, ok
}

/// Remove deletes pa's entry. The caller must hold the table lock.
func (t *Table) Remove(pa mem.Pa_t) {
	e, ok := t.byPa[pa]
	if !ok {
		return
	}
	t.order.Remove(e.elem)
	delete(t.byPa, pa)
}

/// Len reports how many frames are currently tracked.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byPa)
}

/// SnapshotEntry is one frame's state as of a Snapshot call, exported for
/// offline diagnostics (e.g. cmd/kdump) rather than direct table access.
type SnapshotEntry struct {
	Pa        mem.Pa_t
	NumOwners int
	Writable  bool
	Modified  bool
	Reference bool
	Pinned    bool
	Shared    bool
}

/// Snapshot copies every frame's diagnostic fields out of the table.
func (t *Table) Snapshot() []SnapshotEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]SnapshotEntry, 0, len(t.byPa))
	for pa, e := range t.byPa {
		out = append(out, SnapshotEntry{
			Pa:        pa,
			NumOwners: len(e.Owners),
			Writable:  e.Writable,
			Modified:  e.Modified,
			Reference: e.Reference,
			Pinned:    e.Pinned,
			Shared:    e.Key != nil,
		})
	}
	return out
}

/// Victim runs the two-pass second-chance clock scan over frames in
/// insertion order: the first pass clears reference bits while looking
/// for an unpinned, unreferenced frame; if none is found, the second
/// pass accepts the first unpinned frame regardless of its reference
/// bit. defs.EALLPINNED is returned if every frame is pinned, mirroring
/// ft_get_victim's fatal-kill path (the caller must kill the faulting
/// process after releasing the table lock).
func (t *Table) Victim() (*Entry_t, defs.Err_t) {
	var firstUnpinned *Entry_t
	for el := t.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*Entry_t)
		if e.Pinned {
			continue
		}
		if firstUnpinned == nil {
			firstUnpinned = e
		}
		if !e.Reference {
			return e, 0
		}
		e.Reference = false
	}
	if firstUnpinned != nil {
		return firstUnpinned, 0
	}
	return nil, defs.EALLPINNED
}

/// SharedKey identifies a shared read-only page by the file it backs and
/// the page-aligned offset into that file.
type SharedKey struct {
	FileID int64
	Offset int
}

/// Hash implements hashtable.Hashable.
func (k SharedKey) Hash() uint32 {
	h := uint64(k.FileID)*2654435761 + uint64(k.Offset)
	h ^= h >> 33
	return uint32(h)
}

/// HEqual implements hashtable.Hashable.
func (k SharedKey) HEqual(other interface{}) bool {
	o, ok := other.(SharedKey)
	return ok && o == k
}

/// SharedTable deduplicates read-only pages of the same file+offset
/// across processes onto one physical frame, grounded on vm/frame.c's
/// shared table (st_*).
type SharedTable struct {
	mu sync.Mutex
	ht *hashtable.Hashtable_t
}

/// NewSharedTable returns an empty shared table.
func NewSharedTable() *SharedTable {
	return &SharedTable{ht: hashtable.MkHash(64)}
}

/// Lock acquires the shared table's lock. A caller that also holds the
/// frame table's lock must have taken that one first, per the global
/// lock order.
func (s *SharedTable) Lock() {
	s.mu.Lock()
}

/// Unlock releases the shared table's lock.
func (s *SharedTable) Unlock() {
	s.mu.Unlock()
}

/// Find returns the frame backing key, if one is already shared.
func (s *SharedTable) Find(key SharedKey) (*Entry_t, bool) {
	v, ok := s.ht.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*Entry_t), true
}

/// Insert records that key is now backed by e.
func (s *SharedTable) Insert(key SharedKey, e *Entry_t) {
	s.ht.Set(key, e)
	e.Key = &key
	e.Table = s
}

/// Remove drops key from the shared table, e.g. when its frame's last
/// owner goes away.
func (s *SharedTable) Remove(key SharedKey) {
	s.ht.Del(key)
}
