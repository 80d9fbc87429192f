// Package mmap implements the per-process memory-mapped file table,
// grounded on vm/mmap.c's mmap_create_entry/mmap_find_entry/mmap_remove_entry.
package mmap

import (
	"sync"

	"defs"
	"fdops"
	"limits"
)

/// Entry_t records one active mmap mapping.
type Entry_t struct {
	ID     int
	Base   uintptr
	Length int
	File   fdops.Fdops_i
}

/// Table is a process's mmap table.
type Table struct {
	mu      sync.Mutex
	entries map[int]*Entry_t
	nextID  int
}

/// New returns an empty mmap table.
func New() *Table {
	return &Table{entries: make(map[int]*Entry_t)}
}

/// Create adds a new mapping of file at uvaddr for length bytes and
/// returns its entry. defs.EDUP is returned, non-fatally, if any mapping
/// already exists at this base address; defs.ELIMIT is returned, also
/// non-fatally, if the system-wide mmap entry limit is exhausted.
func (t *Table) Create(base uintptr, length int, file fdops.Fdops_i) (*Entry_t, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e.Base == base {
			return nil, defs.EDUP
		}
	}
	if !limits.Syslimit.Mmaps.Take() {
		return nil, defs.ELIMIT
	}
	id := t.nextID
	t.nextID++
	e := &Entry_t{ID: id, Base: base, Length: length, File: file}
	t.entries[id] = e
	return e, 0
}

/// Find returns the mapping with this id, if present.
func (t *Table) Find(id int) (*Entry_t, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	return e, ok
}

/// FindByAddr returns the mapping covering uvaddr, if any.
func (t *Table) FindByAddr(uvaddr uintptr) (*Entry_t, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if uvaddr >= e.Base && uvaddr < e.Base+uintptr(e.Length) {
			return e, true
		}
	}
	return nil, false
}

/// Remove deletes mapping id, giving its slot back to the system-wide limit.
func (t *Table) Remove(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; ok {
		limits.Syslimit.Mmaps.Give()
	}
	delete(t.entries, id)
}

/// Entries returns every active mapping, for process teardown.
func (t *Table) Entries() []*Entry_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Entry_t, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	return out
}
