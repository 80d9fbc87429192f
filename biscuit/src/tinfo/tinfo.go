// Package tinfo tracks per-thread kill/doom state; each sched.Thread_t
// carries one Tnote_t. Neither the scheduler nor the page-fault handler
// reads it.
package tinfo

import "sync"

import "defs"

/// Tnote_t stores per-thread state consulted when deciding whether to
/// keep running a thread or unwind it.
type Tnote_t struct {
	Alive    bool
	Killed   bool
	Isdoomed bool // marked for termination but still finishing a syscall
	// protects Killed, Killnaps.Cond and Kerr, and is a leaf lock
	sync.Mutex
	Killnaps struct {
		Killch chan bool
		Cond   *sync.Cond
		Kerr   defs.Err_t
	}
}

/// Doomed reports whether the thread is marked as doomed.
func (t *Tnote_t) Doomed() bool {
	t.Lock()
	defer t.Unlock()
	return t.Isdoomed
}

/// Doom marks the thread as doomed with the given error, waking anything
/// waiting on Killnaps.Cond.
func (t *Tnote_t) Doom(err defs.Err_t) {
	t.Lock()
	defer t.Unlock()
	t.Isdoomed = true
	t.Killnaps.Kerr = err
	if t.Killnaps.Cond != nil {
		t.Killnaps.Cond.Broadcast()
	}
}

/// Threadinfo_t tracks the notes of every live thread, keyed by id.
type Threadinfo_t struct {
	Notes map[defs.Tid_t]*Tnote_t
	sync.Mutex
}

/// Init initializes the thread info map.
func (t *Threadinfo_t) Init() {
	t.Notes = make(map[defs.Tid_t]*Tnote_t)
}

/// Put registers a new thread note under id.
func (t *Threadinfo_t) Put(id defs.Tid_t, note *Tnote_t) {
	t.Lock()
	defer t.Unlock()
	t.Notes[id] = note
}

/// Get fetches the thread note for id, or nil if unknown.
func (t *Threadinfo_t) Get(id defs.Tid_t) *Tnote_t {
	t.Lock()
	defer t.Unlock()
	return t.Notes[id]
}

/// Del removes the thread note for id.
func (t *Threadinfo_t) Del(id defs.Tid_t) {
	t.Lock()
	defer t.Unlock()
	delete(t.Notes, id)
}
