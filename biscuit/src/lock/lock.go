// Package lock implements semaphores, locks, and priority donation,
// grounded on threads/thread.c's donation_grant/donation_revoke and the
// Pintos synchronization primitives lock_acquire/lock_release build on.
package lock

import "sync"

/// Haver is the narrow view of a thread that lock needs: enough to
/// compare and retarget donated priority without importing the
/// scheduler package (which imports lock for blocking primitives --
/// importing it back here would cycle).
type Haver interface {
	// Pri returns the thread's current effective priority.
	Pri() int
	// BasePri returns the thread's un-donated base priority.
	BasePri() int
	// SetEffectivePri installs a (possibly donated) effective priority.
	SetEffectivePri(int)
	// WaitingOn returns the lock this thread is blocked acquiring, or
	// nil if it isn't blocked on one.
	WaitingOn() *Lock_t
	// SetWaitingOn records which lock this thread is blocked acquiring.
	SetWaitingOn(*Lock_t)
	// AddDonor/RemoveDonor maintain the set of threads currently
	// donating their priority to this thread.
	AddDonor(Haver)
	RemoveDonor(Haver)
	Donors() []Haver
}

/// Semaphore_t is a classic counting semaphore whose waiters are woken
/// highest-effective-priority-first, the way sema_up in Pintos picks
/// list_max(&waiters, cmp_priority) rather than FIFO order.
type Semaphore_t struct {
	mu      sync.Mutex
	value   int
	waiters []waiter
}

type waiter struct {
	who Haver
	ch  chan struct{}
}

/// MkSemaphore returns a semaphore with the given initial value.
func MkSemaphore(value int) *Semaphore_t {
	return &Semaphore_t{value: value}
}

/// Down blocks until the semaphore's value is positive, then decrements
/// it. who is used only to order wakeups by priority.
func (s *Semaphore_t) Down(who Haver) {
	s.mu.Lock()
	if s.value > 0 {
		s.value--
		s.mu.Unlock()
		return
	}
	w := waiter{who: who, ch: make(chan struct{})}
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()
	<-w.ch
}

/// Up increments the semaphore's value, waking the highest-effective-
/// priority waiter if any are blocked.
func (s *Semaphore_t) Up() {
	s.mu.Lock()
	if len(s.waiters) == 0 {
		s.value++
		s.mu.Unlock()
		return
	}
	best := 0
	for i := 1; i < len(s.waiters); i++ {
		if s.waiters[i].who.Pri() > s.waiters[best].who.Pri() {
			best = i
		}
	}
	w := s.waiters[best]
	s.waiters = append(s.waiters[:best], s.waiters[best+1:]...)
	s.mu.Unlock()
	close(w.ch)
}

/// Waiting reports how many goroutines are currently blocked in Down.
func (s *Semaphore_t) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters)
}

/// Lock_t is a mutual-exclusion lock with priority donation: a thread
/// blocked acquiring a held lock donates its effective priority to the
/// holder (and transitively to whatever the holder itself is blocked
/// on), so a low-priority holder of a contended lock is not starved by
/// medium-priority threads that never touch the lock (priority
/// inversion).
type Lock_t struct {
	sema    *Semaphore_t
	mu      sync.Mutex
	holder  Haver
	pending []Haver // donors released by the old holder, awaiting the next
}

/// MkLock returns an unheld lock.
func MkLock() *Lock_t {
	return &Lock_t{sema: MkSemaphore(1)}
}

/// Held reports whether the lock is currently held.
func (l *Lock_t) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder != nil
}

/// Holder returns the current holder, or nil.
func (l *Lock_t) Holder() Haver {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder
}

/// Acquire blocks until who holds the lock. If the lock is already held,
/// who registers itself as a donor of the current holder and, if its
/// priority is higher, donates it up the chain of locks the holder is
/// itself blocked on, exactly as donation_grant recurses through
/// lock->holder->waiting_lock.
func (l *Lock_t) Acquire(who Haver) {
	l.mu.Lock()
	h := l.holder
	if h != nil {
		who.SetWaitingOn(l)
		h.AddDonor(who)
		if who.Pri() > h.Pri() {
			l.donationGrant(h, who.Pri())
		}
	}
	l.mu.Unlock()

	l.sema.Down(who)

	l.mu.Lock()
	l.holder = who
	who.SetWaitingOn(nil)
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	// The previous holder's donors that were still waiting on l (the
	// other threads blocked acquiring it, us included) are re-homed onto
	// who, the new holder, matching donation_grant re-targeting a
	// donation when the lock it was tagged to changes hands.
	for _, d := range pending {
		if d == who {
			continue
		}
		who.AddDonor(d)
	}
	if len(pending) > 0 {
		recomputeEffective(who)
	}
}

// donationGrant raises h's effective priority to pri and, if h is
// itself blocked on another lock, recurses onto that lock's holder --
// the lock-order proof this package relies on (frame/shared/swap/owner
// locks are never held across Acquire) keeps this recursion bounded by
// the length of an actual wait-for chain, never the whole thread set.
func (l *Lock_t) donationGrant(h Haver, pri int) {
	h.SetEffectivePri(pri)
	next := h.WaitingOn()
	if next == nil {
		return
	}
	next.mu.Lock()
	nh := next.holder
	next.mu.Unlock()
	if nh != nil {
		next.donationGrant(nh, pri)
	}
}

/// Release hands the lock to the next waiter (chosen by Semaphore_t's
/// priority order) and revokes any donations tagged to this lock,
/// following donation_revoke: donors waiting specifically on l are
/// removed from who's donor set and transferred to whichever thread
/// becomes l's next holder (Acquire re-homes them once that's known),
/// and who's own effective priority drops back to the max of its base
/// priority and whatever donations are still tagged to other locks it
/// holds.
func (l *Lock_t) Release(who Haver) {
	l.mu.Lock()
	donors := append([]Haver(nil), who.Donors()...)
	var transferred []Haver
	for _, d := range donors {
		if d.WaitingOn() == l {
			who.RemoveDonor(d)
			transferred = append(transferred, d)
		}
	}
	l.holder = nil
	l.pending = transferred
	l.mu.Unlock()

	l.sema.Up()

	recomputeEffective(who)
}

func recomputeEffective(t Haver) {
	best := t.BasePri()
	for _, d := range t.Donors() {
		if d.Pri() > best {
			best = d.Pri()
		}
	}
	t.SetEffectivePri(best)
}
