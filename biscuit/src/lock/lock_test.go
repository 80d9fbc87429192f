package lock

import (
	"sync"
	"testing"
	"time"
)

type testThread struct {
	mu       sync.Mutex
	base     int
	eff      int
	waitOn   *Lock_t
	donors   []Haver
}

func newTestThread(pri int) *testThread {
	return &testThread{base: pri, eff: pri}
}

func (t *testThread) Pri() int { t.mu.Lock(); defer t.mu.Unlock(); return t.eff }
func (t *testThread) BasePri() int { t.mu.Lock(); defer t.mu.Unlock(); return t.base }
func (t *testThread) SetEffectivePri(p int) { t.mu.Lock(); defer t.mu.Unlock(); t.eff = p }
func (t *testThread) WaitingOn() *Lock_t { t.mu.Lock(); defer t.mu.Unlock(); return t.waitOn }
func (t *testThread) SetWaitingOn(l *Lock_t) { t.mu.Lock(); defer t.mu.Unlock(); t.waitOn = l }
func (t *testThread) AddDonor(h Haver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.donors = append(t.donors, h)
}
func (t *testThread) RemoveDonor(h Haver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, d := range t.donors {
		if d == h {
			t.donors = append(t.donors[:i], t.donors[i+1:]...)
			return
		}
	}
}
func (t *testThread) Donors() []Haver {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Haver(nil), t.donors...)
}

func TestDonationRaisesHolderPriority(t *testing.T) {
	l := MkLock()
	low := newTestThread(10)
	high := newTestThread(50)

	l.Acquire(low)

	done := make(chan bool)
	go func() {
		l.Acquire(high)
		done <- true
		l.Release(high)
	}()

	time.Sleep(20 * time.Millisecond)
	if low.Pri() != 50 {
		t.Fatalf("low's donated priority = %d, want 50", low.Pri())
	}

	l.Release(low)
	<-done

	if low.Pri() != 10 {
		t.Fatalf("low's priority after release = %d, want back to base 10", low.Pri())
	}
}

func TestReleaseRehomesRemainingDonorsOntoNextHolder(t *testing.T) {
	l := MkLock()
	low := newTestThread(10)
	mid := newTestThread(30)
	high := newTestThread(50)

	l.Acquire(low)

	go l.Acquire(mid)
	time.Sleep(10 * time.Millisecond)

	highAcquired := make(chan bool)
	go func() {
		l.Acquire(high)
		highAcquired <- true
	}()
	time.Sleep(10 * time.Millisecond)

	if low.Pri() != 50 {
		t.Fatalf("low's donated priority = %d, want 50", low.Pri())
	}

	l.Release(low)
	<-highAcquired

	donors := high.Donors()
	if len(donors) != 1 || donors[0] != mid {
		t.Fatalf("high's donors after acquiring = %v, want [mid]", donors)
	}
	if high.Pri() != 50 {
		t.Fatalf("high's priority = %d, want 50 (its own base still dominates)", high.Pri())
	}

	l.Release(high)
	time.Sleep(10 * time.Millisecond)

	if mid.Pri() != 30 {
		t.Fatalf("mid's priority once holding the lock alone = %d, want back to base 30", mid.Pri())
	}
	if len(mid.Donors()) != 0 {
		t.Fatalf("mid should have no donors left, got %v", mid.Donors())
	}
}

func TestSemaphoreWakesHighestPriorityFirst(t *testing.T) {
	s := MkSemaphore(0)
	low := newTestThread(1)
	high := newTestThread(99)

	order := make(chan *testThread, 2)
	go func() { s.Down(low); order <- low }()
	time.Sleep(10 * time.Millisecond)
	go func() { s.Down(high); order <- high }()
	time.Sleep(10 * time.Millisecond)

	s.Up()
	first := <-order
	if first != high {
		t.Fatalf("expected the higher priority waiter to wake first")
	}
	s.Up()
	<-order
}
