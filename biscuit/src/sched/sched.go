// Package sched implements the preemptive priority scheduler: the
// thread type, the ready queue, priority donation bookkeeping (through
// the lock.Haver interface), and the MLFQS tick logic, grounded on
// threads/thread.c's next_thread_to_run, thread_tick, and the
// update_recent_cpu / update_load_avg / calc_mlfqs_priority triplet.
package sched

import (
	"sync"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"accnt"
	"defs"
	"fixedpoint"
	"lock"
	"mmap"
	"pagedir"
	"spt"
	"tinfo"
)

var statsPrinter = message.NewPrinter(language.English)

// Tuning constants, matching the classic Pintos scheduler defaults.
const (
	PriMin     = 0
	PriDefault = 31
	PriMax     = 63
	TimeSlice  = 4 // ticks between MLFQS priority recomputations
	TimerFreq  = 100
)

// NsPerTick is the simulated wall-clock duration of one timer tick. Tick
// charges this to the running thread's accnt.Accnt_t alongside the
// synthetic fixed-point recent_cpu bump, so accnt's real-time-style
// counters stay an independent cross-check on the MLFQS bookkeeping
// rather than dead weight nothing ever updates.
const NsPerTick = int64(time.Second) / TimerFreq

/// State is a thread's scheduling state.
type State int

const (
	Ready State = iota
	Running
	Blocked
	Dead
)

/// ChildLink_t is the shared exit-status record between a parent and one
/// child. Resolves the open question of who reclaims it: the last of
/// {parent, child} to finish with it is responsible, tracked here with
/// two independent done flags rather than a single owner pointer, so
/// the order of the two exits never matters.
type ChildLink_t struct {
	mu         sync.Mutex
	cond       *sync.Cond
	status     int
	childDone  bool
	parentDone bool
	Freed      bool // true once both sides are done; for tests/diagnostics
}

/// NewChildLink returns a fresh, unfinished link.
func NewChildLink() *ChildLink_t {
	c := &ChildLink_t{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

/// ChildExit records the child's exit status and wakes any waiting parent.
func (c *ChildLink_t) ChildExit(status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
	c.childDone = true
	c.maybeFree()
	c.cond.Broadcast()
}

/// ParentDone marks that the parent will never call Wait again (e.g. the
/// parent itself exited, or already reaped this child).
func (c *ChildLink_t) ParentDone() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parentDone = true
	c.maybeFree()
}

func (c *ChildLink_t) maybeFree() {
	if c.childDone && c.parentDone {
		c.Freed = true
	}
}

/// Wait blocks until the child has exited and returns its status.
func (c *ChildLink_t) Wait() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for !c.childDone {
		c.cond.Wait()
	}
	return c.status
}

/// Thread_t is one schedulable thread.
type Thread_t struct {
	mu sync.Mutex

	ID    defs.Tid_t
	state State

	basePri int
	effPri  int
	nice    int

	recentCpu fixedpoint.FP

	waitingOn *lock.Lock_t
	donors    []lock.Haver

	StackPages int

	Accnt   *accnt.Accnt_t
	SPT     *spt.Table
	MMap    *mmap.Table
	PageDir *pagedir.Dir
	Tnote   *tinfo.Tnote_t

	Children map[defs.Tid_t]*ChildLink_t
}

/// NewThread returns a new thread with the given base priority.
func NewThread(id defs.Tid_t, basePri int) *Thread_t {
	return &Thread_t{
		ID:       id,
		state:    Ready,
		basePri:  basePri,
		effPri:   basePri,
		Accnt:    &accnt.Accnt_t{},
		SPT:      spt.New(),
		MMap:     mmap.New(),
		PageDir:  pagedir.New(),
		Tnote:    &tinfo.Tnote_t{Alive: true},
		Children: make(map[defs.Tid_t]*ChildLink_t),
	}
}

var _ lock.Haver = (*Thread_t)(nil)

func (t *Thread_t) Pri() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.effPri
}

func (t *Thread_t) BasePri() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.basePri
}

func (t *Thread_t) SetEffectivePri(p int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.effPri = p
}

func (t *Thread_t) WaitingOn() *lock.Lock_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.waitingOn
}

func (t *Thread_t) SetWaitingOn(l *lock.Lock_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.waitingOn = l
}

func (t *Thread_t) AddDonor(h lock.Haver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.donors = append(t.donors, h)
}

func (t *Thread_t) RemoveDonor(h lock.Haver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, d := range t.donors {
		if d == h {
			t.donors = append(t.donors[:i], t.donors[i+1:]...)
			return
		}
	}
}

func (t *Thread_t) Donors() []lock.Haver {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]lock.Haver(nil), t.donors...)
}

/// StackPageCount implements pagefault.StackGrower: it reports how many
/// pages this thread's stack has grown into so far.
func (t *Thread_t) StackPageCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.StackPages
}

/// GrowStack implements pagefault.StackGrower: it records that the
/// stack-growth fault just handled added one more page.
func (t *Thread_t) GrowStack() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.StackPages++
}

/// SetBasePri installs a new base priority, matching thread_set_priority:
/// the effective priority becomes the greater of the new base and any
/// still-active donation, and is never left stale at the old value.
func (t *Thread_t) SetBasePri(p int) {
	t.mu.Lock()
	t.basePri = p
	best := p
	for _, d := range t.donors {
		if d.Pri() > best {
			best = d.Pri()
		}
	}
	t.effPri = best
	t.mu.Unlock()
}

/// SetNice sets the thread's MLFQS niceness and immediately recomputes
/// its priority, matching thread_set_nice calling thread_set_priority.
func (t *Thread_t) SetNice(nice int) {
	t.mu.Lock()
	rc := t.recentCpu
	t.nice = nice
	t.mu.Unlock()
	t.SetBasePri(calcMlfqsPriority(rc, nice))
}

func (t *Thread_t) Nice() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nice
}

func (t *Thread_t) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Thread_t) SetState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// calcMlfqsPriority implements calc_mlfqs_priority:
// priority = PRI_MAX - (recent_cpu / 4) - (nice * 2), clamped to
// [PRI_MIN, PRI_MAX].
func calcMlfqsPriority(recentCpu fixedpoint.FP, nice int) int {
	p := fixedpoint.FromInt(PriMax).Sub(recentCpu.DivInt(4)).SubInt(2 * nice)
	v := p.ToIntNearest()
	if v > PriMax {
		return PriMax
	}
	if v < PriMin {
		return PriMin
	}
	return v
}

/// Scheduler holds the ready queue and the MLFQS load-average state.
type Scheduler struct {
	mu      sync.Mutex
	ready   []*Thread_t
	mlfqs   bool
	loadAvg fixedpoint.FP
	ticks   uint64
}

/// NewScheduler returns an empty scheduler. mlfqs turns on the MLFQS
/// bookkeeping in Tick; it does not turn off priority donation, which
/// package lock performs in either mode, and SetBasePri still takes
/// effect when it is set.
func NewScheduler(mlfqs bool) *Scheduler {
	return &Scheduler{mlfqs: mlfqs}
}

/// Enqueue adds t to the ready queue.
func (s *Scheduler) Enqueue(t *Thread_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.SetState(Ready)
	s.ready = append(s.ready, t)
}

/// NextToRun removes and returns the highest effective-priority ready
/// thread, matching next_thread_to_run's list_max(&ready_list,
/// cmp_priority). Ties keep FIFO order among themselves (the first
/// maximum found wins), matching list_max's left-to-right scan.
func (s *Scheduler) NextToRun() *Thread_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ready) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(s.ready); i++ {
		if s.ready[i].Pri() > s.ready[best].Pri() {
			best = i
		}
	}
	t := s.ready[best]
	s.ready = append(s.ready[:best], s.ready[best+1:]...)
	t.SetState(Running)
	return t
}

/// ReadyLen reports how many threads are ready to run.
func (s *Scheduler) ReadyLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ready)
}

/// MLFQS reports whether the scheduler is running the 4.4BSD scheduler.
func (s *Scheduler) MLFQS() bool {
	return s.mlfqs
}

/// Tick runs one timer-interrupt's worth of MLFQS bookkeeping against
/// running, matching thread_tick: increments recent_cpu for the running
/// thread every tick, once a second recomputes load_avg and every
/// thread's recent_cpu, and every TimeSlice ticks recomputes every
/// thread's priority. The running thread's Accnt is charged NsPerTick on
/// every tick in either scheduling mode.
func (s *Scheduler) Tick(running *Thread_t, allThreads []*Thread_t) {
	s.mu.Lock()
	s.ticks++
	tick := s.ticks
	s.mu.Unlock()

	if running != nil {
		running.Accnt.Utadd(int(NsPerTick))
	}
	if !s.mlfqs {
		return
	}
	if running != nil {
		running.mu.Lock()
		running.recentCpu = running.recentCpu.AddInt(1)
		running.mu.Unlock()
	}
	if tick%TimerFreq == 0 {
		s.updateLoadAvg(allThreads)
		for _, t := range allThreads {
			s.updateRecentCpu(t)
		}
	}
	if tick%TimeSlice == 0 {
		for _, t := range allThreads {
			t.mu.Lock()
			rc, nice := t.recentCpu, t.nice
			t.mu.Unlock()
			t.SetBasePri(calcMlfqsPriority(rc, nice))
		}
	}
}

// updateLoadAvg implements:
//
//	load_avg = (59/60) * load_avg + (1/60) * ready_threads
//
// where ready_threads counts the running thread plus everything on the
// ready queue (but not idle).
func (s *Scheduler) updateLoadAvg(allThreads []*Thread_t) {
	s.mu.Lock()
	ready := len(s.ready)
	for _, t := range allThreads {
		if t.State() == Running {
			ready++
		}
	}
	coeff59_60 := fixedpoint.FromInt(59).DivInt(60)
	coeff1_60 := fixedpoint.FromInt(1).DivInt(60)
	s.loadAvg = coeff59_60.Mul(s.loadAvg).Add(coeff1_60.MulInt(ready))
	s.mu.Unlock()
}

// updateRecentCpu implements:
//
//	recent_cpu = (2*load_avg)/(2*load_avg+1) * recent_cpu + nice
func (s *Scheduler) updateRecentCpu(t *Thread_t) {
	s.mu.Lock()
	la := s.loadAvg
	s.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	coeff := la.MulInt(2).Div(la.MulInt(2).AddInt(1))
	t.recentCpu = coeff.Mul(t.recentCpu).AddInt(t.nice)
}

/// LoadAvg returns the current load average, for diagnostics and tests.
func (s *Scheduler) LoadAvg() fixedpoint.FP {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadAvg
}

/// StatsLine renders a locale-formatted one-line periodic status report
/// (tick count, ready-queue length, MLFQS load average), the periodic
/// diagnostic line a -stats build would print once a second.
func (s *Scheduler) StatsLine() string {
	s.mu.Lock()
	ticks, ready, loadAvg := s.ticks, len(s.ready), s.loadAvg
	s.mu.Unlock()
	return statsPrinter.Sprintf("sched: ticks=%d ready=%d load_avg=%.2f",
		ticks, ready, float64(loadAvg)/float64(fixedpoint.One))
}
