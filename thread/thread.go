// Package thread implements kernel threads and the scheduler that picks
// among them: a strict-priority scheduler (PRI_MIN..PRI_MAX, 64 levels,
// with synch.Lock_t donation closing priority-inversion windows) and an
// optional multilevel feedback queue mode (MLFQS) that derives a
// thread's priority from its recent CPU usage and niceness instead of
// letting it be set directly. Every kernel thread is a goroutine;
// Scheduler_t serializes them onto one logical CPU (see the Non-goals
// around SMP) by waking exactly one at a time.
package thread

import (
	"sync"
	"sync/atomic"

	"eduos/defs"
	"eduos/res"
	"eduos/tinfo"
)

/// PRI_MIN and PRI_MAX bound both user-settable and MLFQS-derived
/// thread priorities.
const (
	PRI_MIN = 0
	PRI_MAX = 63
	PRI_DEFAULT = 31
)

/// State_t is a thread's scheduling state.
type State_t int

const (
	ST_READY State_t = iota
	ST_RUNNING
	ST_BLOCKED
	ST_DYING
)

/// Thread_t is one kernel thread of control.
type Thread_t struct {
	Tid  defs.Tid_t
	Pid  defs.Pid_t
	Note *tinfo.Tnote_t

	mu         sync.Mutex
	state      State_t
	basePrio   int
	donations  map[uintptr]int
	niceness   int
	recentCPU  fixed_t
	wakeCh     chan struct{}
}

/// fixed_t is a 17.14 fixed-point number, the representation Pintos's
/// MLFQS arithmetic specifies for recent_cpu and load_avg so repeated
/// recomputation doesn't drift the way naive floats would.
type fixed_t int64

const fixedF = 1 << 14

func intToFixed(n int) fixed_t   { return fixed_t(n * fixedF) }
func fixedToIntRound(x fixed_t) int {
	if x >= 0 {
		return int((x + fixedF/2) / fixedF)
	}
	return int((x - fixedF/2) / fixedF)
}
func fixedMulInt(x fixed_t, n int) fixed_t { return x * fixed_t(n) }
func fixedDivInt(x fixed_t, n int) fixed_t { return x / fixed_t(n) }
func fixedMul(x, y fixed_t) fixed_t        { return fixed_t((int64(x) * int64(y)) / fixedF) }
func fixedDiv(x, y fixed_t) fixed_t        { return fixed_t((int64(x) * fixedF) / int64(y)) }

/// MkThread constructs a new thread with the given base priority, in
/// state ST_READY.
func MkThread(tid defs.Tid_t, pid defs.Pid_t, prio int) *Thread_t {
	return &Thread_t{
		Tid:       tid,
		Pid:       pid,
		Note:      &tinfo.Tnote_t{Alive: true},
		state:     ST_READY,
		basePrio:  prio,
		donations: make(map[uintptr]int),
		wakeCh:    make(chan struct{}),
	}
}

/// Priority returns the thread's effective priority: its base priority
/// (or, under MLFQS, its recomputed priority) raised to the maximum of
/// any priority donated to it by threads blocked on a lock it holds.
func (t *Thread_t) Priority() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.basePrio
	for _, d := range t.donations {
		if d > p {
			p = d
		}
	}
	return p
}

/// Donate raises the priority donated to t by the lock identified by
/// from, if priority exceeds any previous donation through that lock.
func (t *Thread_t) Donate(from uintptr, priority int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.donations[from]; !ok || priority > cur {
		t.donations[from] = priority
	}
}

/// Undonate removes the donation attributed to the lock identified by from.
func (t *Thread_t) Undonate(from uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.donations, from)
}

/// SetBasePriority changes the thread's own priority (thread_set_priority
/// in Pintos terms); under MLFQS this is ignored, since recent_cpu and
/// niceness determine priority instead.
func (t *Thread_t) SetBasePriority(p int, mlfqs bool) {
	if mlfqs {
		return
	}
	t.mu.Lock()
	t.basePrio = p
	t.mu.Unlock()
}

/// SetNiceness sets the thread's MLFQS niceness, clamped to [-20, 20].
func (t *Thread_t) SetNiceness(n int) {
	if n < -20 {
		n = -20
	}
	if n > 20 {
		n = 20
	}
	t.mu.Lock()
	t.niceness = n
	t.mu.Unlock()
}

/// recalcMLFQS recomputes the thread's base priority from recent_cpu and
/// niceness: priority = PRI_MAX - (recent_cpu/4) - (nice*2).
func (t *Thread_t) recalcMLFQS() {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := intToFixed(PRI_MAX) - fixedDivInt(t.recentCPU, 4) - intToFixed(t.niceness*2)
	ip := fixedToIntRound(p)
	if ip < PRI_MIN {
		ip = PRI_MIN
	}
	if ip > PRI_MAX {
		ip = PRI_MAX
	}
	t.basePrio = ip
}

func (t *Thread_t) State() State_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Thread_t) setState(s State_t) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

var tidgen int64

/// NextTid allocates a fresh thread id.
func NextTid() defs.Tid_t {
	return defs.Tid_t(atomic.AddInt64(&tidgen, 1))
}

/// ResKey returns a stable per-thread identity package res can use to
/// key its resource-accounting map; res.SetKeyFunc installs a function
/// that reads this off tinfo.Current() once the scheduler has a current
/// thread installed.
func ResKey(t *Thread_t) uint64 {
	return uint64(t.Tid)
}

func init() {
	res.SetKeyFunc(func() uint64 {
		return ResKey(Current())
	})
}
