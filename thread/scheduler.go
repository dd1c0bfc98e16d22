package thread

import (
	"sync"

	"eduos/tinfo"
)

/// Mode_t selects how the scheduler picks a thread's priority.
type Mode_t int

const (
	/// MODE_PRIORITY is the strict fixed-priority scheduler: the
	/// highest-priority ready thread always runs next, with donation
	/// (see package synch) preventing priority inversion.
	MODE_PRIORITY Mode_t = iota
	/// MODE_MLFQS is the 4.4BSD-style multilevel feedback queue: priority
	/// is recomputed every fourth tick from recent_cpu and niceness
	/// rather than being settable directly.
	MODE_MLFQS
)

/// Scheduler_t serializes every kernel thread onto one logical CPU: at
/// most one thread is ever State() == ST_RUNNING. This mirrors Pintos's
/// uniprocessor scheduler (SMP is an explicit non-goal here); each
/// kernel thread is a goroutine that calls Yield to give up the CPU and
/// blocks until the scheduler wakes it again.
type Scheduler_t struct {
	mu      sync.Mutex
	mode    Mode_t
	ready   []*Thread_t
	current *Thread_t
	ticks   int64
}

/// MkScheduler constructs a scheduler in the given mode.
func MkScheduler(mode Mode_t) *Scheduler_t {
	return &Scheduler_t{mode: mode}
}

/// Current returns the calling goroutine's Thread_t, installed by
/// SetCurrent when the scheduler first dispatches it.
func Current() *Thread_t {
	note := tinfo.Current()
	note.Lock()
	defer note.Unlock()
	th, ok := note.State.(*Thread_t)
	if !ok {
		panic("current thread note has no Thread_t")
	}
	return th
}

func setCurrent(t *Thread_t) {
	t.Note.State = t
	tinfo.SetCurrent(t.Note)
}

/// Spawn registers t as ready to run and, if this is the first thread
/// the scheduler has ever seen, makes it current immediately so the
/// calling goroutine may call Current() right away.
func (s *Scheduler_t) Spawn(t *Thread_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = append(s.ready, t)
	if s.current == nil {
		s.current = t
		t.setState(ST_RUNNING)
		setCurrent(t)
	}
}

// highest picks the highest-priority ready thread other than skip; ties
// broken in FIFO order to match Pintos's round-robin-among-equals.
func (s *Scheduler_t) highest(skip *Thread_t) (*Thread_t, int) {
	best := -1
	bestp := -1
	for i, t := range s.ready {
		if t == skip || t.State() != ST_READY {
			continue
		}
		if p := t.Priority(); p > bestp {
			bestp = p
			best = i
		}
	}
	if best < 0 {
		return nil, -1
	}
	return s.ready[best], best
}

/// Yield gives up the CPU: self is marked ready again (unless it called
/// Block first) and the highest-priority other ready thread, if any,
/// becomes current. Yield returns once self is rescheduled.
func (t *Thread_t) Yield(s *Scheduler_t) {
	s.mu.Lock()
	if t.State() == ST_RUNNING {
		t.setState(ST_READY)
	}
	next, _ := s.highest(t)
	if next == nil {
		t.setState(ST_RUNNING)
		s.current = t
		s.mu.Unlock()
		return
	}
	next.setState(ST_RUNNING)
	s.current = next
	s.mu.Unlock()

	setCurrent(next)
	close(next.wakeCh)
	next.wakeCh = make(chan struct{})

	<-t.wakeCh
	setCurrent(t)
}

/// Block marks self blocked and switches to the next ready thread. The
/// caller is responsible for arranging a later Wake (via a synch
/// primitive or timer).
func (t *Thread_t) Block(s *Scheduler_t) {
	s.mu.Lock()
	t.setState(ST_BLOCKED)
	next, _ := s.highest(t)
	s.mu.Unlock()
	if next != nil {
		s.mu.Lock()
		next.setState(ST_RUNNING)
		s.current = next
		s.mu.Unlock()
		setCurrent(next)
		close(next.wakeCh)
		next.wakeCh = make(chan struct{})
	}
	<-t.wakeCh
	setCurrent(t)
}

/// Wake marks a blocked thread ready again so a future Yield/Block may
/// select it.
func (s *Scheduler_t) Wake(t *Thread_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.setState(ST_READY)
}

/// Tick advances the scheduler's clock by one timer interrupt, ages
/// recent_cpu for the current thread under MLFQS, and every fourth tick
/// recomputes every thread's priority.
func (s *Scheduler_t) Tick(loadAvg fixed_t) {
	s.mu.Lock()
	s.ticks++
	cur := s.current
	mode := s.mode
	n := s.ticks
	threads := append([]*Thread_t{}, s.ready...)
	s.mu.Unlock()

	if mode != MODE_MLFQS {
		return
	}
	if cur != nil {
		cur.mu.Lock()
		cur.recentCPU += intToFixed(1)
		cur.mu.Unlock()
	}
	if n%4 == 0 {
		for _, t := range threads {
			t.recalcMLFQS()
		}
	}
}

/// RecalcLoadAvg implements the system load-average update: load_avg =
/// (59/60)*load_avg + (1/60)*ready_count, and then ages every thread's
/// recent_cpu by the resulting decay factor. Pintos recomputes this once
/// per second; the caller (cmd/kernel's once-a-second ticker) is
/// responsible for calling it at that cadence.
func (s *Scheduler_t) RecalcLoadAvg(loadAvg fixed_t) fixed_t {
	s.mu.Lock()
	ready := 0
	for _, t := range s.ready {
		if t.State() == ST_READY || t.State() == ST_RUNNING {
			ready++
		}
	}
	threads := append([]*Thread_t{}, s.ready...)
	s.mu.Unlock()

	f59_60 := fixedDiv(intToFixed(59), intToFixed(60))
	f1_60 := fixedDiv(intToFixed(1), intToFixed(60))
	newAvg := fixedMul(f59_60, loadAvg) + fixedMulInt(f1_60, ready)

	decay := fixedDiv(fixedMulInt(newAvg, 2), fixedMulInt(newAvg, 2)+intToFixed(1))
	for _, t := range threads {
		t.mu.Lock()
		t.recentCPU = fixedMul(decay, t.recentCPU)
		t.mu.Unlock()
	}
	return newAvg
}

/// Remove drops a dying thread from the ready list once it has finished.
func (s *Scheduler_t) Remove(t *Thread_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, o := range s.ready {
		if o == t {
			s.ready = append(s.ready[:i], s.ready[i+1:]...)
			break
		}
	}
}
