package proc

import (
	"sync"

	"eduos/defs"
)

// Wait_t is one process's rendezvous point for its children: a
// goroutine blocked in Proc_wait parks on notif until a matching
// deposit arrives, the same wait/exit handshake xv6- and pintos-family
// kernels use (a condition variable would also work; a channel needs no
// separate lock for the sleep itself).
type Wait_t struct {
	mu       sync.Mutex
	pid      defs.Pid_t
	children map[defs.Pid_t]bool
	done     map[defs.Pid_t]int
	notif    chan defs.Pid_t
}

func mkWait(pid defs.Pid_t) *Wait_t {
	return &Wait_t{
		pid:      pid,
		children: map[defs.Pid_t]bool{},
		done:     map[defs.Pid_t]int{},
		notif:    make(chan defs.Pid_t, 16),
	}
}

func (w *Wait_t) addChild(pid defs.Pid_t) {
	w.mu.Lock()
	w.children[pid] = true
	w.mu.Unlock()
}

// deposit records a child's exit status and wakes whichever goroutine
// (if any) is currently blocked in Proc_wait for it.
func (w *Wait_t) deposit(pid defs.Pid_t, status int) {
	w.mu.Lock()
	w.done[pid] = status
	w.mu.Unlock()
	select {
	case w.notif <- pid:
	default:
	}
}

func (w *Wait_t) waitFor(pid defs.Pid_t) (defs.Pid_t, int, defs.Err_t) {
	for {
		w.mu.Lock()
		if status, ok := w.done[pid]; ok {
			delete(w.done, pid)
			delete(w.children, pid)
			w.mu.Unlock()
			return pid, status, 0
		}
		w.mu.Unlock()
		got := <-w.notif
		if got != pid {
			// another waiter's target; requeue for them and keep
			// waiting for ours.
			select {
			case w.notif <- got:
			default:
			}
		}
	}
}

func (w *Wait_t) waitAny() (defs.Pid_t, int, defs.Err_t) {
	w.mu.Lock()
	if len(w.children) == 0 {
		w.mu.Unlock()
		return 0, 0, -defs.ECHILD
	}
	for pid, status := range w.done {
		delete(w.done, pid)
		delete(w.children, pid)
		w.mu.Unlock()
		return pid, status, 0
	}
	w.mu.Unlock()

	pid := <-w.notif
	w.mu.Lock()
	status := w.done[pid]
	delete(w.done, pid)
	delete(w.children, pid)
	w.mu.Unlock()
	return pid, status, 0
}
