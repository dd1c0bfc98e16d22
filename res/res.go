// Package res charges heap-ish resource consumption against a per-thread
// budget so that a single runaway system call (an enormous read(), a
// pathological indirect-block walk) cannot exhaust kernel memory and wedge
// every other thread. Every iteration of such a loop calls Resadd_noblock
// with a bound tag from package bounds; once the thread's budget is spent
// the call starts failing with ENOHEAP and the caller unwinds normally.
package res

import (
	"sync"

	"eduos/bounds"
)

const perThreadBudget = 1 << 20 // 1M accounted units per thread before ENOHEAP

type threadRes_t struct {
	spent int
	hits  [int(bounds.B_WAL_T_LOG_WRITE) + 16]int
}

var (
	mu      sync.Mutex
	current = map[uint64]*threadRes_t{}
	curKey  func() uint64
)

/// SetKeyFunc installs the function used to identify the calling thread.
/// The thread package calls this during init with a function that reads
/// its own thread-local current-thread pointer; until it is called,
/// Resadd_noblock treats every caller as a single shared budget (useful
/// for tests that never touch the thread package).
func SetKeyFunc(f func() uint64) {
	mu.Lock()
	curKey = f
	mu.Unlock()
}

func key() uint64 {
	mu.Lock()
	f := curKey
	mu.Unlock()
	if f == nil {
		return 0
	}
	return f()
}

/// Resadd_noblock accounts one unit of resource consumption for the
/// named bound against the calling thread's budget. It returns false
/// once the budget is exhausted; callers must treat that as ENOHEAP and
/// unwind, not retry.
func Resadd_noblock(b bounds.Bound_t) bool {
	k := key()
	mu.Lock()
	defer mu.Unlock()
	t, ok := current[k]
	if !ok {
		t = &threadRes_t{}
		current[k] = t
	}
	if t.spent >= perThreadBudget {
		return false
	}
	t.spent++
	if int(b) < len(t.hits) {
		t.hits[b]++
	}
	return true
}

/// Reset clears the calling thread's budget; called when a thread
/// finishes a system call so the next one starts fresh.
func Reset() {
	k := key()
	mu.Lock()
	delete(current, k)
	mu.Unlock()
}
