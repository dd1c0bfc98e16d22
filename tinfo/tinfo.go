// Package tinfo tracks the kill/doom bookkeeping for kernel threads and
// exposes a "current thread" accessor. Each kernel thread runs as a
// dedicated goroutine (see package thread); SetCurrent/Current give that
// goroutine a TLS-like handle to its own Tnote_t without threading a
// parameter through every call in the kernel. Stock Go has no per-goroutine
// scratch register, so the handle lives in a map keyed by the calling
// goroutine's id, recovered from a runtime stack trace the same way
// third-party goroutine-local-storage packages do it.
package tinfo

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"

	"eduos/defs"
)

/// Tnote_t stores per-thread state used by the scheduler and by blocking
/// primitives that need to interrupt a thread (process exit, signals).
type Tnote_t struct {
	// XXX "alive" should be "terminated"
	State    interface{}
	Alive    bool
	Killed   bool
	Isdoomed bool // XXX maybe don't need doomed, but can use killed?
	// protects killed, Killnaps.Cond and Kerr, and is a leaf lock
	sync.Mutex
	Killnaps struct {
		Killch chan bool
		Cond   *sync.Cond
		Kerr   defs.Err_t
	}
}

/// Doomed reports whether the thread is marked as doomed.
func (t *Tnote_t) Doomed() bool {
	return t.Isdoomed
}

/// Threadinfo_t tracks all thread notes.
type Threadinfo_t struct {
	Notes map[defs.Tid_t]*Tnote_t
	sync.Mutex
}

/// Init initializes the thread info map.
func (t *Threadinfo_t) Init() {
	t.Notes = make(map[defs.Tid_t]*Tnote_t)
}

var (
	curmu  sync.Mutex
	curmap = map[int64]*Tnote_t{}
)

func goid() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	const prefix = "goroutine "
	if !bytes.HasPrefix(b, []byte(prefix)) {
		panic("nuts")
	}
	b = b[len(prefix):]
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		panic("nuts")
	}
	id, err := strconv.ParseInt(string(b[:i]), 10, 64)
	if err != nil {
		panic("nuts")
	}
	return id
}

/// Current returns the current thread note. It panics if the calling
/// goroutine has no installed note.
func Current() *Tnote_t {
	g := goid()
	curmu.Lock()
	defer curmu.Unlock()
	ret, ok := curmap[g]
	if !ok {
		panic("nuts")
	}
	return ret
}

/// SetCurrent installs p as the calling goroutine's current thread note.
func SetCurrent(p *Tnote_t) {
	if p == nil {
		panic("nuts")
	}
	g := goid()
	curmu.Lock()
	defer curmu.Unlock()
	if _, ok := curmap[g]; ok {
		panic("nuts")
	}
	curmap[g] = p
}

/// ClearCurrent removes the calling goroutine's current thread note.
func ClearCurrent() {
	g := goid()
	curmu.Lock()
	defer curmu.Unlock()
	if _, ok := curmap[g]; !ok {
		panic("nuts")
	}
	delete(curmap, g)
}
