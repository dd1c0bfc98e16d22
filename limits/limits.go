// Package limits tracks system-wide resource budgets so that one process
// cannot starve the rest of the system: process/thread counts, open
// vnodes, file descriptors, mmap regions, and swap/cache sector budgets
// all decrement from here before the subsystem that owns them commits to
// the allocation.
package limits

import "sync/atomic"
import "unsafe"

/// Sysatomic_t is a numeric limit that can be atomically updated.
type Sysatomic_t int64

/// Syslimit_t tracks system wide resource limits.
type Syslimit_t struct {
	// protected by the process table lock (see package proc)
	Sysprocs int
	// protected by the open-inodes registry lock (see package fs)
	Vnodes int
	// per-process fd table rows
	Nofile int
	// per-process mmap region count
	Novma int
	// swap slots, i.e. pages of anonymous/dirty data that may be
	// resident in the swap area at once
	Swapslots Sysatomic_t
	// buffer-cache-backed pages charged against the system (bounds how
	// much memory read-ahead/mmap page-cache sharing may pin)
	Mfspgs Sysatomic_t
	// data sectors addressable by the free-map
	Blocks int
}

/// Syslimit describes the configured system wide limits.
var Syslimit *Syslimit_t = MkSysLimit()

/// MkSysLimit returns a pointer to the default set of limits.
func MkSysLimit() *Syslimit_t {
	return &Syslimit_t{
		Sysprocs:  1024,
		Vnodes:    20000,
		Nofile:    128,
		Novma:     256,
		Swapslots: 1 << 16,
		Mfspgs:    1 << 16,
		Blocks:    1 << 20,
	}
}

func (s *Sysatomic_t) _aptr() *int64 {
	return (*int64)(unsafe.Pointer(s))
}

/// Given increases the limit by the provided amount.
func (s *Sysatomic_t) Given(_n uint) {
	n := int64(_n)
	atomic.AddInt64(s._aptr(), n)
}

/// Taken tries to decrement the limit by the provided amount. It
/// returns true on success, false (leaving the limit unchanged) if that
/// would drive it negative.
func (s *Sysatomic_t) Taken(_n uint) bool {
	n := int64(_n)
	g := atomic.AddInt64(s._aptr(), -n)
	if g >= 0 {
		return true
	}
	atomic.AddInt64(s._aptr(), n)
	return false
}

/// Take decrements the limit by one and reports whether it succeeded.
func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

/// Give increments the limit by one.
func (s *Sysatomic_t) Give() {
	s.Given(1)
}
