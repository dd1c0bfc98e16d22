// Package fdops defines the interfaces that let the file-descriptor,
// buffer, and filesystem layers interoperate without importing each
// other: Userio_i is how copy routines move bytes to/from wherever a
// descriptor's data actually lives (user address space, a pipe buffer, a
// kernel-internal fake buffer), and Fdops_i is the operation table every
// open file description implements, dispatched by file descriptor number
// without a type switch.
package fdops

import "eduos/defs"

/// Userio_i abstracts a source or sink of bytes for read/write system
/// calls. vm.Userbuf_t implements it over a user address space;
/// vm.Fakeubuf_t implements it over an in-kernel slice (used by mkfs and
/// by tests that want to drive the filesystem without a process).
type Userio_i interface {
	Uioread(dst []uint8) (int, defs.Err_t)
	Uiowrite(src []uint8) (int, defs.Err_t)
	Remain() int
	Totalsz() int
}

/// Ready_t is a bitmask of poll readiness conditions.
type Ready_t uint

const (
	R_READ  Ready_t = 1 << 0
	R_WRITE Ready_t = 1 << 1
	R_ERROR Ready_t = 1 << 2
)

/// Pollmsg_t describes one poll(2)-like request against a descriptor.
type Pollmsg_t struct {
	Events Ready_t
	Dowait bool
}

/// Fdops_i is the operation table of an open file description. Regular
/// files and directories (package fs) and the console device (package
/// console) implement it; fd.Fd_t holds one by interface value so fd
/// table operations never need to know the concrete kind.
type Fdops_i interface {
	Close() defs.Err_t
	Fstat(st StatAdapter_i) defs.Err_t
	Lseek(off, whence int) (int, defs.Err_t)
	Mmapi(off, len int, inherit bool) ([]MmapInfo_t, defs.Err_t)
	Pathi() (string, defs.Err_t)
	Read(io Userio_i) (int, defs.Err_t)
	Reopen() defs.Err_t
	Write(io Userio_i) (int, defs.Err_t)
	Truncate(newlen uint) defs.Err_t
	Pread(io Userio_i, offset int) (int, defs.Err_t)
	Pwrite(io Userio_i, offset int) (int, defs.Err_t)
	Poll(pm Pollmsg_t) (Ready_t, defs.Err_t)
}

/// MmapInfo_t describes one physical page backing a memory-mapped region.
type MmapInfo_t struct {
	Pgoff int
	Phys  uintptr
}

/// StatAdapter_i lets package fs fill in a stat structure without
/// depending on package stat (which would create an import cycle through
/// fdops). package stat's Stat_t satisfies it directly.
type StatAdapter_i interface {
	Wdev(uint)
	Wino(uint)
	Wmode(uint)
	Wsize(uint)
	Wrdev(uint)
}
