// Package hal is the adaptation layer: the set of interfaces that let the
// rest of the kernel (fs, vm, proc, trap, thread) run against either real
// hardware drivers or, as here, a host-process simulation of them. Nothing
// above this package references an interrupt controller, a disk
// controller, or a page-table format directly; everything goes through
// Disk_i, PageDir_i, Console_i, and IntrFrame_t.
package hal

import "eduos/mem"

/// SECTSZ is the on-disk sector size. The superblock, each inode and each
/// WAL record header take one sector; directory entries are packed
/// several to a sector, and a WAL write record adds two payload sectors.
const SECTSZ = 512

/// Disk_i is a block device: fixed-size sectors, read and written whole.
/// hal.MemDisk implements it over a byte slice; a real port would
/// implement it over an AHCI or virtio-blk controller.
type Disk_i interface {
	// Nsect returns the device's sector count.
	Nsect() int
	// Read fills buf (len SECTSZ) with the contents of sector.
	Read(sector int, buf []uint8) error
	// Write persists buf (len SECTSZ) to sector.
	Write(sector int, buf []uint8) error
	// Flush blocks until all completed writes are durable.
	Flush() error
}

/// Console_i is the system console: an output sink and an input source
/// fed by the keyboard interrupt handler.
type Console_i interface {
	Putb(b byte)
	// Pollc returns the next buffered input byte, if any.
	Pollc() (byte, bool)
}

/// TimerFunc is invoked on every timer interrupt with the number of
/// nanoseconds elapsed since the last tick; the thread package installs
/// the scheduler tick handler here.
type TimerFunc func(delta_ns int64)

/// IntrFrame_t is the saved machine state an exception or interrupt
/// handler receives; package trap decodes this into kernel-level
/// exception reasons.
type IntrFrame_t struct {
	Vector   int
	ErrorNo  uintptr
	Rip      uintptr
	Rsp      uintptr
	Rflags   uintptr
	Cr2      uintptr
	// Regs holds the general purpose registers saved by the trap stub, in
	// the adaptation layer's chosen order; Trap syscall dispatch reads
	// and writes argument/return-value slots out of it directly.
	Regs [15]uintptr
}

/// PageDir_i abstracts one hardware address space's page tables. The
/// concrete hal/pagedir.go implementation (PageDir_t) keeps a Go map
/// keyed on virtual page number rather than walking real x86 PML4/PDPT/
/// PD/PT levels, since this kernel never runs with paging hardware
/// underneath it; the interface boundary is what matters; vm never
/// touches table entries directly.
type PageDir_i interface {
	// Lookup returns the physical page and permission bits mapped at
	// virtual address va, if any.
	Lookup(va uintptr) (pa mem.Pa_t, perms mem.Pa_t, ok bool)
	// Insert maps va to pa with the given permission bits, replacing any
	// existing mapping. shootdown requests a remote TLB invalidation once
	// this call returns (meaningless on a single core, kept so callers
	// that run on a real SMP port don't need to change).
	Insert(va uintptr, pa mem.Pa_t, perms mem.Pa_t, shootdown bool)
	// Remove unmaps va, if mapped.
	Remove(va uintptr)
	// Activate installs this address space as the one backing subsequent
	// virtual-address translations made on its behalf (cr3 load on real
	// hardware).
	Activate()
}
