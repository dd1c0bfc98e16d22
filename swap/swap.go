// Package swap manages the swap area: a bitmap of free slots on a
// dedicated block device, and the read/write operations the frame table
// uses to evict and restore anonymous pages. Grounded on the buffer
// cache's disk plumbing (see package fs), a swap slot is just one
// page-sized run of sectors addressed by slot number instead of by
// inode-relative offset.
package swap

import (
	"fmt"
	"sync"

	"eduos/hal"
	"eduos/mem"
)

const sectPerPage = mem.PGSIZE / hal.SECTSZ

/// Slot_t identifies one swap-sized slot on the swap device.
type Slot_t int

/// Swap_t is the system swap area.
type Swap_t struct {
	sync.Mutex
	disk   hal.Disk_i
	nslots int
	free   []bool
}

/// MkSwap constructs a swap area over disk, which must be sized in whole
/// pages.
func MkSwap(disk hal.Disk_i) *Swap_t {
	n := disk.Nsect() / sectPerPage
	s := &Swap_t{disk: disk, nslots: n, free: make([]bool, n)}
	for i := range s.free {
		s.free[i] = true
	}
	return s
}

/// Alloc reserves and returns a free slot.
func (s *Swap_t) Alloc() (Slot_t, bool) {
	s.Lock()
	defer s.Unlock()
	for i, f := range s.free {
		if f {
			s.free[i] = false
			return Slot_t(i), true
		}
	}
	return 0, false
}

/// Free releases slot back to the free pool.
func (s *Swap_t) Free(slot Slot_t) {
	s.Lock()
	defer s.Unlock()
	if s.free[slot] {
		panic("double free of swap slot")
	}
	s.free[slot] = true
}

/// Write persists one physical page's contents to slot.
func (s *Swap_t) Write(slot Slot_t, pg *mem.Pg_t) error {
	buf := mem.Pg2bytes(pg)
	base := int(slot) * sectPerPage
	for i := 0; i < sectPerPage; i++ {
		sect := buf[i*hal.SECTSZ : (i+1)*hal.SECTSZ]
		if err := s.disk.Write(base+i, sect); err != nil {
			return fmt.Errorf("swap write: %w", err)
		}
	}
	return s.disk.Flush()
}

/// Read loads slot's contents into pg.
func (s *Swap_t) Read(slot Slot_t, pg *mem.Pg_t) error {
	buf := mem.Pg2bytes(pg)
	base := int(slot) * sectPerPage
	for i := 0; i < sectPerPage; i++ {
		sect := buf[i*hal.SECTSZ : (i+1)*hal.SECTSZ]
		if err := s.disk.Read(base+i, sect); err != nil {
			return fmt.Errorf("swap read: %w", err)
		}
	}
	return nil
}

/// Nfree reports the number of unused slots remaining.
func (s *Swap_t) Nfree() int {
	s.Lock()
	defer s.Unlock()
	n := 0
	for _, f := range s.free {
		if f {
			n++
		}
	}
	return n
}
