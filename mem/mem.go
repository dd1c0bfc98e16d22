// Package mem manages physical memory: a backing page pool, reference
// counting for copy-on-write and shared mappings, and the page-table bit
// layout that package vm builds trees out of. Pages are addressed by Pa_t
// (physical address); Dmap turns a Pa_t into a Go pointer at the page's
// content, standing in for the direct-mapped virtual window a real x86
// kernel keeps over all of physical memory (see hal.PageDir_i for the
// page-table side of that story).
package mem

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"eduos/util"
)

/// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT uint = 12

/// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

/// PGOFFSET masks offsets within a page.
const PGOFFSET Pa_t = 0xfff

/// USERMIN is the lowest virtual address the kernel will hand to a user
/// mapping; addresses below it are reserved so a NULL-ish pointer always
/// faults.
const USERMIN int = 1 << 21

/// PGMASK masks the page number of an address.
const PGMASK Pa_t = ^(PGOFFSET)

/// PTE_P marks a page as present.
const PTE_P Pa_t = 1 << 0

/// PTE_W marks a page writable.
const PTE_W Pa_t = 1 << 1

/// PTE_U marks a page user-accessible.
const PTE_U Pa_t = 1 << 2

/// PTE_G marks a global page.
const PTE_G Pa_t = 1 << 8

/// PTE_PCD disables caching for the page.
const PTE_PCD Pa_t = 1 << 4

/// PTE_PS indicates a large page.
const PTE_PS Pa_t = 1 << 7

/// PTE_COW marks a page as copy-on-write. Real x86 has no such PTE bit;
/// the kernel keeps it in one of the ignored-by-hardware bits and the
/// page-fault handler (package vm) interprets it before the page is ever
/// actually mapped writable.
const PTE_COW Pa_t = 1 << 9

/// PTE_ADDR extracts the address bits of a PTE.
const PTE_ADDR Pa_t = PGMASK

/// Pa_t represents a physical address.
type Pa_t uintptr

/// Bytepg_t is a byte addressed page.
type Bytepg_t [PGSIZE]uint8

/// Pg_t is a generic page of ints.
type Pg_t [512]int

/// Pmap_t is a page table page.
type Pmap_t [512]Pa_t

/// Unpin_i allows unpinning of physical pages.
type Unpin_i interface {
	Unpin(Pa_t)
}

/// Page_i abstracts physical page allocation so that package vm and
/// package frame need not depend on the concrete allocator.
type Page_i interface {
	Refpg_new() (*Pg_t, Pa_t, bool)
	Refpg_new_nozero() (*Pg_t, Pa_t, bool)
	Refcnt(Pa_t) int
	Dmap(Pa_t) *Pg_t
	Refup(Pa_t)
	Refdown(Pa_t) bool
}

/// Pg2bytes converts a page of ints to a page of bytes.
func Pg2bytes(pg *Pg_t) *Bytepg_t {
	return (*Bytepg_t)(unsafe.Pointer(pg))
}

/// Bytepg2pg converts a byte page back to a Pg_t.
func Bytepg2pg(pg *Bytepg_t) *Pg_t {
	return (*Pg_t)(unsafe.Pointer(pg))
}

func pg2pmap(pg *Pg_t) *Pmap_t {
	return (*Pmap_t)(unsafe.Pointer(pg))
}

/// Physpg_t describes a single physical page's bookkeeping.
type Physpg_t struct {
	Refcnt int32
	// index into ram of next page on the free list
	nexti uint32
}

/// Physmem_t is the system's physical page allocator. Unlike a bare-metal
/// kernel, it owns the backing storage itself (ram) rather than carving up
/// memory the bootloader handed it; hal.Disk_i and friends are the only
/// places the adaptation layer needs to reach into raw bytes, so this
/// package stays entirely host-portable.
type Physmem_t struct {
	ram  []Pg_t
	Pgs  []Physpg_t
	freei   uint32
	freelen int32
	pmaps   uint32
	pmaplen int32
	sync.Mutex
	Dmapinit bool
}

/// Refaddr returns the refcount pointer and index for the given page.
func (phys *Physmem_t) Refaddr(p_pg Pa_t) (*int32, uint32) {
	idx := uint32(p_pg >> PGSHIFT)
	return &phys.Pgs[idx].Refcnt, idx
}

func (phys *Physmem_t) _refpg_new() (*Pg_t, Pa_t, bool) {
	return phys._phys_new(&phys.freei, &phys.freelen)
}

/// Refcnt returns the current reference count of a page.
func (phys *Physmem_t) Refcnt(p_pg Pa_t) int {
	ref, _ := phys.Refaddr(p_pg)
	return int(atomic.LoadInt32(ref))
}

/// Refup increments the reference count of a page.
func (phys *Physmem_t) Refup(p_pg Pa_t) {
	ref, _ := phys.Refaddr(p_pg)
	c := atomic.AddInt32(ref, 1)
	if c <= 0 {
		panic("wut")
	}
}

func (phys *Physmem_t) _refdec(p_pg Pa_t) (bool, uint32) {
	ref, idx := phys.Refaddr(p_pg)
	c := atomic.AddInt32(ref, -1)
	if c < 0 {
		panic("wut")
	}
	return c == 0, idx
}

/// Refdown decrements the reference count of a page. It returns true
/// when the page was freed.
func (phys *Physmem_t) Refdown(p_pg Pa_t) bool {
	return phys._phys_put(p_pg, false)
}

/// Zeropg is a global zero-filled page used for allocations.
var Zeropg *Pg_t = &Pg_t{}

/// Refpg_new allocates a zeroed page and returns its mapping and address.
/// The returned page's refcount is not incremented.
func (phys *Physmem_t) Refpg_new() (*Pg_t, Pa_t, bool) {
	if !phys.Dmapinit {
		panic("refpg_new before Phys_init")
	}
	pg, p_pg, ok := phys._refpg_new()
	if !ok {
		return nil, 0, false
	}
	*pg = *Zeropg
	return pg, p_pg, true
}

/// Refpg_new_nozero allocates an uninitialised page.
func (phys *Physmem_t) Refpg_new_nozero() (*Pg_t, Pa_t, bool) {
	return phys._refpg_new()
}

/// Pmap_new allocates a new page-table page.
func (phys *Physmem_t) Pmap_new() (*Pmap_t, Pa_t, bool) {
	a, b, ok := phys._phys_new(&phys.pmaps, &phys.pmaplen)
	if !ok {
		a, b, ok = phys.Refpg_new()
	}
	return pg2pmap(a), b, ok
}

func (phys *Physmem_t) _phys_new(fl *uint32, cnt *int32) (*Pg_t, Pa_t, bool) {
	if !phys.Dmapinit {
		panic("dmap not initted")
	}
	var p_pg Pa_t
	var ok bool
	phys.Lock()
	ff := *fl
	if ff != ^uint32(0) {
		p_pg = Pa_t(ff) << PGSHIFT
		*fl = phys.Pgs[ff].nexti
		ok = true
		if phys.Pgs[ff].Refcnt < 0 {
			panic("negative ref count")
		}
		*cnt--
		if *cnt < 0 {
			panic("no")
		}
	}
	phys.Unlock()
	if ok {
		return phys.Dmap(p_pg), p_pg, true
	}
	return nil, 0, false
}

func (phys *Physmem_t) _phys_insert(fl *uint32, idx uint32, cnt *int32) {
	phys.Lock()
	phys.Pgs[idx].nexti = *fl
	*fl = idx
	*cnt++
	if *cnt < 0 {
		panic("no")
	}
	phys.Unlock()
}

func (phys *Physmem_t) _phys_put(p_pg Pa_t, ispmap bool) bool {
	if add, idx := phys._refdec(p_pg); add {
		fl := &phys.freei
		cnt := &phys.freelen
		if ispmap {
			fl = &phys.pmaps
			cnt = &phys.pmaplen
		}
		phys._phys_insert(fl, idx, cnt)
		return true
	}
	return false
}

/// Dec_pmap decreases the reference count of a pmap and frees it if unused.
func (phys *Physmem_t) Dec_pmap(p_pmap Pa_t) {
	phys._phys_put(p_pmap, true)
}

/// Dmap converts a physical address into a Go pointer at that page's
/// content. p must be page-aligned to a page owned by this allocator.
func (phys *Physmem_t) Dmap(p Pa_t) *Pg_t {
	idx := int(util.Rounddown(int(p), PGSIZE)) >> PGSHIFT
	if idx < 0 || idx >= len(phys.ram) {
		panic("physical address out of range")
	}
	return &phys.ram[idx]
}

/// Dmap_v2p converts a pointer previously returned by Dmap back to the
/// physical address it maps.
func (phys *Physmem_t) Dmap_v2p(v *Pg_t) Pa_t {
	off := uintptr(unsafe.Pointer(v)) - uintptr(unsafe.Pointer(&phys.ram[0]))
	return Pa_t(off)
}

/// Dmap8 returns a byte slice mapped to the given physical address.
func (phys *Physmem_t) Dmap8(p Pa_t) []uint8 {
	pg := phys.Dmap(p)
	off := p & PGOFFSET
	bpg := Pg2bytes(pg)
	return bpg[off:]
}

/// Pgcount reports the number of free pages and free page-table pages.
func (phys *Physmem_t) Pgcount() (int, int) {
	phys.Lock()
	defer phys.Unlock()
	return int(phys.freelen), int(phys.pmaplen)
}

/// Physmem is the global physical memory allocator instance.
var Physmem = &Physmem_t{}

/// Phys_init reserves npages of backing storage and initializes the
/// global physical memory allocator's free list over them.
func Phys_init(npages int) *Physmem_t {
	if npages < 2 {
		panic("too few pages")
	}
	phys := Physmem
	phys.ram = make([]Pg_t, npages)
	phys.Pgs = make([]Physpg_t, npages)
	for i := range phys.Pgs {
		phys.Pgs[i].Refcnt = -10
	}
	phys.freei = 0
	phys.freelen = 1
	phys.pmaps = ^uint32(0)
	phys.pmaplen = 0
	phys.Pgs[0].Refcnt = 0
	phys.Pgs[0].nexti = ^uint32(0)
	last := uint32(0)
	for i := 1; i < npages; i++ {
		idx := uint32(i)
		phys.Pgs[idx].Refcnt = 0
		phys.Pgs[last].nexti = idx
		phys.Pgs[idx].nexti = ^uint32(0)
		last = idx
		phys.freelen++
	}
	phys.Dmapinit = true
	fmt.Printf("Reserved %v pages (%vKB)\n", npages, npages*PGSIZE/1024)
	return phys
}
