// Package vm implements process address spaces: region tracking
// (Vmregion_t/Vminfo_t), the page-fault handler that resolves faults into
// zero-fill, copy-on-write, file-backed, or shared-anonymous mappings,
// and the user<->kernel copy routines every system call argument passes
// through. It sits on top of package hal (the page table) and package
// frame (physical page ownership and eviction).
package vm

import (
	"sync"
	"time"

	"eduos/bounds"
	"eduos/defs"
	"eduos/fdops"
	"eduos/hal"
	"eduos/mem"
	"eduos/res"
	"eduos/ustr"
	"eduos/util"
)

/// PGSHIFT and PGSIZE mirror package mem's so call sites in this package
/// read naturally; they are never allowed to drift, since both packages
/// describe the same hardware page size.
const PGSHIFT = mem.PGSHIFT
const PGSIZE = mem.PGSIZE
const PGOFFSET = mem.PGOFFSET

/// Vm_t represents a process address space: its mapped regions and the
/// page directory backing them. The mutex protects modifications to
/// Vmregion and PD together, mirroring how a real kernel holds one lock
/// across a page-table edit and the region list update that must stay
/// consistent with it.
type Vm_t struct {
	sync.Mutex

	Vmregion Vmregion_t
	PD       *hal.PageDir_t

	pgfltaken bool
}

/// Init allocates an empty page directory for a fresh address space.
func (as *Vm_t) Init() {
	as.PD = hal.MkPageDir()
}

/// Lock_pmap acquires the address space mutex and marks that a page
/// fault is being handled.
func (as *Vm_t) Lock_pmap() {
	as.Lock()
	as.pgfltaken = true
}

/// Unlock_pmap releases the address space mutex after page table
/// manipulation is complete.
func (as *Vm_t) Unlock_pmap() {
	as.pgfltaken = false
	as.Unlock()
}

/// Lockassert_pmap panics if the address space mutex is not held.
func (as *Vm_t) Lockassert_pmap() {
	if !as.pgfltaken {
		panic("pgfl lock must be held")
	}
}

/// Userdmap8_inner returns a slice mapping of the user address at va.
/// When k2u is true the memory is prepared for a kernel write. It
/// returns the mapped slice or an error code.
func (as *Vm_t) Userdmap8_inner(va int, k2u bool) ([]uint8, defs.Err_t) {
	as.Lockassert_pmap()

	voff := va & int(PGOFFSET)
	uva := uintptr(va)
	vmi, ok := as.Vmregion.Lookup(uva)
	if !ok {
		return nil, -defs.EFAULT
	}

	pa, perms, ok := as.PD.Lookup(uva)
	ecode := uintptr(mem.PTE_U)
	needfault := true
	if k2u {
		ecode |= uintptr(mem.PTE_W)
		iscow := ok && perms&mem.PTE_COW != 0
		if ok && !iscow {
			needfault = false
		}
	} else if ok {
		needfault = false
	}

	if needfault {
		if err := Sys_pgfault(as, vmi, uva, ecode); err != 0 {
			return nil, err
		}
		pa, _, ok = as.PD.Lookup(uva)
		if !ok {
			return nil, -defs.EFAULT
		}
	}

	pg := mem.Physmem.Dmap(pa)
	bpg := mem.Pg2bytes(pg)
	return bpg[voff:], 0
}

func (as *Vm_t) _userdmap8(va int, k2u bool) ([]uint8, defs.Err_t) {
	as.Lock_pmap()
	ret, err := as.Userdmap8_inner(va, k2u)
	as.Unlock_pmap()
	return ret, err
}

/// Userdmap8r maps the user address for reading and returns the
/// resulting slice or an error.
func (as *Vm_t) Userdmap8r(va int) ([]uint8, defs.Err_t) {
	return as._userdmap8(va, false)
}

/// Userreadn reads n (<=8) bytes from the user address va and returns
/// the value and any error encountered.
func (as *Vm_t) Userreadn(va, n int) (int, defs.Err_t) {
	as.Lock_pmap()
	a, b := as.userreadn_inner(va, n)
	as.Unlock_pmap()
	return a, b
}

func (as *Vm_t) userreadn_inner(va, n int) (int, defs.Err_t) {
	as.Lockassert_pmap()
	if n > 8 {
		panic("large n")
	}
	var ret int
	var src []uint8
	var err defs.Err_t
	for i := 0; i < n; i += len(src) {
		src, err = as.Userdmap8_inner(va+i, false)
		if err != 0 {
			return 0, err
		}
		l := n - i
		if len(src) < l {
			l = len(src)
		}
		v := util.Readn(src, l, 0)
		ret |= v << (8 * uint(i))
	}
	return ret, 0
}

/// Userwriten writes n (<=8) bytes of val to the user address va.
func (as *Vm_t) Userwriten(va, n, val int) defs.Err_t {
	if n > 8 {
		panic("large n")
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()
	var dst []uint8
	for i := 0; i < n; i += len(dst) {
		v := val >> (8 * uint(i))
		t, err := as.Userdmap8_inner(va+i, true)
		dst = t
		if err != 0 {
			return err
		}
		util.Writen(dst, n-i, 0, v)
	}
	return 0
}

/// Userstr copies a NUL terminated string from user space up to lenmax
/// bytes.
func (as *Vm_t) Userstr(uva int, lenmax int) (ustr.Ustr, defs.Err_t) {
	if lenmax < 0 {
		return nil, 0
	}
	as.Lock_pmap()
	i := 0
	s := ustr.MkUstr()
	for {
		str, err := as.Userdmap8_inner(uva+i, false)
		if err != 0 {
			as.Unlock_pmap()
			return s, err
		}
		for j, c := range str {
			if c == 0 {
				s = append(s, str[:j]...)
				as.Unlock_pmap()
				return s, 0
			}
		}
		s = append(s, str...)
		i += len(str)
		if len(s) >= lenmax {
			as.Unlock_pmap()
			return nil, -defs.ENAMETOOLONG
		}
	}
}

/// Usertimespec reads a timeval structure from user memory at va.
func (as *Vm_t) Usertimespec(va int) (time.Duration, time.Time, defs.Err_t) {
	var zt time.Time
	secs, err := as.Userreadn(va, 8)
	if err != 0 {
		return 0, zt, err
	}
	nsecs, err := as.Userreadn(va+8, 8)
	if err != 0 {
		return 0, zt, err
	}
	if secs < 0 || nsecs < 0 {
		return 0, zt, -defs.EINVAL
	}
	tot := time.Duration(secs)*time.Second + time.Duration(nsecs)*time.Nanosecond
	t := time.Unix(int64(secs), int64(nsecs))
	return tot, t, 0
}

/// K2user copies src into the user virtual address space starting at uva.
func (as *Vm_t) K2user(src []uint8, uva int) defs.Err_t {
	as.Lock_pmap()
	ret := as.K2user_inner(src, uva)
	as.Unlock_pmap()
	return ret
}

func (as *Vm_t) K2user_inner(src []uint8, uva int) defs.Err_t {
	as.Lockassert_pmap()
	cnt := 0
	l := len(src)
	for cnt != l {
		gimme := bounds.Bounds(bounds.B_ASPACE_T_K2USER_INNER)
		if !res.Resadd_noblock(gimme) {
			return -defs.ENOHEAP
		}
		dst, err := as.Userdmap8_inner(uva+cnt, true)
		if err != 0 {
			return err
		}
		ub := len(src)
		if ub > len(dst) {
			ub = len(dst)
		}
		copy(dst, src)
		src = src[ub:]
		cnt += ub
	}
	return 0
}

/// User2k copies len(dst) bytes from the user virtual address uva into dst.
func (as *Vm_t) User2k(dst []uint8, uva int) defs.Err_t {
	as.Lock_pmap()
	ret := as.User2k_inner(dst, uva)
	as.Unlock_pmap()
	return ret
}

func (as *Vm_t) User2k_inner(dst []uint8, uva int) defs.Err_t {
	as.Lockassert_pmap()
	cnt := 0
	for len(dst) != 0 {
		gimme := bounds.Bounds(bounds.B_ASPACE_T_USER2K_INNER)
		if !res.Resadd_noblock(gimme) {
			return -defs.ENOHEAP
		}
		src, err := as.Userdmap8_inner(uva+cnt, false)
		if err != 0 {
			return err
		}
		did := copy(dst, src)
		dst = dst[did:]
		cnt += did
	}
	return 0
}

/// Unusedva_inner finds an unused virtual address range of the given
/// length at or after startva, for mmap and stack/heap growth.
func (as *Vm_t) Unusedva_inner(startva, length int) int {
	as.Lockassert_pmap()
	if length < 0 || length > 1<<48 {
		panic("weird len")
	}
	startva = util.Rounddown(startva, PGSIZE)
	if startva < mem.USERMIN {
		startva = mem.USERMIN
	}
	ret, l := as.Vmregion.empty(uintptr(startva), uintptr(length))
	r := int(ret)
	if startva > r && startva < r+int(l) {
		r = startva
	}
	return r
}

/// Sys_pgfault resolves a page fault for the address space as at the
/// given fault address with the provided error code (PTE_W set means a
/// write fault, PTE_U is always set since kernel faults panic instead).
func Sys_pgfault(as *Vm_t, vmi *Vminfo_t, faultaddr, ecode uintptr) defs.Err_t {
	isguard := vmi.Perms == 0
	iswrite := ecode&uintptr(mem.PTE_W) != 0
	writeok := vmi.Perms&uint(mem.PTE_W) != 0
	if isguard || (iswrite && !writeok) {
		return -defs.EFAULT
	}
	if ecode&uintptr(mem.PTE_U) == 0 {
		panic("kernel page fault")
	}
	if vmi.Mtype == VSANON {
		panic("shared anon pages should always be mapped")
	}

	if opa, operms, ok := as.PD.Lookup(faultaddr); ok {
		if !iswrite || operms&mem.PTE_COW == 0 {
			// two threads simultaneously faulted on the same page
			return 0
		}
		// write to a copy-on-write page: map a private writable copy
		pg, pa, ok := mem.Physmem.Refpg_new_nozero()
		if !ok {
			return -defs.ENOMEM
		}
		*pg = *mem.Physmem.Dmap(opa)
		as.Page_insert(int(faultaddr), pa, (operms&^mem.PTE_COW)|mem.PTE_W, true)
		return 0
	}

	var p_pg mem.Pa_t
	perms := mem.PTE_U | mem.PTE_P

	if vmi.Mtype == VFILE && vmi.file.shared {
		pg, pa, err := vmi.Filepage(faultaddr)
		if err != nil {
			return -defs.EIO
		}
		_ = pg
		p_pg = pa
		if vmi.Perms&uint(mem.PTE_W) != 0 {
			perms |= mem.PTE_W
		}
	} else if iswrite {
		var pgsrc *mem.Pg_t
		switch vmi.Mtype {
		case VANON:
			pgsrc = mem.Zeropg
		case VFILE:
			pg, pa, err := vmi.Filepage(faultaddr)
			if err != nil {
				return -defs.EIO
			}
			pgsrc = pg
			defer mem.Physmem.Refdown(pa)
		default:
			panic("wut")
		}
		pg, pa, ok := mem.Physmem.Refpg_new_nozero()
		if !ok {
			return -defs.ENOMEM
		}
		*pg = *pgsrc
		p_pg = pa
		perms |= mem.PTE_W
	} else {
		switch vmi.Mtype {
		case VANON:
			_, pa, ok := mem.Physmem.Refpg_new()
			if !ok {
				return -defs.ENOMEM
			}
			p_pg = pa
		case VFILE:
			_, pa, err := vmi.Filepage(faultaddr)
			if err != nil {
				return -defs.EIO
			}
			p_pg = pa
		default:
			panic("wut")
		}
		if vmi.Perms&uint(mem.PTE_W) != 0 {
			perms |= mem.PTE_COW
		}
	}

	if !as.Page_insert(int(faultaddr), p_pg, perms, true) {
		mem.Physmem.Refdown(p_pg)
		return -defs.ENOMEM
	}
	return 0
}

/// Page_insert maps the physical page p_pg at va with perms, replacing
/// any existing mapping and dropping one reference on the page that
/// mapping named. p_pg's refcount is increased only when refup is true.
func (as *Vm_t) Page_insert(va int, p_pg mem.Pa_t, perms mem.Pa_t, refup bool) bool {
	as.Lockassert_pmap()
	if refup {
		mem.Physmem.Refup(p_pg)
	}
	if oldpa, _, ok := as.PD.Lookup(uintptr(va)); ok {
		mem.Physmem.Refdown(oldpa)
	}
	as.PD.Insert(uintptr(va), p_pg, perms, false)
	return true
}

/// Page_remove unmaps the page at va from this address space and
/// returns true if a mapping was removed.
func (as *Vm_t) Page_remove(va int) bool {
	as.Lockassert_pmap()
	pa, _, ok := as.PD.Lookup(uintptr(va))
	if !ok {
		return false
	}
	mem.Physmem.Refdown(pa)
	as.PD.Remove(uintptr(va))
	return true
}

/// Pgfault handles a page fault at the given fault address and error
/// code, looking up the owning region itself (used by package trap).
func (as *Vm_t) Pgfault(fa, ecode uintptr) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	vmi, ok := as.Vmregion.Lookup(fa)
	if !ok {
		return -defs.EFAULT
	}
	return Sys_pgfault(as, vmi, fa, ecode)
}

/// Uvmfree releases all user mappings associated with this address space.
func (as *Vm_t) Uvmfree() {
	as.Lock_pmap()
	as.PD.Each(func(va uintptr, pa mem.Pa_t, perms mem.Pa_t) {
		mem.Physmem.Refdown(pa)
	})
	as.PD = hal.MkPageDir()
	as.Unlock_pmap()
	as.Vmregion.Clear()
}

/// Vmadd_anon creates a private anonymous mapping at the given virtual
/// address range with the supplied permissions.
func (as *Vm_t) Vmadd_anon(start, len int, perms mem.Pa_t) {
	vmi := as._mkvmi(VANON, start, len, perms, 0, nil, nil)
	as.Vmregion.insert(vmi)
}

/// Vmadd_file maps a region backed by the provided file operations at
/// the specified offset.
func (as *Vm_t) Vmadd_file(start, len int, perms mem.Pa_t, fops fdops.Fdops_i, foff int) {
	vmi := as._mkvmi(VFILE, start, len, perms, foff, fops, nil)
	as.Vmregion.insert(vmi)
}

/// Vmadd_shareanon inserts a shared anonymous mapping with the given
/// permissions.
func (as *Vm_t) Vmadd_shareanon(start, len int, perms mem.Pa_t) {
	vmi := as._mkvmi(VSANON, start, len, perms, 0, nil, nil)
	as.Vmregion.insert(vmi)
}

/// Vmadd_sharefile creates a shared file-backed mapping using fops
/// starting at the given offset.
func (as *Vm_t) Vmadd_sharefile(start, len int, perms mem.Pa_t, fops fdops.Fdops_i, foff int, unpin mem.Unpin_i) {
	vmi := as._mkvmi(VFILE, start, len, perms, foff, fops, unpin)
	vmi.file.shared = true
	as.Vmregion.insert(vmi)
}

func (as *Vm_t) _mkvmi(mt mtype_t, start, len int, perms mem.Pa_t, foff int,
	fops fdops.Fdops_i, unpin mem.Unpin_i) *Vminfo_t {
	if len <= 0 {
		panic("bad vmi len")
	}
	if mem.Pa_t(start|len)&PGOFFSET != 0 {
		panic("start and len must be aligned")
	}
	ret := &Vminfo_t{}
	ret.Mtype = mt
	ret.Pgn = uintptr(start) >> PGSHIFT
	ret.Pglen = util.Roundup(len, PGSIZE) >> PGSHIFT
	ret.Perms = uint(perms)
	if mt == VFILE {
		ret.file.foff = foff
		ret.file.mfile = &Mfile_t{mfops: fops, unpin: unpin, mapcount: ret.Pglen}
	}
	return ret
}

/// Mkuserbuf allocates and initializes a Userbuf_t referencing user
/// memory starting at userva.
func (as *Vm_t) Mkuserbuf(userva, length int) *Userbuf_t {
	ret := &Userbuf_t{}
	ret.ub_init(as, userva, length)
	return ret
}

/// Fork deep-copies as into a fresh address space, marking every private
/// writable page copy-on-write in both the parent and the child so
/// neither actually copies a page until one of them writes to it.
func (as *Vm_t) Fork() *Vm_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	child := &Vm_t{}
	child.Init()
	as.PD.Each(func(va uintptr, pa mem.Pa_t, perms mem.Pa_t) {
		if perms&mem.PTE_W != 0 {
			perms = perms &^ mem.PTE_W
			perms |= mem.PTE_COW
			as.PD.Insert(va, pa, perms, false)
		}
		mem.Physmem.Refup(pa)
		child.PD.Insert(va, pa, perms, false)
	})
	child.Vmregion.regions = append([]*Vminfo_t{}, as.Vmregion.regions...)
	return child
}
