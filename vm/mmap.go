package vm

import (
	"eduos/defs"
	"eduos/fdops"
	"eduos/mem"
	"eduos/util"
)

/// MAP_SHARED and MAP_PRIVATE mirror mmap(2)'s flag meanings: a shared
/// mapping's writes are visible to every mapper and, for file-backed
/// mappings, are eventually written back; a private mapping gets
/// copy-on-write semantics and its writes are never visible to anyone
/// else or to the underlying file.
const (
	MAP_SHARED  = 0x1
	MAP_PRIVATE = 0x2
	MAP_ANON    = 0x20
	MAP_FIXED   = 0x10
)

/// Mmap establishes a new mapping of length bytes with the given prot
/// (PTE_W controls writability) and flags, backed by fops at offset
/// foff unless flags has MAP_ANON set. It returns the chosen virtual
/// address.
func (as *Vm_t) Mmap(addrhint, length int, prot mem.Pa_t, flags int,
	fops fdops.Fdops_i, foff int, unpin mem.Unpin_i) (int, defs.Err_t) {

	length = util.Roundup(length, PGSIZE)
	as.Lock_pmap()
	va := addrhint
	if flags&MAP_FIXED == 0 || va == 0 {
		va = as.Unusedva_inner(addrhint, length)
	}
	as.Unlock_pmap()

	shared := flags&MAP_SHARED != 0
	anon := flags&MAP_ANON != 0

	switch {
	case anon && shared:
		as.Vmadd_shareanon(va, length, prot)
	case anon:
		as.Vmadd_anon(va, length, prot)
	case shared:
		as.Vmadd_sharefile(va, length, prot, fops, foff, unpin)
	default:
		as.Vmadd_file(va, length, prot, fops, foff)
	}
	return va, 0
}

/// Munmap removes the mapping covering [va, va+length), returning
/// EINVAL if no such mapping exists.
func (as *Vm_t) Munmap(va, length int) defs.Err_t {
	length = util.Roundup(length, PGSIZE)
	as.Lock_pmap()
	defer as.Unlock_pmap()
	pgn := uintptr(va) >> PGSHIFT
	pglen := length >> PGSHIFT
	for i := 0; i < pglen; i++ {
		as.Page_remove(va + i*PGSIZE)
	}
	if !as.Vmregion.Remove(uintptr(va), length) {
		_ = pgn
		return -defs.EINVAL
	}
	return 0
}
