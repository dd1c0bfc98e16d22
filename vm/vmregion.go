package vm

import (
	"sort"
	"sync"

	"eduos/fdops"
	"eduos/mem"
)

/// mtype_t describes how a Vminfo_t's pages are backed.
type mtype_t uint

const (
	/// VANON is a private anonymous region (heap, stack): pages start
	/// zero-filled and are copy-on-write after fork.
	VANON mtype_t = iota
	/// VFILE is a region backed by a file, private or shared depending
	/// on file.shared.
	VFILE
	/// VSANON is a shared anonymous region: forked children see writes
	/// made by either party, used for mmap(MAP_ANONYMOUS|MAP_SHARED).
	VSANON
)

/// Mfile_t is the state of one file-backed mapping: the file's Fdops_i,
/// its unpin hook and a page count. Each new mapping gets its own
/// Mfile_t; two mappings of the same file do not share one.
type Mfile_t struct {
	mfops    fdops.Fdops_i
	unpin    mem.Unpin_i
	mapcount int
}

/// Vminfo_t describes one contiguous mapped region of an address space,
/// in page units.
type Vminfo_t struct {
	Mtype mtype_t
	Pgn   uintptr
	Pglen int
	Perms uint
	file  struct {
		foff   int
		mfile  *Mfile_t
		shared bool
	}
}

func (v *Vminfo_t) end() uintptr {
	return v.Pgn + uintptr(v.Pglen)
}

/// Filepage returns the page backing faultaddr in a file-backed region,
/// reading it through the region's Fdops_i mmap hook.
func (v *Vminfo_t) Filepage(faultaddr uintptr) (*mem.Pg_t, mem.Pa_t, error) {
	pgn := faultaddr >> mem.PGSHIFT
	foff := v.file.foff + int(pgn-v.Pgn)*mem.PGSIZE
	mm, ok := v.file.mfile.mfops.(Mmapfiler_i)
	if !ok {
		panic("region's fdops does not support mmap paging")
	}
	return mm.Mmapfile(foff)
}

/// Mmapfiler_i is implemented by any Fdops_i whose backing file can page
/// in a block-sized chunk for a file-backed mapping (package fs's
/// regular-file descriptor implements it; device files that support
/// Mmapi never need to).
type Mmapfiler_i interface {
	Mmapfile(off int) (*mem.Pg_t, mem.Pa_t, error)
}

/// Vmregion_t is the ordered set of mapped regions in an address space.
/// Lookup binary-searches it; an educational kernel's process rarely maps more
/// than a handful of regions (text, heap, stack, a few mmaps), so a
/// sorted slice is both simple and fast enough.
type Vmregion_t struct {
	sync.Mutex
	regions []*Vminfo_t
}

/// Lookup returns the region containing virtual address va, if any.
func (vr *Vmregion_t) Lookup(va uintptr) (*Vminfo_t, bool) {
	vr.Lock()
	defer vr.Unlock()
	pgn := va >> mem.PGSHIFT
	i := sort.Search(len(vr.regions), func(i int) bool {
		return vr.regions[i].end() > pgn
	})
	if i < len(vr.regions) && vr.regions[i].Pgn <= pgn {
		return vr.regions[i], true
	}
	return nil, false
}

func (vr *Vmregion_t) insert(v *Vminfo_t) {
	vr.Lock()
	defer vr.Unlock()
	i := sort.Search(len(vr.regions), func(i int) bool {
		return vr.regions[i].Pgn >= v.Pgn
	})
	vr.regions = append(vr.regions, nil)
	copy(vr.regions[i+1:], vr.regions[i:])
	vr.regions[i] = v
}

/// empty finds a gap of at least length bytes at or after startva and
/// returns the gap's start and size.
func (vr *Vmregion_t) empty(startva, length uintptr) (uintptr, uintptr) {
	vr.Lock()
	defer vr.Unlock()
	pgn := startva >> mem.PGSHIFT
	need := (length + uintptr(mem.PGOFFSET)) >> mem.PGSHIFT
	for _, r := range vr.regions {
		if r.Pgn > pgn && r.Pgn-pgn >= need {
			return pgn << mem.PGSHIFT, (r.Pgn - pgn) << mem.PGSHIFT
		}
		if r.end() > pgn {
			pgn = r.end()
		}
	}
	return pgn << mem.PGSHIFT, 1 << 46
}

/// Clear drops every region.
func (vr *Vmregion_t) Clear() {
	vr.Lock()
	defer vr.Unlock()
	vr.regions = nil
}

/// Remove deletes the region exactly matching [start, start+length).
func (vr *Vmregion_t) Remove(start uintptr, length int) bool {
	vr.Lock()
	defer vr.Unlock()
	pgn := start >> mem.PGSHIFT
	for i, r := range vr.regions {
		if r.Pgn == pgn {
			vr.regions = append(vr.regions[:i], vr.regions[i+1:]...)
			return true
		}
	}
	return false
}
