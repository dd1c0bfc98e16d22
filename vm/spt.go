package vm

import "eduos/mem"

/// Pstatus_t classifies how a resident or evictable page is currently
/// backed, for the benefit of package frame's eviction decision: it
/// decides whether evicting a page means simply dropping it, writing it
/// to swap, or writing it back to the file that backs it.
type Pstatus_t int

const (
	/// PS_ZERO is an anonymous page never written to; evicting it costs
	/// nothing. Status never reports it: every faulted-in anonymous page
	/// has its own zero-filled frame, reported as PS_FRAME or PS_COW.
	PS_ZERO Pstatus_t = iota
	/// PS_FRAME is a private anonymous page with real, modified content;
	/// eviction must write it to swap.
	PS_FRAME
	/// PS_FILE is a private file-backed page that has not been written
	/// (or was read back unmodified); eviction can simply drop it, since
	/// the file still holds the same bytes.
	PS_FILE
	/// PS_FILE_DIRTY is a private file-backed page that has been
	/// written; eviction must write it back before dropping it, the same
	/// as a dirty buffer-cache block.
	PS_FILE_DIRTY
	/// PS_COW is a copy-on-write page shared with another address space
	/// (post-fork); eviction clears every owner's mapping and writes it to
	/// swap like PS_FRAME, whatever its refcount.
	PS_COW
	/// PS_MMAP_SHARED is a page in a shared (MAP_SHARED) mapping backed
	/// by a file or by anonymous memory shared across a fork; eviction
	/// writes back through the owning Mfile_t rather than to swap.
	PS_MMAP_SHARED
)

/// Status classifies the page mapped at va in as, for package frame's
/// eviction policy. It does not take the pmap lock; callers that are not
/// already holding it (directly or via Lock_pmap) must not rely on the
/// result staying accurate.
func (as *Vm_t) Status(va uintptr) (Pstatus_t, bool) {
	vmi, ok := as.Vmregion.Lookup(va)
	if !ok {
		return 0, false
	}
	_, perms, ok := as.PD.Lookup(va)
	if !ok {
		return 0, false
	}
	switch {
	case vmi.Mtype == VSANON || (vmi.Mtype == VFILE && vmi.file.shared):
		return PS_MMAP_SHARED, true
	case perms&mem.PTE_COW != 0:
		return PS_COW, true
	case vmi.Mtype == VFILE:
		if perms&mem.PTE_W != 0 {
			return PS_FILE_DIRTY, true
		}
		return PS_FILE, true
	default:
		return PS_FRAME, true
	}
}
