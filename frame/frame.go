// Package frame owns every resident physical page's eviction policy: it
// tracks which address space and virtual address each frame currently
// backs, and runs the clock (second-chance) algorithm to pick a victim
// when mem.Physmem reports no free pages. Evicting a frame consults
// vm.Vm_t.Status to decide whether the page can simply be dropped,
// must be written to swap, or must be written back to its file.
package frame

import (
	"sync"

	"eduos/defs"
	"eduos/mem"
	"eduos/oommsg"
	"eduos/swap"
	"eduos/vm"
)

/// owner_t names one virtual mapping of a frame. A frame normally has
/// exactly one owner; a post-fork copy-on-write page briefly has two,
/// until the next write splits it.
type owner_t struct {
	as *vm.Vm_t
	va uintptr
}

/// entry_t is one frame table slot.
type entry_t struct {
	pa       mem.Pa_t
	owners   []owner_t
	slot     swap.Slot_t
	hasslot  bool
	accessed bool
}

/// Table_t is the system frame table.
type Table_t struct {
	sync.Mutex
	entries map[mem.Pa_t]*entry_t
	order   []mem.Pa_t
	hand    int
	sw      *swap.Swap_t
}

/// MkTable constructs a frame table that evicts to sw when physical
/// memory is exhausted.
func MkTable(sw *swap.Swap_t) *Table_t {
	return &Table_t{entries: make(map[mem.Pa_t]*entry_t), sw: sw}
}

/// Track registers that va in as is now backed by the frame at pa.
/// Callers call this immediately after a successful vm.Vm_t.Page_insert.
func (t *Table_t) Track(as *vm.Vm_t, va uintptr, pa mem.Pa_t) {
	t.Lock()
	defer t.Unlock()
	e, ok := t.entries[pa]
	if !ok {
		e = &entry_t{pa: pa, accessed: true}
		t.entries[pa] = e
		t.order = append(t.order, pa)
	}
	e.owners = append(e.owners, owner_t{as: as, va: va})
}

/// Untrack removes one owner of the frame at pa; once the last owner is
/// gone the frame table forgets the frame (its physical page may already
/// have been freed by the caller via mem.Physmem.Refdown).
func (t *Table_t) Untrack(as *vm.Vm_t, va uintptr, pa mem.Pa_t) {
	t.Lock()
	defer t.Unlock()
	e, ok := t.entries[pa]
	if !ok {
		return
	}
	for i, o := range e.owners {
		if o.as == as && o.va == va {
			e.owners = append(e.owners[:i], e.owners[i+1:]...)
			break
		}
	}
	if len(e.owners) == 0 {
		delete(t.entries, pa)
		for i, p := range t.order {
			if p == pa {
				t.order = append(t.order[:i], t.order[i+1:]...)
				break
			}
		}
	}
}

// next returns the entry under the clock hand and advances the hand,
// wrapping; ok is false if the table is empty.
func (t *Table_t) next() (*entry_t, bool) {
	if len(t.order) == 0 {
		return nil, false
	}
	if t.hand >= len(t.order) {
		t.hand = 0
	}
	e := t.entries[t.order[t.hand]]
	t.hand++
	return e, true
}

/// Evict runs the clock algorithm to reclaim exactly one frame, writing
/// it to swap when vm.Vm_t.Status reports PS_FRAME or PS_COW, and
/// returns the reclaimed physical address. It returns ENOMEM if no
/// frame is tracked or the swap area is full, and EIO if the swap write
/// fails.
func (t *Table_t) Evict() (mem.Pa_t, defs.Err_t) {
	t.Lock()
	defer t.Unlock()
	if len(t.order) == 0 {
		notifyOOM(1)
		return 0, -defs.ENOMEM
	}
	for tries := 0; tries < 2*len(t.order)+1; tries++ {
		e, ok := t.next()
		if !ok {
			return 0, -defs.ENOMEM
		}
		if e.accessed {
			e.accessed = false
			continue
		}
		return t.evictEntry(e)
	}
	// every frame looked accessed on the first pass; take whatever the
	// hand lands on next, matching a real clock's second pass.
	e, _ := t.next()
	return t.evictEntry(e)
}

func (t *Table_t) evictEntry(e *entry_t) (mem.Pa_t, defs.Err_t) {
	if len(e.owners) == 0 {
		return 0, -defs.ENOMEM
	}
	o := e.owners[0]
	st, ok := o.as.Status(o.va)
	if !ok {
		return 0, -defs.ENOMEM
	}

	// Clear every owner's PTE before touching backing store: otherwise
	// the owner could keep writing into the frame after its contents
	// were saved and before the mapping was torn down, and that write
	// would be lost once the frame is handed out to someone else.
	for _, o := range e.owners {
		o.as.Lock_pmap()
		o.as.Page_remove(int(o.va))
		o.as.Unlock_pmap()
	}

	switch st {
	case vm.PS_ZERO, vm.PS_FILE:
		// nothing to preserve
	case vm.PS_FRAME, vm.PS_COW:
		pg := mem.Physmem.Dmap(e.pa)
		slot, ok := t.sw.Alloc()
		if !ok {
			return 0, -defs.ENOMEM
		}
		if err := t.sw.Write(slot, pg); err != nil {
			t.sw.Free(slot)
			return 0, -defs.EIO
		}
		e.slot = slot
		e.hasslot = true
	case vm.PS_FILE_DIRTY, vm.PS_MMAP_SHARED:
		// the owning Vminfo_t's Fdops_i is responsible for persisting a
		// shared page; package vm's Filepage path re-reads it lazily on
		// the next fault, so the mapping removal above is all we need.
	}

	delete(t.entries, e.pa)
	for i, p := range t.order {
		if p == e.pa {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return e.pa, 0
}

/// Nframes reports how many frames are currently tracked.
func (t *Table_t) Nframes() int {
	t.Lock()
	defer t.Unlock()
	return len(t.order)
}

// notifyOOM tells whoever is listening on oommsg.OomCh that the frame
// table has nothing left to evict. The send is non-blocking: a kernel
// running without a reaper goroutine attached must not deadlock inside
// its own eviction path.
func notifyOOM(need int) {
	resume := make(chan bool, 1)
	select {
	case oommsg.OomCh <- oommsg.Oommsg_t{Need: need, Resume: resume}:
		select {
		case <-resume:
		default:
		}
	default:
	}
}
