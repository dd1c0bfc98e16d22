package fs

import (
	"sync"

	"eduos/hashtable"
)

// openInode_t tracks how many live file descriptors reference an inode
// number, plus whether it was unlinked while still open. unref tells its
// caller to free the inode the moment the last reference to an unlinked
// inode is dropped -- the same deferred-free
// rule a Unix-like filesystem uses to let "rm file-in-use" keep working
// for whoever still has it open.
type openInode_t struct {
	mu       sync.Mutex
	refs     int
	unlinked bool
}

// openInodes_t is the mount-wide registry of every inode number with at
// least one open descriptor. It is consulted by Fs_unlink/Fs_rename
// before they would otherwise free an inode's blocks immediately, and by
// fsFops_t.Close on the way out. Backed by hashtable.Hashtable_t rather
// than a plain map so concurrent opens/closes on unrelated inodes don't
// serialize on one mutex.
type openInodes_t struct {
	ht *hashtable.Hashtable_t
}

func mkOpenInodes() *openInodes_t {
	return &openInodes_t{ht: hashtable.MkHash(64)}
}

// ref records a new open descriptor on ino, allocating its tracking entry
// on first reference.
func (o *openInodes_t) ref(ino int) {
	if v, ok := o.ht.Get(ino); ok {
		oi := v.(*openInode_t)
		oi.mu.Lock()
		oi.refs++
		oi.mu.Unlock()
		return
	}
	// Set only inserts when the key is absent, returning the existing
	// entry instead when another opener won the race.
	existing, added := o.ht.Set(ino, &openInode_t{refs: 1})
	if added {
		return
	}
	oi := existing.(*openInode_t)
	oi.mu.Lock()
	oi.refs++
	oi.mu.Unlock()
}

// markUnlinked records that ino's link count has dropped to zero while
// descriptors are still open on it, so unref's last-close path knows to
// free it instead of leaving it for a future open to resurrect. Returns
// true if a descriptor is in fact still open (caller must defer the
// free), false if ino has no open descriptors and can be freed now.
func (o *openInodes_t) markUnlinked(ino int) bool {
	v, ok := o.ht.Get(ino)
	if !ok {
		return false
	}
	oi := v.(*openInode_t)
	oi.mu.Lock()
	defer oi.mu.Unlock()
	if oi.refs <= 0 {
		return false
	}
	oi.unlinked = true
	return true
}

// unref drops one reference on ino and reports whether this was the
// last close of an inode marked unlinked -- the caller must then free
// ino's blocks. unref itself removes the registry entry once no
// reference is left.
func (o *openInodes_t) unref(ino int) bool {
	v, ok := o.ht.Get(ino)
	if !ok {
		return false
	}
	oi := v.(*openInode_t)
	oi.mu.Lock()
	oi.refs--
	dofree := oi.refs <= 0 && oi.unlinked
	done := oi.refs <= 0
	oi.mu.Unlock()
	if done {
		o.ht.Del(ino)
	}
	return dofree
}
