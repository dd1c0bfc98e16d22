// Package bounds names the call sites that the resource accountant in
// package res charges against a thread's heap-allocation budget. Every
// loop that may allocate kernel memory on behalf of a user request
// (copying to/from user space, walking an inode's indirect blocks, ...)
// is tagged with one of these so a runaway request fails with ENOHEAP
// instead of exhausting kernel memory.
package bounds

/// Bound_t names one accounted call site.
type Bound_t int

const (
	B_USERBUF_T__TX Bound_t = iota
	B_USERIOVEC_T_IOV_INIT
	B_USERIOVEC_T__TX
	B_ASPACE_T_K2USER_INNER
	B_ASPACE_T_USER2K_INNER
	B_FS_T_FS_READ
	B_FS_T_FS_WRITE
	B_INODE_T_ISCAN
	B_DIR_T_ILOOKUP
	B_WAL_T_LOG_WRITE
	B_VM_T_CLONE
	_bound_count
)

/// Bounds returns the named bound; it exists so call sites read
/// bounds.Bounds(bounds.B_FOO) rather than a bare iota, matching how
/// res.Resadd_noblock is invoked elsewhere in the kernel.
func Bounds(b Bound_t) Bound_t {
	if b < 0 || b >= _bound_count {
		panic("unknown bound")
	}
	return b
}
