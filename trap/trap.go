// Package trap decodes the machine state an exception or interrupt
// handler receives (hal.IntrFrame_t) into kernel-level reasons: a page
// fault routed to the faulting process's address space, a syscall
// dispatched by number, or an unhandled exception that dooms the
// process. It has no single teacher file to adapt -- the retrieved
// teacher's trap dispatch lived inline in its runtime-patched main.go,
// string together here as an ordinary package the hal layer can call
// into without referencing real interrupt hardware.
package trap

import (
	"fmt"

	"eduos/caller"
	"eduos/defs"
	"eduos/hal"
	"eduos/proc"
)

// Exception vectors, numbered the way the x86 architecture manual
// assigns them; only the ones this kernel actually routes are named.
const (
	VEC_DE  = 0  // divide error
	VEC_GP  = 13 // general protection fault
	VEC_PF  = 14 // page fault
	VEC_SYSCALL = 0x80
)

// Page-fault error-code bits (Intel SDM vol. 3, section 4.7).
const (
	PF_PRESENT = 1 << 0
	PF_WRITE   = 1 << 1
	PF_USER    = 1 << 2
)

/// Dispatch decodes one trap frame taken for process p/thread and acts
/// on it: resolves page faults through the address space, hands
/// syscalls to Syscall, and dooms the process on any other exception.
func Dispatch(tf *hal.IntrFrame_t, p *proc.Proc_t) {
	switch tf.Vector {
	case VEC_PF:
		err := p.Vm.Pgfault(tf.Cr2, tf.ErrorNo)
		if err != 0 {
			p.Doom()
		}
	case VEC_SYSCALL:
		ret := Syscall(p, &tf.Regs)
		tf.Regs[REG_RET] = uintptr(ret)
	default:
		fmt.Printf("pid %d: unhandled exception vector %d\n", p.Pid, tf.Vector)
		caller.Callerdump(1)
		p.Doom()
	}
}

/// Checkdoomed is called at syscall return and after every blocking
/// point; a doomed process never resumes user code, it unwinds straight
/// to Proc_exit.
func Checkdoomed(p *proc.Proc_t) bool {
	if p.IsDoomed() {
		p.Proc_exit(-int(defs.EPERM))
		return true
	}
	return false
}
