// Package proc implements the process abstraction: a process control
// block bundling an address space, a file descriptor table, one or more
// kernel threads, and the fork/exec/wait/exit bookkeeping that ties them
// to their parent. It has no teacher file to adapt directly -- the
// retrieved teacher's src/proc package contained only a go.mod -- so its
// shape follows the general idiom visible in mem/vm/fs (Lock_x/Unlock_x
// naming, embedded mutex, Err_t returns) and the process lifecycle
// (proc_new/fork/wait rendezvous) sketched in the wider example pack.
package proc

import (
	"sync"

	"eduos/accnt"
	"eduos/defs"
	"eduos/fd"
	"eduos/limits"
	"eduos/thread"
	"eduos/vm"
)

/// Proc_t is one process: an address space, an open file table, and the
/// set of kernel threads executing on its behalf.
type Proc_t struct {
	sync.Mutex
	Pid     defs.Pid_t
	Name    string
	Cwd     *fd.Cwd_t
	Fds     []*fd.Fd_t
	Fdstart int
	Vm      *vm.Vm_t
	Accnt   *accnt.Accnt_t
	Threads map[defs.Tid_t]*thread.Thread_t

	Parent   *Proc_t
	Children map[defs.Pid_t]*Proc_t
	wait     *Wait_t

	doomed     bool
	exited     bool
	exitstatus int
}

var (
	tableMu   sync.Mutex
	allprocs  = map[defs.Pid_t]*Proc_t{}
	pidgen    defs.Pid_t
)

func nextPid() defs.Pid_t {
	tableMu.Lock()
	defer tableMu.Unlock()
	pidgen++
	return pidgen
}

/// Proc_new creates a fresh process named name, with cwd as its working
/// directory and fds installed as its initial file descriptor table
/// (file descriptor 0/1/2 by convention), and returns it alongside its
/// first thread.
func Proc_new(name string, cwd *fd.Cwd_t, fds []*fd.Fd_t, sched *thread.Scheduler_t) (*Proc_t, *thread.Thread_t, defs.Err_t) {
	tableMu.Lock()
	full := len(allprocs) >= limits.Syslimit.Sysprocs
	tableMu.Unlock()
	if full {
		return nil, nil, -defs.ENOHEAP
	}
	p := &Proc_t{
		Pid:      nextPid(),
		Name:     name,
		Cwd:      cwd,
		Fdstart:  3,
		Accnt:    &accnt.Accnt_t{},
		Threads:  map[defs.Tid_t]*thread.Thread_t{},
		Children: map[defs.Pid_t]*Proc_t{},
		Vm:       &vm.Vm_t{},
	}
	p.Vm.Init()
	p.wait = mkWait(p.Pid)

	p.Fds = make([]*fd.Fd_t, len(fds))
	for i, f := range fds {
		if f == nil {
			continue
		}
		nf, err := fd.Copyfd(f)
		if err != 0 {
			return nil, nil, err
		}
		p.Fds[i] = nf
	}

	tableMu.Lock()
	allprocs[p.Pid] = p
	tableMu.Unlock()

	t := thread.MkThread(thread.NextTid(), p.Pid, thread.PRI_DEFAULT)
	p.Threads[t.Tid] = t
	sched.Spawn(t)
	return p, t, 0
}

/// Lookup returns the process with the given pid, if it exists.
func Lookup(pid defs.Pid_t) (*Proc_t, bool) {
	tableMu.Lock()
	defer tableMu.Unlock()
	p, ok := allprocs[pid]
	return p, ok
}

/// Proc_fork clones p into a new process: a copy-on-write address
/// space (vm.Vm_t.Fork), a duplicated fd table, and one runnable thread
/// executing the same point its parent forked from.
func (p *Proc_t) Proc_fork(sched *thread.Scheduler_t) (*Proc_t, defs.Err_t) {
	p.Lock()
	defer p.Unlock()

	child := &Proc_t{
		Pid:      nextPid(),
		Name:     p.Name,
		Cwd:      p.Cwd,
		Fdstart:  p.Fdstart,
		Accnt:    &accnt.Accnt_t{},
		Threads:  map[defs.Tid_t]*thread.Thread_t{},
		Children: map[defs.Pid_t]*Proc_t{},
		Vm:       p.Vm.Fork(),
		Parent:   p,
	}
	child.wait = mkWait(child.Pid)

	child.Fds = make([]*fd.Fd_t, len(p.Fds))
	for i, f := range p.Fds {
		if f == nil {
			continue
		}
		nf, err := fd.Copyfd(f)
		if err != 0 {
			return nil, err
		}
		child.Fds[i] = nf
	}

	tableMu.Lock()
	allprocs[child.Pid] = child
	tableMu.Unlock()

	p.Children[child.Pid] = child
	p.wait.addChild(child.Pid)

	t := thread.MkThread(thread.NextTid(), child.Pid, thread.PRI_DEFAULT)
	child.Threads[t.Tid] = t
	sched.Spawn(t)
	return child, 0
}

/// Proc_exec replaces p's address space with a fresh one for the
/// executable named by path. Real ELF loading is out of scope for a
/// hosted simulation with no page-fault-served binary image, so this
/// checks that resolve finds path (the inode's type is not checked) and
/// then resets the address space the same way a successful exec would.
func (p *Proc_t) Proc_exec(path string, resolve func(path string) (int, defs.Err_t)) defs.Err_t {
	if resolve != nil {
		if _, err := resolve(path); err != 0 {
			return err
		}
	}
	p.Lock()
	defer p.Unlock()
	p.Vm.Uvmfree()
	p.Vm.Init()
	p.Name = path
	return 0
}

/// Proc_exit tears down p: closes every open descriptor, reparents any
/// live children to init (pid 1, if present), records its exit status
/// for whichever ancestor eventually calls Proc_wait, and wakes it.
func (p *Proc_t) Proc_exit(status int) {
	p.Lock()
	for _, f := range p.Fds {
		if f != nil {
			f.Fops.Close()
		}
	}
	p.exited = true
	p.exitstatus = status
	p.Unlock()

	if init, ok := Lookup(1); ok && init != p {
		for _, c := range p.Children {
			init.Children[c.Pid] = c
			c.Parent = init
			init.wait.addChild(c.Pid)
		}
	}

	if p.Parent != nil {
		p.Parent.wait.deposit(p.Pid, status)
	}

	tableMu.Lock()
	delete(allprocs, p.Pid)
	tableMu.Unlock()
}

/// Proc_wait blocks until the child identified by pid exits (or any
/// child, if pid is -1), returning its pid and exit status.
func (p *Proc_t) Proc_wait(pid defs.Pid_t) (defs.Pid_t, int, defs.Err_t) {
	if pid == -1 {
		return p.wait.waitAny()
	}
	p.Lock()
	_, ok := p.Children[pid]
	p.Unlock()
	if !ok {
		return 0, 0, -defs.ECHILD
	}
	return p.wait.waitFor(pid)
}

/// Doom marks p to die at its next convenient checkpoint (syscall
/// return, page fault) without unwinding it immediately.
func (p *Proc_t) Doom() {
	p.Lock()
	p.doomed = true
	p.Unlock()
}

/// IsDoomed reports whether Doom was called on p.
func (p *Proc_t) IsDoomed() bool {
	p.Lock()
	defer p.Unlock()
	return p.doomed
}

/// Fdadd installs f at the lowest unused descriptor number at or above
/// Fdstart, returning EMFILE if the table is full.
func (p *Proc_t) Fdadd(f *fd.Fd_t) (int, defs.Err_t) {
	p.Lock()
	defer p.Unlock()
	if !limits.Syslimit.Mfspgs.Take() {
		return 0, -defs.ENOHEAP
	}
	for i := p.Fdstart; i < len(p.Fds); i++ {
		if p.Fds[i] == nil {
			p.Fds[i] = f
			return i, 0
		}
	}
	if len(p.Fds) >= limits.Syslimit.Nofile {
		limits.Syslimit.Mfspgs.Give()
		return 0, -defs.EMFILE
	}
	p.Fds = append(p.Fds, f)
	return len(p.Fds) - 1, 0
}

/// Fdget returns the descriptor installed at fdnum, if any.
func (p *Proc_t) Fdget(fdnum int) (*fd.Fd_t, bool) {
	p.Lock()
	defer p.Unlock()
	if fdnum < 0 || fdnum >= len(p.Fds) || p.Fds[fdnum] == nil {
		return nil, false
	}
	return p.Fds[fdnum], true
}

/// Fdclose removes and closes the descriptor at fdnum.
func (p *Proc_t) Fdclose(fdnum int) defs.Err_t {
	p.Lock()
	if fdnum < 0 || fdnum >= len(p.Fds) || p.Fds[fdnum] == nil {
		p.Unlock()
		return -defs.EBADF
	}
	f := p.Fds[fdnum]
	p.Fds[fdnum] = nil
	limits.Syslimit.Mfspgs.Give()
	p.Unlock()
	return f.Fops.Close()
}
