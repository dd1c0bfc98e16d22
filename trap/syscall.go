package trap

import (
	"eduos/defs"
	"eduos/fd"
	"eduos/fdops"
	"eduos/fs"
	"eduos/mem"
	"eduos/proc"
	"eduos/stat"
	"eduos/thread"
	"eduos/ustr"
	"eduos/vm"
)

// Register slot assignment within hal.IntrFrame_t.Regs: argument
// registers first, syscall number and return value last, matching how
// the adaptation layer's trap stub saves them off the simulated
// interrupt frame.
const (
	REG_ARG0 = iota
	REG_ARG1
	REG_ARG2
	REG_ARG3
	REG_ARG4
	REG_NR
	REG_RET
)

// Syscall numbers. Far fewer than a full POSIX surface -- only the
// operations the rest of this kernel actually implements get a number.
const (
	SYS_READ = iota
	SYS_WRITE
	SYS_OPEN
	SYS_CLOSE
	SYS_LSEEK
	SYS_MKDIR
	SYS_UNLINK
	SYS_RMDIR
	SYS_RENAME
	SYS_FORK
	SYS_EXEC
	SYS_WAIT
	SYS_EXIT
	SYS_MMAP
	SYS_MUNMAP
	SYS_CHDIR
	SYS_SBRK
	SYS_FSTAT
	SYS_STAT
)

/// FS is the mounted filesystem every syscall resolves paths against; it
/// is set once at boot by cmd/kernel before any process runs.
var FS *fs.Fs_t

/// Sched is the thread scheduler Fork spawns new threads on; it too is
/// set once at boot.
var Sched *thread.Scheduler_t

func readPath(p *proc.Proc_t, uva int) (string, defs.Err_t) {
	s, err := p.Vm.Userstr(uva, 4096)
	if err != 0 {
		return "", err
	}
	return string(s), 0
}

func toUstr(s string) ustr.Ustr {
	return ustr.Ustr(s)
}

// permsOf maps the syscall-level mmap protection bits (bit 1 = writable,
// matching PROT_WRITE's position in the Linux/BSD ABI this kernel's libc
// would target) onto the PTE bits vm.Vm_t.Mmap expects.
func permsOf(prot int) mem.Pa_t {
	perms := mem.PTE_P | mem.PTE_U
	if prot&0x2 != 0 {
		perms |= mem.PTE_W
	}
	return perms
}

/// Syscall dispatches one system call numbered by regs[REG_NR], reading
/// its arguments out of regs[REG_ARG0:REG_ARG4] and returning the value
/// to place in regs[REG_RET] (a negative defs.Err_t on failure, by
/// convention shared with every other kernel entry point).
func Syscall(p *proc.Proc_t, regs *[15]uintptr) int {
	start := p.Accnt.Now()
	defer func() { p.Accnt.Systadd(p.Accnt.Now() - start) }()

	nr := int(regs[REG_NR])
	a0 := int(regs[REG_ARG0])
	a1 := int(regs[REG_ARG1])
	a2 := int(regs[REG_ARG2])

	switch nr {
	case SYS_READ:
		return sysReadwrite(p, a0, a1, a2, false)
	case SYS_WRITE:
		return sysReadwrite(p, a0, a1, a2, true)
	case SYS_OPEN:
		return sysOpen(p, a0, a1, a2)
	case SYS_CLOSE:
		return int(p.Fdclose(a0))
	case SYS_LSEEK:
		return sysLseek(p, a0, a1, a2)
	case SYS_MKDIR:
		return sysMkdir(p, a0, a1)
	case SYS_UNLINK:
		return sysUnlink(p, a0, false)
	case SYS_RMDIR:
		return sysUnlink(p, a0, true)
	case SYS_RENAME:
		return sysRename(p, a0, a1)
	case SYS_FORK:
		return sysFork(p)
	case SYS_EXEC:
		return sysExec(p, a0)
	case SYS_WAIT:
		return sysWait(p, a0)
	case SYS_EXIT:
		p.Proc_exit(a0)
		return 0
	case SYS_MMAP:
		return sysMmap(p, regs)
	case SYS_MUNMAP:
		return int(p.Vm.Munmap(a0, a1))
	case SYS_CHDIR:
		return sysChdir(p, a0)
	case SYS_SBRK:
		return 0
	case SYS_FSTAT:
		return sysFstat(p, a0, a1)
	case SYS_STAT:
		return sysStat(p, a0, a1)
	default:
		return -int(defs.EINVAL)
	}
}

func sysReadwrite(p *proc.Proc_t, fdnum, uva, sz int, write bool) int {
	f, ok := p.Fdget(fdnum)
	if !ok {
		return -int(defs.EBADF)
	}
	ub := p.Vm.Mkuserbuf(uva, sz)
	var n int
	var err defs.Err_t
	if write {
		n, err = f.Fops.Write(ub)
	} else {
		n, err = f.Fops.Read(ub)
	}
	if err != 0 {
		return -int(err)
	}
	return n
}

func sysOpen(p *proc.Proc_t, pathva, flags, mode int) int {
	path, err := readPath(p, pathva)
	if err != 0 {
		return -int(err)
	}
	nf, err := FS.Fs_open(toUstr(path), flags, mode, p.Cwd, 0, 0)
	if err != 0 {
		return -int(err)
	}
	fdnum, err := p.Fdadd(nf)
	if err != 0 {
		fd.Close_panic(nf)
		return -int(err)
	}
	return fdnum
}

func sysLseek(p *proc.Proc_t, fdnum, off, whence int) int {
	f, ok := p.Fdget(fdnum)
	if !ok {
		return -int(defs.EBADF)
	}
	n, err := f.Fops.Lseek(off, whence)
	if err != 0 {
		return -int(err)
	}
	return n
}

func sysMkdir(p *proc.Proc_t, pathva, mode int) int {
	path, err := readPath(p, pathva)
	if err != 0 {
		return -int(err)
	}
	return -int(FS.Fs_mkdir(toUstr(path), mode, p.Cwd))
}

func sysUnlink(p *proc.Proc_t, pathva int, isdir bool) int {
	path, err := readPath(p, pathva)
	if err != 0 {
		return -int(err)
	}
	return -int(FS.Fs_unlink(toUstr(path), p.Cwd, isdir))
}

func sysRename(p *proc.Proc_t, oldva, newva int) int {
	oldp, err := readPath(p, oldva)
	if err != 0 {
		return -int(err)
	}
	newp, err := readPath(p, newva)
	if err != 0 {
		return -int(err)
	}
	return -int(FS.Fs_rename(toUstr(oldp), toUstr(newp), p.Cwd))
}

func sysFork(p *proc.Proc_t) int {
	child, err := p.Proc_fork(Sched)
	if err != 0 {
		return -int(err)
	}
	return int(child.Pid)
}

func sysExec(p *proc.Proc_t, pathva int) int {
	path, err := readPath(p, pathva)
	if err != 0 {
		return -int(err)
	}
	resolve := func(path string) (int, defs.Err_t) {
		return FS.Namei(toUstr(path))
	}
	return -int(p.Proc_exec(path, resolve))
}

func sysWait(p *proc.Proc_t, pid int) int {
	_, status, err := p.Proc_wait(defs.Pid_t(pid))
	if err != 0 {
		return -int(err)
	}
	return status
}

func sysMmap(p *proc.Proc_t, regs *[15]uintptr) int {
	addrhint := int(regs[REG_ARG0])
	length := int(regs[REG_ARG1])
	prot := int(regs[REG_ARG2])
	flags := int(regs[REG_ARG3])
	fdnum := int(regs[REG_ARG4])

	var fops fdops.Fdops_i
	if flags&vm.MAP_ANON == 0 {
		f, ok := p.Fdget(fdnum)
		if !ok {
			return -int(defs.EBADF)
		}
		fops = f.Fops
	}
	va, err := p.Vm.Mmap(addrhint, length, permsOf(prot), flags, fops, 0, nil)
	if err != 0 {
		return -int(err)
	}
	return va
}

func sysFstat(p *proc.Proc_t, fdnum, statva int) int {
	f, ok := p.Fdget(fdnum)
	if !ok {
		return -int(defs.EBADF)
	}
	var st stat.Stat_t
	if err := f.Fops.Fstat(&st); err != 0 {
		return -int(err)
	}
	return copyoutStat(p, statva, &st)
}

func sysStat(p *proc.Proc_t, pathva, statva int) int {
	path, err := readPath(p, pathva)
	if err != 0 {
		return -int(err)
	}
	nf, err := FS.Fs_open(toUstr(path), defs.O_RDONLY, 0, p.Cwd, 0, 0)
	if err != 0 {
		return -int(err)
	}
	defer nf.Fops.Close()
	var st stat.Stat_t
	if err := nf.Fops.Fstat(&st); err != 0 {
		return -int(err)
	}
	return copyoutStat(p, statva, &st)
}

func copyoutStat(p *proc.Proc_t, uva int, st *stat.Stat_t) int {
	buf := st.Bytes()
	ub := p.Vm.Mkuserbuf(uva, len(buf))
	n, err := ub.Uiowrite(buf)
	if err != 0 {
		return -int(err)
	}
	return n
}

func sysChdir(p *proc.Proc_t, pathva int) int {
	path, err := readPath(p, pathva)
	if err != 0 {
		return -int(err)
	}
	nf, err := FS.Fs_open(toUstr(path), defs.O_RDONLY|defs.O_DIRECTORY, 0, p.Cwd, 0, 0)
	if err != 0 {
		return -int(err)
	}
	canon := p.Cwd.Canonicalpath(toUstr(path))
	p.Cwd.Lock()
	p.Cwd.Fd = nf
	p.Cwd.Path = canon
	p.Cwd.Unlock()
	return 0
}
