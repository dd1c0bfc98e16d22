package fs

import (
	"sync"

	"eduos/defs"
	"eduos/fdops"
	"eduos/mem"
)

/// fsFops_t is the Fdops_i implementation backing every regular file and
/// directory descriptor Fs_open returns. off tracks the descriptor's
/// private seek position; the inode itself carries no notion of it.
type fsFops_t struct {
	sync.Mutex
	fs  *Fs_t
	ino int
	off int
}

// Close drops this descriptor's reference on the inode. If the inode
// was unlinked while still open and this was the last descriptor, its
// blocks are freed now -- the deferred half of Fs_unlink/Fs_rename's
// reference-counted free.
func (f *fsFops_t) Close() defs.Err_t {
	if f.fs.opens.unref(f.ino) {
		txn := f.fs.wal.Begin()
		f.fs.ifree(txn, f.ino)
		f.fs.wal.Commit(txn)
	}
	return 0
}

func (f *fsFops_t) Fstat(st fdops.StatAdapter_i) defs.Err_t {
	in := f.fs.Iget(f.ino)
	st.Wino(uint(f.ino))
	st.Wsize(uint(in.Size))
	mode := uint(0644)
	if in.Ftype == defs.INODE_DIR {
		mode = 0755 | (1 << 31)
	}
	st.Wmode(mode)
	st.Wrdev(uint(in.Dev))
	return 0
}

func (f *fsFops_t) Lseek(off, whence int) (int, defs.Err_t) {
	f.Lock()
	defer f.Unlock()
	switch whence {
	case defs.SEEK_SET:
		f.off = off
	case defs.SEEK_CUR:
		f.off += off
	case defs.SEEK_END:
		in := f.fs.Iget(f.ino)
		f.off = int(in.Size) + off
	default:
		return 0, -defs.EINVAL
	}
	if f.off < 0 {
		f.off = 0
	}
	return f.off, 0
}

func (f *fsFops_t) Mmapi(off, length int, inherit bool) ([]fdops.MmapInfo_t, defs.Err_t) {
	var infos []fdops.MmapInfo_t
	aligned := off - off%mem.PGSIZE
	for o := aligned; o < off+length; o += mem.PGSIZE {
		_, pa, err := f.Mmapfile(o)
		if err != nil {
			return nil, -defs.EIO
		}
		infos = append(infos, fdops.MmapInfo_t{Pgoff: (o - aligned) / mem.PGSIZE, Phys: uintptr(pa)})
	}
	return infos, 0
}

func (f *fsFops_t) Pathi() (string, defs.Err_t) {
	return "", -defs.EINVAL
}

func (f *fsFops_t) Read(io fdops.Userio_i) (int, defs.Err_t) {
	f.Lock()
	off := f.off
	f.Unlock()
	n, err := f.Pread(io, off)
	if err == 0 {
		f.Lock()
		f.off += n
		f.Unlock()
	}
	return n, err
}

func (f *fsFops_t) Pread(io fdops.Userio_i, offset int) (int, defs.Err_t) {
	in := f.fs.Iget(f.ino)
	if in.Ftype == defs.INODE_DIR {
		return 0, -defs.EISDIR
	}
	buf := make([]uint8, io.Remain())
	n, err := f.fs.Iread(f.ino, offset, buf)
	if err != 0 {
		return 0, err
	}
	wrote, werr := io.Uiowrite(buf[:n])
	return wrote, werr
}

func (f *fsFops_t) Write(io fdops.Userio_i) (int, defs.Err_t) {
	f.Lock()
	off := f.off
	f.Unlock()
	n, err := f.Pwrite(io, off)
	if err == 0 {
		f.Lock()
		f.off += n
		f.Unlock()
	}
	return n, err
}

func (f *fsFops_t) Pwrite(io fdops.Userio_i, offset int) (int, defs.Err_t) {
	in := f.fs.Iget(f.ino)
	if in.Ftype == defs.INODE_DIR {
		return 0, -defs.EISDIR
	}
	buf := make([]uint8, io.Remain())
	n, err := io.Uioread(buf)
	if err != 0 {
		return 0, err
	}
	txn := f.fs.wal.Begin()
	put, werr := f.fs.Iwrite(txn, f.ino, offset, buf[:n])
	if werr != 0 {
		f.fs.wal.Abort(txn)
		return 0, werr
	}
	f.fs.wal.Commit(txn)
	return put, 0
}

// Reopen is called when fd.Copyfd duplicates a descriptor (fork, or
// handing stdio fds to a new process): the duplicate shares this same
// fsFops_t, so the inode needs one more reference to match the extra
// Close() that duplicate will eventually make.
func (f *fsFops_t) Reopen() defs.Err_t {
	f.fs.opens.ref(f.ino)
	return 0
}

func (f *fsFops_t) Truncate(newlen uint) defs.Err_t {
	txn := f.fs.wal.Begin()
	err := f.fs.Itrunc(txn, f.ino, newlen)
	if err != 0 {
		f.fs.wal.Abort(txn)
		return err
	}
	f.fs.wal.Commit(txn)
	return 0
}

func (f *fsFops_t) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	return fdops.R_READ | fdops.R_WRITE, 0
}
