package fs

import (
	"encoding/binary"
	"errors"
	"time"

	"eduos/bounds"
	"eduos/bpath"
	"eduos/defs"
	"eduos/fd"
	"eduos/fdops"
	"eduos/hal"
	"eduos/mem"
	"eduos/res"
	"eduos/ustr"
)

/// Fs_t is the mounted filesystem: a superblock, a write-ahead log, a
/// free-map, and a buffer cache, all layered over one hal.Disk_i. Every
/// other kernel package that touches files goes through Fs_open and the
/// Fdops_i it returns, never through Iread/Iwrite/Dir_* directly.
type Fs_t struct {
	disk    hal.Disk_i
	cache   *Cache_t
	wal     *Wal_t
	sb      *Superblock_t
	freemap *Freemap_t
	opens   *openInodes_t
}

/// StartFS mounts a filesystem image already written by cmd/mkfs on disk,
/// replays its log, and returns a root cwd alongside the mounted Fs_t.
func StartFS(disk hal.Disk_i) (*fd.Cwd_t, *Fs_t, defs.Err_t) {
	var sbbuf [hal.SECTSZ]uint8
	if err := disk.Read(0, sbbuf[:]); err != nil {
		return nil, nil, -defs.EIO
	}
	sb := &Superblock_t{Data: sbbuf}

	cache := MkCache(disk, 512, 2*time.Second)
	wal := MkWal(&offsetDisk{disk, sb.Logstart()}, sb.Loglen(), cache)

	fs := &Fs_t{
		disk:  disk,
		cache: cache,
		wal:   wal,
		sb:    sb,
		opens: mkOpenInodes(),
	}
	fs.freemap = MkFreemap(cache, sb.Freemapstart(), sb.Freemaplen(), sb.Nsectors()-sb.Datastart(), sb.Datastart())

	if err := wal.Recover(); err != 0 {
		return nil, nil, err
	}

	rootfd := fs.rootFd()
	cwd := fd.MkRootCwd(rootfd)
	return cwd, fs, 0
}

/// StopFS flushes all dirty state and halts the cache's background
/// flusher, for a clean shutdown.
func (fs *Fs_t) StopFS() {
	fs.cache.FlushDirty()
	fs.cache.Stop()
}

// offsetDisk rebases sector numbers onto a sub-range of an underlying
// disk, so the write-ahead log's ring buffer can live in the sectors the
// superblock reserves for it without the log package knowing about
// superblock layout.
type offsetDisk struct {
	hal.Disk_i
	base int
}

func (o *offsetDisk) Nsect() int                     { return o.Disk_i.Nsect() - o.base }
func (o *offsetDisk) Read(s int, b []uint8) error     { return o.Disk_i.Read(s+o.base, b) }
func (o *offsetDisk) Write(s int, b []uint8) error    { return o.Disk_i.Write(s+o.base, b) }
func (o *offsetDisk) Flush() error                    { return o.Disk_i.Flush() }

func (fs *Fs_t) rootFd() *fd.Fd_t {
	ino := fs.sb.Rootinode()
	fs.opens.ref(ino)
	f := &fsFops_t{fs: fs, ino: ino}
	return &fd.Fd_t{Fops: f, Perms: fd.FD_READ | fd.FD_WRITE}
}

/// Namei resolves an already-canonical absolute path to an inode number,
/// for callers outside this package that only need existence/identity
/// (package trap's exec path validation, for instance).
func (fs *Fs_t) Namei(p ustr.Ustr) (int, defs.Err_t) {
	return fs.namei(p)
}

// namei walks p from the root, chasing symlinks up to SYMLOOP_MAX times,
// and returns the inode number of the final component.
func (fs *Fs_t) namei(p ustr.Ustr) (int, defs.Err_t) {
	ino := fs.sb.Rootinode()
	comps := splitPath(p)
	chases := 0
	for i := 0; i < len(comps); i++ {
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_DIR_T_ILOOKUP)) {
			return 0, -defs.ENOHEAP
		}
		next, err := fs.Dir_lookup(ino, string(comps[i]))
		if err != 0 {
			return 0, err
		}
		in := fs.Iget(next)
		if in.Ftype == defs.INODE_SYMLINK {
			chases++
			if chases > SYMLOOP_MAX {
				return 0, -defs.EMLINK
			}
			target := make([]uint8, in.Size)
			fs.Iread(next, 0, target)
			tstr := ustr.Ustr(target)
			var base []ustr.Ustr
			if !tstr.IsAbsolute() {
				base = comps[:i]
			}
			rest := append(append(append([]ustr.Ustr{}, base...), splitPath(tstr)...), comps[i+1:]...)
			comps = rest
			i = -1
			ino = fs.sb.Rootinode()
			continue
		}
		ino = next
	}
	return ino, 0
}

func splitPath(p ustr.Ustr) []ustr.Ustr {
	cp := bpath.Canonicalize(p)
	var out []ustr.Ustr
	start := 1 // skip leading '/'
	for i := 1; i <= len(cp); i++ {
		if i == len(cp) || cp[i] == '/' {
			if i > start {
				out = append(out, cp[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func (fs *Fs_t) parentOf(p ustr.Ustr) (int, ustr.Ustr, defs.Err_t) {
	comps := splitPath(p)
	if len(comps) == 0 {
		return 0, nil, -defs.EINVAL
	}
	dirino := fs.sb.Rootinode()
	for _, c := range comps[:len(comps)-1] {
		next, err := fs.Dir_lookup(dirino, string(c))
		if err != 0 {
			return 0, nil, err
		}
		dirino = next
	}
	return dirino, comps[len(comps)-1], 0
}

func (fs *Fs_t) ialloc(txn uint64, ftype defs.Ftype_t) (int, defs.Err_t) {
	for i := 2; i < fs.sb.Ninodes(); i++ {
		in, direct, indirect, dindirect := fs.rawAt(i)
		if in.Ftype == defs.INODE_INVALID {
			in.Ftype = ftype
			in.Nlink = 0
			in.Size = 0
			fs.putRaw(txn, in, direct, indirect, dindirect)
			return i, 0
		}
	}
	return 0, -defs.ENOSPC
}

func (fs *Fs_t) ifree(txn uint64, ino int) {
	in, direct, indirect, dindirect := fs.rawAt(ino)
	fs.freeBlocks(direct, indirect, dindirect)
	in.Ftype = defs.INODE_INVALID
	in.Nlink = 0
	in.Size = 0
	for i := range direct {
		direct[i] = 0
	}
	indirect = 0
	dindirect = 0
	fs.putRaw(txn, in, direct, indirect, dindirect)
}

// freeBlocks returns every sector an inode's direct, indirect, and
// doubly-indirect pointers reference back to the free-map, including
// the indirect/doubly-indirect pointer blocks themselves. Called once,
// by ifree, right before the inode record itself is zeroed.
func (fs *Fs_t) freeBlocks(direct [NDIRECT]int32, indirect, dindirect int32) {
	for _, d := range direct {
		if d != 0 {
			fs.freemap.Free(int(d))
		}
	}
	if indirect != 0 {
		fs.freeIndirect(int(indirect))
		fs.freemap.Free(int(indirect))
	}
	if dindirect != 0 {
		b := fs.cache.Get(int(dindirect))
		b.Lock()
		var ptrs [NINDIRECT]int32
		for i := range ptrs {
			ptrs[i] = int32(binary.LittleEndian.Uint32(b.Data[i*4:]))
		}
		b.Unlock()
		fs.cache.Put(b)
		for _, p := range ptrs {
			if p != 0 {
				fs.freeIndirect(int(p))
				fs.freemap.Free(int(p))
			}
		}
		fs.freemap.Free(int(dindirect))
	}
}

func (fs *Fs_t) freeIndirect(indsect int) {
	b := fs.cache.Get(indsect)
	b.Lock()
	var ptrs [NINDIRECT]int32
	for i := range ptrs {
		ptrs[i] = int32(binary.LittleEndian.Uint32(b.Data[i*4:]))
	}
	b.Unlock()
	fs.cache.Put(b)
	for _, p := range ptrs {
		if p != 0 {
			fs.freemap.Free(int(p))
		}
	}
}

/// Fs_open resolves p (creating it first if O_CREAT is set and it does
/// not exist) and returns an open file descriptor.
func (fs *Fs_t) Fs_open(paths ustr.Ustr, flags int, mode int, cwd *fd.Cwd_t, major, minor int) (*fd.Fd_t, defs.Err_t) {
	p := cwd.Canonicalpath(paths)
	ino, err := fs.namei(p)
	if err != 0 {
		if err != -defs.ENOENT || flags&defs.O_CREAT == 0 {
			return nil, err
		}
		dirino, name, perr := fs.parentOf(p)
		if perr != 0 {
			return nil, perr
		}
		txn := fs.wal.Begin()
		newino, cerr := fs.ialloc(txn, defs.INODE_FILE)
		if cerr != 0 {
			fs.wal.Abort(txn)
			return nil, cerr
		}
		in, direct, indirect, dindirect := fs.rawAt(newino)
		in.Nlink = 1
		fs.putRaw(txn, in, direct, indirect, dindirect)
		if aerr := fs.Dir_add(txn, dirino, string(name), newino); aerr != 0 {
			fs.wal.Abort(txn)
			return nil, aerr
		}
		fs.wal.Commit(txn)
		ino = newino
	} else if flags&defs.O_EXCL != 0 && flags&defs.O_CREAT != 0 {
		return nil, -defs.EEXIST
	}

	in := fs.Iget(ino)
	if flags&defs.O_DIRECTORY != 0 && in.Ftype != defs.INODE_DIR {
		return nil, -defs.ENOTDIR
	}
	if in.Ftype == defs.INODE_DIR && flags&(defs.O_WRONLY|defs.O_RDWR) != 0 {
		return nil, -defs.EISDIR
	}
	if flags&defs.O_TRUNC != 0 && in.Ftype == defs.INODE_FILE {
		txn := fs.wal.Begin()
		fs.Itrunc(txn, ino, 0)
		fs.wal.Commit(txn)
	}

	fs.opens.ref(ino)
	f := &fsFops_t{fs: fs, ino: ino}
	if flags&defs.O_APPEND != 0 {
		f.off = int(fs.Iget(ino).Size)
	}
	perms := 0
	switch flags & (defs.O_RDONLY | defs.O_WRONLY | defs.O_RDWR) {
	case defs.O_RDONLY:
		perms = fd.FD_READ
	case defs.O_WRONLY:
		perms = fd.FD_WRITE
	case defs.O_RDWR:
		perms = fd.FD_READ | fd.FD_WRITE
	}
	return &fd.Fd_t{Fops: f, Perms: perms}, 0
}

/// Fs_mkdir creates a new, empty directory at p.
func (fs *Fs_t) Fs_mkdir(paths ustr.Ustr, mode int, cwd *fd.Cwd_t) defs.Err_t {
	p := cwd.Canonicalpath(paths)
	if _, err := fs.namei(p); err == 0 {
		return -defs.EEXIST
	}
	dirino, name, err := fs.parentOf(p)
	if err != 0 {
		return err
	}
	txn := fs.wal.Begin()
	newino, cerr := fs.ialloc(txn, defs.INODE_DIR)
	if cerr != 0 {
		fs.wal.Abort(txn)
		return cerr
	}
	in, direct, indirect, dindirect := fs.rawAt(newino)
	in.Nlink = 2
	fs.putRaw(txn, in, direct, indirect, dindirect)
	if err := fs.Dir_mkinit(txn, newino, dirino); err != 0 {
		fs.wal.Abort(txn)
		return err
	}
	if err := fs.Dir_add(txn, dirino, string(name), newino); err != 0 {
		fs.wal.Abort(txn)
		return err
	}
	fs.wal.Commit(txn)
	return 0
}

/// Fs_unlink removes a name from its parent directory, freeing the inode
/// once its link count reaches zero. Directories may only be unlinked
/// through this call when isdir is true and the directory is empty.
func (fs *Fs_t) Fs_unlink(paths ustr.Ustr, cwd *fd.Cwd_t, isdir bool) defs.Err_t {
	p := cwd.Canonicalpath(paths)
	ino, err := fs.namei(p)
	if err != 0 {
		return err
	}
	in := fs.Iget(ino)
	if isdir && in.Ftype != defs.INODE_DIR {
		return -defs.ENOTDIR
	}
	if !isdir && in.Ftype == defs.INODE_DIR {
		return -defs.EISDIR
	}
	if in.Ftype == defs.INODE_DIR && !fs.Dir_empty(ino) {
		return -defs.ENOTEMPTY
	}
	dirino, name, perr := fs.parentOf(p)
	if perr != 0 {
		return perr
	}
	txn := fs.wal.Begin()
	if err := fs.Dir_remove(txn, dirino, string(name)); err != 0 {
		fs.wal.Abort(txn)
		return err
	}
	in.Nlink--
	if in.Nlink <= 0 && !fs.opens.markUnlinked(ino) {
		fs.ifree(txn, ino)
	} else {
		_, direct, indirect, dindirect := fs.rawAt(ino)
		fs.putRaw(txn, in, direct, indirect, dindirect)
	}
	fs.wal.Commit(txn)
	return 0
}

/// Fs_rename moves oldp to newp, both resolved relative to cwd.
func (fs *Fs_t) Fs_rename(oldp, newp ustr.Ustr, cwd *fd.Cwd_t) defs.Err_t {
	op := cwd.Canonicalpath(oldp)
	np := cwd.Canonicalpath(newp)
	ino, err := fs.namei(op)
	if err != 0 {
		return err
	}
	olddir, oldname, err := fs.parentOf(op)
	if err != 0 {
		return err
	}
	newdir, newname, err := fs.parentOf(np)
	if err != 0 {
		return err
	}
	txn := fs.wal.Begin()
	if existing, eerr := fs.Dir_lookup(newdir, string(newname)); eerr == 0 {
		fs.Dir_remove(txn, newdir, string(newname))
		in := fs.Iget(existing)
		in.Nlink--
		if in.Nlink <= 0 && !fs.opens.markUnlinked(existing) {
			fs.ifree(txn, existing)
		} else if in.Nlink > 0 {
			_, direct, indirect, dindirect := fs.rawAt(existing)
			fs.putRaw(txn, in, direct, indirect, dindirect)
		}
	}
	if err := fs.Dir_remove(txn, olddir, string(oldname)); err != 0 {
		fs.wal.Abort(txn)
		return err
	}
	if err := fs.Dir_add(txn, newdir, string(newname), ino); err != 0 {
		fs.wal.Abort(txn)
		return err
	}
	fs.wal.Commit(txn)
	return 0
}

/// Fs_stat fills in st for p.
func (fs *Fs_t) Fs_stat(paths ustr.Ustr, st fdops.StatAdapter_i, cwd *fd.Cwd_t) defs.Err_t {
	p := cwd.Canonicalpath(paths)
	ino, err := fs.namei(p)
	if err != 0 {
		return err
	}
	in := fs.Iget(ino)
	st.Wino(uint(ino))
	st.Wsize(uint(in.Size))
	mode := uint(0644)
	if in.Ftype == defs.INODE_DIR {
		mode = 0755 | (1 << 31)
	}
	st.Wmode(mode)
	st.Wdev(0)
	st.Wrdev(uint(in.Dev))
	return 0
}

/// Fs_sync flushes dirty buffer-cache blocks to disk without forcing a
/// write-ahead log checkpoint.
func (fs *Fs_t) Fs_sync() defs.Err_t {
	fs.cache.FlushDirty()
	return 0
}

/// Fs_syncapply checkpoints the write-ahead log, applying and flushing
/// every pending committed write.
func (fs *Fs_t) Fs_syncapply() defs.Err_t {
	return fs.wal.Checkpoint()
}

/// MkRootCwd returns a Cwd_t anchored at the filesystem root.
func (fs *Fs_t) MkRootCwd() *fd.Cwd_t {
	return fd.MkRootCwd(fs.rootFd())
}

/// Mmapfile reads the page-sized chunk at byte offset off of ino into a
/// fresh physical page, for use by a file-backed memory mapping.
func (f *fsFops_t) Mmapfile(off int) (*mem.Pg_t, mem.Pa_t, error) {
	pg, pa, ok := mem.Physmem.Refpg_new()
	if !ok {
		return nil, 0, errors.New("out of physical memory")
	}
	bpg := mem.Pg2bytes(pg)
	f.fs.Iread(f.ino, off, bpg[:])
	return pg, pa, nil
}
