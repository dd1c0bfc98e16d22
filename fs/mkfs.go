package fs

import (
	"time"

	"eduos/defs"
	"eduos/hal"
)

// Geometry_t describes the sector layout cmd/mkfs lays out on a fresh
// disk image, grounded on src/mkfs.go's nlogblks/ninodeblks/ndatablks
// constants -- here made parameters instead of build-time constants so
// a test or tool can size a small image without editing source.
type Geometry_t struct {
	Loglen    int // sectors reserved for the write-ahead log
	Ninodes   int // inodes (one per sector)
	Ndatasect int // data sectors tracked by the free-map
}

// Mkfs lays out a brand new filesystem image on disk: a superblock,
// an empty write-ahead log region, a zeroed free-map, a zeroed inode
// area, and a root directory inode with "." and ".." entries. It is
// the Go-native equivalent of src/mkfs.go's combination of
// ufs.MkDisk and ufs.BootFS's first Stat of the root inode, collapsed
// into one call since this kernel has no separate bootloader/kernel
// image to splice onto the front of the disk.
func Mkfs(disk hal.Disk_i, g Geometry_t) defs.Err_t {
	sb := &Superblock_t{}
	logstart := 1
	freemapstart := logstart + g.Loglen
	freemaplen := (g.Ndatasect + 512*8 - 1) / (512 * 8)
	if freemaplen == 0 {
		freemaplen = 1
	}
	inodestart := freemapstart + freemaplen
	datastart := inodestart + g.Ninodes
	nsectors := datastart + g.Ndatasect

	sb.SetLogstart(logstart)
	sb.SetLoglen(g.Loglen)
	sb.SetFreemapstart(freemapstart)
	sb.SetFreemaplen(freemaplen)
	sb.SetInodestart(inodestart)
	sb.SetInodelen(g.Ninodes)
	sb.SetDatastart(datastart)
	sb.SetRootinode(2)
	sb.SetNinodes(g.Ninodes)
	sb.SetNsectors(nsectors)

	if disk.Nsect() < nsectors {
		return -defs.ENOSPC
	}
	if err := disk.Write(0, sb.Data[:]); err != nil {
		return -defs.EIO
	}

	var zero [hal.SECTSZ]uint8
	for s := logstart; s < datastart; s++ {
		if err := disk.Write(s, zero[:]); err != nil {
			return -defs.EIO
		}
	}
	if err := disk.Flush(); err != nil {
		return -defs.EIO
	}

	cache := MkCache(disk, 512, 2*time.Second)
	wal := MkWal(&offsetDisk{disk, logstart}, g.Loglen, cache)
	fs := &Fs_t{disk: disk, cache: cache, wal: wal, sb: sb}
	fs.freemap = MkFreemap(cache, freemapstart, freemaplen, g.Ndatasect, datastart)

	txn := wal.Begin()
	// ialloc never considers inode 0 or 1 (it starts scanning at 2),
	// so the root directory always lands at inode 2, matching
	// Superblock_t.Rootinode above.
	rootino, err := fs.ialloc(txn, defs.INODE_DIR)
	if err != 0 {
		wal.Abort(txn)
		return err
	}
	if rootino != sb.Rootinode() {
		wal.Abort(txn)
		return -defs.EINVAL
	}
	in, direct, indirect, dindirect := fs.rawAt(rootino)
	in.Nlink = 2
	fs.putRaw(txn, in, direct, indirect, dindirect)
	if err := fs.Dir_mkinit(txn, rootino, rootino); err != 0 {
		wal.Abort(txn)
		return err
	}
	wal.Commit(txn)

	if err := wal.Checkpoint(); err != 0 {
		return err
	}
	fs.cache.FlushDirty()
	fs.cache.Stop()
	return 0
}
