package fs

import (
	"eduos/bounds"
	"eduos/defs"
	"eduos/hal"
	"eduos/res"
)

const (
	dirNameMax = 28
	direntSize = dirNameMax + 4 // name + int32 inode number
	dirPerSect = hal.SECTSZ / direntSize

	// SYMLOOP_MAX bounds how many symlinks Namei will chase while
	// resolving one path, matching the limit most Unix-like systems use.
	SYMLOOP_MAX = 8
)

func encodeDirent(buf []uint8, name string, ino int) {
	for i := range buf[:dirNameMax] {
		buf[i] = 0
	}
	copy(buf[:dirNameMax], name)
	buf[dirNameMax] = uint8(ino)
	buf[dirNameMax+1] = uint8(ino >> 8)
	buf[dirNameMax+2] = uint8(ino >> 16)
	buf[dirNameMax+3] = uint8(ino >> 24)
}

func decodeDirent(buf []uint8) (string, int) {
	n := 0
	for n < dirNameMax && buf[n] != 0 {
		n++
	}
	name := string(buf[:n])
	ino := int(buf[dirNameMax]) | int(buf[dirNameMax+1])<<8 |
		int(buf[dirNameMax+2])<<16 | int(buf[dirNameMax+3])<<24
	return name, ino
}

/// Dir_lookup scans dirino's entries for name, returning its inode number.
func (fs *Fs_t) Dir_lookup(dirino int, name string) (int, defs.Err_t) {
	in := fs.Iget(dirino)
	if in.Ftype != defs.INODE_DIR {
		return 0, -defs.ENOTDIR
	}
	nsect := int((in.Size + hal.SECTSZ - 1) / hal.SECTSZ)
	for s := 0; s < nsect; s++ {
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_DIR_T_ILOOKUP)) {
			return 0, -defs.ENOHEAP
		}
		sect, err := fs.bmap(0, dirino, s, false)
		if err != 0 {
			continue
		}
		b := fs.cache.Get(sect)
		b.Lock()
		for e := 0; e < dirPerSect; e++ {
			off := e * direntSize
			nm, ino := decodeDirent(b.Data[off : off+direntSize])
			if ino != 0 && nm == name {
				b.Unlock()
				fs.cache.Put(b)
				return ino, 0
			}
		}
		b.Unlock()
		fs.cache.Put(b)
	}
	return 0, -defs.ENOENT
}

/// Dir_add inserts (name -> ino) into dirino, reusing a free slot if one
/// exists, growing the directory by one sector otherwise.
func (fs *Fs_t) Dir_add(txn uint64, dirino int, name string, ino int) defs.Err_t {
	if len(name) > dirNameMax {
		return -defs.ENAMETOOLONG
	}
	if existing, err := fs.Dir_lookup(dirino, name); err == 0 && existing != 0 {
		return -defs.EEXIST
	}
	in := fs.Iget(dirino)
	nsect := int((in.Size + hal.SECTSZ - 1) / hal.SECTSZ)
	for s := 0; s < nsect; s++ {
		sect, _ := fs.bmap(txn, dirino, s, true)
		b := fs.cache.Get(sect)
		b.Lock()
		for e := 0; e < dirPerSect; e++ {
			off := e * direntSize
			_, existIno := decodeDirent(b.Data[off : off+direntSize])
			if existIno == 0 {
				old := b.Data
				encodeDirent(b.Data[off:off+direntSize], name, ino)
				img := b.Data
				b.Unlock()
				fs.cache.Put(b)
				fs.wal.Log_write(txn, sect, old[:], img[:])
				return 0
			}
		}
		b.Unlock()
		fs.cache.Put(b)
	}
	// no free slot: grow by one sector of fresh dirents
	var zero [hal.SECTSZ]uint8
	encodeDirent(zero[:direntSize], name, ino)
	_, err := fs.Iwrite(txn, dirino, int(in.Size), zero[:])
	return err
}

/// Dir_remove clears name's entry in dirino, if present.
func (fs *Fs_t) Dir_remove(txn uint64, dirino int, name string) defs.Err_t {
	in := fs.Iget(dirino)
	nsect := int((in.Size + hal.SECTSZ - 1) / hal.SECTSZ)
	for s := 0; s < nsect; s++ {
		sect, err := fs.bmap(0, dirino, s, false)
		if err != 0 {
			continue
		}
		b := fs.cache.Get(sect)
		b.Lock()
		for e := 0; e < dirPerSect; e++ {
			off := e * direntSize
			nm, ino := decodeDirent(b.Data[off : off+direntSize])
			if ino != 0 && nm == name {
				old := b.Data
				encodeDirent(b.Data[off:off+direntSize], "", 0)
				img := b.Data
				b.Unlock()
				fs.cache.Put(b)
				fs.wal.Log_write(txn, sect, old[:], img[:])
				return 0
			}
		}
		b.Unlock()
		fs.cache.Put(b)
	}
	return -defs.ENOENT
}

/// Dir_empty reports whether dirino holds only "." and "..".
func (fs *Fs_t) Dir_empty(dirino int) bool {
	in := fs.Iget(dirino)
	nsect := int((in.Size + hal.SECTSZ - 1) / hal.SECTSZ)
	for s := 0; s < nsect; s++ {
		sect, err := fs.bmap(0, dirino, s, false)
		if err != 0 {
			continue
		}
		b := fs.cache.Get(sect)
		b.Lock()
		for e := 0; e < dirPerSect; e++ {
			off := e * direntSize
			nm, ino := decodeDirent(b.Data[off : off+direntSize])
			if ino != 0 && nm != "." && nm != ".." {
				b.Unlock()
				fs.cache.Put(b)
				return false
			}
		}
		b.Unlock()
		fs.cache.Put(b)
	}
	return true
}

/// Dir_mkinit populates a freshly allocated directory inode with "." and
/// ".." entries pointing at itself and parent respectively.
func (fs *Fs_t) Dir_mkinit(txn uint64, dirino, parent int) defs.Err_t {
	if err := fs.Dir_add(txn, dirino, ".", dirino); err != 0 {
		return err
	}
	return fs.Dir_add(txn, dirino, "..", parent)
}
