package fs

import (
	"encoding/binary"

	"eduos/bounds"
	"eduos/defs"
	"eduos/hal"
	"eduos/res"
)

const (
	NDIRECT   = 12
	NINDIRECT = hal.SECTSZ / 4 // pointers per indirect block
)

// On-disk inode layout within one 512-byte sector:
//   byte 0:       Ftype_t
//   bytes 1-4:    Nlink (int32)
//   bytes 5-12:   Size (int64)
//   bytes 13-16:  Major/minor device (for device files)
//   bytes 17-:    NDIRECT direct pointers (int32 each)
//   then:         one singly-indirect pointer
//   then:         one doubly-indirect pointer
const (
	inoFtype  = 0
	inoNlink  = 1
	inoSize   = 5
	inoDev    = 13
	inoDirect = 17
)

func inoIndirectOff() int  { return inoDirect + NDIRECT*4 }
func inoDindirectOff() int { return inoIndirectOff() + 4 }

/// Inode_t is a cached copy of one on-disk inode. Fs_t.opens, not this
/// struct, is what's actually shared/refcounted across concurrent
/// openers -- every Iget/rawAt call decodes a fresh copy from the
/// buffer cache, so there is nothing here for a per-inode lock to
/// protect.
type Inode_t struct {
	Ino   int
	Ftype defs.Ftype_t
	Nlink int
	Size  int64
	Dev   int
}

func inoSector(sb *Superblock_t, ino int) int {
	const perSector = 1
	return sb.Inodestart() + ino/perSector
}

func encodeInode(buf []uint8, in *Inode_t, direct [NDIRECT]int32, indirect, dindirect int32) {
	buf[inoFtype] = uint8(in.Ftype)
	binary.LittleEndian.PutUint32(buf[inoNlink:], uint32(in.Nlink))
	binary.LittleEndian.PutUint64(buf[inoSize:], uint64(in.Size))
	binary.LittleEndian.PutUint32(buf[inoDev:], uint32(in.Dev))
	for i, d := range direct {
		binary.LittleEndian.PutUint32(buf[inoDirect+i*4:], uint32(d))
	}
	binary.LittleEndian.PutUint32(buf[inoIndirectOff():], uint32(indirect))
	binary.LittleEndian.PutUint32(buf[inoDindirectOff():], uint32(dindirect))
}

func decodeInode(buf []uint8, ino int) (*Inode_t, [NDIRECT]int32, int32, int32) {
	in := &Inode_t{Ino: ino}
	in.Ftype = defs.Ftype_t(buf[inoFtype])
	in.Nlink = int(int32(binary.LittleEndian.Uint32(buf[inoNlink:])))
	in.Size = int64(binary.LittleEndian.Uint64(buf[inoSize:]))
	in.Dev = int(int32(binary.LittleEndian.Uint32(buf[inoDev:])))
	var direct [NDIRECT]int32
	for i := range direct {
		direct[i] = int32(binary.LittleEndian.Uint32(buf[inoDirect+i*4:]))
	}
	indirect := int32(binary.LittleEndian.Uint32(buf[inoIndirectOff():]))
	dindirect := int32(binary.LittleEndian.Uint32(buf[inoDindirectOff():]))
	return in, direct, indirect, dindirect
}

/// Iget loads inode ino from the inode area into memory.
func (fs *Fs_t) Iget(ino int) *Inode_t {
	sect := inoSector(fs.sb, ino)
	b := fs.cache.Get(sect)
	defer fs.cache.Put(b)
	b.Lock()
	defer b.Unlock()
	in, _, _, _ := decodeInode(b.Data[:], ino)
	return in
}

// rawAt reads the full on-disk record for ino, for bmap/truncate use.
func (fs *Fs_t) rawAt(ino int) (*Inode_t, [NDIRECT]int32, int32, int32) {
	sect := inoSector(fs.sb, ino)
	b := fs.cache.Get(sect)
	defer fs.cache.Put(b)
	b.Lock()
	defer b.Unlock()
	return decodeInode(b.Data[:], ino)
}

// putRaw writes in's full record into its inode sector's live cache
// block (the same immediate-mutation-plus-log pattern bmapIndirect uses
// for indirect-block pointers, and Iwrite uses for data sectors), so a
// fs.rawAt call later in the same transaction -- before txn ever
// commits -- observes the update instead of re-decoding a stale image.
func (fs *Fs_t) putRaw(txn uint64, in *Inode_t, direct [NDIRECT]int32, indirect, dindirect int32) {
	sect := inoSector(fs.sb, in.Ino)
	b := fs.cache.Get(sect)
	b.Lock()
	old := b.Data
	encodeInode(b.Data[:], in, direct, indirect, dindirect)
	img := b.Data
	b.Unlock()
	fs.cache.Put(b)
	fs.wal.Log_write(txn, sect, old[:], img[:])
}

// bmap returns the data sector for logical block lbn of ino, allocating
// it (and any indirect blocks needed to address it) if alloc is true and
// it does not yet exist.
func (fs *Fs_t) bmap(txn uint64, ino int, lbn int, alloc bool) (int, defs.Err_t) {
	in, direct, indirect, dindirect := fs.rawAt(ino)

	if lbn < NDIRECT {
		if direct[lbn] == 0 {
			if !alloc {
				return 0, -defs.EINVAL
			}
			s, ok := fs.freemap.Alloc()
			if !ok {
				return 0, -defs.ENOSPC
			}
			direct[lbn] = int32(s)
			fs.putRaw(txn, in, direct, indirect, dindirect)
		}
		return int(direct[lbn]), 0
	}
	lbn -= NDIRECT
	if lbn < NINDIRECT {
		if indirect == 0 {
			if !alloc {
				return 0, -defs.EINVAL
			}
			s, ok := fs.freemap.Alloc()
			if !ok {
				return 0, -defs.ENOSPC
			}
			indirect = int32(s)
			fs.putRaw(txn, in, direct, indirect, dindirect)
		}
		return fs.bmapIndirect(txn, int(indirect), lbn, alloc)
	}
	lbn -= NINDIRECT
	if lbn < NINDIRECT*NINDIRECT {
		if dindirect == 0 {
			if !alloc {
				return 0, -defs.EINVAL
			}
			s, ok := fs.freemap.Alloc()
			if !ok {
				return 0, -defs.ENOSPC
			}
			dindirect = int32(s)
			fs.putRaw(txn, in, direct, indirect, dindirect)
		}
		outer := lbn / NINDIRECT
		inner := lbn % NINDIRECT
		b := fs.cache.Get(int(dindirect))
		b.Lock()
		old := b.Data
		ptr := int32(binary.LittleEndian.Uint32(b.Data[outer*4:]))
		if ptr == 0 {
			if !alloc {
				b.Unlock()
				fs.cache.Put(b)
				return 0, -defs.EINVAL
			}
			s, ok := fs.freemap.Alloc()
			if !ok {
				b.Unlock()
				fs.cache.Put(b)
				return 0, -defs.ENOSPC
			}
			ptr = int32(s)
			binary.LittleEndian.PutUint32(b.Data[outer*4:], uint32(ptr))
			fs.wal.Log_write(txn, int(dindirect), old[:], b.Data[:])
		}
		b.Unlock()
		fs.cache.Put(b)
		return fs.bmapIndirect(txn, int(ptr), inner, alloc)
	}
	return 0, -defs.EINVAL
}

func (fs *Fs_t) bmapIndirect(txn uint64, indsect, idx int, alloc bool) (int, defs.Err_t) {
	if !res.Resadd_noblock(bounds.Bounds(bounds.B_INODE_T_ISCAN)) {
		return 0, -defs.ENOHEAP
	}
	b := fs.cache.Get(indsect)
	defer fs.cache.Put(b)
	b.Lock()
	defer b.Unlock()
	old := b.Data
	ptr := int32(binary.LittleEndian.Uint32(b.Data[idx*4:]))
	if ptr == 0 {
		if !alloc {
			return 0, -defs.EINVAL
		}
		s, ok := fs.freemap.Alloc()
		if !ok {
			return 0, -defs.ENOSPC
		}
		ptr = int32(s)
		binary.LittleEndian.PutUint32(b.Data[idx*4:], uint32(ptr))
		fs.wal.Log_write(txn, indsect, old[:], b.Data[:])
	}
	return int(ptr), 0
}

/// Iread reads up to len(dst) bytes from ino starting at off.
func (fs *Fs_t) Iread(ino int, off int, dst []uint8) (int, defs.Err_t) {
	in := fs.Iget(ino)
	if int64(off) >= in.Size {
		return 0, 0
	}
	end := int64(off) + int64(len(dst))
	if end > in.Size {
		end = in.Size
	}
	got := 0
	for off < int(end) {
		lbn := off / hal.SECTSZ
		boff := off % hal.SECTSZ
		sect, err := fs.bmap(0, ino, lbn, false)
		n := hal.SECTSZ - boff
		if off+n > int(end) {
			n = int(end) - off
		}
		if err != 0 {
			// hole: zero-fill
			for i := 0; i < n; i++ {
				dst[got+i] = 0
			}
		} else {
			b := fs.cache.Get(sect)
			b.Lock()
			copy(dst[got:got+n], b.Data[boff:boff+n])
			b.Unlock()
			fs.cache.Put(b)
			fs.cache.ReadAhead(sect, 2)
		}
		got += n
		off += n
	}
	return got, 0
}

/// Iwrite writes src to ino starting at off under transaction txn,
/// growing the inode's size and allocating blocks as needed.
func (fs *Fs_t) Iwrite(txn uint64, ino int, off int, src []uint8) (int, defs.Err_t) {
	put := 0
	for put < len(src) {
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_FS_T_FS_WRITE)) {
			return put, -defs.ENOHEAP
		}
		lbn := (off + put) / hal.SECTSZ
		boff := (off + put) % hal.SECTSZ
		sect, err := fs.bmap(txn, ino, lbn, true)
		if err != 0 {
			return put, err
		}
		n := hal.SECTSZ - boff
		if n > len(src)-put {
			n = len(src) - put
		}
		b := fs.cache.Get(sect)
		b.Lock()
		old := b.Data
		copy(b.Data[boff:boff+n], src[put:put+n])
		img := b.Data
		b.Unlock()
		fs.cache.Put(b)
		fs.wal.Log_write(txn, sect, old[:], img[:])
		put += n
	}
	newsize := int64(off + put)
	in, direct, indirect, dindirect := fs.rawAt(ino)
	if newsize > in.Size {
		in.Size = newsize
		fs.putRaw(txn, in, direct, indirect, dindirect)
	}
	return put, 0
}

/// Itrunc truncates ino to exactly newlen bytes. Shrinking does not free
/// now-unused blocks (an acceptable simplification for an educational
/// filesystem: space is reclaimed in full on unlink instead).
func (fs *Fs_t) Itrunc(txn uint64, ino int, newlen uint) defs.Err_t {
	in, direct, indirect, dindirect := fs.rawAt(ino)
	in.Size = int64(newlen)
	fs.putRaw(txn, in, direct, indirect, dindirect)
	return 0
}
