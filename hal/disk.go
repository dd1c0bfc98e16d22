package hal

import (
	"fmt"
	"os"
	"sync"
)

/// MemDisk is a Disk_i backed entirely by process memory. Tests use it
/// so a filesystem image can be built and inspected without touching
/// the host disk.
type MemDisk struct {
	sync.Mutex
	sects [][SECTSZ]uint8
}

/// MkMemDisk allocates a disk of nsect zeroed sectors.
func MkMemDisk(nsect int) *MemDisk {
	return &MemDisk{sects: make([][SECTSZ]uint8, nsect)}
}

func (d *MemDisk) Nsect() int { return len(d.sects) }

func (d *MemDisk) Read(sector int, buf []uint8) error {
	d.Lock()
	defer d.Unlock()
	if sector < 0 || sector >= len(d.sects) {
		return fmt.Errorf("sector %d out of range", sector)
	}
	if len(buf) != SECTSZ {
		return fmt.Errorf("buffer must be %d bytes", SECTSZ)
	}
	copy(buf, d.sects[sector][:])
	return nil
}

func (d *MemDisk) Write(sector int, buf []uint8) error {
	d.Lock()
	defer d.Unlock()
	if sector < 0 || sector >= len(d.sects) {
		return fmt.Errorf("sector %d out of range", sector)
	}
	if len(buf) != SECTSZ {
		return fmt.Errorf("buffer must be %d bytes", SECTSZ)
	}
	copy(d.sects[sector][:], buf)
	return nil
}

func (d *MemDisk) Flush() error { return nil }

/// FileDisk is a Disk_i backed by a host file, the way cmd/mkfs produces
/// a bootable image on disk and hal.MemDisk backs in-process tests.
type FileDisk struct {
	mu sync.Mutex
	f  *os.File
}

/// OpenFileDisk opens (creating if needed) path as a disk image.
func OpenFileDisk(path string) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	return &FileDisk{f: f}, nil
}

func (d *FileDisk) Nsect() int {
	fi, err := d.f.Stat()
	if err != nil {
		panic(err)
	}
	return int(fi.Size() / SECTSZ)
}

func (d *FileDisk) Read(sector int, buf []uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(buf) != SECTSZ {
		return fmt.Errorf("buffer must be %d bytes", SECTSZ)
	}
	_, err := d.f.ReadAt(buf, int64(sector)*SECTSZ)
	return err
}

func (d *FileDisk) Write(sector int, buf []uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(buf) != SECTSZ {
		return fmt.Errorf("buffer must be %d bytes", SECTSZ)
	}
	_, err := d.f.WriteAt(buf, int64(sector)*SECTSZ)
	return err
}

func (d *FileDisk) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Sync()
}

/// Truncate grows the backing file to nsect sectors, used by cmd/mkfs
/// when laying out a fresh image.
func (d *FileDisk) Truncate(nsect int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Truncate(int64(nsect) * SECTSZ)
}
