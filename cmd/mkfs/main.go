// Command mkfs lays out a fresh eduos disk image: a superblock, an
// empty write-ahead log region, a free-map, an inode area, and a root
// directory, then optionally copies a host directory tree into it. It
// is the Go-native descendant of src/mkfs.go, minus the bootloader and
// kernel-image splicing that command did -- this kernel has no
// separate BIOS-stage boot sector to attach.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"eduos/defs"
	"eduos/fd"
	"eduos/fs"
	"eduos/hal"
	"eduos/ustr"
	"eduos/vm"
)

// Sizing matches src/mkfs.go's nlogblks/ninodeblks/ndatablks constants,
// scaled down: this kernel's test images are measured in megabytes, not
// the gigabytes a real disk port would format.
const (
	nlogsect  = 256
	ninodes   = 2048
	ndatasect = 32768
)

func copyin(fsys *fs.Fs_t, cwd *fd.Cwd_t, src, dst string) {
	data, err := os.ReadFile(src)
	if err != nil {
		fmt.Printf("read %v: %v\n", src, err)
		return
	}
	nf, ferr := fsys.Fs_open(ustr.Ustr(dst), defs.O_CREAT|defs.O_WRONLY, 0644, cwd, 0, 0)
	if ferr != 0 {
		fmt.Printf("create %v: err %v\n", dst, ferr)
		return
	}
	defer nf.Fops.Close()
	var ub vm.Fakeubuf_t
	ub.Fake_init(data)
	if _, werr := nf.Fops.Write(&ub); werr != 0 {
		fmt.Printf("write %v: err %v\n", dst, werr)
	}
}

func addfiles(fsys *fs.Fs_t, cwd *fd.Cwd_t, skeldir string) {
	err := filepath.WalkDir(skeldir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			fmt.Printf("failed to access %q: %v\n", path, err)
			return err
		}
		rel := strings.TrimPrefix(path, skeldir)
		if rel == "" {
			return nil
		}
		if d.IsDir() {
			if e := fsys.Fs_mkdir(ustr.Ustr(rel), 0755, cwd); e != 0 && e != -defs.EEXIST {
				fmt.Printf("failed to create dir %v: %v\n", rel, e)
			}
			return nil
		}
		copyin(fsys, cwd, path, rel)
		return nil
	})
	if err != nil {
		fmt.Printf("error walking the path %q: %v\n", skeldir, err)
		os.Exit(1)
	}
}

func main() {
	if len(os.Args) < 2 {
		fmt.Printf("usage: %s <image> [skeldir]\n", os.Args[0])
		os.Exit(1)
	}
	image := os.Args[1]

	disk, err := hal.OpenFileDisk(image)
	if err != nil {
		fmt.Printf("open %v: %v\n", image, err)
		os.Exit(1)
	}
	total := 1 + nlogsect + ninodes + ndatasect + (ndatasect/(512*8) + 1)
	if terr := disk.Truncate(total); terr != nil {
		fmt.Printf("truncate %v: %v\n", image, terr)
		os.Exit(1)
	}

	g := fs.Geometry_t{Loglen: nlogsect, Ninodes: ninodes, Ndatasect: ndatasect}
	if ferr := fs.Mkfs(disk, g); ferr != 0 {
		fmt.Printf("mkfs: err %v\n", ferr)
		os.Exit(1)
	}

	if len(os.Args) < 3 {
		return
	}

	cwd, fsys, serr := fs.StartFS(disk)
	if serr != 0 {
		fmt.Printf("reopen %v: err %v\n", image, serr)
		os.Exit(1)
	}
	if _, serr := fsys.Namei(ustr.MkUstrRoot()); serr != 0 {
		fmt.Printf("not a valid fs: no root inode\n")
		os.Exit(1)
	}
	addfiles(fsys, cwd, os.Args[2])
	fsys.Fs_syncapply()
	fsys.StopFS()
}
