// Command kernel is eduos's boot entry point: it stands in for the
// BIOS-stage bootloader's jump into 32-bit protected mode, since that
// handoff is out of scope for a hosted simulation. It opens the disk
// image cmd/mkfs produced, mounts the filesystem, starts the thread
// scheduler, and launches init as process 1 -- the same sequence
// justanotherdot-biscuit__biscuit-src-kernel-main.go's main() runs
// (phys_init/dmap_init/fs.MkFS/proc_new), minus the device attachment
// steps this kernel's hal package already abstracts away.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eduos/console"
	"eduos/fd"
	"eduos/fs"
	"eduos/hal"
	"eduos/mem"
	"eduos/oommsg"
	"eduos/proc"
	"eduos/thread"
	"eduos/trap"
)

// reapOOM drains oommsg.OomCh for the life of the kernel, logging every
// exhaustion the frame table reports and waking the evictor back up.
// A real port would react harder here (kill the largest process, grow
// swap); this simulation only has one disk-backed swap area to offer.
func reapOOM() {
	for msg := range oommsg.OomCh {
		fmt.Printf("out of memory: %d page(s) requested, nothing left to evict\n", msg.Need)
		msg.Resume <- true
	}
}

func main() {
	image := flag.String("disk", "eduos.img", "disk image to mount as the root filesystem")
	mlfqs := flag.Bool("mlfqs", false, "use the 4.4BSD multilevel feedback queue scheduler instead of strict priority")
	npages := flag.Int("mem", 16384, "physical pages to reserve (each mem.PGSIZE bytes)")
	flag.Parse()

	fmt.Printf("eduos\n")
	mem.Phys_init(*npages)
	go reapOOM()

	disk, err := hal.OpenFileDisk(*image)
	if err != nil {
		fmt.Printf("open %v: %v\n", *image, err)
		os.Exit(1)
	}

	cwd, fsys, ferr := fs.StartFS(disk)
	if ferr != 0 {
		fmt.Printf("mount %v: err %v\n", *image, ferr)
		os.Exit(1)
	}
	trap.FS = fsys

	mode := thread.MODE_PRIORITY
	if *mlfqs {
		mode = thread.MODE_MLFQS
	}
	sched := thread.MkScheduler(mode)
	trap.Sched = sched

	con := console.MkCons(hal.MkStdioConsole())
	stdfds := []*fd.Fd_t{
		{Fops: con, Perms: fd.FD_READ},
		{Fops: con, Perms: fd.FD_WRITE},
		{Fops: con, Perms: fd.FD_WRITE},
	}

	init, _, perr := proc.Proc_new("init", cwd, stdfds, sched)
	if perr != 0 {
		fmt.Printf("start init: err %v\n", perr)
		os.Exit(1)
	}
	fmt.Printf("init running as pid %v\n", init.Pid)

	// The timer tick this loop stands in for is the PIT interrupt named
	// in the adaptation-layer boundary; real hardware would drive
	// RecalcLoadAvg/Tick from that interrupt instead of a host ticker.
	// Scheduler_t's load-average accumulator is an unexported fixed-point
	// type, so it is threaded through as whatever RecalcLoadAvg(0) infers
	// rather than named here.
	loadAvg := sched.RecalcLoadAvg(0)
	ticker := time.NewTicker(10 * time.Millisecond)
	secs := time.NewTicker(time.Second)
	defer ticker.Stop()
	defer secs.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			sched.Tick(0)
		case <-secs.C:
			loadAvg = sched.RecalcLoadAvg(loadAvg)
		case <-sig:
			fmt.Printf("shutting down\n")
			fsys.Fs_syncapply()
			fsys.StopFS()
			return
		}
	}
}
