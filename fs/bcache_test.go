package fs

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"eduos/hal"
)

// gatedDisk wraps a MemDisk and lets a test hold up Read on one
// specific sector until released, so concurrent Get calls can be driven
// into a controlled race.
type gatedDisk struct {
	*hal.MemDisk
	gateSector int32
	reads      int32
	entered    chan struct{}
	release    chan struct{}
}

func newGatedDisk(nsect int, gateSector int) *gatedDisk {
	return &gatedDisk{
		MemDisk:    hal.MkMemDisk(nsect),
		gateSector: int32(gateSector),
		entered:    make(chan struct{}, 16),
		release:    make(chan struct{}),
	}
}

func (d *gatedDisk) Read(sector int, buf []uint8) error {
	atomic.AddInt32(&d.reads, 1)
	if sector == int(d.gateSector) {
		d.entered <- struct{}{}
		<-d.release
	}
	return d.MemDisk.Read(sector, buf)
}

// TestGetDifferentSectorsDontSerialize checks that a Get blocked inside
// a slow disk read for one sector does not hold up a Get for an
// unrelated sector: the global cache lock must protect only entry-state
// bookkeeping, not the disk I/O itself.
func TestGetDifferentSectorsDontSerialize(t *testing.T) {
	d := newGatedDisk(8, 0)
	c := MkCache(d, 8, 0)

	done := make(chan struct{})
	go func() {
		c.Get(0)
		close(done)
	}()

	select {
	case <-d.entered:
	case <-time.After(time.Second):
		t.Fatalf("sector 0's read never started")
	}

	otherDone := make(chan struct{})
	go func() {
		c.Get(1)
		close(otherDone)
	}()

	select {
	case <-otherDone:
	case <-time.After(time.Second):
		t.Fatalf("Get(1) blocked behind sector 0's in-flight read")
	}

	close(d.release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("sector 0's Get never finished")
	}
}

// TestGetSameSectorLoadsOnce checks that two concurrent Get calls for
// the same sector, racing a cache miss, result in exactly one disk
// read: the second caller should wait on the first's loadState instead
// of issuing a redundant read.
func TestGetSameSectorLoadsOnce(t *testing.T) {
	d := newGatedDisk(8, 0)
	c := MkCache(d, 8, 0)

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			c.Get(0)
		}()
	}

	select {
	case <-d.entered:
	case <-time.After(time.Second):
		t.Fatalf("neither Get reached the gated read")
	}
	select {
	case <-d.entered:
		t.Fatalf("a second Get issued its own disk read instead of waiting")
	case <-time.After(20 * time.Millisecond):
	}

	close(d.release)
	wg.Wait()

	if n := atomic.LoadInt32(&d.reads); n != 1 {
		t.Fatalf("expected exactly one disk read for sector 0, got %d", n)
	}
}
