package fs

import (
	"testing"

	"eduos/hal"
)

func mkTestFreemap(t *testing.T, nbits int) (*Freemap_t, *Cache_t) {
	t.Helper()
	bitmapSects := (nbits + 512*8 - 1) / (512 * 8)
	disk := hal.MkMemDisk(1 + bitmapSects + nbits)
	cache := MkCache(disk, 64, 0)
	datastart := 1 + bitmapSects
	return MkFreemap(cache, 1, bitmapSects, nbits, datastart), cache
}

func TestFreemapAllocFree(t *testing.T) {
	fm, _ := mkTestFreemap(t, 16)
	if n := fm.Nfree(); n != 16 {
		t.Fatalf("expected 16 free sectors, got %d", n)
	}

	s1, ok := fm.Alloc()
	if !ok {
		t.Fatalf("Alloc failed on an empty free-map")
	}
	s2, ok := fm.Alloc()
	if !ok || s2 == s1 {
		t.Fatalf("second Alloc should return a distinct sector")
	}
	if n := fm.Nfree(); n != 14 {
		t.Fatalf("expected 14 free sectors after two allocs, got %d", n)
	}

	fm.Free(s1)
	if n := fm.Nfree(); n != 15 {
		t.Fatalf("expected 15 free sectors after one free, got %d", n)
	}

	// The freed sector should be reusable.
	s3, ok := fm.Alloc()
	if !ok {
		t.Fatalf("Alloc failed after a Free")
	}
	if s3 != s1 {
		t.Fatalf("expected Alloc to reuse the just-freed sector %d, got %d", s1, s3)
	}
}

func TestFreemapExhaustion(t *testing.T) {
	fm, _ := mkTestFreemap(t, 4)
	for i := 0; i < 4; i++ {
		if _, ok := fm.Alloc(); !ok {
			t.Fatalf("Alloc %d should have succeeded", i)
		}
	}
	if _, ok := fm.Alloc(); ok {
		t.Fatalf("Alloc should fail once the free-map is exhausted")
	}
}

func TestFreemapFreeOutOfRangePanics(t *testing.T) {
	fm, _ := mkTestFreemap(t, 4)
	defer func() {
		if recover() == nil {
			t.Fatalf("Free on an out-of-range sector should panic")
		}
	}()
	fm.Free(9999)
}

// Counters are compiled out unless stats.Stats is flipped on, so
// StatsString is a no-op string in a normal build; this just exercises
// that Get/Put don't panic with the counters wired in.
func TestCacheGetPutWithCounters(t *testing.T) {
	disk := hal.MkMemDisk(8)
	c := MkCache(disk, 8, 0)
	defer c.Stop()

	b := c.Get(0)
	c.Put(b)
	b = c.Get(0)
	c.Put(b)

	if s := c.StatsString(); s != "" {
		t.Fatalf("StatsString should be empty with stats.Stats off, got %q", s)
	}
}
