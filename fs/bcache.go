// Package fs implements the on-disk filesystem: a buffer cache in front
// of a hal.Disk_i, a write-ahead log for crash consistency, a bitmap
// free-map, indexed inodes, and directories, tied together by Fs_t's
// top-level Fs_open/Fs_mkdir/Fs_rename/Fs_sync operations (named to match
// how the teacher's host-side image builder calls into this package).
package fs

import (
	"sync"
	"time"

	"eduos/defs"
	"eduos/hal"
	"eduos/stats"
)

/// Block_t is one cached sector-sized disk block.
type Block_t struct {
	sync.Mutex
	Sector   int
	Data     [hal.SECTSZ]uint8
	dirty    bool
	pinned   int
	accessed bool
}

/// blktype_t enumerates block kinds; regular filesystem data/metadata
/// blocks are DataBlk. The write-ahead log does not use it: its records
/// carry a rectype_t (wal.go).
type blktype_t int

const (
	DataBlk   blktype_t = 0
	CommitBlk blktype_t = -1
	RevokeBlk blktype_t = -2
)

/// Cache_t is the buffer cache: every disk sector the filesystem touches
/// is read into a Block_t here first, and writes land here before being
/// written behind to disk. Eviction runs clock (second-chance) over the
/// unpinned blocks, same policy as package frame uses for physical pages.
type Cache_t struct {
	mu      sync.Mutex
	disk    hal.Disk_i
	blocks  map[int]*Block_t
	loading map[int]*loadState
	order   []int
	hand    int
	maxsize int

	flushInterval time.Duration
	stopCh        chan struct{}

	// Hits/Misses are compiled out to no-ops unless stats.Stats is
	// flipped on; Stats2String formats them for a debug dump.
	Hits   stats.Counter_t
	Misses stats.Counter_t
}

// loadState marks that some goroutine has already reserved sector's
// slot and is reading it from disk; other Get callers for the same
// sector wait on done instead of issuing a second read.
type loadState struct {
	done chan struct{}
}

/// MkCache constructs a buffer cache over disk holding at most maxsize
/// blocks before it must evict, and begins its periodic flush goroutine.
func MkCache(disk hal.Disk_i, maxsize int, flushInterval time.Duration) *Cache_t {
	c := &Cache_t{
		disk:          disk,
		blocks:        make(map[int]*Block_t),
		loading:       make(map[int]*loadState),
		maxsize:       maxsize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
	}
	if flushInterval > 0 {
		go c.flusher()
	}
	return c
}

func (c *Cache_t) flusher() {
	t := time.NewTicker(c.flushInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.FlushDirty()
		case <-c.stopCh:
			return
		}
	}
}

/// Stop halts the periodic flush goroutine.
func (c *Cache_t) Stop() {
	close(c.stopCh)
}

// evictOne runs one clock sweep over unpinned blocks, flushing and
// dropping the first one it finds with its accessed bit already clear.
// Caller must hold c.mu.
func (c *Cache_t) evictOne() bool {
	if len(c.order) == 0 {
		return false
	}
	for i := 0; i < 2*len(c.order); i++ {
		if c.hand >= len(c.order) {
			c.hand = 0
		}
		sect := c.order[c.hand]
		b := c.blocks[sect]
		if b.pinned > 0 {
			c.hand++
			continue
		}
		if b.accessed {
			b.accessed = false
			c.hand++
			continue
		}
		if b.dirty {
			c.disk.Write(b.Sector, b.Data[:])
			b.dirty = false
		}
		delete(c.blocks, sect)
		c.order = append(c.order[:c.hand], c.order[c.hand+1:]...)
		return true
	}
	return false
}

// insert records a freshly loaded block, evicting to make room if the
// cache is full. Caller must hold c.mu.
func (c *Cache_t) insert(b *Block_t) {
	if len(c.order) >= c.maxsize {
		c.evictOne()
	}
	c.blocks[b.Sector] = b
	c.order = append(c.order, b.Sector)
}

/// Get returns the block for sector, reading it from disk on a cache
/// miss, and pins it so it cannot be evicted until Put is called.
//
// c.mu protects only entry-state inspection and reservation: a cache
// miss reserves sector's slot with a loadState and releases c.mu before
// issuing the disk read, so a miss on one sector never blocks a Get on
// some other sector. A second Get for the *same* sector arriving while
// the first is still loading finds the loadState and waits on its done
// channel rather than reading the disk itself.
func (c *Cache_t) Get(sector int) *Block_t {
	for {
		c.mu.Lock()
		if b, ok := c.blocks[sector]; ok {
			c.Hits.Inc()
			b.accessed = true
			b.pinned++
			c.mu.Unlock()
			return b
		}
		if ls, ok := c.loading[sector]; ok {
			c.mu.Unlock()
			<-ls.done
			continue
		}
		c.Misses.Inc()
		ls := &loadState{done: make(chan struct{})}
		c.loading[sector] = ls
		c.mu.Unlock()

		b := &Block_t{Sector: sector, accessed: true}
		c.disk.Read(sector, b.Data[:])

		c.mu.Lock()
		c.insert(b)
		delete(c.loading, sector)
		b.pinned++
		c.mu.Unlock()
		close(ls.done)
		return b
	}
}

/// Put unpins a block previously returned by Get.
func (c *Cache_t) Put(b *Block_t) {
	c.mu.Lock()
	b.pinned--
	if b.pinned < 0 {
		panic("unbalanced Put")
	}
	c.mu.Unlock()
}

/// MarkDirty records that b's contents must be written back before
/// eviction or the next flush.
func (c *Cache_t) MarkDirty(b *Block_t) {
	b.Lock()
	b.dirty = true
	b.Unlock()
}

/// ReadAhead pulls the next n sectors after sector into the cache
/// without blocking the caller on their contents, used by sequential
/// file reads and directory scans. Each sector is loaded by its own
/// goroutine through the ordinary Get/Put path, so a slow prefetch read
/// never holds up Get calls for unrelated sectors.
func (c *Cache_t) ReadAhead(sector, n int) {
	nsect := c.disk.(interface{ Nsect() int }).Nsect()
	for i := 1; i <= n; i++ {
		s := sector + i
		if s >= nsect {
			break
		}
		go func(s int) {
			b := c.Get(s)
			c.Put(b)
		}(s)
	}
}

/// FlushDirty writes every dirty block back to disk, without evicting
/// them from the cache. Called periodically and at shutdown/checkpoint.
func (c *Cache_t) FlushDirty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sect := range c.order {
		b := c.blocks[sect]
		b.Lock()
		if b.dirty {
			c.disk.Write(b.Sector, b.Data[:])
			b.dirty = false
		}
		b.Unlock()
	}
	c.disk.Flush()
}

/// Sync is Fs_t's synchronous "make sure it's all on disk" entry point.
func (c *Cache_t) Sync() defs.Err_t {
	c.FlushDirty()
	return 0
}

// cacheCounters mirrors Cache_t's hit/miss fields in a lock-free struct
// so StatsString can hand it to stats.Stats2String without copying the
// cache's mutex.
type cacheCounters struct {
	Hits   stats.Counter_t
	Misses stats.Counter_t
}

/// StatsString formats the cache's hit/miss counters, or the empty
/// string when stats.Stats is off.
func (c *Cache_t) StatsString() string {
	return stats.Stats2String(cacheCounters{Hits: c.Hits, Misses: c.Misses})
}
