package fs

import (
	"encoding/binary"
	"hash/crc32"
	"sort"
	"sync"

	"eduos/bounds"
	"eduos/defs"
	"eduos/hal"
	"eduos/res"
)

/// rectype_t enumerates write-ahead log record kinds.
type rectype_t uint8

const (
	REC_BEGIN rectype_t = iota
	REC_WRITE
	REC_COMMIT
	REC_ABORT
	REC_CHECKPOINT
)

// Every WAL record occupies one header sector; REC_WRITE records are
// followed immediately by two payload sectors, the sector's image
// before the write (old_data) and after it (new_data). Lsn is a
// monotonic counter assigned at append time, independent of the
// record's physical slot in the ring -- Recover sorts by Lsn instead of
// physical position, since the ring can wrap more than once between
// checkpoints and physical order stops matching append order after the
// first wrap. CRC guards against a record torn by a crash mid-append:
// it covers the header (with CRC itself zeroed) plus any payload
// sectors, and a mismatch means the record was never fully written, so
// Recover skips it. Redo-only logging means data sectors are never
// touched until the owning transaction's COMMIT record is itself
// durable, so recovery never needs to undo an already-applied write —
// see Recover below.
type header_t struct {
	Type   rectype_t
	Txn    uint64
	Lsn    uint64
	Target int32 // data-area sector this record names (WRITE only)
	CRC    uint32
}

func (h *header_t) encode() []uint8 {
	buf := make([]uint8, hal.SECTSZ)
	buf[0] = uint8(h.Type)
	binary.LittleEndian.PutUint64(buf[1:9], h.Txn)
	binary.LittleEndian.PutUint64(buf[9:17], h.Lsn)
	binary.LittleEndian.PutUint32(buf[17:21], uint32(h.Target))
	binary.LittleEndian.PutUint32(buf[21:25], h.CRC)
	return buf
}

func decodeHeader(buf []uint8) header_t {
	return header_t{
		Type:   rectype_t(buf[0]),
		Txn:    binary.LittleEndian.Uint64(buf[1:9]),
		Lsn:    binary.LittleEndian.Uint64(buf[9:17]),
		Target: int32(binary.LittleEndian.Uint32(buf[17:21])),
		CRC:    binary.LittleEndian.Uint32(buf[21:25]),
	}
}

// recordCRC computes the CRC-32 covering h (with its own CRC field
// zeroed) followed by any payload sectors, in the same order they are
// appended to the log.
func recordCRC(h header_t, payloads ...[]uint8) uint32 {
	h.CRC = 0
	sum := crc32.NewIEEE()
	sum.Write(h.encode())
	for _, p := range payloads {
		sum.Write(p)
	}
	return sum.Sum32()
}

/// Wal_t is the write-ahead log: a small ring of sectors on the same
/// disk as the filesystem, ahead of the free-map and inode/data area.
/// Every transaction's writes are appended to the log and only copied
/// into the real data-area sectors once the transaction's commit record
/// is durable, so a crash mid-transaction leaves the data area
/// untouched and recovery only has to finish (redo) or discard
/// (implicitly, by never redoing) each transaction as a whole.
type Wal_t struct {
	mu       sync.Mutex
	log      hal.Disk_i
	data     *Cache_t
	logsize  int
	head     int
	lastCkpt int
	nexttxn  uint64
	nextlsn  uint64
	pending  map[uint64][]pendingWrite
}

type pendingWrite struct {
	sector int
	data   [hal.SECTSZ]uint8
	old    [hal.SECTSZ]uint8
}

/// MkWal constructs a write-ahead log using the first logsize sectors of
/// log as the ring buffer, applying committed writes to data.
func MkWal(log hal.Disk_i, logsize int, data *Cache_t) *Wal_t {
	return &Wal_t{
		log:     log,
		data:    data,
		logsize: logsize,
		pending: make(map[uint64][]pendingWrite),
	}
}

func (w *Wal_t) appendSector(buf []uint8) int {
	sect := w.head
	w.log.Write(sect, buf)
	w.head = (w.head + 1) % w.logsize
	return sect
}

// appendRecord stamps h with the next Lsn and a CRC covering h and
// payloads, then appends h followed by each payload sector in order.
// Caller must hold w.mu.
func (w *Wal_t) appendRecord(h *header_t, payloads ...[]uint8) {
	w.nextlsn++
	h.Lsn = w.nextlsn
	h.CRC = recordCRC(*h, payloads...)
	w.appendSector(h.encode())
	for _, p := range payloads {
		var sect [hal.SECTSZ]uint8
		copy(sect[:], p)
		w.appendSector(sect[:])
	}
}

/// Begin starts a new transaction and returns its id.
func (w *Wal_t) Begin() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nexttxn++
	txn := w.nexttxn
	w.pending[txn] = nil
	w.appendRecord(&header_t{Type: REC_BEGIN, Txn: txn})
	return txn
}

/// Log_write records that sector will be overwritten with the contents
/// of new (exactly hal.SECTSZ bytes) once txn commits. old must hold
/// sector's contents as of just before this write, the before-image the
/// write-ahead record carries so a reader of the log can tell what each
/// write actually changed.
func (w *Wal_t) Log_write(txn uint64, sector int, old, new []uint8) defs.Err_t {
	if !res.Resadd_noblock(bounds.Bounds(bounds.B_WAL_T_LOG_WRITE)) {
		return -defs.ENOHEAP
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	var oldbuf, newbuf [hal.SECTSZ]uint8
	copy(oldbuf[:], old)
	copy(newbuf[:], new)
	h := &header_t{Type: REC_WRITE, Txn: txn, Target: int32(sector)}
	w.appendRecord(h, oldbuf[:], newbuf[:])
	w.pending[txn] = append(w.pending[txn], pendingWrite{sector: sector, data: newbuf, old: oldbuf})
	return 0
}

/// Commit durably records txn's commit and applies its buffered writes
/// to the data area.
func (w *Wal_t) Commit(txn uint64) defs.Err_t {
	w.mu.Lock()
	w.appendRecord(&header_t{Type: REC_COMMIT, Txn: txn})
	w.log.Flush()
	writes := w.pending[txn]
	delete(w.pending, txn)
	w.mu.Unlock()

	for _, pw := range writes {
		b := w.data.Get(pw.sector)
		b.Lock()
		b.Data = pw.data
		b.dirty = true
		b.Unlock()
		w.data.Put(b)
	}
	return 0
}

/// Abort discards txn's buffered writes and restores each logged
/// sector's before-image through the cache, newest write first, then
/// appends the ABORT record.
func (w *Wal_t) Abort(txn uint64) defs.Err_t {
	w.mu.Lock()
	writes := w.pending[txn]
	delete(w.pending, txn)
	w.mu.Unlock()

	for i := len(writes) - 1; i >= 0; i-- {
		b := w.data.Get(writes[i].sector)
		b.Lock()
		b.Data = writes[i].old
		b.dirty = true
		b.Unlock()
		w.data.Put(b)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.appendRecord(&header_t{Type: REC_ABORT, Txn: txn})
	return 0
}

/// Checkpoint flushes the data cache and records a checkpoint marker so
/// recovery need not scan log records before it.
func (w *Wal_t) Checkpoint() defs.Err_t {
	w.mu.Lock()
	w.data.FlushDirty()
	w.appendRecord(&header_t{Type: REC_CHECKPOINT})
	w.lastCkpt = w.head
	w.mu.Unlock()
	return 0
}

// logRecord is one header plus whatever payload sectors follow it,
// decoded during Recover's physical scan before being reordered by Lsn.
type logRecord struct {
	hdr header_t
	new [hal.SECTSZ]uint8
	end int // ring slot just past the record's last sector
}

/// Recover replays the log in three passes, the same structure as ARIES
/// recovery: ANALYSIS determines which transactions committed, REDO
/// reapplies their writes (idempotent, since a prior crash may already
/// have applied some of them), and UNDO discards the buffered writes of
/// any transaction that never committed. Because writes are redo-only
/// logged (never applied to the data area before commit), UNDO never
/// has to touch the data area -- it only has to make sure an
/// uncommitted transaction's writes are not replayed.
func (w *Wal_t) Recover() defs.Err_t {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Pass 1: walk the ring physically just to find record boundaries
	// and validate each record's CRC; a mismatch means a crash tore the
	// record mid-append, so it (and, for REC_WRITE, its payload
	// sectors) is skipped rather than fed to ANALYSIS.
	var records []logRecord
	var hdrbuf [hal.SECTSZ]uint8
	for i := 0; i < w.logsize; i++ {
		if err := w.log.Read(i, hdrbuf[:]); err != nil {
			return -defs.EIO
		}
		h := decodeHeader(hdrbuf[:])
		if h.Type > REC_CHECKPOINT {
			continue
		}
		if h.Type != REC_WRITE {
			if recordCRC(h) != h.CRC {
				continue
			}
			records = append(records, logRecord{hdr: h, end: (i + 1) % w.logsize})
			continue
		}
		// payload sectors wrap around the ring end the same way
		// appendSector wrote them
		var old, new [hal.SECTSZ]uint8
		if err := w.log.Read((i+1)%w.logsize, old[:]); err != nil {
			return -defs.EIO
		}
		if err := w.log.Read((i+2)%w.logsize, new[:]); err != nil {
			return -defs.EIO
		}
		if recordCRC(h, old[:], new[:]) != h.CRC {
			i += 2
			continue
		}
		records = append(records, logRecord{hdr: h, new: new, end: (i + 3) % w.logsize})
		i += 2
	}

	// Records are reordered by Lsn, not physical position: the ring can
	// wrap more than once between checkpoints, at which point physical
	// sector order no longer matches the order records were appended in.
	sort.Slice(records, func(a, b int) bool { return records[a].hdr.Lsn < records[b].hdr.Lsn })

	// ANALYSIS: classify every transaction seen in the log, in Lsn order.
	committed := map[uint64]bool{}
	writes := map[uint64][]pendingWrite{}
	var commitOrder []uint64
	for _, r := range records {
		switch r.hdr.Type {
		case REC_BEGIN:
			writes[r.hdr.Txn] = nil
		case REC_WRITE:
			writes[r.hdr.Txn] = append(writes[r.hdr.Txn], pendingWrite{sector: int(r.hdr.Target), data: r.new})
		case REC_COMMIT:
			committed[r.hdr.Txn] = true
			commitOrder = append(commitOrder, r.hdr.Txn)
		case REC_ABORT:
			delete(writes, r.hdr.Txn)
		case REC_CHECKPOINT:
			committed = map[uint64]bool{}
			writes = map[uint64][]pendingWrite{}
			commitOrder = nil
		}
	}

	// REDO: reapply every committed transaction's writes, in the Lsn
	// order of their COMMIT records.
	for _, txn := range commitOrder {
		ws := writes[txn]
		if !committed[txn] {
			continue
		}
		for _, pw := range ws {
			b := w.data.Get(pw.sector)
			b.Lock()
			b.Data = pw.data
			b.dirty = true
			b.Unlock()
			w.data.Put(b)
		}
	}

	// UNDO: nothing was ever applied to the data area for an uncommitted
	// transaction under redo-only logging, so there is nothing to
	// revert; discarding its in-memory write set (done implicitly by not
	// redoing it above) is the entire undo phase.

	w.data.FlushDirty()
	w.pending = make(map[uint64][]pendingWrite)
	w.head = 0
	w.lastCkpt = 0
	w.nextlsn = 0
	// continue after the newest surviving record so Lsns and txn ids
	// keep increasing across a remount
	if n := len(records); n > 0 {
		w.head = records[n-1].end
		w.nextlsn = records[n-1].hdr.Lsn
	}
	for _, r := range records {
		if r.hdr.Txn > w.nexttxn {
			w.nexttxn = r.hdr.Txn
		}
	}
	return 0
}
