package fs

import (
	"testing"

	"eduos/defs"
	"eduos/fd"
	"eduos/hal"
	"eduos/ustr"
	"eduos/vm"
)

func mkTestFS(t *testing.T) (*fd.Cwd_t, *Fs_t) {
	t.Helper()
	g := Geometry_t{Loglen: 16, Ninodes: 32, Ndatasect: 128}
	nsectors := 1 + g.Loglen + 1 + g.Ninodes + g.Ndatasect
	disk := hal.MkMemDisk(nsectors + 16)
	if err := Mkfs(disk, g); err != 0 {
		t.Fatalf("Mkfs failed: %d", err)
	}
	cwd, fsys, err := StartFS(disk)
	if err != 0 {
		t.Fatalf("StartFS failed: %d", err)
	}
	return cwd, fsys
}

func TestOpenWriteReadRoundtrip(t *testing.T) {
	cwd, fsys := mkTestFS(t)
	defer fsys.StopFS()

	f, err := fsys.Fs_open(ustr.Ustr("/hello"), defs.O_CREAT|defs.O_RDWR, 0644, cwd, 0, 0)
	if err != 0 {
		t.Fatalf("create failed: %d", err)
	}

	var wb vm.Fakeubuf_t
	wb.Fake_init([]byte("hello, eduos"))
	n, werr := f.Fops.Write(&wb)
	if werr != 0 || n != len("hello, eduos") {
		t.Fatalf("write failed: n=%d err=%d", n, werr)
	}

	if _, serr := f.Fops.Lseek(0, defs.SEEK_SET); serr != 0 {
		t.Fatalf("lseek failed: %d", serr)
	}

	dst := make([]byte, 64)
	var rb vm.Fakeubuf_t
	rb.Fake_init(dst)
	n, rerr := f.Fops.Read(&rb)
	if rerr != 0 {
		t.Fatalf("read failed: %d", rerr)
	}
	if got := string(dst[:n]); got != "hello, eduos" {
		t.Fatalf("expected %q, got %q", "hello, eduos", got)
	}

	if cerr := f.Fops.Close(); cerr != 0 {
		t.Fatalf("close failed: %d", cerr)
	}
}

// TestUnlinkWhileOpenDefersFree exercises the open-inodes registry:
// unlinking a file that is still open must not free its blocks until
// the last descriptor closes, but the name must disappear immediately.
func TestUnlinkWhileOpenDefersFree(t *testing.T) {
	cwd, fsys := mkTestFS(t)
	defer fsys.StopFS()

	before := fsys.freemap.Nfree()

	f, err := fsys.Fs_open(ustr.Ustr("/doomed"), defs.O_CREAT|defs.O_RDWR, 0644, cwd, 0, 0)
	if err != 0 {
		t.Fatalf("create failed: %d", err)
	}
	var wb vm.Fakeubuf_t
	wb.Fake_init(make([]byte, hal.SECTSZ*2))
	if _, werr := f.Fops.Write(&wb); werr != 0 {
		t.Fatalf("write failed: %d", werr)
	}
	afterWrite := fsys.freemap.Nfree()
	if afterWrite >= before {
		t.Fatalf("expected the write to consume free sectors: before=%d after=%d", before, afterWrite)
	}

	if uerr := fsys.Fs_unlink(ustr.Ustr("/doomed"), cwd, false); uerr != 0 {
		t.Fatalf("unlink failed: %d", uerr)
	}

	if _, lerr := fsys.namei(cwd.Canonicalpath(ustr.Ustr("/doomed"))); lerr == 0 {
		t.Fatalf("unlinked name should no longer resolve")
	}

	stillOpen := fsys.freemap.Nfree()
	if stillOpen != afterWrite {
		t.Fatalf("blocks must stay allocated while the file is still open: want %d, got %d", afterWrite, stillOpen)
	}

	if cerr := f.Fops.Close(); cerr != 0 {
		t.Fatalf("close failed: %d", cerr)
	}

	freed := fsys.freemap.Nfree()
	if freed != before {
		t.Fatalf("last close should have returned every block: want %d free, got %d", before, freed)
	}
}

// TestWriteSpanningMultipleNewBlocksRoundtrips writes enough bytes in a
// single call to require allocating several direct blocks within one
// transaction, then reads the whole thing back. A regression test for
// putRaw building an inode image from a stale read: if an earlier
// bmap-allocated direct pointer is ever lost to a later one within the
// same transaction, this comes back full of holes instead of the
// original bytes.
func TestWriteSpanningMultipleNewBlocksRoundtrips(t *testing.T) {
	cwd, fsys := mkTestFS(t)
	defer fsys.StopFS()

	f, err := fsys.Fs_open(ustr.Ustr("/big"), defs.O_CREAT|defs.O_RDWR, 0644, cwd, 0, 0)
	if err != 0 {
		t.Fatalf("create failed: %d", err)
	}

	src := make([]byte, hal.SECTSZ*5+37)
	for i := range src {
		src[i] = uint8(i % 251)
	}
	var wb vm.Fakeubuf_t
	wb.Fake_init(src)
	n, werr := f.Fops.Write(&wb)
	if werr != 0 || n != len(src) {
		t.Fatalf("write failed: n=%d err=%d", n, werr)
	}

	if _, serr := f.Fops.Lseek(0, defs.SEEK_SET); serr != 0 {
		t.Fatalf("lseek failed: %d", serr)
	}

	dst := make([]byte, len(src))
	var rb vm.Fakeubuf_t
	rb.Fake_init(dst)
	n, rerr := f.Fops.Read(&rb)
	if rerr != 0 {
		t.Fatalf("read failed: %d", rerr)
	}
	if n != len(src) {
		t.Fatalf("expected to read back %d bytes, got %d", len(src), n)
	}
	for i := range src {
		if dst[i] != src[i] {
			t.Fatalf("byte %d: want %d, got %d (multi-block write lost a direct pointer)", i, src[i], dst[i])
		}
	}

	if cerr := f.Fops.Close(); cerr != 0 {
		t.Fatalf("close failed: %d", cerr)
	}
}

func TestMkdirAndLookup(t *testing.T) {
	cwd, fsys := mkTestFS(t)
	defer fsys.StopFS()

	if err := fsys.Fs_mkdir(ustr.Ustr("/sub"), 0755, cwd); err != 0 {
		t.Fatalf("mkdir failed: %d", err)
	}
	if err := fsys.Fs_mkdir(ustr.Ustr("/sub"), 0755, cwd); err == 0 {
		t.Fatalf("mkdir should fail on an existing directory")
	}
	if _, err := fsys.namei(cwd.Canonicalpath(ustr.Ustr("/sub"))); err != 0 {
		t.Fatalf("namei should resolve the new directory: %d", err)
	}
}
