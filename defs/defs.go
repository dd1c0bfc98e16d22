// Package defs holds the type and constant vocabulary shared by every
// kernel package: error codes, thread/process identifiers, and the open
// flags passed across the syscall boundary.
package defs

/// Err_t is a kernel error code. Callers compare against the negative of
/// one of the constants below; 0 means success. Functions return errors
/// this way (not via the `error` interface) because many of them run on
/// paths where allocating an error value is undesirable.
type Err_t int

// Error codes. Names mirror the error kinds in the design: BadArg ->
// EINVAL, NotFound -> ENOENT, and so on.
const (
	EINVAL      Err_t = 1  /// BadArg: malformed argument
	ENOENT      Err_t = 2  /// NotFound
	EEXIST      Err_t = 3  /// Exists: name collision on create
	ENOTEMPTY   Err_t = 4  /// NotEmpty: rmdir on non-empty directory
	ENOSPC      Err_t = 5  /// NoSpace: free-map/swap exhausted
	EISDIR      Err_t = 6  /// IsDir
	ENOTDIR     Err_t = 7  /// NotDir
	EBADF       Err_t = 8  /// BadFd: closed or out-of-range descriptor
	ETXTBSY     Err_t = 9  /// DenyWrite: file in use by a running executable
	EDEADLK     Err_t = 10 /// Deadlock: asserted impossibility
	EIO         Err_t = 11 /// Corrupt: failed CRC during recovery
	EFAULT      Err_t = 12 /// UserFault: bad user pointer
	ENOMEM      Err_t = 13 /// out of physical frames
	ENOHEAP     Err_t = 14 /// resource bound exhausted (see package res)
	ENAMETOOLONG Err_t = 15
	EMLINK      Err_t = 16 /// too many symlinks chased
	EABORTED    Err_t = 17 /// Aborted: transaction rolled back
	EAGAIN      Err_t = 18
	EPERM       Err_t = 19
	ENXIO       Err_t = 20
	ECHILD      Err_t = 21 /// NoSuchChild: wait() on a pid that is not our child
	EMFILE      Err_t = 22 /// TooManyFiles: per-process descriptor table full
	ESPIPE      Err_t = 23 /// Unseekable: lseek on a device with no offset
)

// Open flags, as passed to Fs_open.
const (
	O_RDONLY int = 0
	O_WRONLY int = 1
	O_RDWR   int = 2
	O_CREAT  int = 0x40
	O_EXCL   int = 0x80
	O_TRUNC  int = 0x200
	O_APPEND int = 0x400
	O_DIRECTORY int = 0x10000
)

// Seek whence values for the tell/seek syscalls.
const (
	SEEK_SET int = 0
	SEEK_CUR int = 1
	SEEK_END int = 2
)

/// Tid_t identifies a kernel thread, unique for the life of the system.
type Tid_t int

/// Pid_t identifies a process.
type Pid_t int

/// Ftype_t distinguishes the kind of object an inode refers to.
type Ftype_t uint8

const (
	INODE_INVALID Ftype_t = 0
	INODE_FILE    Ftype_t = 1
	INODE_DIR     Ftype_t = 2
	INODE_SYMLINK Ftype_t = 3
)

/// Whoami is a small formatting helper many log lines use so failures can
/// be grepped by subsystem without importing fmt everywhere.
func Whoami(sub string) string {
	return "[" + sub + "] "
}
