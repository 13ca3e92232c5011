package abi

// OpenFlags are the flag bits accepted by openat.
type OpenFlags uint32

const (
	O_RDONLY    OpenFlags = 0x0
	O_WRONLY    OpenFlags = 0x1
	O_RDWR      OpenFlags = 0x2
	O_CREAT     OpenFlags = 0x40
	O_EXCL      OpenFlags = 0x80
	O_TRUNC     OpenFlags = 0x200
	O_APPEND    OpenFlags = 0x400
	O_DIRECTORY OpenFlags = 0x10000
	O_CLOEXEC   OpenFlags = 0x80000

	accessModeMask OpenFlags = 0x3
)

// AccessMode returns the O_RDONLY/O_WRONLY/O_RDWR part of f.
func (f OpenFlags) AccessMode() OpenFlags {
	return f & accessModeMask
}

// Readable reports whether a descriptor opened with f may be read.
func (f OpenFlags) Readable() bool {
	m := f.AccessMode()
	return m == O_RDONLY || m == O_RDWR
}

// Writable reports whether a descriptor opened with f may be written.
func (f OpenFlags) Writable() bool {
	m := f.AccessMode()
	return m == O_WRONLY || m == O_RDWR
}

// Has reports whether every bit of flag is set in f.
func (f OpenFlags) Has(flag OpenFlags) bool {
	return f&flag == flag
}

// AT_FDCWD makes *at syscalls resolve relative paths against the cwd.
const AT_FDCWD = -100

// AT_REMOVEDIR is accepted by unlinkat.
const AT_REMOVEDIR = 0x200

// WNOHANG makes wait4 return 0 instead of suspending.
const WNOHANG = 0x1

// CloneFlags are the flag bits accepted by clone. The low byte carries the
// exit signal and is not a flag.
type CloneFlags uint64

const (
	CLONE_NEWTIME        CloneFlags = 1 << 7
	CLONE_VM             CloneFlags = 1 << 8
	CLONE_FS             CloneFlags = 1 << 9
	CLONE_FILES          CloneFlags = 1 << 10
	CLONE_SIGHAND        CloneFlags = 1 << 11
	CLONE_PIDFD          CloneFlags = 1 << 12
	CLONE_PTRACE         CloneFlags = 1 << 13
	CLONE_VFORK          CloneFlags = 1 << 14
	CLONE_PARENT         CloneFlags = 1 << 15
	CLONE_THREAD         CloneFlags = 1 << 16
	CLONE_NEWNS          CloneFlags = 1 << 17
	CLONE_SYSVSEM        CloneFlags = 1 << 18
	CLONE_SETTLS         CloneFlags = 1 << 19
	CLONE_PARENT_SETTID  CloneFlags = 1 << 20
	CLONE_CHILD_CLEARTID CloneFlags = 1 << 21
	CLONE_DETACHED       CloneFlags = 1 << 22
	CLONE_UNTRACED       CloneFlags = 1 << 23
	CLONE_CHILD_SETTID   CloneFlags = 1 << 24

	cloneSignalMask CloneFlags = 0xff
)

// ParseCloneFlags splits the raw clone argument into flags and exit signal.
func ParseCloneFlags(raw uint64) (CloneFlags, int) {
	return CloneFlags(raw) &^ cloneSignalMask, int(raw & uint64(cloneSignalMask))
}

// Has reports whether every bit of flag is set in f.
func (f CloneFlags) Has(flag CloneFlags) bool {
	return f&flag == flag
}

// Signals that appear in wait statuses.
const (
	SIGKILL = 9
	SIGCHLD = 17
)

// mmap protection and flag bits.
const (
	PROT_READ  = 0x1
	PROT_WRITE = 0x2
	PROT_EXEC  = 0x4

	MAP_PRIVATE   = 0x02
	MAP_ANONYMOUS = 0x20
)

// ExitStatus encodes a normal exit code as the wait status code<<8. The
// code is not truncated, so ExitCode recovers exit(-1) and exit(300).
func ExitStatus(code int) int64 {
	return int64(code) << 8
}

// ExitCode recovers the exit code from a status built by ExitStatus.
func ExitCode(status int64) int {
	return int(status >> 8)
}

// KilledStatus encodes termination by signal sig.
func KilledStatus(sig int) int64 {
	return int64(sig & 0x7f)
}
