package abi

// Syscall numbers.
const (
	SysGetcwd     = 17
	SysDup        = 23
	SysDup3       = 24
	SysMkdirat    = 34
	SysUnlinkat   = 35
	SysChdir      = 49
	SysOpenat     = 56
	SysClose      = 57
	SysPipe2      = 59
	SysGetdents64 = 61
	SysRead       = 63
	SysWrite      = 64
	SysFstat      = 80
	SysExit       = 93
	SysExitGroup  = 94
	SysSchedYield = 124
	SysTimes      = 153
	SysGetpid     = 172
	SysGetppid    = 173
	SysBrk        = 214
	SysClone      = 220
	SysExecve     = 221
	SysMmap       = 222
	SysWait4      = 260
)

var sysNames = map[uint64]string{
	SysGetcwd:     "getcwd",
	SysDup:        "dup",
	SysDup3:       "dup3",
	SysMkdirat:    "mkdirat",
	SysUnlinkat:   "unlinkat",
	SysChdir:      "chdir",
	SysOpenat:     "openat",
	SysClose:      "close",
	SysPipe2:      "pipe2",
	SysGetdents64: "getdents64",
	SysRead:       "read",
	SysWrite:      "write",
	SysFstat:      "fstat",
	SysExit:       "exit",
	SysExitGroup:  "exit_group",
	SysSchedYield: "sched_yield",
	SysTimes:      "times",
	SysGetpid:     "getpid",
	SysGetppid:    "getppid",
	SysBrk:        "brk",
	SysClone:      "clone",
	SysExecve:     "execve",
	SysMmap:       "mmap",
	SysWait4:      "wait4",
}

// SyscallName returns the conventional name of syscall number n.
func SyscallName(n uint64) string {
	if s, ok := sysNames[n]; ok {
		return s
	}
	return "unknown"
}

// Failure is the value every syscall returns to user space on error.
const Failure = -1
