package abi

import "fmt"

// Errno is a kernel error number. It implements error so that typed
// syscalls can return it directly.
type Errno int

const (
	ENOENT  Errno = 2
	ENOEXEC Errno = 8
	EBADF   Errno = 9
	ECHILD  Errno = 10
	EAGAIN  Errno = 11
	ENOMEM  Errno = 12
	EACCES  Errno = 13
	EFAULT  Errno = 14
	EEXIST  Errno = 17
	ENOTDIR Errno = 20
	EISDIR  Errno = 21
	EINVAL  Errno = 22
	EMFILE  Errno = 24
	ESPIPE  Errno = 29
	ERANGE  Errno = 34
	ENOSYS  Errno = 38
	EPIPE   Errno = 32
	ENOTSUP Errno = 95
)

var errnoNames = map[Errno]string{
	ENOENT:  "no such file or directory",
	ENOEXEC: "exec format error",
	EBADF:   "bad file descriptor",
	ECHILD:  "no child processes",
	EAGAIN:  "resource temporarily unavailable",
	ENOMEM:  "out of memory",
	EACCES:  "permission denied",
	EFAULT:  "bad address",
	EEXIST:  "file exists",
	ENOTDIR: "not a directory",
	EISDIR:  "is a directory",
	EINVAL:  "invalid argument",
	EMFILE:  "too many open files",
	ESPIPE:  "illegal seek",
	ERANGE:  "result too large",
	ENOSYS:  "function not implemented",
	EPIPE:   "broken pipe",
	ENOTSUP: "operation not supported",
}

func (e Errno) Error() string {
	if s, ok := errnoNames[e]; ok {
		return s
	}
	return fmt.Sprintf("errno %d", int(e))
}
