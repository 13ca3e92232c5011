package process

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"rvos/pkg/abi"
	"rvos/pkg/hart"
	"rvos/pkg/mm"
	"rvos/pkg/vfs"
)

// maxIO bounds the bytes one read or write moves.
const maxIO = 1 << 20

// maxArgs bounds the argv entries exec reads.
const maxArgs = 256

// Syscall dispatches the ecall described by tf and stores the result in
// a0. Every error is reported to user code as -1.
func (th *Thread) Syscall(tf *hart.TrapFrame) {
	num, args := tf.SyscallArgs()
	ret, err := th.dispatch(num, args)
	if err != nil {
		if th.log.Enabled(zerolog.DebugLevel) {
			th.log.Debugf("pid %d: %s: %v (%s)", th.proc.pid, abi.SyscallName(num), err, Errno(err))
		}
		ret = abi.Failure
	}
	if th.pm.cfg.TraceSyscalls {
		th.log.Debug(func(e *zerolog.Event) {
			e.Int("pid", th.proc.pid).
				Str("syscall", abi.SyscallName(num)).
				Uint64("a0", args[0]).
				Int64("ret", ret).
				Msg("syscall")
		})
	}
	tf.SetReturn(ret)
}

// Errno maps a syscall error to its error number.
func Errno(err error) abi.Errno {
	var e abi.Errno
	if errors.As(err, &e) {
		return e
	}
	var le *LimitError
	if errors.As(err, &le) {
		return le.Errno()
	}
	switch {
	case errors.Is(err, mm.ErrUnmapped), errors.Is(err, mm.ErrPermission):
		return abi.EFAULT
	case errors.Is(err, vfs.ErrNotFound):
		return abi.ENOENT
	case errors.Is(err, vfs.ErrExist):
		return abi.EEXIST
	case errors.Is(err, vfs.ErrNotDir):
		return abi.ENOTDIR
	case errors.Is(err, vfs.ErrIsDir):
		return abi.EISDIR
	case errors.Is(err, vfs.ErrUnsupported):
		return abi.EINVAL
	}
	return abi.EINVAL
}

func sint(v uint64) int { return int(int64(v)) }

func (th *Thread) dispatch(num uint64, a [6]uint64) (int64, error) {
	switch num {
	case abi.SysGetcwd:
		return th.sysGetcwd(a[0], a[1])
	case abi.SysDup:
		return ret(th.Dup(sint(a[0])))
	case abi.SysDup3:
		return ret(th.Dup3(sint(a[0]), sint(a[1]), abi.OpenFlags(a[2])))
	case abi.SysMkdirat:
		path, err := th.str(a[1])
		if err != nil {
			return 0, err
		}
		return 0, th.Mkdir(sint(a[0]), path, uint32(a[2]))
	case abi.SysUnlinkat:
		path, err := th.str(a[1])
		if err != nil {
			return 0, err
		}
		return 0, th.Unlink(sint(a[0]), path, int(a[2]))
	case abi.SysChdir:
		path, err := th.str(a[0])
		if err != nil {
			return 0, err
		}
		return 0, th.Chdir(path)
	case abi.SysOpenat:
		path, err := th.str(a[1])
		if err != nil {
			return 0, err
		}
		return ret(th.Open(sint(a[0]), path, abi.OpenFlags(a[2])))
	case abi.SysClose:
		return 0, th.Close(sint(a[0]))
	case abi.SysPipe2:
		return th.sysPipe2(a[0], abi.OpenFlags(a[1]))
	case abi.SysGetdents64:
		return th.sysGetdents(sint(a[0]), a[1], a[2])
	case abi.SysRead:
		return th.sysRead(sint(a[0]), a[1], a[2])
	case abi.SysWrite:
		return th.sysWrite(sint(a[0]), a[1], a[2])
	case abi.SysFstat:
		return th.sysFstat(sint(a[0]), a[1])
	case abi.SysExit:
		th.Exit(int(int32(a[0])))
		return 0, nil
	case abi.SysExitGroup:
		th.ExitGroup(int(int32(a[0])))
		return 0, nil
	case abi.SysSchedYield:
		th.SchedYield()
		return 0, nil
	case abi.SysTimes:
		return th.sysTimes(a[0])
	case abi.SysGetpid:
		return int64(th.Getpid()), nil
	case abi.SysGetppid:
		return int64(th.Getppid()), nil
	case abi.SysBrk:
		brk, err := th.Brk(a[0])
		return int64(brk), err
	case abi.SysClone:
		return ret(th.Clone(a[0], a[1], a[2], a[3], a[4]))
	case abi.SysExecve:
		return th.sysExecve(a[0], a[1])
	case abi.SysMmap:
		addr, err := th.Mmap(a[0], a[1], int(a[2]), int(a[3]), sint(a[4]), int64(a[5]))
		return int64(addr), err
	case abi.SysWait4:
		return th.sysWait4(sint(a[0]), a[1], int(a[2]))
	}
	th.log.Warningf("pid %d: unsupported syscall %d", th.proc.pid, num)
	return 0, abi.ENOSYS
}

func ret(v int, err error) (int64, error) {
	return int64(v), err
}

func (th *Thread) str(ptr uint64) (string, error) {
	s, err := mm.TranslateStr(th.proc.Space(), ptr)
	if err != nil {
		return "", abi.EFAULT
	}
	return s, nil
}

// userBuf checks that [ptr, ptr+n) is mapped with want.
func (th *Thread) userBuf(ptr uint64, n int, want mm.Perm) error {
	if _, err := mm.TranslatedByteBuffer(th.proc.Space(), ptr, n, mm.PermU|want); err != nil {
		return abi.EFAULT
	}
	return nil
}

func (th *Thread) copyOut(ptr uint64, b []byte) error {
	if err := mm.CopyOut(th.proc.Space(), ptr, b); err != nil {
		return abi.EFAULT
	}
	return nil
}

// sysGetcwd copies the working directory and its terminator to buf and
// returns the copied length.
func (th *Thread) sysGetcwd(buf, size uint64) (int64, error) {
	cwd := append([]byte(th.Getcwd()), 0)
	if size < uint64(len(cwd)) {
		return 0, abi.ERANGE
	}
	if err := th.copyOut(buf, cwd); err != nil {
		return 0, err
	}
	return int64(len(cwd)), nil
}

func (th *Thread) sysPipe2(ptr uint64, flags abi.OpenFlags) (int64, error) {
	if err := th.userBuf(ptr, 8, mm.PermW); err != nil {
		return 0, err
	}
	r, w, err := th.Pipe2(flags)
	if err != nil {
		return 0, err
	}
	space := th.proc.Space()
	if err := mm.WriteU32(space, ptr, uint32(r)); err != nil {
		return 0, abi.EFAULT
	}
	if err := mm.WriteU32(space, ptr+4, uint32(w)); err != nil {
		return 0, abi.EFAULT
	}
	return 0, nil
}

func (th *Thread) sysGetdents(fdNum int, buf, n uint64) (int64, error) {
	if n > maxIO {
		n = maxIO
	}
	if err := th.userBuf(buf, int(n), mm.PermW); err != nil {
		return 0, err
	}
	b, err := th.Getdents(fdNum, int(n))
	if err != nil {
		return 0, err
	}
	return int64(len(b)), th.copyOut(buf, b)
}

func (th *Thread) sysRead(fdNum int, buf, n uint64) (int64, error) {
	if n > maxIO {
		n = maxIO
	}
	if err := th.userBuf(buf, int(n), mm.PermW); err != nil {
		return 0, err
	}
	p := make([]byte, n)
	got, err := th.Read(fdNum, p)
	if err != nil {
		return 0, err
	}
	return int64(got), th.copyOut(buf, p[:got])
}

func (th *Thread) sysWrite(fdNum int, buf, n uint64) (int64, error) {
	if n > maxIO {
		n = maxIO
	}
	p := make([]byte, n)
	if err := mm.CopyIn(th.proc.Space(), buf, p); err != nil {
		return 0, abi.EFAULT
	}
	return ret(th.Write(fdNum, p))
}

func (th *Thread) sysFstat(fdNum int, buf uint64) (int64, error) {
	st, err := th.Fstat(fdNum)
	if err != nil {
		return 0, err
	}
	return 0, th.copyOut(buf, st.Encode())
}

func (th *Thread) sysTimes(buf uint64) (int64, error) {
	tms, now := th.Times()
	if buf != 0 {
		if err := th.copyOut(buf, tms.Encode()); err != nil {
			return 0, err
		}
	}
	return now, nil
}

func (th *Thread) sysExecve(pathPtr, argvPtr uint64) (int64, error) {
	path, err := th.str(pathPtr)
	if err != nil {
		return 0, err
	}
	var argv []string
	if argvPtr != 0 {
		space := th.proc.Space()
		for i := uint64(0); ; i++ {
			if i == maxArgs {
				return 0, abi.EINVAL
			}
			ptr, err := mm.ReadU64(space, argvPtr+8*i)
			if err != nil {
				return 0, abi.EFAULT
			}
			if ptr == 0 {
				break
			}
			arg, err := th.str(ptr)
			if err != nil {
				return 0, err
			}
			argv = append(argv, arg)
		}
	}
	return ret(th.Exec(path, argv))
}

func (th *Thread) sysWait4(pid int, statusPtr uint64, options int) (int64, error) {
	if statusPtr != 0 {
		if err := th.userBuf(statusPtr, 4, mm.PermW); err != nil {
			return 0, err
		}
	}
	got, status, err := th.Waitpid(pid, options)
	if err != nil || got <= 0 {
		return int64(got), err
	}
	if statusPtr != 0 {
		if err := mm.WriteU32(th.proc.Space(), statusPtr, uint32(status)); err != nil {
			return 0, abi.EFAULT
		}
	}
	return int64(got), nil
}
