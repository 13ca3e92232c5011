package process

import (
	"github.com/pkg/errors"

	"rvos/pkg/abi"
	"rvos/pkg/fd"
	"rvos/pkg/process/ipc"
	"rvos/pkg/vfs"
	"rvos/pkg/vfs/memfs"
)

// resolve turns path into an absolute path. Relative paths are taken
// from dirfd's directory, or from the working directory for AT_FDCWD.
func (th *Thread) resolve(dirfd int, path string) (string, error) {
	if err := vfs.ValidatePath(path); err != nil {
		if errors.Is(err, vfs.ErrEmptyPath) {
			return "", abi.ENOENT
		}
		return "", abi.EINVAL
	}
	if vfs.IsAbs(path) {
		return vfs.Clean(path), nil
	}
	base := th.proc.Cwd()
	if dirfd != abi.AT_FDCWD {
		d, err := th.proc.Files().Get(dirfd)
		if err != nil {
			return "", err
		}
		if d.File.Inode().Metadata().Type != vfs.Directory {
			return "", abi.ENOTDIR
		}
		base = d.File.Path()
	}
	return vfs.Abs(path, base), nil
}

// Getcwd returns the working directory.
func (th *Thread) Getcwd() string {
	return th.proc.Cwd()
}

// Open opens path and returns a descriptor.
//
// If the process already has a descriptor on the same inode, that slot is
// reused for the new opening and its number returned. A path missing from
// the dentry cache is created as an empty regular file, unless
// O_DIRECTORY asks for a directory.
func (th *Thread) Open(dirfd int, path string, flags abi.OpenFlags) (int, error) {
	abs, err := th.resolve(dirfd, path)
	if err != nil {
		return -1, err
	}
	files := th.proc.Files()
	pm := th.pm

	if n, ok := pm.dentries.Get(abs); ok {
		md := n.Metadata()
		switch {
		case flags.Has(abi.O_CREAT | abi.O_EXCL):
			return -1, abi.EEXIST
		case flags.Has(abi.O_DIRECTORY) && md.Type != vfs.Directory:
			return -1, abi.ENOTDIR
		case md.Type == vfs.Directory && flags.Writable():
			return -1, abi.EISDIR
		}
		if flags.Has(abi.O_TRUNC) && flags.Writable() {
			if t, ok := n.(vfs.Truncater); ok {
				if err := t.Truncate(0); err != nil {
					return -1, err
				}
			}
		}
		d := fd.NewDescriptor(fd.NewOpenFile(abs, n, flags), flags)
		if i, found := files.Find(n); found {
			if err := files.InstallAt(i, d); err != nil {
				_ = d.File.Release()
				return -1, err
			}
			return i, nil
		}
		return alloc(files, d)
	}

	if flags.Has(abi.O_DIRECTORY) {
		return -1, abi.ENOENT
	}
	n := pm.dentries.Insert(abs, memfs.NewFile(nil))
	if err := memfs.LinkParent(pm.dentries, abs, n); err != nil {
		th.log.Debugf("pid %d: created %s outside a cached directory: %v", th.proc.pid, abs, err)
	}
	of := fd.NewOpenFile(abs, n, flags)
	pm.files.Insert(of)
	return alloc(files, fd.NewDescriptor(of, flags))
}

// alloc appends d, dropping its open file if the table is full.
func alloc(files *fd.Table, d fd.Descriptor) (int, error) {
	i, err := files.Alloc(d)
	if err != nil {
		_ = d.File.Release()
		return -1, err
	}
	return i, nil
}

// Close closes fd. Closing a closed slot is a no-op.
func (th *Thread) Close(fdNum int) error {
	return th.proc.Files().Close(fdNum)
}

// Read reads into p from fd. Reads from a pipe suspend the caller until
// data arrives or every writer is gone.
func (th *Thread) Read(fdNum int, p []byte) (int, error) {
	d, err := th.proc.Files().Get(fdNum)
	if err != nil {
		return -1, err
	}
	if !d.Readable {
		return -1, abi.EBADF
	}
	if d.File.Inode().Metadata().Type == vfs.Directory {
		return -1, abi.EISDIR
	}
	_ = th.proc.TransitionTo(StateReady)
	n, err := d.File.Read(th.task, p)
	_ = th.proc.TransitionTo(StateRunning)
	return n, err
}

// Write writes p to fd.
func (th *Thread) Write(fdNum int, p []byte) (int, error) {
	d, err := th.proc.Files().Get(fdNum)
	if err != nil {
		return -1, err
	}
	if !d.Writable {
		return -1, abi.EBADF
	}
	n, err := d.File.Write(p)
	if errors.Is(err, ipc.ErrBrokenPipe) {
		return -1, abi.EPIPE
	}
	return n, err
}

// Dup copies fd into the lowest closed slot, or a new one.
func (th *Thread) Dup(fdNum int) (int, error) {
	return th.proc.Files().Dup(fdNum)
}

// Dup3 copies fd into newfd, growing the table as needed.
func (th *Thread) Dup3(fdNum, newfd int, flags abi.OpenFlags) (int, error) {
	return th.proc.Files().Dup3(fdNum, newfd, flags)
}

// Pipe2 creates a pipe and returns its read and write descriptors.
func (th *Thread) Pipe2(flags abi.OpenFlags) (int, int, error) {
	r, w := ipc.NewPipe(th.pm.pipes)
	files := th.proc.Files()
	cloexec := flags & abi.O_CLOEXEC

	rf := fd.NewOpenFile("pipe:[r]", r, abi.O_RDONLY)
	rfd, err := files.AllocLowest(fd.NewDescriptor(rf, abi.O_RDONLY|cloexec))
	if err != nil {
		_ = rf.Release()
		_ = w.Close()
		return -1, -1, err
	}
	wf := fd.NewOpenFile("pipe:[w]", w, abi.O_WRONLY)
	wfd, err := files.AllocLowest(fd.NewDescriptor(wf, abi.O_WRONLY|cloexec))
	if err != nil {
		_ = files.Close(rfd)
		_ = wf.Release()
		return -1, -1, err
	}
	return rfd, wfd, nil
}

// Getdents encodes directory entries of fd into at most max bytes and
// advances the directory cursor. A second call after the last entry
// returns no bytes.
func (th *Thread) Getdents(fdNum, max int) ([]byte, error) {
	d, err := th.proc.Files().Get(fdNum)
	if err != nil {
		return nil, err
	}
	return d.File.ReadDir(th.pm.inodes, max)
}

// Mkdir creates the directory path. Its parent must be a cached
// directory.
func (th *Thread) Mkdir(dirfd int, path string, mode uint32) error {
	abs, err := th.resolve(dirfd, path)
	if err != nil {
		return err
	}
	pm := th.pm
	if _, ok := pm.dentries.Get(abs); ok {
		return abi.EEXIST
	}
	parent, ok := pm.dentries.Get(vfs.Dir(abs))
	if !ok {
		return abi.ENOENT
	}
	if parent.Metadata().Type != vfs.Directory {
		return abi.ENOTDIR
	}
	dir := pm.dentries.Insert(abs, memfs.NewDir())
	if err := memfs.LinkParent(pm.dentries, abs, dir); err != nil {
		pm.dentries.Unlink(abs)
		if errors.Is(err, vfs.ErrExist) {
			return abi.EEXIST
		}
		return err
	}
	return nil
}

// Chdir changes the working directory to path, which must be a cached
// directory.
func (th *Thread) Chdir(path string) error {
	abs, err := th.resolve(abi.AT_FDCWD, path)
	if err != nil {
		return err
	}
	n, ok := th.pm.dentries.Get(abs)
	if !ok {
		return abi.ENOENT
	}
	if n.Metadata().Type != vfs.Directory {
		return abi.ENOTDIR
	}
	p := th.proc
	p.mu.Lock()
	p.pcb.Cwd = abs
	p.mu.Unlock()
	return nil
}

// Unlink removes path from the dentry cache and from its parent
// directory. Descriptors already open on it stay usable.
func (th *Thread) Unlink(dirfd int, path string, flags int) error {
	abs, err := th.resolve(dirfd, path)
	if err != nil {
		return err
	}
	if abs == "/" {
		return abi.EACCES
	}
	pm := th.pm
	n, ok := pm.dentries.Get(abs)
	if !ok {
		return abi.ENOENT
	}
	isDir := n.Metadata().Type == vfs.Directory
	switch {
	case flags&abi.AT_REMOVEDIR != 0 && !isDir:
		return abi.ENOTDIR
	case flags&abi.AT_REMOVEDIR == 0 && isDir:
		return abi.EISDIR
	}
	pm.dentries.Unlink(abs)
	memfs.UnlinkParent(pm.dentries, abs)
	pm.files.Remove(abs)
	return nil
}

// Fstat describes the file open at fd.
func (th *Thread) Fstat(fdNum int) (abi.Stat, error) {
	d, err := th.proc.Files().Get(fdNum)
	if err != nil {
		return abi.Stat{}, err
	}
	return d.File.Stat(th.pm.inodes), nil
}
