package fd

import (
	"sync"

	"go.uber.org/atomic"

	"rvos/pkg/abi"
	"rvos/pkg/sched"
	"rvos/pkg/vfs"
)

// OpenFile is one opening of an inode.
type OpenFile struct {
	inode vfs.INode
	path  string
	refs  atomic.Int64

	mu     sync.Mutex
	offset int64
	flags  abi.OpenFlags
}

// NewOpenFile returns an open file holding one reference.
func NewOpenFile(path string, n vfs.INode, flags abi.OpenFlags) *OpenFile {
	f := &OpenFile{inode: n, path: path, flags: flags}
	f.refs.Store(1)
	return f
}

// Inode returns the opened inode.
func (f *OpenFile) Inode() vfs.INode { return f.inode }

// Path returns the absolute path the file was opened by.
func (f *OpenFile) Path() string { return f.path }

// Flags returns the status flags.
func (f *OpenFile) Flags() abi.OpenFlags {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flags
}

// SetFlags replaces the status flags.
func (f *OpenFile) SetFlags(flags abi.OpenFlags) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags = flags
}

// Offset returns the cursor.
func (f *OpenFile) Offset() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offset
}

// Refs returns the current reference count.
func (f *OpenFile) Refs() int64 { return f.refs.Load() }

// Retain adds a reference and returns f.
func (f *OpenFile) Retain() *OpenFile {
	f.refs.Inc()
	return f
}

// Release drops a reference. Dropping the last one closes the inode.
func (f *OpenFile) Release() error {
	switch n := f.refs.Dec(); {
	case n == 0:
		return f.inode.Close()
	case n < 0:
		panic("fd: open file released too many times")
	}
	return nil
}

// Read reads at the cursor and advances it. Inodes that implement
// vfs.Waiter suspend t until data arrives; no lock is held while t is
// suspended.
func (f *OpenFile) Read(t *sched.Task, p []byte) (int, error) {
	if w, ok := f.inode.(vfs.Waiter); ok && t != nil {
		return w.ReadWait(t, p)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.inode.ReadAt(f.offset, p)
	f.offset += int64(n)
	return n, err
}

// Write writes at the cursor, or at the end with O_APPEND, and advances
// the cursor past the written bytes.
func (f *OpenFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	off := f.offset
	if f.flags.Has(abi.O_APPEND) {
		off = f.inode.Metadata().Size
	}
	n, err := f.inode.WriteAt(off, p)
	f.offset = off + int64(n)
	return n, err
}

// ReadDir encodes directory entries starting at the cursor into at most
// max bytes of linux_dirent64 records and advances the cursor by the
// number of entries returned. Inodes that cannot be listed, and empty
// directories, yield a single "." entry on the first call. At the end of
// the listing it returns no bytes.
func (f *OpenFile) ReadDir(inodes *vfs.InodeTable, max int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	names, err := f.inode.List()
	if err != nil || len(names) == 0 {
		names = []string{"."}
	}
	var out []byte
	idx := f.offset
	for ; idx < int64(len(names)); idx++ {
		name := names[idx]
		child := f.inode
		if name != "." {
			if c, err := f.inode.Find(name); err == nil {
				child = c
			}
		}
		d := abi.Dirent64{
			Ino:  inodes.Insert(child),
			Off:  idx + 1,
			Type: DirentType(child.Metadata().Type),
			Name: name,
		}
		if len(out)+d.RecLen() > max {
			break
		}
		out = d.AppendTo(out)
	}
	if len(out) == 0 && idx < int64(len(names)) {
		return nil, abi.EINVAL
	}
	f.offset = idx
	return out, nil
}

// Stat describes the opened inode.
func (f *OpenFile) Stat(inodes *vfs.InodeTable) abi.Stat {
	md := f.inode.Metadata()
	ts := abi.Timespec{Sec: md.ModTime.Unix(), Nsec: int64(md.ModTime.Nanosecond())}
	if md.ModTime.IsZero() {
		ts = abi.Timespec{}
	}
	return abi.Stat{
		Dev:     1,
		Ino:     inodes.Insert(f.inode),
		Mode:    ModeType(md.Type) | md.Mode,
		Nlink:   md.Nlink,
		Size:    md.Size,
		Blksize: 512,
		Blocks:  (md.Size + 511) / 512,
		Atime:   ts,
		Mtime:   ts,
		Ctime:   ts,
	}
}

// DirentType maps an inode type to a d_type value.
func DirentType(t vfs.FileType) uint8 {
	switch t {
	case vfs.RegularFile:
		return abi.DT_REG
	case vfs.Directory:
		return abi.DT_DIR
	case vfs.Pipe:
		return abi.DT_FIFO
	case vfs.Terminal:
		return abi.DT_CHR
	}
	return abi.DT_UNKNOWN
}

// ModeType maps an inode type to st_mode type bits.
func ModeType(t vfs.FileType) uint32 {
	switch t {
	case vfs.Directory:
		return abi.S_IFDIR
	case vfs.Pipe:
		return abi.S_IFIFO
	case vfs.Terminal:
		return abi.S_IFCHR
	}
	return abi.S_IFREG
}
