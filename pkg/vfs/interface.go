package vfs

import (
	"errors"
	"time"

	"rvos/pkg/sched"
)

// Errors returned by INode implementations.
var (
	ErrUnsupported = errors.New("vfs: operation not supported by this inode")
	ErrNotFound    = errors.New("vfs: no such file or directory")
	ErrExist       = errors.New("vfs: file exists")
	ErrNotDir      = errors.New("vfs: not a directory")
	ErrIsDir       = errors.New("vfs: is a directory")
)

// FileType is the variant of an inode.
type FileType int

const (
	RegularFile FileType = iota
	Directory
	Pipe
	Terminal
)

func (t FileType) String() string {
	switch t {
	case RegularFile:
		return "file"
	case Directory:
		return "dir"
	case Pipe:
		return "pipe"
	case Terminal:
		return "tty"
	}
	return "unknown"
}

// Metadata describes an inode.
type Metadata struct {
	Type    FileType
	Size    int64
	Mode    uint32 // permission bits
	Nlink   uint32
	ModTime time.Time
}

// INode is the capability contract shared by every filesystem object.
type INode interface {
	// Metadata returns the current type, size and times.
	Metadata() Metadata

	// ReadAt reads into p starting at off. Inodes without a position, such
	// as terminals and pipes, ignore off. Reading at or past the end
	// returns 0 bytes and no error.
	ReadAt(off int64, p []byte) (int, error)

	// WriteAt writes p at off. Position-less inodes append.
	WriteAt(off int64, p []byte) (int, error)

	// List returns the names of a directory's entries.
	List() ([]string, error)

	// Find looks up a directory entry by name.
	Find(name string) (INode, error)

	// IsPipe reports whether the inode is a pipe endpoint.
	IsPipe() bool

	// Close is called when the last open file referencing the inode is
	// released.
	Close() error
}

// Linker is implemented by directories.
type Linker interface {
	Link(name string, child INode) error
	Unlink(name string) error
}

// Truncater is implemented by inodes whose size can be reset.
type Truncater interface {
	Truncate(size int64) error
}

// Waiter is implemented by inodes whose reads suspend the calling task
// until data is available.
type Waiter interface {
	ReadWait(t *sched.Task, p []byte) (int, error)
}

// Unsupported provides ErrUnsupported for every operation that does not
// apply to a variant. Embed it and override what the variant supports.
type Unsupported struct{}

func (Unsupported) ReadAt(int64, []byte) (int, error)  { return 0, ErrUnsupported }
func (Unsupported) WriteAt(int64, []byte) (int, error) { return 0, ErrUnsupported }
func (Unsupported) List() ([]string, error)            { return nil, ErrUnsupported }
func (Unsupported) Find(string) (INode, error)         { return nil, ErrUnsupported }
func (Unsupported) IsPipe() bool                       { return false }
func (Unsupported) Close() error                       { return nil }
