package fd

import (
	"sync"

	"github.com/bits-and-blooms/bitset"
	"go.uber.org/atomic"

	"rvos/pkg/abi"
	"rvos/pkg/vfs"
)

// DefaultMaxFiles bounds a table when no limit is configured.
const DefaultMaxFiles = 1024

// Descriptor is one slot of a Table.
type Descriptor struct {
	File        *OpenFile
	Readable    bool
	Writable    bool
	CloseOnExec bool
}

// Closed reports whether the slot is free.
func (d Descriptor) Closed() bool {
	return !d.Readable && !d.Writable
}

// NewDescriptor builds a descriptor whose permissions follow flags'
// access mode.
func NewDescriptor(f *OpenFile, flags abi.OpenFlags) Descriptor {
	return Descriptor{
		File:        f,
		Readable:    flags.Readable(),
		Writable:    flags.Writable(),
		CloseOnExec: flags.Has(abi.O_CLOEXEC),
	}
}

// Table is a process's descriptor table. A table may be shared by several
// processes after a clone with CLONE_FILES.
type Table struct {
	users atomic.Int32
	max   int

	mu     sync.Mutex
	slots  []Descriptor
	closed bitset.BitSet
}

// NewTable returns a table with stdin, stdout and stderr at 0, 1 and 2.
func NewTable(stdin, stdout, stderr vfs.INode, max int) *Table {
	if max <= 0 {
		max = DefaultMaxFiles
	}
	t := &Table{max: max}
	t.users.Store(1)
	t.slots = []Descriptor{
		NewDescriptor(NewOpenFile("/dev/stdin", stdin, abi.O_RDONLY), abi.O_RDONLY),
		NewDescriptor(NewOpenFile("/dev/stdout", stdout, abi.O_WRONLY), abi.O_WRONLY),
		NewDescriptor(NewOpenFile("/dev/stderr", stderr, abi.O_WRONLY), abi.O_WRONLY),
	}
	return t
}

// Len returns the number of slots, open or closed.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

// Max returns the slot limit.
func (t *Table) Max() int { return t.max }

// Get returns the open descriptor at fd.
func (t *Table) Get(fd int) (Descriptor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fd < 0 || fd >= len(t.slots) || t.slots[fd].Closed() {
		return Descriptor{}, abi.EBADF
	}
	return t.slots[fd], nil
}

// Slot returns whatever is at fd, closed placeholders included.
func (t *Table) Slot(fd int) (Descriptor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fd < 0 || fd >= len(t.slots) {
		return Descriptor{}, false
	}
	return t.slots[fd], true
}

// Alloc appends d and returns its index. The table takes over d's
// reference to its open file.
func (t *Table) Alloc(d Descriptor) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.slots) >= t.max {
		return -1, abi.EMFILE
	}
	t.slots = append(t.slots, d)
	return len(t.slots) - 1, nil
}

// AllocLowest installs d in the first closed slot, or appends it.
func (t *Table) AllocLowest(d Descriptor) (int, error) {
	t.mu.Lock()
	if i, ok := t.closed.NextSet(0); ok {
		t.closed.Clear(i)
		t.slots[i] = d
		t.mu.Unlock()
		return int(i), nil
	}
	t.mu.Unlock()
	return t.Alloc(d)
}

// InstallAt overwrites slot fd with d, growing the table with closed
// placeholders as needed. Whatever was open at fd is released. The only
// error is EBADF for fd outside the table limit.
func (t *Table) InstallAt(fd int, d Descriptor) error {
	t.mu.Lock()
	if fd < 0 || fd >= t.max {
		t.mu.Unlock()
		return abi.EBADF
	}
	for len(t.slots) <= fd {
		t.closed.Set(uint(len(t.slots)))
		t.slots = append(t.slots, Descriptor{})
	}
	old := t.slots[fd]
	t.slots[fd] = d
	t.closed.Clear(uint(fd))
	t.mu.Unlock()

	if !old.Closed() && old.File != nil {
		_ = old.File.Release()
	}
	return nil
}

// Close frees slot fd. Closing a slot that is already closed succeeds
// without effect; fd out of range is EBADF.
func (t *Table) Close(fd int) error {
	t.mu.Lock()
	if fd < 0 || fd >= len(t.slots) {
		t.mu.Unlock()
		return abi.EBADF
	}
	old := t.slots[fd]
	if old.Closed() {
		t.mu.Unlock()
		return nil
	}
	t.slots[fd] = Descriptor{}
	t.closed.Set(uint(fd))
	t.mu.Unlock()
	return old.File.Release()
}

// Dup installs a copy of fd in the lowest closed slot, or a new one. Both
// descriptors share one open file and so one cursor.
func (t *Table) Dup(fd int) (int, error) {
	d, err := t.Get(fd)
	if err != nil {
		return -1, err
	}
	d.File.Retain()
	d.CloseOnExec = false
	nfd, err := t.AllocLowest(d)
	if err != nil {
		_ = d.File.Release()
		return -1, err
	}
	return nfd, nil
}

// Dup3 makes newfd a copy of fd, growing the table if newfd is past the
// end and releasing whatever newfd held. newfd is overwritten even when it
// equals fd; the open file survives because it is retained first.
func (t *Table) Dup3(fd, newfd int, flags abi.OpenFlags) (int, error) {
	d, err := t.Get(fd)
	if err != nil {
		return -1, err
	}
	d.File.Retain()
	d.CloseOnExec = flags.Has(abi.O_CLOEXEC)
	if err := t.InstallAt(newfd, d); err != nil {
		_ = d.File.Release()
		return -1, err
	}
	return newfd, nil
}

// Find returns the first open slot whose file refers to n.
func (t *Table) Find(n vfs.INode) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, d := range t.slots {
		if !d.Closed() && d.File != nil && d.File.inode == n {
			return i, true
		}
	}
	return -1, false
}

// Clone returns an independent table holding a new reference to every
// open file.
func (t *Table) Clone() *Table {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := &Table{max: t.max, slots: make([]Descriptor, len(t.slots))}
	c.users.Store(1)
	for i, d := range t.slots {
		if !d.Closed() {
			d.File.Retain()
		}
		c.slots[i] = d
	}
	t.closed.CopyFull(&c.closed)
	return c
}

// Share registers one more process using t and returns t.
func (t *Table) Share() *Table {
	t.users.Inc()
	return t
}

// Release drops one process's use of t. The last user closes every slot.
func (t *Table) Release() {
	if t.users.Dec() > 0 {
		return
	}
	t.mu.Lock()
	slots := t.slots
	t.slots = nil
	t.closed.ClearAll()
	t.mu.Unlock()
	for _, d := range slots {
		if !d.Closed() {
			_ = d.File.Release()
		}
	}
}

// CloseOnExec closes every descriptor marked close-on-exec.
func (t *Table) CloseOnExec() {
	t.mu.Lock()
	var files []*OpenFile
	for i, d := range t.slots {
		if !d.Closed() && d.CloseOnExec {
			files = append(files, d.File)
			t.slots[i] = Descriptor{}
			t.closed.Set(uint(i))
		}
	}
	t.mu.Unlock()
	for _, f := range files {
		_ = f.Release()
	}
}

// OpenFileTable is the kernel-wide registry of open files, keyed by path.
type OpenFileTable struct {
	mu    sync.Mutex
	files map[string]*OpenFile
}

// NewOpenFileTable returns an empty registry.
func NewOpenFileTable() *OpenFileTable {
	return &OpenFileTable{files: make(map[string]*OpenFile)}
}

// Insert records f under its path.
func (o *OpenFileTable) Insert(f *OpenFile) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.files[f.path] = f
}

// Get returns the open file registered for path.
func (o *OpenFileTable) Get(path string) (*OpenFile, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	f, ok := o.files[path]
	return f, ok
}

// Remove drops the entry for path.
func (o *OpenFileTable) Remove(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.files, path)
}

// Len returns the number of registered files.
func (o *OpenFileTable) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.files)
}
