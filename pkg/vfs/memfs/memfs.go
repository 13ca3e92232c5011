// Package memfs provides in-memory regular file and directory inodes, and
// helpers that populate a dentry cache with them.
package memfs

import (
	"errors"
	"sort"
	"sync"
	"time"

	vfs "rvos/pkg/vfs"
)

// ErrNoParent is returned when the parent of a path is not a cached
// directory.
var ErrNoParent = errors.New("memfs: parent directory not found")

// File is a regular file held in memory.
type File struct {
	vfs.Unsupported

	mu    sync.RWMutex
	data  []byte
	mtime time.Time
}

// NewFile returns a file holding a copy of data.
func NewFile(data []byte) *File {
	return &File{
		data:  append([]byte(nil), data...),
		mtime: time.Now(),
	}
}

// Metadata implements vfs.INode.
func (f *File) Metadata() vfs.Metadata {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return vfs.Metadata{
		Type:    vfs.RegularFile,
		Size:    int64(len(f.data)),
		Mode:    0o644,
		Nlink:   1,
		ModTime: f.mtime,
	}
}

// ReadAt implements vfs.INode.
func (f *File) ReadAt(off int64, p []byte) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if off < 0 {
		return 0, vfs.ErrUnsupported
	}
	if off >= int64(len(f.data)) {
		return 0, nil
	}
	return copy(p, f.data[off:]), nil
}

// WriteAt implements vfs.INode. Writing past the end zero-fills the gap.
func (f *File) WriteAt(off int64, p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if off < 0 {
		return 0, vfs.ErrUnsupported
	}
	if end := off + int64(len(p)); end > int64(len(f.data)) {
		if end > int64(cap(f.data)) {
			grown := make([]byte, end, end*2)
			copy(grown, f.data)
			f.data = grown
		} else {
			f.data = f.data[:end]
		}
	}
	copy(f.data[off:], p)
	f.mtime = time.Now()
	return len(p), nil
}

// Truncate implements vfs.Truncater.
func (f *File) Truncate(size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if size < 0 {
		return vfs.ErrUnsupported
	}
	if size <= int64(len(f.data)) {
		f.data = f.data[:size]
	} else {
		f.data = append(f.data, make([]byte, size-int64(len(f.data)))...)
	}
	f.mtime = time.Now()
	return nil
}

// Bytes returns a copy of the file contents.
func (f *File) Bytes() []byte {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]byte(nil), f.data...)
}

// Dir is a directory held in memory.
type Dir struct {
	vfs.Unsupported

	mu       sync.RWMutex
	children map[string]vfs.INode
	mtime    time.Time
}

var (
	_ vfs.INode     = (*File)(nil)
	_ vfs.Truncater = (*File)(nil)
	_ vfs.INode     = (*Dir)(nil)
	_ vfs.Linker    = (*Dir)(nil)
)

// NewDir returns an empty directory.
func NewDir() *Dir {
	return &Dir{
		children: make(map[string]vfs.INode),
		mtime:    time.Now(),
	}
}

// Metadata implements vfs.INode.
func (d *Dir) Metadata() vfs.Metadata {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return vfs.Metadata{
		Type:    vfs.Directory,
		Size:    int64(len(d.children)),
		Mode:    0o755,
		Nlink:   2,
		ModTime: d.mtime,
	}
}

// List implements vfs.INode. Names are sorted.
func (d *Dir) List() ([]string, error) {
	d.mu.RLock()
	names := make([]string, 0, len(d.children))
	for name := range d.children {
		names = append(names, name)
	}
	d.mu.RUnlock()
	sort.Strings(names)
	return names, nil
}

// Find implements vfs.INode.
func (d *Dir) Find(name string) (vfs.INode, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.children[name]
	if !ok {
		return nil, vfs.ErrNotFound
	}
	return n, nil
}

// Link implements vfs.Linker.
func (d *Dir) Link(name string, child vfs.INode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.children[name]; ok {
		return vfs.ErrExist
	}
	d.children[name] = child
	d.mtime = time.Now()
	return nil
}

// Unlink implements vfs.Linker.
func (d *Dir) Unlink(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.children[name]; !ok {
		return vfs.ErrNotFound
	}
	delete(d.children, name)
	d.mtime = time.Now()
	return nil
}

// Root returns the directory cached at "/", creating it if needed.
func Root(dc *vfs.DentryCache) vfs.INode {
	if n, ok := dc.Get("/"); ok {
		return n
	}
	return dc.Insert("/", NewDir())
}

// MkdirAll makes sure path and each of its parents is a cached directory.
func MkdirAll(dc *vfs.DentryCache, path string) (vfs.INode, error) {
	path = vfs.Clean(path)
	if path == "/" {
		return Root(dc), nil
	}
	if n, ok := dc.Get(path); ok {
		if n.Metadata().Type != vfs.Directory {
			return nil, vfs.ErrNotDir
		}
		return n, nil
	}
	parent, base := vfs.Split(path)
	p, err := MkdirAll(dc, parent)
	if err != nil {
		return nil, err
	}
	dir := dc.Insert(path, NewDir())
	if err := link(p, base, dir); err != nil {
		return nil, err
	}
	return dir, nil
}

// WriteFile caches a regular file holding data at path, creating missing
// parent directories. An existing binding is replaced.
func WriteFile(dc *vfs.DentryCache, path string, data []byte) (*File, error) {
	path = vfs.Clean(path)
	parent, base := vfs.Split(path)
	if base == "" {
		return nil, vfs.ErrIsDir
	}
	p, err := MkdirAll(dc, parent)
	if err != nil {
		return nil, err
	}
	if l, ok := p.(vfs.Linker); ok {
		_ = l.Unlink(base)
	}
	f := NewFile(data)
	dc.Insert(path, f)
	if err := link(p, base, f); err != nil {
		return nil, err
	}
	return f, nil
}

// LinkParent adds n to the directory cached as path's parent.
func LinkParent(dc *vfs.DentryCache, path string, n vfs.INode) error {
	parent, base := vfs.Split(vfs.Clean(path))
	p, ok := dc.Get(parent)
	if !ok {
		return ErrNoParent
	}
	return link(p, base, n)
}

// UnlinkParent removes path's entry from its parent directory, if any.
func UnlinkParent(dc *vfs.DentryCache, path string) {
	parent, base := vfs.Split(vfs.Clean(path))
	if p, ok := dc.Get(parent); ok {
		if l, ok := p.(vfs.Linker); ok {
			_ = l.Unlink(base)
		}
	}
}

func link(parent vfs.INode, name string, child vfs.INode) error {
	l, ok := parent.(vfs.Linker)
	if !ok {
		return vfs.ErrNotDir
	}
	return l.Link(name, child)
}
