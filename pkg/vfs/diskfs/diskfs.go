// Package diskfs exposes a host directory as a tree of vfs inodes, so a
// boot configuration can mount host files into the kernel namespace.
package diskfs

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"

	"github.com/pkg/errors"

	"rvos/pkg/vfs"
)

// FS represents a host directory.
type FS struct {
	root     string
	readOnly bool

	mu    sync.Mutex
	nodes map[string]*Node
}

// New creates a filesystem rooted at the given host directory.
func New(root string, readOnly bool) *FS {
	return &FS{
		root:     filepath.Clean(root),
		readOnly: readOnly,
		nodes:    make(map[string]*Node),
	}
}

// Root returns the inode for the host root directory.
func (fs *FS) Root() *Node {
	return fs.node("/")
}

// node returns the one Node for rel, so inode identity is stable across
// lookups.
func (fs *FS) node(rel string) *Node {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.nodes[rel]
	if !ok {
		n = &Node{fs: fs, rel: rel}
		fs.nodes[rel] = n
	}
	return n
}

// fullPath converts a path inside the filesystem to a host path.
func (fs *FS) fullPath(path string) string {
	cleanPath := vfs.Clean(path)
	if cleanPath == "/" {
		return fs.root
	}
	return filepath.Join(fs.root, cleanPath[1:])
}

// Node is a host file or directory.
type Node struct {
	fs  *FS
	rel string
}

var (
	_ vfs.INode     = (*Node)(nil)
	_ vfs.Truncater = (*Node)(nil)
)

// Path returns the node's path relative to the filesystem root.
func (n *Node) Path() string { return n.rel }

// Metadata implements vfs.INode. A node whose host file vanished reports
// an empty regular file.
func (n *Node) Metadata() vfs.Metadata {
	info, err := os.Stat(n.fs.fullPath(n.rel))
	if err != nil {
		return vfs.Metadata{Type: vfs.RegularFile}
	}
	md := vfs.Metadata{
		Type:    vfs.RegularFile,
		Size:    info.Size(),
		Mode:    uint32(info.Mode().Perm()),
		Nlink:   1,
		ModTime: info.ModTime(),
	}
	if info.IsDir() {
		md.Type = vfs.Directory
		md.Size = 0
		md.Nlink = 2
	}
	return md
}

// ReadAt implements vfs.INode.
func (n *Node) ReadAt(off int64, p []byte) (int, error) {
	f, err := os.Open(n.fs.fullPath(n.rel))
	if err != nil {
		return 0, hostErr(err)
	}
	defer f.Close()
	got, err := f.ReadAt(p, off)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	if errors.Is(err, syscall.EISDIR) {
		return 0, vfs.ErrIsDir
	}
	return got, err
}

// WriteAt implements vfs.INode.
func (n *Node) WriteAt(off int64, p []byte) (int, error) {
	if n.fs.readOnly {
		return 0, vfs.ErrUnsupported
	}
	f, err := os.OpenFile(n.fs.fullPath(n.rel), os.O_WRONLY, 0)
	if err != nil {
		return 0, hostErr(err)
	}
	defer f.Close()
	return f.WriteAt(p, off)
}

// Truncate implements vfs.Truncater.
func (n *Node) Truncate(size int64) error {
	if n.fs.readOnly {
		return vfs.ErrUnsupported
	}
	return hostErr(os.Truncate(n.fs.fullPath(n.rel), size))
}

// List implements vfs.INode. Names come back sorted.
func (n *Node) List() ([]string, error) {
	entries, err := os.ReadDir(n.fs.fullPath(n.rel))
	if err != nil {
		return nil, hostErr(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Find implements vfs.INode.
func (n *Node) Find(name string) (vfs.INode, error) {
	if n.Metadata().Type != vfs.Directory {
		return nil, vfs.ErrNotDir
	}
	rel := vfs.Join(n.rel, name)
	if _, err := os.Lstat(n.fs.fullPath(rel)); err != nil {
		return nil, hostErr(err)
	}
	return n.fs.node(rel), nil
}

// IsPipe implements vfs.INode.
func (n *Node) IsPipe() bool { return false }

// Close implements vfs.INode.
func (n *Node) Close() error { return nil }

// Walk calls fn for n and every node below it, parents first, with paths
// joined onto at.
func Walk(n vfs.INode, at string, fn func(path string, n vfs.INode) error) error {
	if err := fn(at, n); err != nil {
		return err
	}
	if n.Metadata().Type != vfs.Directory {
		return nil
	}
	names, err := n.List()
	if err != nil {
		return err
	}
	for _, name := range names {
		child, err := n.Find(name)
		if err != nil {
			return err
		}
		if err := Walk(child, vfs.Join(at, name), fn); err != nil {
			return err
		}
	}
	return nil
}

func hostErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, os.ErrNotExist):
		return vfs.ErrNotFound
	case errors.Is(err, os.ErrExist):
		return vfs.ErrExist
	}
	return err
}
