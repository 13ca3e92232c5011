package vfs

import (
	"sort"
	"sync"
)

// DentryCache maps absolute paths to inodes. It holds at most one inode per
// path and never evicts.
type DentryCache struct {
	mu      sync.RWMutex
	entries map[string]INode
}

// NewDentryCache returns an empty cache.
func NewDentryCache() *DentryCache {
	return &DentryCache{entries: make(map[string]INode)}
}

// Get returns the inode cached for path.
func (c *DentryCache) Get(path string) (INode, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.entries[path]
	return n, ok
}

// Insert binds path to n, replacing any previous binding, and returns the
// stored handle. Callers that compare inode identity must use the result.
func (c *DentryCache) Insert(path string, n INode) INode {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = n
	return c.entries[path]
}

// Unlink drops the binding for path. Inodes already open stay usable.
func (c *DentryCache) Unlink(path string) (INode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.entries[path]
	delete(c.entries, path)
	return n, ok
}

// Len returns the number of cached paths.
func (c *DentryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Paths returns every cached path in sorted order.
func (c *DentryCache) Paths() []string {
	c.mu.RLock()
	paths := make([]string, 0, len(c.entries))
	for p := range c.entries {
		paths = append(paths, p)
	}
	c.mu.RUnlock()
	sort.Strings(paths)
	return paths
}

// InodeTable assigns stable inode numbers. Numbers start at 1 and are
// never reused.
type InodeTable struct {
	mu   sync.Mutex
	next uint64
	inos map[INode]uint64
}

// NewInodeTable returns an empty table.
func NewInodeTable() *InodeTable {
	return &InodeTable{inos: make(map[INode]uint64)}
}

// Insert registers n and returns its number. Registering an inode twice
// returns the number it already has.
func (t *InodeTable) Insert(n INode) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ino, ok := t.inos[n]; ok {
		return ino
	}
	t.next++
	t.inos[n] = t.next
	return t.next
}

// Ino returns the number of a registered inode.
func (t *InodeTable) Ino(n INode) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ino, ok := t.inos[n]
	return ino, ok
}

// Len returns the number of registered inodes.
func (t *InodeTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inos)
}
