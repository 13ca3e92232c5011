// Package vfs defines the kernel's view of filesystem objects and the
// process-wide caches that back path resolution.
//
// Every filesystem object (regular file, directory, pipe endpoint,
// terminal) implements INode. Operations that do not apply to a variant
// return ErrUnsupported; embedding Unsupported supplies those defaults.
// Directories additionally implement Linker, and objects whose reads may
// have to wait for data implement Waiter.
//
// The DentryCache maps absolute paths to inodes and the InodeTable hands
// out inode numbers. Both are created once at boot and live as long as the
// kernel; neither evicts.
//
// # Usage
//
//	dc := vfs.NewDentryCache()
//	root := memfs.Root(dc)
//	f, _ := memfs.WriteFile(dc, "/etc/motd", []byte("hi\n"))
//	n, _ := dc.Get("/etc/motd")
package vfs
