// Package fd implements open files and per-process descriptor tables.
//
// An OpenFile is one opening of an inode: it carries the cursor and status
// flags and may be shared by several descriptors (after dup, or across a
// fork), so cursor movement through one descriptor is seen through all of
// them. OpenFiles are reference counted; the inode is closed when the last
// reference is released.
//
// A Table maps small integers to Descriptors. A descriptor that is neither
// readable nor writable is closed and its slot can be reused.
package fd
