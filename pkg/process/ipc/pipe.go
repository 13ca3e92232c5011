// Package ipc implements anonymous pipes as inodes.
package ipc

import (
	"bytes"
	"errors"
	"sync"

	"go.uber.org/atomic"

	"rvos/pkg/klog"
	"rvos/pkg/sched"
	"rvos/pkg/vfs"
)

// Pipe errors.
var (
	ErrBrokenPipe = errors.New("ipc: write to pipe with no readers")
	ErrWrongEnd   = errors.New("ipc: operation on the wrong pipe end")
)

var log = klog.NamedSubLogger("pipe")

var pipeIDs atomic.Uint64

// PipeBuffer is the byte stream shared by the two ends of a pipe. It grows
// without bound.
type PipeBuffer struct {
	id   uint64
	list *BufferList

	mu          sync.Mutex
	buf         bytes.Buffer
	readClosed  bool
	writeClosed bool
	readers     sched.WaitQueue
}

// ID returns the buffer's registry key.
func (b *PipeBuffer) ID() uint64 { return b.id }

// Len returns the number of unread bytes.
func (b *PipeBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *PipeBuffer) closeEnd(write bool) {
	b.mu.Lock()
	if write {
		b.writeClosed = true
	} else {
		b.readClosed = true
	}
	both := b.readClosed && b.writeClosed
	b.mu.Unlock()

	if write {
		// Readers waiting for data now see end of file.
		b.readers.WakeAll()
	}
	if both && b.list != nil {
		b.list.Remove(b.id)
	}
}

// NewPipe creates a pipe registered in list and returns its two ends.
func NewPipe(list *BufferList) (*ReadEnd, *WriteEnd) {
	b := &PipeBuffer{id: pipeIDs.Inc(), list: list}
	if list != nil {
		list.Add(b)
	}
	log.Debugf("pipe %d created", b.id)
	return &ReadEnd{b: b}, &WriteEnd{b: b}
}

// ReadEnd is the read side of a pipe.
type ReadEnd struct {
	vfs.Unsupported
	b *PipeBuffer
}

// WriteEnd is the write side of a pipe.
type WriteEnd struct {
	vfs.Unsupported
	b *PipeBuffer
}

var (
	_ vfs.INode  = (*ReadEnd)(nil)
	_ vfs.Waiter = (*ReadEnd)(nil)
	_ vfs.INode  = (*WriteEnd)(nil)
)

// Buffer returns the shared buffer.
func (r *ReadEnd) Buffer() *PipeBuffer { return r.b }

// Metadata implements vfs.INode.
func (r *ReadEnd) Metadata() vfs.Metadata {
	return vfs.Metadata{Type: vfs.Pipe, Size: int64(r.b.Len()), Mode: 0o600, Nlink: 1}
}

// IsPipe implements vfs.INode.
func (r *ReadEnd) IsPipe() bool { return true }

// ReadAt returns whatever is buffered without waiting.
func (r *ReadEnd) ReadAt(_ int64, p []byte) (int, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	n, _ := r.b.buf.Read(p)
	return n, nil
}

// ReadWait suspends t until at least one byte is buffered or every write
// end is closed, then reads. It returns 0 only at end of file.
func (r *ReadEnd) ReadWait(t *sched.Task, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b := r.b
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readers.Wait(t, &b.mu, func() bool {
		return b.buf.Len() > 0 || b.writeClosed
	})
	n, _ := b.buf.Read(p)
	return n, nil
}

// Close implements vfs.INode.
func (r *ReadEnd) Close() error {
	r.b.closeEnd(false)
	return nil
}

// Buffer returns the shared buffer.
func (w *WriteEnd) Buffer() *PipeBuffer { return w.b }

// Metadata implements vfs.INode.
func (w *WriteEnd) Metadata() vfs.Metadata {
	return vfs.Metadata{Type: vfs.Pipe, Size: int64(w.b.Len()), Mode: 0o600, Nlink: 1}
}

// IsPipe implements vfs.INode.
func (w *WriteEnd) IsPipe() bool { return true }

// WriteAt appends p to the buffer and wakes waiting readers.
func (w *WriteEnd) WriteAt(_ int64, p []byte) (int, error) {
	b := w.b
	b.mu.Lock()
	if b.readClosed {
		b.mu.Unlock()
		return 0, ErrBrokenPipe
	}
	n, _ := b.buf.Write(p)
	b.mu.Unlock()
	b.readers.WakeAll()
	return n, nil
}

// Close implements vfs.INode.
func (w *WriteEnd) Close() error {
	w.b.closeEnd(true)
	return nil
}

// BufferList is the kernel-wide registry of live pipe buffers. A buffer
// stays registered until both of its ends are closed.
type BufferList struct {
	mu      sync.Mutex
	buffers map[uint64]*PipeBuffer
}

// NewBufferList returns an empty registry.
func NewBufferList() *BufferList {
	return &BufferList{buffers: make(map[uint64]*PipeBuffer)}
}

// Add registers b.
func (l *BufferList) Add(b *PipeBuffer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buffers[b.id] = b
}

// Get returns the buffer with the given id.
func (l *BufferList) Get(id uint64) (*PipeBuffer, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buffers[id]
	return b, ok
}

// Remove unregisters the buffer with the given id.
func (l *BufferList) Remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buffers, id)
	log.Debugf("pipe %d released", id)
}

// Len returns the number of registered buffers.
func (l *BufferList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buffers)
}
