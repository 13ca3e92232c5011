// Package devfs provides the console terminal inode backing file
// descriptors 0, 1 and 2.
package devfs

import (
	"errors"
	"io"
	"sync"

	vfs "rvos/pkg/vfs"
)

// Terminal is a character device over a host reader and writer. Either
// side may be nil, in which case reads return end of input and writes are
// discarded.
type Terminal struct {
	vfs.Unsupported

	name string
	rmu  sync.Mutex
	r    io.Reader
	wmu  sync.Mutex
	w    io.Writer
}

var _ vfs.INode = (*Terminal)(nil)

// NewTerminal returns a terminal reading from r and writing to w.
func NewTerminal(name string, r io.Reader, w io.Writer) *Terminal {
	return &Terminal{name: name, r: r, w: w}
}

// Name returns the device name, such as "stdout".
func (t *Terminal) Name() string { return t.name }

// Metadata implements vfs.INode.
func (t *Terminal) Metadata() vfs.Metadata {
	return vfs.Metadata{Type: vfs.Terminal, Mode: 0o620, Nlink: 1}
}

// ReadAt implements vfs.INode. The offset is ignored.
func (t *Terminal) ReadAt(_ int64, p []byte) (int, error) {
	t.rmu.Lock()
	defer t.rmu.Unlock()
	if t.r == nil || len(p) == 0 {
		return 0, nil
	}
	n, err := t.r.Read(p)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return n, err
}

// WriteAt implements vfs.INode. The offset is ignored.
func (t *Terminal) WriteAt(_ int64, p []byte) (int, error) {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if t.w == nil {
		return len(p), nil
	}
	return t.w.Write(p)
}

// Console groups the three standard terminals.
type Console struct {
	Stdin, Stdout, Stderr *Terminal
}

// NewConsole returns terminals for stdin, stdout and stderr.
func NewConsole(in io.Reader, out, errOut io.Writer) *Console {
	return &Console{
		Stdin:  NewTerminal("stdin", in, nil),
		Stdout: NewTerminal("stdout", nil, out),
		Stderr: NewTerminal("stderr", nil, errOut),
	}
}
