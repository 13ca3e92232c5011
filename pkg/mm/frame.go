package mm

import (
	"go.uber.org/atomic"
)

// PageSize is the size of a page and of a frame.
const PageSize = 4096

// Frame is one physical page.
type Frame [PageSize]byte

// FrameAllocator hands out frames and keeps usage counters.
type FrameAllocator struct {
	allocated atomic.Int64
	freed     atomic.Int64
}

// DefaultFrameAllocator backs address spaces created without an explicit
// allocator.
var DefaultFrameAllocator = &FrameAllocator{}

// Alloc returns a zeroed frame.
func (a *FrameAllocator) Alloc() *Frame {
	a.allocated.Inc()
	return new(Frame)
}

// Free returns a frame to the allocator.
func (a *FrameAllocator) Free(f *Frame) {
	if f == nil {
		return
	}
	a.freed.Inc()
}

// InUse returns the number of frames allocated and not yet freed.
func (a *FrameAllocator) InUse() int64 {
	return a.allocated.Load() - a.freed.Load()
}
