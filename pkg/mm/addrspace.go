package mm

import (
	"errors"
	"sort"
	"sync"

	"go.uber.org/atomic"
)

// Address space errors.
var (
	ErrUnmapped   = errors.New("mm: address not mapped")
	ErrPermission = errors.New("mm: access not permitted")
	ErrOverlap    = errors.New("mm: region overlaps an existing mapping")
	ErrBadRange   = errors.New("mm: invalid region")
)

// Perm is a set of page permission bits, laid out like RISC-V PTE flags.
type Perm uint8

const (
	PermR Perm = 1 << 1
	PermW Perm = 1 << 2
	PermX Perm = 1 << 3
	PermU Perm = 1 << 4
)

// Has reports whether every bit of want is set in p.
func (p Perm) Has(want Perm) bool {
	return p&want == want
}

// AddressSpace is what the kernel needs from a virtual address space.
type AddressSpace interface {
	// Token identifies the address space, like a satp value.
	Token() uint64
	// Translate returns the frame backing va and its permissions.
	Translate(va uint64) (*Frame, Perm, bool)
	// InsertMappedRegion maps [start, end) with fresh zeroed frames.
	InsertMappedRegion(start, end uint64, perm Perm) error
	// RemoveRegion unmaps the region that starts at start.
	RemoveRegion(start uint64) error
	// CloneFromExisting returns an independent copy for fork.
	CloneFromExisting() AddressSpace
	// Release frees every frame. The address space must not be used after.
	Release()
}

type region struct {
	start, end uint64
	perm       Perm
}

type pte struct {
	frame *Frame
	perm  Perm
}

var tokens atomic.Uint64

// MemorySet is the simulated AddressSpace.
type MemorySet struct {
	mu      sync.RWMutex
	token   uint64
	alloc   *FrameAllocator
	pages   map[uint64]pte
	regions []region
}

var _ AddressSpace = (*MemorySet)(nil)

// NewMemorySet returns an empty address space drawing frames from alloc.
// A nil alloc means DefaultFrameAllocator.
func NewMemorySet(alloc *FrameAllocator) *MemorySet {
	if alloc == nil {
		alloc = DefaultFrameAllocator
	}
	return &MemorySet{
		token: tokens.Inc(),
		alloc: alloc,
		pages: make(map[uint64]pte),
	}
}

// Token implements AddressSpace.
func (m *MemorySet) Token() uint64 {
	return m.token
}

func pageDown(va uint64) uint64 { return va &^ (PageSize - 1) }
func pageUp(va uint64) uint64   { return (va + PageSize - 1) &^ (PageSize - 1) }

// Translate implements AddressSpace.
func (m *MemorySet) Translate(va uint64) (*Frame, Perm, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.pages[va/PageSize]
	if !ok {
		return nil, 0, false
	}
	return e.frame, e.perm, true
}

// InsertMappedRegion implements AddressSpace.
func (m *MemorySet) InsertMappedRegion(start, end uint64, perm Perm) error {
	start, end = pageDown(start), pageUp(end)
	if end <= start {
		return ErrBadRange
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for vpn := start / PageSize; vpn < end/PageSize; vpn++ {
		if _, ok := m.pages[vpn]; ok {
			return ErrOverlap
		}
	}
	for vpn := start / PageSize; vpn < end/PageSize; vpn++ {
		m.pages[vpn] = pte{frame: m.alloc.Alloc(), perm: perm}
	}
	m.regions = append(m.regions, region{start: start, end: end, perm: perm})
	sort.Slice(m.regions, func(i, j int) bool { return m.regions[i].start < m.regions[j].start })
	return nil
}

// RemoveRegion implements AddressSpace.
func (m *MemorySet) RemoveRegion(start uint64) error {
	start = pageDown(start)
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.regions {
		if r.start != start {
			continue
		}
		for vpn := r.start / PageSize; vpn < r.end/PageSize; vpn++ {
			m.alloc.Free(m.pages[vpn].frame)
			delete(m.pages, vpn)
		}
		m.regions = append(m.regions[:i], m.regions[i+1:]...)
		return nil
	}
	return ErrUnmapped
}

// CloneFromExisting implements AddressSpace. Every mapped page is copied.
func (m *MemorySet) CloneFromExisting() AddressSpace {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := NewMemorySet(m.alloc)
	c.regions = append([]region(nil), m.regions...)
	for vpn, e := range m.pages {
		f := c.alloc.Alloc()
		*f = *e.frame
		c.pages[vpn] = pte{frame: f, perm: e.perm}
	}
	return c
}

// Release implements AddressSpace.
func (m *MemorySet) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for vpn, e := range m.pages {
		m.alloc.Free(e.frame)
		delete(m.pages, vpn)
	}
	m.regions = nil
}

// End returns the first address above every mapped region below limit.
func (m *MemorySet) End(limit uint64) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var end uint64
	for _, r := range m.regions {
		if r.end <= limit && r.end > end {
			end = r.end
		}
	}
	return end
}

// Pages returns the number of mapped pages.
func (m *MemorySet) Pages() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pages)
}
