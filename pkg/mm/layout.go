package mm

// Kernel and user layout constants.
const (
	// Trampoline is the top page of every address space.
	Trampoline uint64 = 1<<38 - PageSize
	// KernelStackSize is the size of each per-pid kernel stack.
	KernelStackSize uint64 = 2 * PageSize

	// UserStackTop is where user stacks begin, growing down.
	UserStackTop uint64 = 0x4000_0000
	// UserStackSize is the size of the initial user stack.
	UserStackSize uint64 = 8 * PageSize
	// MmapBase is the first address handed out by anonymous mmap.
	MmapBase uint64 = 0x2000_0000
)

// KernelStackRange returns the kernel stack region for pid. Each pid owns a
// distinct slot below the trampoline, so stacks never alias.
func KernelStackRange(pid int) (start, end uint64) {
	end = Trampoline - KernelStackSize*uint64(pid)
	start = end - KernelStackSize
	return start, end
}
