// Package mm is the memory-management collaborator consumed by the kernel
// core: an address space that can translate virtual addresses, map new
// regions and clone itself for fork, plus the copy helpers syscalls use to
// move bytes across the user/kernel boundary.
//
// The implementation here is a simulated paged memory: frames are plain
// 4 KiB byte arrays and the page table is a map from virtual page number to
// frame. It is enough to run user programs on the simulated hart and to
// observe copy-on-fork isolation.
package mm
