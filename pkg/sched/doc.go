// Package sched is the kernel's cooperative task scheduler.
//
// Every process runs its kernel-side path as a Task. A Task only executes
// while a hart loop has resumed it, and it gives the hart back only at the
// suspension points it chooses: Yield, or a WaitQueue wait. There is no
// preemption and no priority; the ready queue is FIFO and shared by every
// hart loop started by Run.
//
// No lock may be held across a suspension point. WaitQueue.Wait takes the
// caller's lock, releases it while the task is parked and re-acquires it
// after the task is resumed, so callers never unlock around a yield by hand.
package sched
