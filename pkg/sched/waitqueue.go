package sched

import "sync"

// WaitQueue parks tasks until some shared condition changes.
type WaitQueue struct {
	mu      sync.Mutex
	waiters []*Task
}

// Wait suspends t until cond returns true. l must be held on entry; it
// guards the state cond reads, is released while t is parked and is held
// again when Wait returns. Wakers change that state under l and then call
// WakeAll.
func (q *WaitQueue) Wait(t *Task, l sync.Locker, cond func() bool) {
	for !cond() {
		q.mu.Lock()
		q.waiters = append(q.waiters, t)
		q.mu.Unlock()

		l.Unlock()
		t.s.stats.waits.Inc()
		t.park(false)
		l.Lock()
	}
}

// WakeAll makes every waiting task runnable.
func (q *WaitQueue) WakeAll() {
	q.mu.Lock()
	ws := q.waiters
	q.waiters = nil
	q.mu.Unlock()
	for _, t := range ws {
		t.wake()
	}
}

// Len returns the number of registered waiters.
func (q *WaitQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiters)
}
