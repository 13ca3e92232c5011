package sched

import (
	"fmt"
	"runtime"
	"sync"
)

type taskState int

const (
	taskCreated taskState = iota
	taskQueued
	taskRunning
	taskParked
	taskFinished
)

func (s taskState) String() string {
	switch s {
	case taskCreated:
		return "created"
	case taskQueued:
		return "queued"
	case taskRunning:
		return "running"
	case taskParked:
		return "parked"
	case taskFinished:
		return "finished"
	}
	return fmt.Sprintf("taskState(%d)", int(s))
}

// Task is one resumable kernel computation.
type Task struct {
	s    *Scheduler
	id   uint64
	name string
	fn   func(t *Task)

	// resume carries the channel the task closes at its next suspension.
	resume chan chan struct{}
	// cur is the suspension channel of the current resume. Only the task
	// goroutine touches it.
	cur  chan struct{}
	done chan struct{}

	mu          sync.Mutex
	state       taskState
	wakePending bool
	hart        int
	detached    bool
	panicked    interface{}
}

// ID returns the task's unique id.
func (t *Task) ID() uint64 { return t.id }

// Name returns the name given to Spawn.
func (t *Task) Name() string { return t.name }

// Hart returns the hart currently running the task.
func (t *Task) Hart() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hart
}

func (t *Task) String() string {
	return fmt.Sprintf("task %d (%s)", t.id, t.name)
}

// Yield suspends the task and puts it at the back of the ready queue.
func (t *Task) Yield() {
	t.s.stats.yields.Inc()
	t.park(true)
}

// wake makes a created or parked task runnable. A wake that arrives while
// the task is still running is remembered so the next park does not sleep.
func (t *Task) wake() {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case taskCreated, taskParked:
		t.state = taskQueued
		t.s.enqueue(t)
	case taskRunning:
		t.wakePending = true
	}
}

// park hands the hart back. It must only be called from the task's own
// goroutine while it is running.
func (t *Task) park(requeue bool) {
	t.mu.Lock()
	if requeue || t.wakePending {
		t.wakePending = false
		t.state = taskQueued
		t.s.enqueue(t)
	} else {
		t.state = taskParked
	}
	t.mu.Unlock()

	close(t.cur)
	t.cur = nil
	select {
	case c := <-t.resume:
		t.cur = c
	case <-t.s.halt:
		runtime.Goexit()
	}
}

func (t *Task) main() {
	defer t.finish()
	defer func() {
		if r := recover(); r != nil {
			t.mu.Lock()
			t.panicked = r
			t.mu.Unlock()
			t.s.stats.panics.Inc()
			t.s.log.Errorf("%s panicked: %v", t, r)
		}
	}()

	select {
	case c := <-t.resume:
		t.cur = c
	case <-t.s.halt:
		return
	}
	t.fn(t)
}

func (t *Task) finish() {
	t.mu.Lock()
	t.state = taskFinished
	detached := t.detached
	t.mu.Unlock()
	t.s.log.Debugf("%s finished (detached=%t)", t, detached)

	t.s.taskExited()
	close(t.done)
	if t.cur != nil {
		close(t.cur)
		t.cur = nil
	}
}

// Runnable enqueues its task on the ready queue.
type Runnable struct {
	t *Task
}

// Schedule makes the task runnable. Scheduling a queued, running or
// finished task does nothing beyond remembering the wake.
func (r *Runnable) Schedule() {
	r.t.wake()
}

// Task returns the underlying task.
func (r *Runnable) Task() *Task { return r.t }

// Handle observes a task's completion.
type Handle struct {
	t *Task
}

// Detach lets the task run to completion with nobody awaiting it.
func (h *Handle) Detach() {
	h.t.mu.Lock()
	h.t.detached = true
	h.t.mu.Unlock()
}

// Done is closed when the task has finished.
func (h *Handle) Done() <-chan struct{} {
	return h.t.done
}

// Err returns the panic that killed the task, if any.
func (h *Handle) Err() error {
	h.t.mu.Lock()
	defer h.t.mu.Unlock()
	if h.t.panicked == nil {
		return nil
	}
	return fmt.Errorf("%s: panic: %v", h.t, h.t.panicked)
}
