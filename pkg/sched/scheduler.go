package sched

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"rvos/pkg/klog"
)

// ErrStalled is returned by Run when every live task is parked and no hart
// is running anything that could wake one.
var ErrStalled = errors.New("sched: all tasks are waiting")

// Stats are cumulative scheduler counters.
type Stats struct {
	Spawned  uint64
	Finished uint64
	Switches uint64
	Yields   uint64
	Waits    uint64
	Panics   uint64
}

type counters struct {
	spawned  atomic.Uint64
	finished atomic.Uint64
	switches atomic.Uint64
	yields   atomic.Uint64
	waits    atomic.Uint64
	panics   atomic.Uint64
}

// Scheduler owns the global ready queue.
type Scheduler struct {
	log   klog.Logger
	stats counters
	ids   atomic.Uint64

	mu       sync.Mutex
	cond     *sync.Cond
	ready    []*Task
	live     int
	running  int
	current  []*Task
	halted   bool
	haltCode int
	halt     chan struct{}
}

// New returns an idle scheduler.
func New() *Scheduler {
	s := &Scheduler{
		log:  klog.NamedSubLogger("sched"),
		halt: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Spawn wraps fn in a task. The task does not run until its Runnable is
// scheduled.
func (s *Scheduler) Spawn(name string, fn func(t *Task)) (*Runnable, *Handle) {
	t := &Task{
		s:      s,
		id:     s.ids.Inc(),
		name:   name,
		fn:     fn,
		resume: make(chan chan struct{}, 1),
		done:   make(chan struct{}),
		hart:   -1,
	}
	s.mu.Lock()
	s.live++
	s.mu.Unlock()
	s.stats.spawned.Inc()
	go t.main()
	s.log.Debugf("spawned %s", t)
	return &Runnable{t: t}, &Handle{t: t}
}

func (s *Scheduler) enqueue(t *Task) {
	s.mu.Lock()
	s.ready = append(s.ready, t)
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *Scheduler) taskExited() {
	s.stats.finished.Inc()
	s.mu.Lock()
	s.live--
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Run drives the ready queue on harts concurrent hart loops. It returns
// nil once no live task remains or Halt was called, ErrStalled if the
// remaining tasks can never be woken, or the context's error.
func (s *Scheduler) Run(ctx context.Context, harts int) error {
	if harts < 1 {
		harts = 1
	}
	s.mu.Lock()
	s.current = make([]*Task, harts)
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	for id := 0; id < harts; id++ {
		id := id
		g.Go(func() error { return s.hartLoop(ctx, id) })
	}
	err := g.Wait()
	if errors.Is(err, ErrStalled) {
		s.log.Warningf("stalled with %d parked tasks", s.Live())
	}
	return err
}

func (s *Scheduler) hartLoop(ctx context.Context, id int) error {
	for {
		t, err := s.next(ctx, id)
		if t == nil {
			// Wake siblings so they can observe the same exit condition.
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
			return err
		}

		t.mu.Lock()
		t.state = taskRunning
		t.hart = id
		t.mu.Unlock()

		s.stats.switches.Inc()
		suspended := make(chan struct{})
		t.resume <- suspended
		<-suspended

		s.mu.Lock()
		s.current[id] = nil
		s.running--
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

// next pops the next ready task, or returns nil when the loop should stop.
func (s *Scheduler) next(ctx context.Context, id int) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		switch {
		case s.halted:
			return nil, nil
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case len(s.ready) > 0:
			t := s.ready[0]
			s.ready[0] = nil
			s.ready = s.ready[1:]
			s.running++
			s.current[id] = t
			return t, nil
		case s.live == 0:
			return nil, nil
		case s.running == 0:
			return nil, ErrStalled
		}
		s.cond.Wait()
	}
}

// Halt stops every hart loop after the running tasks suspend. Parked and
// queued tasks are never resumed again.
func (s *Scheduler) Halt(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halted {
		return
	}
	s.halted = true
	s.haltCode = code
	close(s.halt)
	s.cond.Broadcast()
	s.log.Infof("halt requested with code %d", code)
}

// Halted reports whether Halt was called and with which code.
func (s *Scheduler) Halted() (code int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.haltCode, s.halted
}

// Current returns the task running on hart, or nil.
func (s *Scheduler) Current(hart int) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hart < 0 || hart >= len(s.current) {
		return nil
	}
	return s.current[hart]
}

// Live returns the number of tasks that have not finished.
func (s *Scheduler) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Spawned:  s.stats.spawned.Load(),
		Finished: s.stats.finished.Load(),
		Switches: s.stats.switches.Load(),
		Yields:   s.stats.yields.Load(),
		Waits:    s.stats.waits.Load(),
		Panics:   s.stats.panics.Load(),
	}
}
