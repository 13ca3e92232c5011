package sched

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, s *Scheduler, harts int) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Run(ctx, harts)
}

func TestYieldInterleavesFIFO(t *testing.T) {
	s := New()
	var (
		mu    sync.Mutex
		trace []string
	)
	worker := func(name string) func(*Task) {
		return func(task *Task) {
			for i := 0; i < 3; i++ {
				mu.Lock()
				trace = append(trace, name)
				mu.Unlock()
				task.Yield()
			}
		}
	}
	ra, ha := s.Spawn("a", worker("a"))
	rb, hb := s.Spawn("b", worker("b"))
	ra.Schedule()
	rb.Schedule()
	ha.Detach()
	hb.Detach()

	require.NoError(t, run(t, s, 1))
	want := []string{"a", "b", "a", "b", "a", "b"}
	if diff := cmp.Diff(want, trace); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
	st := s.Stats()
	assert.Equal(t, uint64(2), st.Finished)
	assert.Equal(t, uint64(6), st.Yields)
	assert.Equal(t, uint64(8), st.Switches)
	assert.Equal(t, 0, s.Live())
}

func TestWaitQueueHandsOff(t *testing.T) {
	for _, harts := range []int{1, 4} {
		s := New()
		var (
			mu    sync.Mutex
			q     WaitQueue
			items []int
			got   []int
		)
		const n = 200
		rc, _ := s.Spawn("consumer", func(task *Task) {
			mu.Lock()
			defer mu.Unlock()
			for len(got) < n {
				q.Wait(task, &mu, func() bool { return len(items) > 0 })
				got = append(got, items[0])
				items = items[1:]
			}
		})
		rp, _ := s.Spawn("producer", func(task *Task) {
			for i := 0; i < n; i++ {
				mu.Lock()
				items = append(items, i)
				mu.Unlock()
				q.WakeAll()
				if i%7 == 0 {
					task.Yield()
				}
			}
		})
		rc.Schedule()
		rp.Schedule()

		require.NoError(t, run(t, s, harts), "harts=%d", harts)
		require.Len(t, got, n)
		for i, v := range got {
			require.Equal(t, i, v)
		}
		assert.Equal(t, 0, q.Len())
	}
}

func TestRunReportsStall(t *testing.T) {
	s := New()
	var (
		mu sync.Mutex
		q  WaitQueue
	)
	r, h := s.Spawn("sleeper", func(task *Task) {
		mu.Lock()
		q.Wait(task, &mu, func() bool { return false })
		mu.Unlock()
	})
	r.Schedule()

	assert.ErrorIs(t, run(t, s, 2), ErrStalled)
	assert.Equal(t, 1, q.Len())
	select {
	case <-h.Done():
		t.Fatal("parked task reported done")
	default:
	}
}

func TestHaltStopsParkedTasks(t *testing.T) {
	s := New()
	var (
		mu sync.Mutex
		q  WaitQueue
	)
	rs, hs := s.Spawn("sleeper", func(task *Task) {
		mu.Lock()
		q.Wait(task, &mu, func() bool { return false })
		mu.Unlock()
	})
	rh, _ := s.Spawn("init", func(task *Task) {
		task.Yield()
		s.Halt(3)
	})
	rs.Schedule()
	rh.Schedule()

	require.NoError(t, run(t, s, 1))
	code, ok := s.Halted()
	assert.True(t, ok)
	assert.Equal(t, 3, code)

	select {
	case <-hs.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("parked task not released after halt")
	}
}

func TestPanicKillsOnlyTheTask(t *testing.T) {
	s := New()
	ran := false
	rp, hp := s.Spawn("bad", func(*Task) { panic("boom") })
	rg, hg := s.Spawn("good", func(*Task) { ran = true })
	rp.Schedule()
	rg.Schedule()

	require.NoError(t, run(t, s, 1))
	assert.True(t, ran)
	require.Error(t, hp.Err())
	assert.Contains(t, hp.Err().Error(), "boom")
	assert.NoError(t, hg.Err())
	assert.Equal(t, uint64(1), s.Stats().Panics)
}

func TestScheduleBeforeParkIsNotLost(t *testing.T) {
	s := New()
	var (
		mu    sync.Mutex
		q     WaitQueue
		ready bool
	)
	r, _ := s.Spawn("waiter", func(task *Task) {
		mu.Lock()
		q.Wait(task, &mu, func() bool { return ready })
		mu.Unlock()
	})
	// The waker runs while the waiter is queued but has not yet waited.
	w, _ := s.Spawn("waker", func(*Task) {
		mu.Lock()
		ready = true
		mu.Unlock()
		q.WakeAll()
	})
	w.Schedule()
	r.Schedule()
	require.NoError(t, run(t, s, 1))
}

func TestCurrent(t *testing.T) {
	s := New()
	var seen *Task
	r, _ := s.Spawn("self", func(task *Task) {
		seen = s.Current(task.Hart())
	})
	r.Schedule()
	require.NoError(t, run(t, s, 1))
	require.NotNil(t, seen)
	assert.Equal(t, "self", seen.Name())
	assert.Nil(t, s.Current(0))
	assert.Nil(t, s.Current(7))
}
