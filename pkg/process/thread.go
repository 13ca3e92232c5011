package process

import (
	"rvos/pkg/hart"
	"rvos/pkg/klog"
	"rvos/pkg/sched"
)

// Thread executes one process on behalf of its scheduler task. Every
// syscall method must be called from that task.
type Thread struct {
	proc *Process
	task *sched.Task
	pm   *ProcessManager
	log  klog.Logger
}

func newThread(p *Process, t *sched.Task) *Thread {
	return &Thread{proc: p, task: t, pm: p.pm, log: p.pm.log}
}

// Process returns the process the thread runs.
func (th *Thread) Process() *Process { return th.proc }

// Task returns the scheduler task the thread runs on.
func (th *Thread) Task() *sched.Task { return th.task }

// run alternates between user mode and syscalls until the process exits.
func (th *Thread) run() {
	defer th.recoverKilled()
	if err := th.proc.TransitionTo(StateRunning); err != nil {
		th.log.Errorf("pid %d: cannot start from %s", th.proc.pid, th.proc.State())
		return
	}
	clock := th.pm.clock
	tf := &th.proc.pcb.TrapFrame
	for !th.proc.State().Exited() {
		h := hart.Hart{ID: th.task.Hart()}
		start := clock.Now()
		trap := h.Run(tf, th.proc.Space())
		user := clock.Since(start)

		switch trap.Cause {
		case hart.CauseFault:
			th.proc.charge(user, 0)
			th.log.Warningf("pid %d: fault at %#x (pc %#x), killing", th.proc.pid, trap.Addr, tf.PC)
			th.Exit(-1)
		case hart.CauseSyscall:
			tf.PC += hart.InstrSize
			start = clock.Now()
			th.Syscall(tf)
			th.proc.charge(user, clock.Since(start))
		}
	}
}

// recoverKilled turns a kernel panic on this task into the death of the
// process by SIGKILL, then lets the scheduler record the panic.
func (th *Thread) recoverKilled() {
	r := recover()
	if r == nil {
		return
	}
	th.log.Errorf("pid %d: kernel panic: %v", th.proc.pid, r)
	th.proc.kill()
	panic(r)
}
