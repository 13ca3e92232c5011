package process

import (
	"fmt"

	"rvos/pkg/abi"
	"rvos/pkg/mm"
)

// killedExitCode is the exit code recorded for a process killed by the
// kernel.
const killedExitCode = 128 + abi.SIGKILL

// exit moves p to state to and hands it to its parent's zombie set. The
// root process has no parent; its exit halts the scheduler. It reports
// false if p had already exited.
//
// Locks are taken root first, then parents before children.
func (p *Process) exit(to ProcessState, code int, status int64) bool {
	p.mu.Lock()
	if err := p.transitionLocked(to); err != nil {
		p.mu.Unlock()
		return false
	}
	p.pcb.ExitCode = code
	ctid, space := p.pcb.ClearChildTID, p.pcb.Space
	p.mu.Unlock()
	p.status.Store(status)

	if ctid != 0 && space != nil {
		if err := mm.WriteU32(space, ctid, 0); err != nil {
			p.pm.log.Debugf("pid %d: clearing child tid at %#x: %v", p.pid, ctid, err)
		}
	}

	pm := p.pm
	if root := pm.Init(); root != nil && root != p {
		pm.reparent(p, root)
	}
	if parent := p.moveToZombie(); parent != nil {
		pm.log.Debugf("pid %d exited with %d, parent %d", p.pid, code, parent.pid)
		parent.waitq.WakeAll()
	} else {
		pm.log.Infof("pid %d (root) exited with %d", p.pid, code)
		pm.sched.Halt(code)
	}
	return true
}

// kill ends p after a kernel fault on its task.
func (p *Process) kill() {
	p.exit(StateKilled, killedExitCode, abi.KilledStatus(abi.SIGKILL))
}

// moveToZombie moves p from its parent's alive set to its zombie set and
// returns the parent. The parent can change under us when it exits and
// hands p to the root, so the move retries until it sees a stable parent.
func (p *Process) moveToZombie() *Process {
	for {
		p.mu.Lock()
		parent := p.parent
		p.mu.Unlock()
		if parent == nil {
			return nil
		}

		parent.mu.Lock()
		p.mu.Lock()
		if p.parent != parent {
			p.mu.Unlock()
			parent.mu.Unlock()
			continue
		}
		parent.alive.Delete(p)
		parent.zombie.ReplaceOrInsert(p)
		p.mu.Unlock()
		parent.mu.Unlock()
		return parent
	}
}

// reparent hands every child of p, alive or zombie, to root.
func (pm *ProcessManager) reparent(p, root *Process) {
	root.mu.Lock()
	p.mu.Lock()
	var alive, zombies []*Process
	p.alive.Ascend(func(c *Process) bool {
		alive = append(alive, c)
		return true
	})
	p.zombie.Ascend(func(c *Process) bool {
		zombies = append(zombies, c)
		return true
	})
	for _, c := range alive {
		c.mu.Lock()
		c.parent = root
		c.mu.Unlock()
		root.alive.ReplaceOrInsert(c)
	}
	for _, c := range zombies {
		c.mu.Lock()
		c.parent = root
		c.mu.Unlock()
		root.zombie.ReplaceOrInsert(c)
	}
	p.alive.Clear(false)
	p.zombie.Clear(false)
	p.mu.Unlock()
	root.mu.Unlock()

	if n := len(alive) + len(zombies); n > 0 {
		pm.log.Debugf("pid %d: %d orphans handed to pid %d", p.pid, n, root.pid)
	}
	if len(zombies) > 0 {
		root.waitq.WakeAll()
	}
}

// reap releases what c still holds once its parent has collected it. c
// must already be out of every child set.
func (pm *ProcessManager) reap(parent, c *Process) {
	c.mu.Lock()
	if err := c.transitionLocked(StateEmpty); err != nil {
		state := c.pcb.State
		c.mu.Unlock()
		panic(fmt.Sprintf("process: reaping pid %d in state %s", c.pid, state))
	}
	files, space, times := c.pcb.Files, c.pcb.Space, c.pcb.Times
	c.pcb.Files, c.pcb.Space = nil, nil
	c.parent = nil
	c.mu.Unlock()

	if files != nil {
		files.Release()
	}
	if space != nil {
		space.Release()
	}
	pm.unregister(c.pid)

	parent.mu.Lock()
	parent.pcb.Times.ChildUser += times.User + times.ChildUser
	parent.pcb.Times.ChildSystem += times.System + times.ChildSystem
	parent.mu.Unlock()
	pm.log.Debugf("pid %d reaped by %d", c.pid, parent.pid)
}
