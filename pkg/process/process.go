package process

import (
	"sync"
	"time"

	"github.com/google/btree"
	"go.uber.org/atomic"

	"rvos/pkg/fd"
	"rvos/pkg/hart"
	"rvos/pkg/mm"
	"rvos/pkg/sched"
)

// TicksPerSecond is the clock tick rate reported by times.
const TicksPerSecond = 100

// Accounting is the CPU time charged to a process and its reaped
// children.
type Accounting struct {
	User        time.Duration
	System      time.Duration
	ChildUser   time.Duration
	ChildSystem time.Duration
}

func ticks(d time.Duration) int64 {
	return int64(d / (time.Second / TicksPerSecond))
}

// Space is an address space shared by the processes created with
// CLONE_VM. The underlying frames are freed when the last user releases
// it.
type Space struct {
	mm.AddressSpace
	users atomic.Int32
}

// NewSpace wraps as with a single user.
func NewSpace(as mm.AddressSpace) *Space {
	s := &Space{AddressSpace: as}
	s.users.Store(1)
	return s
}

// Share adds a user and returns s.
func (s *Space) Share() *Space {
	s.users.Inc()
	return s
}

// Release drops one user. The last one frees every frame.
func (s *Space) Release() {
	if s.users.Dec() == 0 {
		s.AddressSpace.Release()
	}
}

// Users returns the number of processes using s.
func (s *Space) Users() int { return int(s.users.Load()) }

// Pages returns the number of mapped pages, or -1 if the address space
// cannot tell.
func (s *Space) Pages() int {
	if c, ok := s.AddressSpace.(interface{ Pages() int }); ok {
		return c.Pages()
	}
	return -1
}

// PCB is the per-process kernel state. It is guarded by Process.mu,
// except TrapFrame which only the process's own task touches.
type PCB struct {
	State     ProcessState
	Name      string
	TrapFrame hart.TrapFrame
	Space     *Space
	Files     *fd.Table
	Cwd       string

	HeapBase uint64
	HeapPos  uint64
	// HeapEnd is the end of the mapped heap pages.
	HeapEnd uint64
	MmapPos uint64

	// ClearChildTID is zeroed on exit when set by CLONE_CHILD_CLEARTID.
	ClearChildTID uint64
	ExitCode      int
	Times         Accounting
}

// Process wraps a PCB with its place in the process tree.
type Process struct {
	pid int
	pm  *ProcessManager

	mu     sync.Mutex
	pcb    PCB
	parent *Process
	alive  *btree.BTreeG[*Process]
	zombie *btree.BTreeG[*Process]

	// waitq holds the process's task while it waits for a zombie child.
	waitq  sched.WaitQueue
	status atomic.Int64

	runnable *sched.Runnable
	handle   *sched.Handle
}

const childDegree = 8

func byPID(a, b *Process) bool { return a.pid < b.pid }

func newProcess(pm *ProcessManager, pid int, parent *Process, pcb PCB) *Process {
	return &Process{
		pid:    pid,
		pm:     pm,
		pcb:    pcb,
		parent: parent,
		alive:  btree.NewG(childDegree, byPID),
		zombie: btree.NewG(childDegree, byPID),
	}
}

// key returns a probe for searching child sets by pid.
func key(pid int) *Process { return &Process{pid: pid} }

// Pid returns the process id.
func (p *Process) Pid() int { return p.pid }

// Parent returns the parent process, or nil for the root.
func (p *Process) Parent() *Process {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.parent
}

// Ppid returns the parent's pid, or 0 for the root.
func (p *Process) Ppid() int {
	if parent := p.Parent(); parent != nil {
		return parent.pid
	}
	return 0
}

// Name returns the base name of the running image.
func (p *Process) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pcb.Name
}

// Cwd returns the working directory.
func (p *Process) Cwd() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pcb.Cwd
}

// Files returns the descriptor table. It is nil once the process is
// reaped.
func (p *Process) Files() *fd.Table {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pcb.Files
}

// Space returns the address space. It is nil once the process is reaped.
func (p *Process) Space() *Space {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pcb.Space
}

// ExitCode returns the code passed to exit.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pcb.ExitCode
}

// Status returns the wait status reported to the parent.
func (p *Process) Status() int64 { return p.status.Load() }

// Usage returns the accounted CPU time.
func (p *Process) Usage() Accounting {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pcb.Times
}

// Children returns the pids of children that are still running.
func (p *Process) Children() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return pids(p.alive)
}

// Zombies returns the pids of children that exited and are not reaped.
func (p *Process) Zombies() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return pids(p.zombie)
}

func pids(t *btree.BTreeG[*Process]) []int {
	out := make([]int, 0, t.Len())
	t.Ascend(func(c *Process) bool {
		out = append(out, c.pid)
		return true
	})
	return out
}

// Done is closed when the process's task has finished.
func (p *Process) Done() <-chan struct{} {
	return p.handle.Done()
}

// Err returns the kernel panic that killed the process's task, if any.
func (p *Process) Err() error {
	return p.handle.Err()
}

func (p *Process) charge(user, system time.Duration) {
	p.mu.Lock()
	p.pcb.Times.User += user
	p.pcb.Times.System += system
	p.mu.Unlock()
}
