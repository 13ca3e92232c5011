package process

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rvos/pkg/config"
	"rvos/pkg/fd"
	"rvos/pkg/loader/asm"
	"rvos/pkg/mm"
	"rvos/pkg/sched"
	"rvos/pkg/vfs/devfs"
)

// scratch is a user page mapped into every test thread's address space.
const (
	scratch  = 0x1000
	heapBase = 0x100000
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func newKernel(t *testing.T, cfg *config.Config, opts ...Option) (*ProcessManager, *syncBuffer) {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	out := &syncBuffer{}
	opts = append([]Option{
		WithConsole(devfs.NewConsole(nil, out, out)),
		WithFrameAllocator(&mm.FrameAllocator{}),
	}, opts...)
	return NewProcessManager(cfg, opts...), out
}

func install(t *testing.T, pm *ProcessManager, path, src string) {
	t.Helper()
	require.NoError(t, pm.Install(path, asm.MustAssemble(src)))
}

func runInit(t *testing.T, pm *ProcessManager, path string, argv ...string) int {
	t.Helper()
	_, err := pm.Boot(path, argv)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	code, err := pm.Run(ctx)
	require.NoError(t, err)
	return code
}

// withThread runs fn as a parentless process that has a scratch page, a
// heap base and no program. Use assert, not require, inside fn.
func withThread(t *testing.T, pm *ProcessManager, fn func(th *Thread)) *Process {
	t.Helper()
	pid, ksp, err := pm.register()
	require.NoError(t, err)

	as := mm.NewMemorySet(pm.frames)
	require.NoError(t, as.InsertMappedRegion(scratch, scratch+mm.PageSize, mm.PermU|mm.PermR|mm.PermW))
	files := fd.NewTable(pm.console.Stdin, pm.console.Stdout, pm.console.Stderr, pm.cfg.Limits.MaxFiles)
	p := newProcess(pm, pid, nil, PCB{
		State:    StateReady,
		Name:     "test",
		Space:    NewSpace(as),
		Files:    files,
		Cwd:      "/",
		HeapBase: heapBase,
		HeapPos:  heapBase,
		HeapEnd:  heapBase,
		MmapPos:  mm.MmapBase,
	})
	p.pcb.TrapFrame.KernelSP = ksp
	pm.processes.Store(pid, p)

	r, h := pm.sched.Spawn("test", func(task *sched.Task) {
		th := newThread(p, task)
		_ = p.TransitionTo(StateRunning)
		fn(th)
	})
	p.runnable, p.handle = r, h
	r.Schedule()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, pm.sched.Run(ctx, pm.cfg.Harts))
	require.NoError(t, h.Err())
	return p
}
