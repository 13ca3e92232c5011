package process

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"rvos/pkg/abi"
	"rvos/pkg/config"
	"rvos/pkg/fd"
	"rvos/pkg/klog"
	"rvos/pkg/loader"
	"rvos/pkg/mm"
	"rvos/pkg/process/ipc"
	"rvos/pkg/sched"
	"rvos/pkg/vfs"
	"rvos/pkg/vfs/devfs"
	"rvos/pkg/vfs/diskfs"
	"rvos/pkg/vfs/memfs"
)

// Manager errors.
var (
	ErrInvalidPID   = errors.New("invalid PID")
	ErrAlreadyBoot  = errors.New("init process already booted")
	ErrNotBooted    = errors.New("init process not booted")
	ErrKernelStack  = errors.New("kernel stack region in use")
	ErrInvalidImage = errors.New("invalid executable image")
)

// Option configures a ProcessManager.
type Option func(*ProcessManager)

// WithClock sets the clock used for CPU accounting.
func WithClock(c clockwork.Clock) Option {
	return func(pm *ProcessManager) { pm.clock = c }
}

// WithConsole sets the terminals installed as fds 0, 1 and 2 of init.
func WithConsole(c *devfs.Console) Option {
	return func(pm *ProcessManager) { pm.console = c }
}

// WithFrameAllocator sets the allocator user address spaces draw from.
func WithFrameAllocator(a *mm.FrameAllocator) Option {
	return func(pm *ProcessManager) { pm.frames = a }
}

// ProcessManager owns the kernel-wide state: the process table, the
// scheduler and the global caches. It is set up before Run and never torn
// down.
type ProcessManager struct {
	cfg      *config.Config
	log      klog.Logger
	sched    *sched.Scheduler
	dentries *vfs.DentryCache
	inodes   *vfs.InodeTable
	files    *fd.OpenFileTable
	pipes    *ipc.BufferList
	kspace   *mm.MemorySet
	frames   *mm.FrameAllocator
	console  *devfs.Console
	clock    clockwork.Clock
	enforcer *Enforcer
	boot     time.Time

	// pidCounter generates unique PIDs; init gets 1.
	pidCounter atomic.Int64
	// processes holds every unreaped process by PID.
	processes sync.Map

	mu   sync.Mutex
	init *Process
}

// NewProcessManager creates the kernel state for cfg. A nil cfg means
// config.Default.
func NewProcessManager(cfg *config.Config, opts ...Option) *ProcessManager {
	if cfg == nil {
		cfg = config.Default()
	}
	pm := &ProcessManager{
		cfg:      cfg,
		log:      klog.NamedSubLogger("proc"),
		sched:    sched.New(),
		dentries: vfs.NewDentryCache(),
		inodes:   vfs.NewInodeTable(),
		files:    fd.NewOpenFileTable(),
		pipes:    ipc.NewBufferList(),
		kspace:   mm.NewMemorySet(nil),
		clock:    clockwork.NewRealClock(),
		enforcer: NewEnforcer(LimitsFromConfig(cfg.Limits)),
	}
	for _, o := range opts {
		o(pm)
	}
	if pm.console == nil {
		pm.console = devfs.NewConsole(nil, nil, nil)
	}
	pm.boot = pm.clock.Now()
	memfs.Root(pm.dentries)
	return pm
}

// Config returns the boot configuration.
func (pm *ProcessManager) Config() *config.Config { return pm.cfg }

// Scheduler returns the task scheduler.
func (pm *ProcessManager) Scheduler() *sched.Scheduler { return pm.sched }

// Dentries returns the global dentry cache.
func (pm *ProcessManager) Dentries() *vfs.DentryCache { return pm.dentries }

// Inodes returns the global inode table.
func (pm *ProcessManager) Inodes() *vfs.InodeTable { return pm.inodes }

// OpenFiles returns the global open-file table.
func (pm *ProcessManager) OpenFiles() *fd.OpenFileTable { return pm.files }

// Pipes returns the global pipe buffer list.
func (pm *ProcessManager) Pipes() *ipc.BufferList { return pm.pipes }

// KernelSpace returns the kernel address space holding kernel stacks.
func (pm *ProcessManager) KernelSpace() *mm.MemorySet { return pm.kspace }

// Enforcer returns the resource limit enforcer.
func (pm *ProcessManager) Enforcer() *Enforcer { return pm.enforcer }

// Clock returns the accounting clock.
func (pm *ProcessManager) Clock() clockwork.Clock { return pm.clock }

// Install writes data to path in the dentry cache, creating parent
// directories.
func (pm *ProcessManager) Install(path string, data []byte) error {
	if _, err := memfs.MkdirAll(pm.dentries, vfs.Dir(path)); err != nil {
		return errors.Wrapf(err, "installing %s", path)
	}
	if _, err := memfs.WriteFile(pm.dentries, path, data); err != nil {
		return errors.Wrapf(err, "installing %s", path)
	}
	return nil
}

// Mkdir creates path and its parents in the dentry cache.
func (pm *ProcessManager) Mkdir(path string) error {
	_, err := memfs.MkdirAll(pm.dentries, path)
	return errors.Wrapf(err, "creating %s", path)
}

// Mount caches root and every inode below it under path, and links root
// into path's parent directory. The parent is created if missing.
func (pm *ProcessManager) Mount(path string, root vfs.INode) error {
	path = vfs.Clean(path)
	if path == "/" {
		return errors.Wrap(vfs.ErrExist, "mounting over /")
	}
	if _, ok := pm.dentries.Get(path); ok {
		return errors.Wrapf(vfs.ErrExist, "mounting %s", path)
	}
	if _, err := memfs.MkdirAll(pm.dentries, vfs.Dir(path)); err != nil {
		return errors.Wrapf(err, "mounting %s", path)
	}
	count := 0
	err := diskfs.Walk(root, path, func(p string, n vfs.INode) error {
		pm.dentries.Insert(p, n)
		count++
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "mounting %s", path)
	}
	if err := memfs.LinkParent(pm.dentries, path, root); err != nil {
		return errors.Wrapf(err, "mounting %s", path)
	}
	pm.log.Infof("mounted %d paths at %s", count, path)
	return nil
}

// allocatePID allocates a new unique PID.
func (pm *ProcessManager) allocatePID() int {
	return int(pm.pidCounter.Inc())
}

// GetProcess returns an unreaped process by PID.
func (pm *ProcessManager) GetProcess(pid int) (*Process, error) {
	if pid <= 0 {
		return nil, ErrInvalidPID
	}
	v, ok := pm.processes.Load(pid)
	if !ok {
		return nil, ErrProcessNotFound
	}
	return v.(*Process), nil
}

// ListProcesses returns every unreaped process.
func (pm *ProcessManager) ListProcesses() []*Process {
	var out []*Process
	pm.processes.Range(func(_, v interface{}) bool {
		out = append(out, v.(*Process))
		return true
	})
	return out
}

// Init returns the root process, or nil before Boot.
func (pm *ProcessManager) Init() *Process {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.init
}

// register allocates a pid, its kernel stack and its limit slot.
func (pm *ProcessManager) register() (int, uint64, error) {
	pid := pm.allocatePID()
	if err := pm.enforcer.AddProcess(pid); err != nil {
		return 0, 0, err
	}
	start, end := mm.KernelStackRange(pid)
	if err := pm.kspace.InsertMappedRegion(start, end, mm.PermR|mm.PermW); err != nil {
		pm.enforcer.RemoveProcess(pid)
		return 0, 0, errors.Wrapf(ErrKernelStack, "pid %d: %v", pid, err)
	}
	return pid, end, nil
}

func (pm *ProcessManager) unregister(pid int) {
	start, _ := mm.KernelStackRange(pid)
	if err := pm.kspace.RemoveRegion(start); err != nil {
		pm.log.Warningf("pid %d: removing kernel stack: %v", pid, err)
	}
	pm.enforcer.RemoveProcess(pid)
	pm.processes.Delete(pid)
}

// Boot creates the root process running the image at path with argv.
// The process is scheduled and starts when Run is called.
func (pm *ProcessManager) Boot(path string, argv []string) (*Process, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.init != nil {
		return nil, ErrAlreadyBoot
	}
	img, err := pm.loadImage(path)
	if err != nil {
		return nil, err
	}
	pid, ksp, err := pm.register()
	if err != nil {
		return nil, err
	}
	cwd := pm.cfg.Cwd
	if cwd == "" {
		cwd = "/"
	}
	files := fd.NewTable(pm.console.Stdin, pm.console.Stdout, pm.console.Stderr, pm.cfg.Limits.MaxFiles)
	p := newProcess(pm, pid, nil, PCB{State: StateReady, Files: files, Cwd: cwd})
	if len(argv) == 0 {
		argv = []string{vfs.Base(path)}
	}
	if _, err := p.execImage(path, img, argv); err != nil {
		files.Release()
		pm.unregister(pid)
		return nil, err
	}
	p.pcb.TrapFrame.KernelSP = ksp
	pm.init = p
	pm.processes.Store(pid, p)
	pm.start(p)
	pm.log.Infof("booted %s as pid %d", path, pid)
	return p, nil
}

// loadImage reads and parses the executable cached at path.
func (pm *ProcessManager) loadImage(path string) (*loader.Image, error) {
	n, ok := pm.dentries.Get(path)
	if !ok {
		return nil, errors.Wrapf(abi.ENOENT, "exec %s", path)
	}
	md := n.Metadata()
	if md.Type != vfs.RegularFile {
		return nil, errors.Wrapf(abi.EACCES, "exec %s: %s", path, md.Type)
	}
	data := make([]byte, md.Size)
	if _, err := n.ReadAt(0, data); err != nil {
		return nil, errors.Wrapf(err, "exec %s", path)
	}
	img, err := loader.Parse(data)
	if err != nil {
		return nil, errors.Wrapf(abi.ENOEXEC, "exec %s: %v", path, err)
	}
	return img, nil
}

// start spawns the task that runs p's user loop and puts it on the ready
// queue.
func (pm *ProcessManager) start(p *Process) {
	r, h := pm.sched.Spawn(fmt.Sprintf("pid %d", p.pid), func(t *sched.Task) {
		newThread(p, t).run()
	})
	p.runnable, p.handle = r, h
	r.Schedule()
	h.Detach()
}

// Run drives the scheduler on the configured number of harts until init
// exits, and returns init's exit code.
func (pm *ProcessManager) Run(ctx context.Context) (int, error) {
	initProc := pm.Init()
	if initProc == nil {
		return 0, ErrNotBooted
	}
	if err := pm.sched.Run(ctx, pm.cfg.Harts); err != nil {
		return 0, err
	}
	if code, ok := pm.sched.Halted(); ok {
		return code, nil
	}
	return initProc.ExitCode(), nil
}
