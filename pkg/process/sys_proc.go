package process

import (
	"strings"

	"github.com/pkg/errors"

	"rvos/pkg/abi"
	"rvos/pkg/hart"
	"rvos/pkg/loader"
	"rvos/pkg/mm"
	"rvos/pkg/vfs"
)

// maxArgBytes bounds the argument strings exec copies onto the new stack.
const maxArgBytes = mm.UserStackSize / 2

// Getpid returns the caller's pid.
func (th *Thread) Getpid() int { return th.proc.pid }

// Getppid returns the parent's pid, or 0 for the root process.
func (th *Thread) Getppid() int { return th.proc.Ppid() }

// Clone creates a child of the caller and returns its pid. The child
// resumes from the same trap frame with a0 = 0. Without CLONE_VM the
// address space is copied; without CLONE_FILES the descriptor table is.
func (th *Thread) Clone(rawFlags, stack, ptid, tls, ctid uint64) (int, error) {
	flags, _ := abi.ParseCloneFlags(rawFlags)
	parent := th.proc

	pid, ksp, err := th.pm.register()
	if err != nil {
		return -1, err
	}

	parent.mu.Lock()
	pcb := PCB{
		State:     StateReady,
		Name:      parent.pcb.Name,
		TrapFrame: parent.pcb.TrapFrame,
		Cwd:       parent.pcb.Cwd,
		HeapBase:  parent.pcb.HeapBase,
		HeapPos:   parent.pcb.HeapPos,
		HeapEnd:   parent.pcb.HeapEnd,
		MmapPos:   parent.pcb.MmapPos,
	}
	if flags.Has(abi.CLONE_VM) {
		pcb.Space = parent.pcb.Space.Share()
	} else {
		pcb.Space = NewSpace(parent.pcb.Space.CloneFromExisting())
	}
	if flags.Has(abi.CLONE_FILES) {
		pcb.Files = parent.pcb.Files.Share()
	} else {
		pcb.Files = parent.pcb.Files.Clone()
	}
	parent.mu.Unlock()

	tf := &pcb.TrapFrame
	tf.X[hart.A0] = 0
	if stack != 0 {
		tf.X[hart.SP] = stack
	}
	if flags.Has(abi.CLONE_SETTLS) {
		tf.X[hart.TP] = tls
	}
	tf.KernelSP = ksp
	if flags.Has(abi.CLONE_CHILD_CLEARTID) {
		pcb.ClearChildTID = ctid
	}
	if flags.Has(abi.CLONE_PARENT_SETTID) {
		if err := mm.WriteU32(parent.Space(), ptid, uint32(pid)); err != nil {
			th.log.Debugf("pid %d: clone parent tid at %#x: %v", parent.pid, ptid, err)
		}
	}
	if flags.Has(abi.CLONE_CHILD_SETTID) {
		if err := mm.WriteU32(pcb.Space, ctid, uint32(pid)); err != nil {
			th.log.Debugf("pid %d: clone child tid at %#x: %v", pid, ctid, err)
		}
	}

	child := newProcess(th.pm, pid, parent, pcb)
	th.pm.processes.Store(pid, child)
	parent.mu.Lock()
	parent.alive.ReplaceOrInsert(child)
	parent.mu.Unlock()
	th.pm.start(child)
	th.log.Debugf("pid %d cloned %d (flags %#x)", parent.pid, pid, uint64(flags))
	return pid, nil
}

// Exec replaces the caller's image with the executable at path and
// returns argc. Paths ending in .sh run under the configured shell
// interpreter. A missing or malformed executable ends the caller with
// exit code -1.
func (th *Thread) Exec(path string, argv []string) (int, error) {
	abs := vfs.Abs(path, th.proc.Cwd())
	if strings.HasSuffix(abs, ".sh") {
		interp := th.pm.cfg.Shell.Interpreter
		argv = append([]string{vfs.Base(interp), "sh"}, argv...)
		abs = interp
	}
	img, err := th.pm.loadImage(abs)
	if err != nil {
		th.log.Warningf("pid %d: %v", th.proc.pid, err)
		th.Exit(-1)
		return -1, err
	}
	if len(argv) == 0 {
		argv = []string{vfs.Base(abs)}
	}
	argc, err := th.proc.execImage(abs, img, argv)
	if err != nil {
		th.log.Warningf("pid %d: exec %s: %v", th.proc.pid, abs, err)
		th.Exit(-1)
		return -1, err
	}
	th.log.Debugf("pid %d exec %s %q", th.proc.pid, abs, argv)
	return argc, nil
}

// execImage loads img into a fresh address space, builds the argument
// stack and installs both into p. Close-on-exec descriptors are closed.
func (p *Process) execImage(path string, img *loader.Image, argv []string) (int, error) {
	as := mm.NewMemorySet(p.pm.frames)
	if err := img.Load(as); err != nil {
		as.Release()
		return 0, errors.Wrap(abi.ENOEXEC, err.Error())
	}
	if err := as.InsertMappedRegion(mm.UserStackTop-mm.UserStackSize, mm.UserStackTop, mm.PermU|mm.PermR|mm.PermW); err != nil {
		as.Release()
		return 0, errors.Wrap(abi.ENOEXEC, err.Error())
	}
	sp, argvPtr, err := pushArgs(as, argv)
	if err != nil {
		as.Release()
		return 0, err
	}
	if err := p.pm.enforcer.CheckPages(p.pid, as.Pages()); err != nil {
		as.Release()
		return 0, err
	}

	heap := img.End()
	p.mu.Lock()
	old := p.pcb.Space
	p.pcb.Space = NewSpace(as)
	p.pcb.Name = vfs.Base(path)
	p.pcb.HeapBase, p.pcb.HeapPos, p.pcb.HeapEnd = heap, heap, heap
	p.pcb.MmapPos = mm.MmapBase
	p.pcb.ClearChildTID = 0
	ksp := p.pcb.TrapFrame.KernelSP
	p.pcb.TrapFrame = hart.TrapFrame{PC: img.Entry, KernelSP: ksp}
	p.pcb.TrapFrame.X[hart.SP] = sp
	p.pcb.TrapFrame.X[hart.A0] = uint64(len(argv))
	p.pcb.TrapFrame.X[hart.A1] = argvPtr
	files := p.pcb.Files
	p.mu.Unlock()

	if old != nil {
		old.Release()
	}
	if files != nil {
		files.CloseOnExec()
	}
	return len(argv), nil
}

// pushArgs lays out argv at the top of the user stack:
//
//	sp -> argc, argv[0..argc), NULL, envp NULL, then the strings.
//
// It returns sp and the address of argv[0].
func pushArgs(as mm.AddressSpace, argv []string) (sp, argvPtr uint64, err error) {
	total := 0
	for _, a := range argv {
		total += len(a) + 1
	}
	if uint64(total) > maxArgBytes {
		return 0, 0, errors.Wrapf(abi.ENOMEM, "arguments take %d bytes", total)
	}

	sp = mm.UserStackTop
	ptrs := make([]uint64, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		sp -= uint64(len(argv[i]) + 1)
		if err := mm.CopyOut(as, sp, append([]byte(argv[i]), 0)); err != nil {
			return 0, 0, err
		}
		ptrs[i] = sp
	}
	words := uint64(len(argv) + 3)
	sp = (sp - 8*words) &^ 15

	if err := mm.WriteU64(as, sp, uint64(len(argv))); err != nil {
		return 0, 0, err
	}
	for i, ptr := range ptrs {
		if err := mm.WriteU64(as, sp+8+8*uint64(i), ptr); err != nil {
			return 0, 0, err
		}
	}
	end := sp + 8 + 8*uint64(len(argv))
	if err := mm.WriteU64(as, end, 0); err != nil {
		return 0, 0, err
	}
	if err := mm.WriteU64(as, end+8, 0); err != nil {
		return 0, 0, err
	}
	return sp, sp + 8, nil
}

// Exit ends the caller with code. Its resources stay allocated until the
// parent reaps it.
func (th *Thread) Exit(code int) {
	th.proc.exit(StateZombie, code, abi.ExitStatus(code))
}

// ExitGroup ends the caller with code. Processes sharing its address
// space are separate processes and keep running.
func (th *Thread) ExitGroup(code int) {
	th.Exit(code)
}

// Waitpid collects an exited child and returns its pid and wait status.
//
// With pid -1 it waits for any child, suspending the caller until one
// exits. With a specific pid it only looks at children that already
// exited and fails otherwise. A caller with no children at all fails with
// ECHILD, unless WNOHANG is set, in which case it returns 0, as it does
// when WNOHANG is set and no child has exited yet.
func (th *Thread) Waitpid(pid, options int) (int, int64, error) {
	p := th.proc
	nohang := options&abi.WNOHANG != 0

	p.mu.Lock()
	if p.alive.Len() == 0 && p.zombie.Len() == 0 {
		p.mu.Unlock()
		if nohang {
			return 0, 0, nil
		}
		return -1, 0, abi.ECHILD
	}

	var child *Process
	if pid == -1 {
		if p.zombie.Len() == 0 {
			if nohang {
				p.mu.Unlock()
				return 0, 0, nil
			}
			_ = p.transitionLocked(StateReady)
			p.waitq.Wait(th.task, &p.mu, func() bool { return p.zombie.Len() > 0 })
			_ = p.transitionLocked(StateRunning)
		}
		child, _ = p.zombie.DeleteMin()
	} else {
		var ok bool
		if child, ok = p.zombie.Delete(key(pid)); !ok {
			p.mu.Unlock()
			return -1, 0, abi.ECHILD
		}
	}
	p.mu.Unlock()

	status := child.Status()
	th.pm.reap(p, child)
	return child.pid, status, nil
}

// SchedYield puts the caller at the back of the ready queue.
func (th *Thread) SchedYield() {
	_ = th.proc.TransitionTo(StateReady)
	th.task.Yield()
	_ = th.proc.TransitionTo(StateRunning)
}

// Brk moves the program break to addr and returns the new break. An addr
// of 0, or one below the heap base, returns the current break.
func (th *Thread) Brk(addr uint64) (uint64, error) {
	p := th.proc
	p.mu.Lock()
	defer p.mu.Unlock()
	if addr == 0 || addr < p.pcb.HeapBase {
		return p.pcb.HeapPos, nil
	}
	if addr-p.pcb.HeapBase > th.maxMapping() {
		return p.pcb.HeapPos, abi.ENOMEM
	}
	if end := pageUp(addr); end > p.pcb.HeapEnd {
		space := p.pcb.Space
		pages := space.Pages() + int((end-p.pcb.HeapEnd)/mm.PageSize)
		if err := th.pm.enforcer.CheckPages(p.pid, pages); err != nil {
			return p.pcb.HeapPos, err
		}
		if err := space.InsertMappedRegion(p.pcb.HeapEnd, end, mm.PermU|mm.PermR|mm.PermW); err != nil {
			return p.pcb.HeapPos, errors.Wrap(abi.ENOMEM, err.Error())
		}
		p.pcb.HeapEnd = end
	}
	p.pcb.HeapPos = addr
	return addr, nil
}

// Mmap maps length bytes at the next free mmap address. Anonymous
// mappings are zeroed; file mappings are private copies of the file
// starting at off. The addr hint is ignored.
func (th *Thread) Mmap(addr, length uint64, prot, flags, fdNum int, off int64) (uint64, error) {
	if length == 0 || off < 0 {
		return 0, abi.EINVAL
	}
	if length > th.maxMapping() {
		return 0, abi.ENOMEM
	}
	var data []byte
	if flags&abi.MAP_ANONYMOUS == 0 {
		d, err := th.proc.Files().Get(fdNum)
		if err != nil {
			return 0, err
		}
		if !d.Readable {
			return 0, abi.EACCES
		}
		data = make([]byte, length)
		n, err := d.File.Inode().ReadAt(off, data)
		if err != nil && n == 0 {
			return 0, abi.EACCES
		}
		data = data[:n]
	}

	perm := mm.PermU
	if prot&abi.PROT_READ != 0 {
		perm |= mm.PermR
	}
	if prot&abi.PROT_WRITE != 0 {
		perm |= mm.PermW
	}
	if prot&abi.PROT_EXEC != 0 {
		perm |= mm.PermX
	}

	p := th.proc
	p.mu.Lock()
	defer p.mu.Unlock()
	start, size := p.pcb.MmapPos, pageUp(length)
	space := p.pcb.Space
	if err := th.pm.enforcer.CheckPages(p.pid, space.Pages()+int(size/mm.PageSize)); err != nil {
		return 0, err
	}
	if err := space.InsertMappedRegion(start, start+size, perm); err != nil {
		return 0, errors.Wrap(abi.ENOMEM, err.Error())
	}
	if len(data) > 0 {
		bufs, err := mm.TranslatedByteBuffer(space, start, len(data), 0)
		if err != nil {
			return 0, err
		}
		for _, b := range bufs {
			data = data[copy(b, data):]
		}
	}
	p.pcb.MmapPos = start + size
	return start, nil
}

// Times returns the caller's CPU accounting in clock ticks, and the ticks
// elapsed since boot.
func (th *Thread) Times() (abi.Tms, int64) {
	u := th.proc.Usage()
	tms := abi.Tms{
		Utime:  ticks(u.User),
		Stime:  ticks(u.System),
		Cutime: ticks(u.ChildUser),
		Cstime: ticks(u.ChildSystem),
	}
	return tms, ticks(th.pm.clock.Since(th.pm.boot))
}

// maxMapping is the most bytes one address space may map. Lengths above it
// are rejected before they are rounded or allocated.
func (th *Thread) maxMapping() uint64 {
	return uint64(th.pm.enforcer.Limits().MaxPages) * mm.PageSize
}

func pageUp(v uint64) uint64 {
	return (v + mm.PageSize - 1) &^ (mm.PageSize - 1)
}
