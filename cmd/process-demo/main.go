package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"rvos/pkg/config"
	"rvos/pkg/loader/asm"
	"rvos/pkg/mm"
	"rvos/pkg/process"
	"rvos/pkg/vfs/devfs"
)

// demoInit pipes a message from a forked child to its parent, which
// copies it to stdout, reaps the child and exits 42 if the child did.
const demoInit = `
_start:
	la a0, fds
	li a1, 0
	li a7, 59
	ecall

	li a0, 17
	li a1, 0
	li a2, 0
	li a3, 0
	li a4, 0
	li a7, 220
	ecall
	beqz a0, child

	la t0, fds
	lw a0, 4(t0)
	li a7, 57
	ecall
	la t0, fds
	lw a0, 0(t0)
	la a1, buf
	li a2, 64
	li a7, 63
	ecall
	mv a2, a0
	li a0, 1
	la a1, buf
	li a7, 64
	ecall

	li a0, -1
	la a1, status
	li a2, 0
	li a7, 260
	ecall
	la t0, status
	lw t1, 0(t0)
	li t2, 0x2a00
	li a0, 1
	bne t1, t2, out
	li a0, 42
out:
	li a7, 93
	ecall

child:
	la t0, fds
	lw a0, 4(t0)
	la a1, msg
	li a2, 24
	li a7, 64
	ecall
	li a0, 42
	li a7, 93
	ecall

	.data
msg:	.string "hello through the pipe!\n"
	.align 8
fds:	.dword 0
status:	.dword 0
buf:	.space 64
`

func main() {
	fmt.Println("=== rvos Process Management Demo ===")
	fmt.Println()

	cfg := config.Default()
	cfg.Log.Level = "warn"
	frames := &mm.FrameAllocator{}
	pm := process.NewProcessManager(cfg,
		process.WithConsole(devfs.NewConsole(os.Stdin, os.Stdout, os.Stderr)),
		process.WithFrameAllocator(frames))
	fmt.Println("Created process manager")

	img, err := asm.Assemble(demoInit)
	if err != nil {
		log.Fatalf("Failed to assemble init: %v", err)
	}
	if err := pm.Install("/init", img.Encode()); err != nil {
		log.Fatalf("Failed to install init: %v", err)
	}
	fmt.Printf("Installed /init (entry %#x, %d segments)\n", img.Entry, len(img.Segments))

	fmt.Println("\n--- Boot ---")
	initProc, err := pm.Boot("/init", nil)
	if err != nil {
		log.Fatalf("Failed to boot: %v", err)
	}
	fmt.Printf("Booted init: PID=%d, State=%s, Pages=%d\n",
		initProc.Pid(), initProc.State(), initProc.Space().Pages())

	fmt.Println("\n--- Run ---")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	code, err := pm.Run(ctx)
	if err != nil {
		log.Fatalf("Run failed: %v", err)
	}

	fmt.Println("\n--- After Run ---")
	fmt.Printf("init exit code: %d (the child's)\n", code)
	fmt.Printf("init state: %s\n", initProc.State())
	for _, p := range pm.ListProcesses() {
		fmt.Printf("  PID=%d name=%s state=%s ppid=%d\n", p.Pid(), p.Name(), p.State(), p.Ppid())
	}
	fmt.Printf("Live processes counted by the enforcer: %d\n", pm.Enforcer().Processes())
	fmt.Printf("User frames still in use: %d\n", frames.InUse())
	u := initProc.Usage()
	fmt.Printf("CPU: user=%v system=%v children=%v\n", u.User, u.System, u.ChildUser+u.ChildSystem)
}
