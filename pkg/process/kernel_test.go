package process

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rvos/pkg/config"
	"rvos/pkg/mm"
	"rvos/pkg/vfs/diskfs"
)

// fork clones the caller with a copied address space and descriptor
// table. The child sees a0 = 0.
const fork = `
	li a0, 17
	li a1, 0
	li a2, 0
	li a3, 0
	li a4, 0
	li a7, 220
	ecall
`

// echo prints argv[1] and a newline, then exits with argc.
const echo = `
_start:
	mv s0, a0
	ld s1, 8(a1)
	mv t0, s1
	li a2, 0
len:
	lbu t1, 0(t0)
	beqz t1, print
	addi t0, t0, 1
	addi a2, a2, 1
	j len
print:
	li a0, 1
	mv a1, s1
	li a7, 64
	ecall
	li a0, 1
	la a1, nl
	li a2, 1
	li a7, 64
	ecall
	mv a0, s0
	li a7, 93
	ecall

	.data
nl:	.string "\n"
`

func TestHello(t *testing.T) {
	pm, out := newKernel(t, nil)
	install(t, pm, "/init", `
_start:
	li a0, 1
	la a1, msg
	li a2, 6
	li a7, 64
	ecall
	li a0, 7
	li a7, 93
	ecall

	.data
msg:	.string "hello\n"
`)
	assert.Equal(t, 7, runInit(t, pm, "/init"))
	assert.Equal(t, "hello\n", out.String())
	assert.Equal(t, StateZombie, pm.Init().State())
	assert.Equal(t, 1, pm.Init().Pid())
}

func TestForkWait(t *testing.T) {
	pm, _ := newKernel(t, nil)
	install(t, pm, "/init", `
_start:`+fork+`
	beqz a0, child
	mv s0, a0
	li a0, -1
	la a1, status
	li a2, 0
	li a7, 260
	ecall
	bne a0, s0, fail
	la t0, status
	lw a0, 0(t0)
	li t1, 0x300
	bne a0, t1, fail
	li a7, 173
	ecall
	li a7, 93
	ecall
fail:
	li a0, 1
	li a7, 93
	ecall
child:
	li a7, 173
	ecall
	addi a0, a0, 2
	li a7, 93
	ecall

	.data
status:	.dword 0
`)
	assert.Equal(t, 0, runInit(t, pm, "/init"))
	assert.Empty(t, pm.Init().Children())
	assert.Empty(t, pm.Init().Zombies())
}

func TestWaitpidSemantics(t *testing.T) {
	pm, _ := newKernel(t, nil)
	install(t, pm, "/init", `
_start:
	li a0, -1
	li a1, 0
	li a2, 0
	li a7, 260
	ecall
	li t1, -1
	bne a0, t1, fail1
`+fork+`
	beqz a0, child
	mv s0, a0

	li a0, -1
	li a1, 0
	li a2, 1
	li a7, 260
	ecall
	bnez a0, fail2

	mv a0, s0
	li a1, 0
	li a2, 0
	li a7, 260
	ecall
	li t1, -1
	bne a0, t1, fail3

	li a0, -1
	li a1, 0
	li a2, 0
	li a7, 260
	ecall
	bne a0, s0, fail4

	li a0, 0
	li a7, 93
	ecall
fail1:
	li a0, 11
	li a7, 93
	ecall
fail2:
	li a0, 12
	li a7, 93
	ecall
fail3:
	li a0, 13
	li a7, 93
	ecall
fail4:
	li a0, 14
	li a7, 93
	ecall
child:
	li a0, 0
	li a7, 93
	ecall
`)
	assert.Equal(t, 0, runInit(t, pm, "/init"))
}

func TestPipeBetweenProcesses(t *testing.T) {
	pm, out := newKernel(t, nil)
	install(t, pm, "/init", `
_start:
	la a0, fds
	li a1, 0
	li a7, 59
	ecall
`+fork+`
	beqz a0, child

	la t0, fds
	lw a0, 4(t0)
	li a7, 57
	ecall

	la t0, fds
	lw a0, 0(t0)
	la a1, buf
	li a2, 16
	li a7, 63
	ecall
	mv a2, a0
	li a0, 1
	la a1, buf
	li a7, 64
	ecall

	li a0, -1
	li a1, 0
	li a2, 0
	li a7, 260
	ecall
	li a0, 0
	li a7, 93
	ecall
child:
	la t0, fds
	lw a0, 4(t0)
	la a1, msg
	li a2, 2
	li a7, 64
	ecall
	li a0, 0
	li a7, 93
	ecall

	.data
msg:	.string "AB"
	.align 8
fds:	.dword 0
buf:	.space 16
`)
	assert.Equal(t, 0, runInit(t, pm, "/init"))
	assert.Equal(t, "AB", out.String())
}

// spawn runs path with one argument in a child and exits 0 if the
// child's wait status is want.
func spawn(path, arg string, want int) string {
	return fmt.Sprintf(`
_start:`+fork+`
	beqz a0, child
	li a0, -1
	la a1, status
	li a2, 0
	li a7, 260
	ecall
	la t0, status
	lw a0, 0(t0)
	li t1, %d
	bne a0, t1, fail
	li a0, 0
	li a7, 93
	ecall
fail:
	li a0, 1
	li a7, 93
	ecall
child:
	la a0, path
	la a1, argv
	li a7, 221
	ecall
	li a0, 99
	li a7, 93
	ecall

	.data
path:	.string "%s"
arg0:	.string "prog"
arg1:	.string "%s"
	.align 8
argv:	.dword arg0, arg1, 0
status:	.dword 0
`, want, path, arg)
}

func TestExecEcho(t *testing.T) {
	pm, out := newKernel(t, nil)
	install(t, pm, "/bin/echo", echo)
	install(t, pm, "/init", spawn("/bin/echo", "hi there", 0x200))
	assert.Equal(t, 0, runInit(t, pm, "/init"))
	assert.Equal(t, "hi there\n", out.String())
}

func TestExecMissing(t *testing.T) {
	pm, out := newKernel(t, nil)
	install(t, pm, "/init", spawn("/bin/nope", "x", -256))
	assert.Equal(t, 0, runInit(t, pm, "/init"))
	assert.Empty(t, out.String())
}

func TestExecShellScriptRunsInterpreter(t *testing.T) {
	cfg := config.Default()
	cfg.Shell.Interpreter = "/busybox"
	pm, out := newKernel(t, cfg)
	install(t, pm, "/busybox", echo)
	install(t, pm, "/init", `
_start:
	la a0, path
	la a1, argv
	li a7, 221
	ecall
	li a0, 99
	li a7, 93
	ecall

	.data
path:	.string "/etc/rc.sh"
arg0:	.string "rc.sh"
arg1:	.string "start"
	.align 8
argv:	.dword arg0, arg1, 0
`)
	assert.Equal(t, 4, runInit(t, pm, "/init"))
	assert.Equal(t, "sh\n", out.String())
	assert.Equal(t, "busybox", pm.Init().Name())
}

func TestUserFaultExits(t *testing.T) {
	pm, _ := newKernel(t, nil)
	install(t, pm, "/init", `
_start:`+fork+`
	beqz a0, child
	li a0, -1
	la a1, status
	li a2, 0
	li a7, 260
	ecall
	la t0, status
	lw a0, 0(t0)
	li t1, -256
	bne a0, t1, fail
	li a0, 0
	li a7, 93
	ecall
fail:
	li a0, 1
	li a7, 93
	ecall
child:
	ld a0, 0(zero)
	li a0, 5
	li a7, 93
	ecall

	.data
status:	.dword 0
`)
	assert.Equal(t, 0, runInit(t, pm, "/init"))
}

func TestOrphansAreReparentedToInit(t *testing.T) {
	alloc := &mm.FrameAllocator{}
	pm, _ := newKernel(t, nil, WithFrameAllocator(alloc))
	install(t, pm, "/init", `
_start:`+fork+`
	beqz a0, middle

	li s1, 0
	li a0, -1
	la a1, status
	li a2, 0
	li a7, 260
	ecall
	bltz a0, fail
	la t0, status
	lw t1, 0(t0)
	add s1, s1, t1

	li a0, -1
	la a1, status
	li a2, 0
	li a7, 260
	ecall
	bltz a0, fail
	la t0, status
	lw t1, 0(t0)
	add s1, s1, t1

	li a0, -1
	li a1, 0
	li a2, 0
	li a7, 260
	ecall
	bgez a0, fail

	li t1, 0x500
	bne s1, t1, fail
	li a0, 0
	li a7, 93
	ecall
fail:
	li a0, 1
	li a7, 93
	ecall
middle:`+fork+`
	beqz a0, grandchild
	li a0, 2
	li a7, 93
	ecall
grandchild:
	li a7, 124
	ecall
	li a0, 3
	li a7, 93
	ecall

	.data
status:	.dword 0
`)
	assert.Equal(t, 0, runInit(t, pm, "/init"))
	assert.Len(t, pm.ListProcesses(), 1)
	assert.Equal(t, 1, pm.Enforcer().Processes())
	assert.Equal(t, int64(pm.Init().Space().Pages()), alloc.InUse())
}

func TestManyHarts(t *testing.T) {
	cfg := config.Default()
	cfg.Harts = 4
	pm, out := newKernel(t, cfg)
	install(t, pm, "/init", `
_start:
	li s0, 8
spawn:
	beqz s0, reap`+fork+`
	beqz a0, child
	addi s0, s0, -1
	j spawn
reap:
	li s0, 8
again:
	beqz s0, done
	li a0, -1
	li a1, 0
	li a2, 0
	li a7, 260
	ecall
	bltz a0, fail
	addi s0, s0, -1
	j again
done:
	li a0, 0
	li a7, 93
	ecall
fail:
	li a0, 1
	li a7, 93
	ecall
child:
	li a0, 1
	la a1, dot
	li a2, 1
	li a7, 64
	ecall
	li a0, 0
	li a7, 93
	ecall

	.data
dot:	.string "."
`)
	assert.Equal(t, 0, runInit(t, pm, "/init"))
	assert.Equal(t, strings.Repeat(".", 8), out.String())
	assert.Len(t, pm.ListProcesses(), 1)
}

func TestBootErrors(t *testing.T) {
	pm, _ := newKernel(t, nil)
	_, err := pm.Boot("/missing", nil)
	require.Error(t, err)

	require.NoError(t, pm.Install("/junk", []byte("not an image")))
	_, err = pm.Boot("/junk", nil)
	require.Error(t, err)

	install(t, pm, "/init", "_start:\n\tli a0, 0\n\tli a7, 93\n\tecall\n")
	_, err = pm.Boot("/init", nil)
	require.NoError(t, err)
	_, err = pm.Boot("/init", nil)
	assert.ErrorIs(t, err, ErrAlreadyBoot)
}

func TestMountedHostFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greeting"), []byte("from host\n"), 0o644))

	pm, out := newKernel(t, nil)
	require.NoError(t, pm.Mount("/host", diskfs.New(dir, true).Root()))
	assert.Error(t, pm.Mount("/host", diskfs.New(dir, true).Root()))

	install(t, pm, "/init", `
_start:
	li a0, -100
	la a1, path
	li a2, 0
	li a7, 56
	ecall
	bltz a0, fail
	la a1, buf
	li a2, 64
	li a7, 63
	ecall
	mv a2, a0
	li a0, 1
	la a1, buf
	li a7, 64
	ecall
	li a0, 0
	li a7, 93
	ecall
fail:
	li a0, 1
	li a7, 93
	ecall

	.data
path:	.string "/host/greeting"
buf:	.space 64
`)
	assert.Equal(t, 0, runInit(t, pm, "/init"))
	assert.Equal(t, "from host\n", out.String())

	root, _ := pm.Dentries().Get("/")
	names, err := root.List()
	require.NoError(t, err)
	assert.Contains(t, names, "host")
}
