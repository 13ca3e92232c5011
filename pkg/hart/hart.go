package hart

import (
	"encoding/binary"

	"rvos/pkg/mm"
)

// Cause says why user execution stopped.
type Cause int

const (
	// CauseSyscall is an ecall; PC still points at the ecall.
	CauseSyscall Cause = iota
	// CauseFault is an illegal instruction or a bad memory access.
	CauseFault
)

// Trap describes a return from user mode.
type Trap struct {
	Cause Cause
	// Addr is the faulting address for CauseFault.
	Addr uint64
	// Steps is how many instructions ran before the trap.
	Steps int
}

// Hart runs user code for one core.
type Hart struct {
	ID int
}

// Run executes user instructions from tf.PC until the program traps.
func (h *Hart) Run(tf *TrapFrame, as mm.AddressSpace) Trap {
	var w [InstrSize]byte
	steps := 0
	for {
		if err := fetch(as, tf.PC, w[:]); err != nil {
			return Trap{Cause: CauseFault, Addr: tf.PC, Steps: steps}
		}
		in, err := Decode(w[:])
		if err != nil {
			return Trap{Cause: CauseFault, Addr: tf.PC, Steps: steps}
		}
		steps++
		if in.Op == OpECALL {
			return Trap{Cause: CauseSyscall, Steps: steps}
		}
		if addr, ok := step(tf, as, in); !ok {
			return Trap{Cause: CauseFault, Addr: addr, Steps: steps}
		}
		tf.X[Zero] = 0
	}
}

func fetch(as mm.AddressSpace, pc uint64, w []byte) error {
	bufs, err := mm.TranslatedByteBuffer(as, pc, len(w), mm.PermU|mm.PermX)
	if err != nil {
		return err
	}
	for _, b := range bufs {
		w = w[copy(w, b):]
	}
	return nil
}

func load(as mm.AddressSpace, va uint64, n int) (uint64, bool) {
	var b [8]byte
	if err := mm.CopyIn(as, va, b[:n]); err != nil {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b[:]), true
}

func store(as mm.AddressSpace, va uint64, v uint64, n int) bool {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return mm.CopyOut(as, va, b[:n]) == nil
}

// step executes one non-ecall instruction. On a fault it returns the
// faulting address and false.
func step(tf *TrapFrame, as mm.AddressSpace, in Instr) (uint64, bool) {
	x := &tf.X
	next := tf.PC + InstrSize
	switch in.Op {
	case OpLI:
		x[in.Rd] = uint64(in.Imm)
	case OpMV:
		x[in.Rd] = x[in.Rs1]
	case OpADDI:
		x[in.Rd] = x[in.Rs1] + uint64(in.Imm)
	case OpADD:
		x[in.Rd] = x[in.Rs1] + x[in.Rs2]
	case OpSUB:
		x[in.Rd] = x[in.Rs1] - x[in.Rs2]
	case OpLD, OpLW, OpLB, OpLBU:
		va := x[in.Rs1] + uint64(in.Imm)
		width := accessWidth(in.Op)
		v, ok := load(as, va, width)
		if !ok {
			return va, false
		}
		switch in.Op {
		case OpLW:
			v = uint64(int64(int32(uint32(v))))
		case OpLB:
			v = uint64(int64(int8(uint8(v))))
		}
		x[in.Rd] = v
	case OpSD, OpSW, OpSB:
		va := x[in.Rs1] + uint64(in.Imm)
		width := accessWidth(in.Op)
		if !store(as, va, x[in.Rs2], width) {
			return va, false
		}
	case OpBEQ:
		if x[in.Rs1] == x[in.Rs2] {
			next = uint64(in.Imm)
		}
	case OpBNE:
		if x[in.Rs1] != x[in.Rs2] {
			next = uint64(in.Imm)
		}
	case OpBLT:
		if int64(x[in.Rs1]) < int64(x[in.Rs2]) {
			next = uint64(in.Imm)
		}
	case OpBGE:
		if int64(x[in.Rs1]) >= int64(x[in.Rs2]) {
			next = uint64(in.Imm)
		}
	case OpJAL:
		x[in.Rd] = next
		next = uint64(in.Imm)
	case OpJALR:
		target := x[in.Rs1] + uint64(in.Imm)
		x[in.Rd] = next
		next = target
	default:
		return tf.PC, false
	}
	tf.PC = next
	return 0, true
}

func accessWidth(op Op) int {
	switch op {
	case OpLD, OpSD:
		return 8
	case OpLW, OpSW:
		return 4
	default:
		return 1
	}
}
