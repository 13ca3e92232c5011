package hart

import (
	"encoding/binary"
	"errors"
)

// InstrSize is the width of every encoded instruction.
const InstrSize = 16

// ErrBadInstr is returned by Decode for unknown opcodes.
var ErrBadInstr = errors.New("hart: illegal instruction")

// Op is an opcode.
type Op uint8

const (
	OpIllegal Op = iota
	OpLI
	OpMV
	OpADDI
	OpADD
	OpSUB
	OpLD
	OpSD
	OpLW
	OpSW
	OpLB
	OpLBU
	OpSB
	OpBEQ
	OpBNE
	OpBLT
	OpBGE
	OpJAL
	OpJALR
	OpECALL
	opMax
)

// Mnemonics maps assembler mnemonics to opcodes.
var Mnemonics = map[string]Op{
	"li": OpLI, "mv": OpMV, "addi": OpADDI, "add": OpADD, "sub": OpSUB,
	"ld": OpLD, "sd": OpSD, "lw": OpLW, "sw": OpSW, "lb": OpLB, "lbu": OpLBU, "sb": OpSB,
	"beq": OpBEQ, "bne": OpBNE, "blt": OpBLT, "bge": OpBGE,
	"jal": OpJAL, "jalr": OpJALR, "ecall": OpECALL,
}

// Instr is one decoded instruction. Branch and jump targets are absolute
// addresses held in Imm.
type Instr struct {
	Op           Op
	Rd, Rs1, Rs2 uint8
	Imm          int64
}

// Encode appends the 16-byte form of in to b.
func (in Instr) Encode(b []byte) []byte {
	var w [InstrSize]byte
	w[0] = byte(in.Op)
	w[1] = in.Rd
	w[2] = in.Rs1
	w[3] = in.Rs2
	binary.LittleEndian.PutUint64(w[8:], uint64(in.Imm))
	return append(b, w[:]...)
}

// Decode parses one instruction.
func Decode(w []byte) (Instr, error) {
	if len(w) < InstrSize {
		return Instr{}, ErrBadInstr
	}
	in := Instr{
		Op:  Op(w[0]),
		Rd:  w[1],
		Rs1: w[2],
		Rs2: w[3],
		Imm: int64(binary.LittleEndian.Uint64(w[8:])),
	}
	if in.Op == OpIllegal || in.Op >= opMax || in.Rd > 31 || in.Rs1 > 31 || in.Rs2 > 31 {
		return Instr{}, ErrBadInstr
	}
	return in, nil
}
