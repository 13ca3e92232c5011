// Package asm assembles the small text dialect used to build user
// programs for the simulated hart.
//
//	.text / .data          switch section
//	name:                  define a label
//	.string "s"            NUL-terminated bytes (also .asciz)
//	.byte v, ...           bytes
//	.dword v, ...          64-bit words; v may be a label
//	.space n               n zero bytes
//	.align n               pad to an n-byte boundary
//
// Instructions are those in hart.Mnemonics plus the pseudo-ops la, nop,
// j, jr, call, ret, beqz, bnez, bltz and bgez. Text starts at TextBase;
// data starts on the page after text. Execution begins at _start, or at
// TextBase when there is no such label.
package asm

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"rvos/pkg/hart"
	"rvos/pkg/loader"
	"rvos/pkg/mm"
)

// TextBase is the load address of the text section.
const TextBase = 0x10000

// EntryLabel names the entry point.
const EntryLabel = "_start"

type section int

const (
	secText section = iota
	secData
)

// stmt is one parsed source line after labels are stripped.
type stmt struct {
	line int
	sec  section
	op   string
	args []string
	off  uint64
}

type assembler struct {
	stmts  []stmt
	labels map[string]label
	size   [2]uint64
}

type label struct {
	sec section
	off uint64
}

// Assemble turns source into a loadable image.
func Assemble(src string) (*loader.Image, error) {
	a := &assembler{labels: make(map[string]label)}
	if err := a.scan(src); err != nil {
		return nil, err
	}
	text, data, err := a.emit()
	if err != nil {
		return nil, err
	}
	img := &loader.Image{Entry: TextBase}
	if l, ok := a.labels[EntryLabel]; ok {
		img.Entry = a.addr(l)
	}
	if len(text) == 0 {
		return nil, errors.New("asm: empty text section")
	}
	img.Segments = append(img.Segments, loader.Segment{
		Vaddr: TextBase, MemSize: uint64(len(text)), Perm: mm.PermR | mm.PermX, Data: text,
	})
	if len(data) > 0 {
		img.Segments = append(img.Segments, loader.Segment{
			Vaddr: a.dataBase(), MemSize: uint64(len(data)), Perm: mm.PermR | mm.PermW, Data: data,
		})
	}
	return img, nil
}

// MustAssemble is Assemble for fixed programs; it panics on error.
func MustAssemble(src string) []byte {
	img, err := Assemble(src)
	if err != nil {
		panic(err)
	}
	return img.Encode()
}

func (a *assembler) dataBase() uint64 {
	return (TextBase + a.size[secText] + mm.PageSize - 1) &^ (mm.PageSize - 1)
}

func (a *assembler) addr(l label) uint64 {
	if l.sec == secText {
		return TextBase + l.off
	}
	return a.dataBase() + l.off
}

// scan records statements and label offsets.
func (a *assembler) scan(src string) error {
	sec := secText
	for i, raw := range strings.Split(src, "\n") {
		lineNo := i + 1
		line := strings.TrimSpace(stripComment(raw))
		for {
			colon := strings.IndexByte(line, ':')
			if colon < 0 || strings.ContainsAny(line[:colon], " \t\"") {
				break
			}
			name := line[:colon]
			if _, dup := a.labels[name]; dup {
				return errors.Errorf("asm: line %d: duplicate label %q", lineNo, name)
			}
			a.labels[name] = label{sec: sec, off: a.size[sec]}
			line = strings.TrimSpace(line[colon+1:])
		}
		if line == "" {
			continue
		}
		op, rest := line, ""
		if i := strings.IndexAny(line, " \t"); i >= 0 {
			op, rest = line[:i], strings.TrimSpace(line[i+1:])
		}
		op = strings.ToLower(op)
		switch op {
		case ".text":
			sec = secText
			continue
		case ".data", ".bss", ".rodata":
			sec = secData
			continue
		case ".globl", ".global", ".section":
			continue
		}
		st := stmt{line: lineNo, sec: sec, op: op, args: splitArgs(rest), off: a.size[sec]}
		n, err := a.sizeOf(st)
		if err != nil {
			return errors.Wrapf(err, "asm: line %d", lineNo)
		}
		a.size[sec] += n
		a.stmts = append(a.stmts, st)
	}
	return nil
}

func (a *assembler) sizeOf(st stmt) (uint64, error) {
	switch st.op {
	case ".string", ".asciz":
		s, err := unquote(strings.Join(st.args, ","))
		if err != nil {
			return 0, err
		}
		return uint64(len(s) + 1), nil
	case ".byte":
		return uint64(len(st.args)), nil
	case ".dword", ".quad":
		return 8 * uint64(len(st.args)), nil
	case ".space", ".zero":
		n, err := parseInt(oneArg(st.args))
		if err != nil || n < 0 {
			return 0, errors.Errorf("bad size %q", oneArg(st.args))
		}
		return uint64(n), nil
	case ".align":
		n, err := parseInt(oneArg(st.args))
		if err != nil || n <= 0 || n&(n-1) != 0 {
			return 0, errors.Errorf("bad alignment %q", oneArg(st.args))
		}
		return (st.off+uint64(n)-1)&^(uint64(n)-1) - st.off, nil
	}
	if strings.HasPrefix(st.op, ".") {
		return 0, errors.Errorf("unknown directive %s", st.op)
	}
	if st.sec != secText {
		return 0, errors.Errorf("instruction %s outside .text", st.op)
	}
	return hart.InstrSize, nil
}

func (a *assembler) emit() (text, data []byte, err error) {
	out := [2][]byte{}
	for _, st := range a.stmts {
		b := out[st.sec]
		switch st.op {
		case ".string", ".asciz":
			s, _ := unquote(strings.Join(st.args, ","))
			b = append(append(b, s...), 0)
		case ".byte":
			for _, v := range st.args {
				n, err := a.value(v)
				if err != nil {
					return nil, nil, errors.Wrapf(err, "asm: line %d", st.line)
				}
				b = append(b, byte(n))
			}
		case ".dword", ".quad":
			for _, v := range st.args {
				n, err := a.value(v)
				if err != nil {
					return nil, nil, errors.Wrapf(err, "asm: line %d", st.line)
				}
				b = binary.LittleEndian.AppendUint64(b, uint64(n))
			}
		case ".space", ".zero", ".align":
			n, _ := a.sizeOf(st)
			b = append(b, make([]byte, n)...)
		default:
			in, err := a.instr(st)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "asm: line %d", st.line)
			}
			b = in.Encode(b)
		}
		out[st.sec] = b
	}
	return out[secText], out[secData], nil
}

func (a *assembler) instr(st stmt) (hart.Instr, error) {
	args := st.args
	want := func(n int) error {
		if len(args) != n {
			return errors.Errorf("%s takes %d operands, got %d", st.op, n, len(args))
		}
		return nil
	}
	var (
		in  hart.Instr
		err error
	)
	switch st.op {
	case "nop":
		return hart.Instr{Op: hart.OpADDI}, want(0)
	case "ecall":
		return hart.Instr{Op: hart.OpECALL}, want(0)
	case "ret":
		return hart.Instr{Op: hart.OpJALR, Rs1: hart.RA}, want(0)
	case "li", "la":
		if err = want(2); err != nil {
			return in, err
		}
		in.Op = hart.OpLI
		if in.Rd, err = reg(args[0]); err != nil {
			return in, err
		}
		in.Imm, err = a.value(args[1])
		return in, err
	case "mv":
		if err = want(2); err != nil {
			return in, err
		}
		in.Op = hart.OpMV
		return in, regs(args, &in.Rd, &in.Rs1)
	case "addi":
		if err = want(3); err != nil {
			return in, err
		}
		in.Op = hart.OpADDI
		if err = regs(args[:2], &in.Rd, &in.Rs1); err != nil {
			return in, err
		}
		in.Imm, err = a.value(args[2])
		return in, err
	case "add", "sub":
		if err = want(3); err != nil {
			return in, err
		}
		in.Op = hart.Mnemonics[st.op]
		return in, regs(args, &in.Rd, &in.Rs1, &in.Rs2)
	case "ld", "lw", "lb", "lbu":
		if err = want(2); err != nil {
			return in, err
		}
		in.Op = hart.Mnemonics[st.op]
		if in.Rd, err = reg(args[0]); err != nil {
			return in, err
		}
		in.Imm, in.Rs1, err = a.memOperand(args[1])
		return in, err
	case "sd", "sw", "sb":
		if err = want(2); err != nil {
			return in, err
		}
		in.Op = hart.Mnemonics[st.op]
		if in.Rs2, err = reg(args[0]); err != nil {
			return in, err
		}
		in.Imm, in.Rs1, err = a.memOperand(args[1])
		return in, err
	case "beq", "bne", "blt", "bge":
		if err = want(3); err != nil {
			return in, err
		}
		in.Op = hart.Mnemonics[st.op]
		if err = regs(args[:2], &in.Rs1, &in.Rs2); err != nil {
			return in, err
		}
		in.Imm, err = a.target(args[2])
		return in, err
	case "beqz", "bnez", "bltz", "bgez":
		if err = want(2); err != nil {
			return in, err
		}
		in.Op = hart.Mnemonics[st.op[:3]]
		if in.Rs1, err = reg(args[0]); err != nil {
			return in, err
		}
		in.Imm, err = a.target(args[1])
		return in, err
	case "j", "call":
		if err = want(1); err != nil {
			return in, err
		}
		in.Op = hart.OpJAL
		if st.op == "call" {
			in.Rd = hart.RA
		}
		in.Imm, err = a.target(args[0])
		return in, err
	case "jal":
		in.Op = hart.OpJAL
		switch len(args) {
		case 1:
			in.Rd = hart.RA
			in.Imm, err = a.target(args[0])
		case 2:
			if in.Rd, err = reg(args[0]); err != nil {
				return in, err
			}
			in.Imm, err = a.target(args[1])
		default:
			err = errors.Errorf("jal takes 1 or 2 operands, got %d", len(args))
		}
		return in, err
	case "jr":
		if err = want(1); err != nil {
			return in, err
		}
		in.Op = hart.OpJALR
		in.Rs1, err = reg(args[0])
		return in, err
	case "jalr":
		in.Op = hart.OpJALR
		switch len(args) {
		case 1:
			in.Rd = hart.RA
			in.Rs1, err = reg(args[0])
		case 3:
			if err = regs(args[:2], &in.Rd, &in.Rs1); err != nil {
				return in, err
			}
			in.Imm, err = a.value(args[2])
		default:
			err = errors.Errorf("jalr takes 1 or 3 operands, got %d", len(args))
		}
		return in, err
	}
	return in, errors.Errorf("unknown instruction %q", st.op)
}

// value parses an integer, a character literal or a label address.
func (a *assembler) value(s string) (int64, error) {
	if n, err := parseInt(s); err == nil {
		return n, nil
	}
	if len(s) >= 3 && s[0] == '\'' {
		r, err := strconv.Unquote(s)
		if err == nil && len(r) == 1 {
			return int64(r[0]), nil
		}
	}
	return a.target(s)
}

func (a *assembler) target(s string) (int64, error) {
	l, ok := a.labels[s]
	if !ok {
		return 0, errors.Errorf("undefined label %q", s)
	}
	return int64(a.addr(l)), nil
}

// memOperand parses off(reg).
func (a *assembler) memOperand(s string) (int64, uint8, error) {
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return 0, 0, errors.Errorf("bad memory operand %q", s)
	}
	var off int64
	if o := strings.TrimSpace(s[:open]); o != "" {
		var err error
		if off, err = a.value(o); err != nil {
			return 0, 0, err
		}
	}
	r, err := reg(strings.TrimSpace(s[open+1 : len(s)-1]))
	return off, r, err
}

func reg(s string) (uint8, error) {
	if r, ok := hart.RegNames[s]; ok {
		return r, nil
	}
	if strings.HasPrefix(s, "x") {
		if n, err := strconv.Atoi(s[1:]); err == nil && n >= 0 && n < 32 {
			return uint8(n), nil
		}
	}
	return 0, errors.Errorf("bad register %q", s)
}

func regs(args []string, dst ...*uint8) error {
	for i, d := range dst {
		r, err := reg(args[i])
		if err != nil {
			return err
		}
		*d = r
	}
	return nil
}

func parseInt(s string) (int64, error) {
	return strconv.ParseInt(s, 0, 64)
}

func oneArg(args []string) string {
	if len(args) != 1 {
		return fmt.Sprint(args)
	}
	return args[0]
}

func unquote(s string) (string, error) {
	s = strings.TrimSpace(s)
	u, err := strconv.Unquote(s)
	if err != nil {
		return "", errors.Errorf("bad string literal %s", s)
	}
	return u, nil
}

// stripComment drops a '#' comment that is not inside a string.
func stripComment(s string) string {
	inStr := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if inStr {
				i++
			}
		case '"':
			inStr = !inStr
		case '#':
			if !inStr {
				return s[:i]
			}
		}
	}
	return s
}

// splitArgs splits operands on commas outside string literals.
func splitArgs(s string) []string {
	if s == "" {
		return nil
	}
	var (
		out   []string
		start int
		inStr bool
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if inStr {
				i++
			}
		case '"':
			inStr = !inStr
		case ',':
			if !inStr {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(out, strings.TrimSpace(s[start:]))
}
