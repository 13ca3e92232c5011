package hart

// Register numbers by ABI name.
const (
	Zero = 0
	RA   = 1
	SP   = 2
	GP   = 3
	TP   = 4
	T0   = 5
	T1   = 6
	T2   = 7
	S0   = 8
	S1   = 9
	A0   = 10
	A1   = 11
	A2   = 12
	A3   = 13
	A4   = 14
	A5   = 15
	A6   = 16
	A7   = 17
)

// RegNames maps ABI register names to numbers.
var RegNames = map[string]uint8{
	"zero": Zero, "ra": RA, "sp": SP, "gp": GP, "tp": TP,
	"t0": T0, "t1": T1, "t2": T2, "s0": S0, "fp": S0, "s1": S1,
	"a0": A0, "a1": A1, "a2": A2, "a3": A3, "a4": A4, "a5": A5, "a6": A6, "a7": A7,
	"s2": 18, "s3": 19, "s4": 20, "s5": 21, "s6": 22, "s7": 23, "s8": 24,
	"s9": 25, "s10": 26, "s11": 27, "t3": 28, "t4": 29, "t5": 30, "t6": 31,
}

// TrapFrame is the register snapshot saved when user code enters the
// kernel.
type TrapFrame struct {
	X        [32]uint64
	PC       uint64
	KernelSP uint64
}

// SyscallArgs returns the syscall number (a7) and arguments (a0..a5).
func (tf *TrapFrame) SyscallArgs() (uint64, [6]uint64) {
	var args [6]uint64
	copy(args[:], tf.X[A0:A0+6])
	return tf.X[A7], args
}

// SetReturn stores a syscall result in a0.
func (tf *TrapFrame) SetReturn(v int64) {
	tf.X[A0] = uint64(v)
}
