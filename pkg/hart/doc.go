// Package hart is the user-mode execution collaborator: the trap frame the
// kernel saves and restores, and a small interpreter that runs user code
// out of an mm.AddressSpace until the program traps back into the kernel.
//
// The instruction set is a register machine shaped after RV64I, with
// fixed-width 16-byte instructions so that decoding stays trivial. Only the
// operations user programs in this repository need are provided.
package hart
