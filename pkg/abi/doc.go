// Package abi holds the user/kernel binary interface shared by the kernel
// core and the simulated hart: syscall numbers, flag bits, errno values and
// the little-endian encoders for the structures syscalls copy out to user
// memory.
//
// Numbers and layouts follow the riscv64 Linux ABI so that programs built
// for that ABI see familiar values.
package abi
