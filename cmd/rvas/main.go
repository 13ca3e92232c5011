// rvas assembles a program in the kernel's assembly dialect into an
// executable image.
//
//	rvas in.s out.rvx
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"

	"rvos/pkg/loader/asm"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: rvas in.s out.rvx")
		os.Exit(2)
	}
	if err := assemble(os.Args[1], os.Args[2]); err != nil {
		fmt.Fprintf(os.Stderr, "rvas: %v\n", err)
		os.Exit(1)
	}
}

func assemble(in, out string) error {
	src, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	img, err := asm.Assemble(string(src))
	if err != nil {
		return errors.Wrap(err, in)
	}
	return os.WriteFile(out, img.Encode(), 0o755)
}
