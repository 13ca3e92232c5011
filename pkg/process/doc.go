/*
Package process implements the kernel's process model: control blocks, the
process tree, and the syscalls that create, replace, end and reap
processes or manipulate their files.

Every process runs on one cooperative task from package sched. The task
alternates between user mode on a simulated hart and the syscall
dispatcher, and only gives up its hart at a yield point: sched_yield, a
wait for a zombie child, or a read from an empty pipe.

# Process States

  - Ready: schedulable, not on a hart (also while suspended in a wait)
  - Running: executing user code or a syscall
  - Zombie: exited, waiting for the parent to collect the status
  - Killed: torn down by a kernel fault, reported as SIGKILL
  - Empty: reaped; holds no resources

# Process Tree

A parent keeps its children in two pid-ordered sets, alive and zombie. A
pid is in at most one of them; reaping removes it from both for good.
exit moves the caller from alive to zombie and hands its own children to
the root process. waitpid(-1) suspends until a zombie exists and reaps
the lowest pid; waitpid(pid) only reaps a child that already exited.
Resources are released at reap time, not at exit.

# Usage

	pm := process.NewProcessManager(cfg, process.WithConsole(console))
	if err := pm.Install("/init", image); err != nil {
		// Handle error
	}
	if _, err := pm.Boot("/init", []string{"init"}); err != nil {
		// Handle error
	}
	code, err := pm.Run(ctx)
*/
package process
