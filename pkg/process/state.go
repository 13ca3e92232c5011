package process

import (
	"errors"
)

// State transition errors.
var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrProcessNotFound   = errors.New("process not found")
)

// ProcessState represents the lifecycle state of a process.
type ProcessState string

const (
	// StateReady indicates the process can run but is not on a hart.
	StateReady ProcessState = "ready"
	// StateRunning indicates the process is executing on a hart.
	StateRunning ProcessState = "running"
	// StateZombie indicates the process exited and waits to be reaped.
	StateZombie ProcessState = "zombie"
	// StateKilled indicates the process was torn down by a kernel fault.
	StateKilled ProcessState = "killed"
	// StateEmpty indicates the process was reaped and holds no resources.
	StateEmpty ProcessState = "empty"
)

// Live reports whether the state is schedulable.
func (s ProcessState) Live() bool {
	return s == StateReady || s == StateRunning
}

// Exited reports whether the process has stopped running for good.
func (s ProcessState) Exited() bool {
	return !s.Live()
}

// StateTransition represents a valid state transition.
type StateTransition struct {
	From ProcessState
	To   ProcessState
}

// ValidTransitions defines all valid state transitions.
var ValidTransitions = []StateTransition{
	// Resumed by a hart: Ready -> Running
	{From: StateReady, To: StateRunning},
	// Yield or wait: Running -> Ready
	{From: StateRunning, To: StateReady},
	// Normal exit: Running -> Zombie
	{From: StateRunning, To: StateZombie},
	// Kernel fault: Running -> Killed
	{From: StateRunning, To: StateKilled},
	// Kernel fault while suspended: Ready -> Killed
	{From: StateReady, To: StateKilled},
	// Reaped by the parent
	{From: StateZombie, To: StateEmpty},
	{From: StateKilled, To: StateEmpty},
}

// IsValidTransition checks if a state transition is valid.
func IsValidTransition(from, to ProcessState) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// transitionLocked moves p to state to. p.mu must be held.
func (p *Process) transitionLocked(to ProcessState) error {
	if !IsValidTransition(p.pcb.State, to) {
		return ErrInvalidTransition
	}
	p.pcb.State = to
	return nil
}

// TransitionTo attempts to move the process to a new state.
func (p *Process) TransitionTo(to ProcessState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transitionLocked(to)
}

// State returns the current state.
func (p *Process) State() ProcessState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pcb.State
}

// IsAlive returns true if the process is still schedulable.
func (p *Process) IsAlive() bool {
	return p.State().Live()
}
