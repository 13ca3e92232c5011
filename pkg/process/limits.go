package process

import (
	"errors"
	"fmt"
	"sync"

	"rvos/pkg/abi"
	"rvos/pkg/config"
)

// Limit errors.
var (
	ErrInvalidLimit = errors.New("invalid resource limit value")
	ErrLimitNotSet  = errors.New("resource limit not set")
)

// ResourceType represents the type of resource being limited.
type ResourceType string

const (
	// ResourceProcesses is the number of live processes, kernel-wide.
	ResourceProcesses ResourceType = "processes"
	// ResourceMemory is the number of pages one address space maps.
	ResourceMemory ResourceType = "memory"
	// ResourceFiles is the number of descriptor slots per table.
	ResourceFiles ResourceType = "files"
)

// ResourceLimits defines the limits the kernel enforces.
type ResourceLimits struct {
	MaxProcesses int
	MaxPages     int
	MaxFiles     int
}

// DefaultLimits returns the default resource limits.
func DefaultLimits() *ResourceLimits {
	return LimitsFromConfig(config.Default().Limits)
}

// LimitsFromConfig converts the configured limits.
func LimitsFromConfig(l config.Limits) *ResourceLimits {
	return &ResourceLimits{
		MaxProcesses: l.MaxProcesses,
		MaxPages:     l.MaxPages,
		MaxFiles:     l.MaxFiles,
	}
}

// Validate rejects non-positive limits.
func (l *ResourceLimits) Validate() error {
	if l.MaxProcesses < 1 || l.MaxPages < 1 || l.MaxFiles < 3 {
		return ErrInvalidLimit
	}
	return nil
}

// ResourceUsage is what one process currently holds.
type ResourceUsage struct {
	Pages int
}

// LimitError represents a resource limit violation.
type LimitError struct {
	Type  ResourceType
	Limit int64
	Used  int64
}

// Error returns the error message.
func (e *LimitError) Error() string {
	return fmt.Sprintf("%s limit exceeded (%d/%d)", e.Type, e.Used, e.Limit)
}

// Errno returns the error number the syscall layer reports.
func (e *LimitError) Errno() abi.Errno {
	switch e.Type {
	case ResourceProcesses:
		return abi.EAGAIN
	case ResourceFiles:
		return abi.EMFILE
	}
	return abi.ENOMEM
}

// IsLimitError checks if an error is a limit error.
func IsLimitError(err error) bool {
	var le *LimitError
	return errors.As(err, &le)
}

// Enforcer tracks usage against the kernel's limits.
type Enforcer struct {
	limits *ResourceLimits

	mu    sync.RWMutex
	usage map[int]*ResourceUsage
}

// NewEnforcer creates an enforcer for limits. A nil limits means
// DefaultLimits.
func NewEnforcer(limits *ResourceLimits) *Enforcer {
	if limits == nil {
		limits = DefaultLimits()
	}
	return &Enforcer{
		limits: limits,
		usage:  make(map[int]*ResourceUsage),
	}
}

// Limits returns the enforced limits.
func (e *Enforcer) Limits() ResourceLimits { return *e.limits }

// AddProcess starts tracking pid, failing if the process limit is
// reached.
func (e *Enforcer) AddProcess(pid int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n := len(e.usage); n >= e.limits.MaxProcesses {
		return &LimitError{
			Type:  ResourceProcesses,
			Limit: int64(e.limits.MaxProcesses),
			Used:  int64(n),
		}
	}
	e.usage[pid] = &ResourceUsage{}
	return nil
}

// RemoveProcess stops tracking pid.
func (e *Enforcer) RemoveProcess(pid int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.usage, pid)
}

// Processes returns the number of tracked processes.
func (e *Enforcer) Processes() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.usage)
}

// GetUsage gets resource usage for a process.
func (e *Enforcer) GetUsage(pid int) (ResourceUsage, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	u, ok := e.usage[pid]
	if !ok {
		return ResourceUsage{}, ErrLimitNotSet
	}
	return *u, nil
}

// CheckPages records that pid's address space would map pages pages and
// fails if that is over the limit.
func (e *Enforcer) CheckPages(pid, pages int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, ok := e.usage[pid]
	if !ok {
		return ErrLimitNotSet
	}
	if pages > e.limits.MaxPages {
		return &LimitError{
			Type:  ResourceMemory,
			Limit: int64(e.limits.MaxPages),
			Used:  int64(pages),
		}
	}
	u.Pages = pages
	return nil
}
