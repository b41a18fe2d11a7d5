package mapping

import (
	"os"

	"github.com/mitchellh/go-ps"
)

var _ ProcessChecker = (*DefaultProcessChecker)(nil)

// ProcessChecker is an interface for checking if a process is running.
type ProcessChecker interface {
	IsRunning(pid int) bool
}

// DefaultProcessChecker looks the PID up in the process table.
type DefaultProcessChecker struct{}

// IsRunning checks if a process with the given PID is running.
func (pc *DefaultProcessChecker) IsRunning(pid int) bool {
	if pid == os.Getpid() {
		return true
	}
	proc, err := ps.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc != nil
}
