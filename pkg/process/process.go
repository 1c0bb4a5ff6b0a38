// Package process inspects and signals daemon processes by PID.
package process

import (
	"fmt"
	"os"
	"syscall"
	"time"
)

// IsProcessAlive reports whether a process with the given PID exists.
// Signal 0 probes for existence; EPERM still means the process is alive.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || os.IsPermission(err)
}

// Terminate sends SIGTERM to pid and waits up to timeout for it to exit.
// A process that is already gone is not an error.
func Terminate(pid int, timeout time.Duration) error {
	if !IsProcessAlive(pid) {
		return nil
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := p.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal process %d: %w", pid, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !IsProcessAlive(pid) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("process %d did not exit within %s", pid, timeout)
}
