//go:build windows

package cli

import (
	"errors"
	"os"
	"os/exec"
)

// setSysProcAttr is a no-op on Windows. For production deployments, use a
// Windows service wrapper such as NSSM and run serve without --daemon.
func setSysProcAttr(cmd *exec.Cmd) {}

// isProcessRunning attempts to check whether a process is alive on Windows.
func isProcessRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Windows only delivers os.Kill and os.Interrupt. An Interrupt to a
	// detached process fails with ErrProcessDone only when it has exited.
	err = proc.Signal(os.Interrupt)
	return !errors.Is(err, os.ErrProcessDone)
}

// stopProcess kills the process on Windows (no graceful SIGTERM support).
func stopProcess(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
