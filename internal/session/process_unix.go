//go:build !windows

package session

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// createStdinFIFO creates a POSIX named pipe at path.
func createStdinFIFO(path string) error {
	return unix.Mkfifo(path, 0o600)
}

// processAlive reports whether pid names a live process, using
// signal 0 (no-op signal used purely for existence/permission checks).
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}

// ProcessAlive is the exported form of processAlive, shared with
// internal/ptysvc so the kill escalation and the store's zombie sweep
// agree on what "alive" means.
func ProcessAlive(pid int) bool { return processAlive(pid) }
