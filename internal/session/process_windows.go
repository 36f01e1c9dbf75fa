//go:build windows

package session

import "os"

// createStdinFIFO has no named-pipe equivalent on this build; callers
// fall back to a regular file.
func createStdinFIFO(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	return f.Close()
}

// processAlive reports whether pid names a live process. On Windows,
// os.FindProcess itself opens a process handle and fails for a pid
// that does not exist, so a successful lookup is sufficient here.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.FindProcess(pid)
	return err == nil
}

// ProcessAlive is the exported form of processAlive, shared with
// internal/ptysvc so the kill escalation and the store's zombie sweep
// agree on what "alive" means.
func ProcessAlive(pid int) bool { return processAlive(pid) }
