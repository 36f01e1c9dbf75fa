//go:build windows

package ptysvc

import "os"

// Signal numbers kept for API symmetry with the POSIX build; Windows
// has no real signal delivery so these only select Kill vs. a no-op.
const (
	SIGTERM = 15
	SIGKILL = 9
	SIGINT  = 2
)

func signalProcess(pid, sig int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

// signalProcessGroup has no Windows equivalent of a POSIX process
// group kill; signal the process itself only.
func signalProcessGroup(pid, sig int) error {
	return signalProcess(pid, sig)
}
