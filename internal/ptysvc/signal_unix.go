//go:build !windows

package ptysvc

import "syscall"

// Signal numbers, POSIX values — used both for direct Kill calls and
// for the numeric form accepted in control-pipe kill messages.
const (
	SIGTERM = 15
	SIGKILL = 9
	SIGINT  = 2
)

func signalProcess(pid, sig int) error {
	return syscall.Kill(pid, syscall.Signal(sig))
}

// signalProcessGroup signals the process group led by pid (negative
// pid in the kill(2) convention) so that descendants die together.
func signalProcessGroup(pid, sig int) error {
	return syscall.Kill(-pid, syscall.Signal(sig))
}
