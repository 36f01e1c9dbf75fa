//go:build !windows

package ptysvc

import (
	"os/exec"
	"syscall"
)

// applyProcessGroup puts the spawned process in its own session/group
// so that a later process-group kill reaches every descendant without
// also signalling this server.
func applyProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
