//go:build windows

package ptysvc

import "os/exec"

// applyProcessGroup is a no-op on Windows; there is no POSIX process
// group to join.
func applyProcessGroup(cmd *exec.Cmd) {}
