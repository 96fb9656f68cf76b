//go:build windows

package executor

import "os/exec"

// newProcessGroup is a no-op on Windows; the tools the pipeline shells out
// to do not spawn process trees there.
func newProcessGroup(cmd *exec.Cmd) {}

// killProcessTree kills the process directly on Windows.
func killProcessTree(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
