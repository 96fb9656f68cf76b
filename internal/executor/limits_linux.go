//go:build linux

package executor

import (
	"os/exec"
	"syscall"
)

// newProcessGroup gives the tool its own process group. Pdeathsig
// additionally reaps it if this process dies mid-run.
func newProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
}

// killProcessTree sends SIGKILL to the tool's process group, falling back
// to the process itself when the group cannot be resolved.
func killProcessTree(cmd *exec.Cmd) error {
	p := cmd.Process
	if p == nil {
		return nil
	}
	pgid, err := syscall.Getpgid(p.Pid)
	if err != nil {
		return p.Kill()
	}
	return syscall.Kill(-pgid, syscall.SIGKILL)
}
