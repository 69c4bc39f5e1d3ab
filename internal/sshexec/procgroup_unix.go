//go:build unix

package sshexec

import (
	"os/exec"
	"syscall"
)

// killProcessGroup starts cmd in its own process group and makes
// cancellation kill the whole group, so the ssh that timeout(1) spawned
// dies with it.
func killProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
