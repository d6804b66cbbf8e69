//go:build unix

package media

import (
	"os/exec"
	"syscall"
)

// configureProcess starts the tool in its own process group and makes context
// cancellation kill the whole group, so helpers spawned by the tool die too.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
