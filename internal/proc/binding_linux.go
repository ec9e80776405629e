//go:build linux

package proc

import (
	"os/exec"
	"syscall"
)

// parentDeathBinding asks the kernel to deliver SIGTERM to the child when
// this process dies, covering crashes that skip normal teardown.
func parentDeathBinding(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Pdeathsig = syscall.SIGTERM
}
