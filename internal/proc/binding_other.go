//go:build !linux

package proc

import "os/exec"

// parentDeathBinding is a no-op on platforms without a parent-death signal.
func parentDeathBinding(*exec.Cmd) {}
