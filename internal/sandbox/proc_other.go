//go:build !linux

package sandbox

import "os/exec"

// configureProcess is a no-op outside Linux. The default Cancel kills
// only the interpreter itself.
func configureProcess(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil || cmd.ProcessState != nil {
		return nil
	}
	return cmd.Process.Kill()
}

// applyLimits is a no-op on non-Linux platforms; the timeout still applies.
func applyLimits(pid int, p Policy) error {
	return nil
}
