//go:build windows

package procutil

import (
	"errors"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

// interruptProcess is unsupported on Windows; Terminate falls through to kill
func interruptProcess(cmd *exec.Cmd) error {
	return errors.New("interrupt not supported")
}

func killProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
