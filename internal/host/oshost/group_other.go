//go:build !unix

package oshost

import (
	"errors"
	"os"
	"os/exec"
)

// setNewProcessGroup is a no-op without process groups
func setNewProcessGroup(cmd *exec.Cmd) {}

// killProcessGroup can only reach the root process here; its descendants
// keep running and must be killed by the operator.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
