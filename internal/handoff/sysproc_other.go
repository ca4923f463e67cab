//go:build !unix

package handoff

import (
	"os"
	"os/exec"
	"syscall"
)

var forwardedSignals = []os.Signal{os.Interrupt}

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}

func exitStatus(err *exec.ExitError) int {
	return err.ExitCode()
}
