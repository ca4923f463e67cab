package handoff

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
)

// Error reports a failed handoff. The launcher does not retry these.
type Error struct {
	Op   string // "lookup", "exec", "start"
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("handoff %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ExitError carries a supervised child's exit status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("process exited with code %d", e.Code)
}

// Exit codes used by shells for launch failures.
const (
	ExitNotFound      = 127
	ExitNotExecutable = 126
)

// ExitCode maps a Run/Exec error to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Code < 0 {
			return 1
		}
		return exitErr.Code
	}

	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return ExitNotFound
	case errors.Is(err, fs.ErrPermission):
		return ExitNotExecutable
	}
	return 1
}
