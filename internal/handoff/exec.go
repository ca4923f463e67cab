package handoff

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// Executor hands control to cmd. On success Exec may never return.
type Executor interface {
	Exec(ctx context.Context, cmd Command) error
}

// ErrExecUnsupported is returned by Replacer where the platform cannot
// replace a process image.
var ErrExecUnsupported = fmt.Errorf("process replacement: %w", errors.ErrUnsupported)

// Replacer replaces the current process with cmd. The program keeps the
// launcher's PID and receives signals directly.
type Replacer struct {
	lookPath func(string) (string, error)
	exec     func(path string, argv, env []string) error
}

// NewReplacer returns a Replacer using the real PATH lookup and exec.
func NewReplacer() *Replacer {
	return &Replacer{lookPath: exec.LookPath, exec: replaceProcess}
}

// Exec only returns on failure.
func (r *Replacer) Exec(ctx context.Context, cmd Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := r.lookPath(cmd.Path)
	if err != nil {
		return &Error{Op: "lookup", Path: cmd.Path, Err: err}
	}

	if err := r.exec(path, cmd.Args, cmd.Env); err != nil {
		return &Error{Op: "exec", Path: path, Err: err}
	}
	return nil
}
