package handoff

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/psantana5/launchgate/pkg/logging"
	"github.com/psantana5/launchgate/pkg/shutdown"
)

// relayGrace is how long a cancelled ctx waits for the relay to deliver the
// signal that caused the cancellation.
var relayGrace = 100 * time.Millisecond

// relayTarget forwards signals to the child and remembers that it did.
type relayTarget struct {
	proc *os.Process
	once sync.Once
	seen chan struct{}
}

func (r *relayTarget) Signal(sig os.Signal) error {
	r.once.Do(func() { close(r.seen) })
	return r.proc.Signal(sig)
}

// Supervisor runs cmd as a child, relays signals to it and reports its exit
// status. Used where exec is unavailable or HANDOFF_MODE=supervise.
type Supervisor struct {
	logger *logging.Logger
	stdout *os.File
	stderr *os.File
}

// NewSupervisor creates a supervisor writing the child's output to the
// launcher's stdout and stderr.
func NewSupervisor(logger *logging.Logger) *Supervisor {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Supervisor{logger: logger, stdout: os.Stdout, stderr: os.Stderr}
}

// Exec starts cmd and waits. A non-zero exit is returned as *ExitError.
// Cancelling ctx sends SIGTERM to the child and keeps waiting for it, unless
// the relay already passed a signal on.
func (s *Supervisor) Exec(ctx context.Context, cmd Command) error {
	path, err := exec.LookPath(cmd.Path)
	if err != nil {
		return &Error{Op: "lookup", Path: cmd.Path, Err: err}
	}

	child := exec.Command(path)
	child.Args = cmd.Args
	child.Env = cmd.Env
	child.Stdin = os.Stdin
	child.Stdout = s.stdout
	child.Stderr = s.stderr
	// Own process group: terminal signals reach the child once, via the relay.
	child.SysProcAttr = sysProcAttr()

	if err := child.Start(); err != nil {
		return &Error{Op: "start", Path: path, Err: err}
	}

	pid := child.Process.Pid
	s.logger.Info("Started supervised process", map[string]interface{}{"pid": pid, "path": path})

	target := &relayTarget{proc: child.Process, seen: make(chan struct{})}
	stop := shutdown.Relay(target, forwardedSignals...)
	defer stop()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		// The signal that cancelled ctx usually reaches the relay as well.
		select {
		case <-target.seen:
			return
		case <-done:
			return
		case <-time.After(relayGrace):
		}
		s.logger.Info("Context cancelled, terminating child", map[string]interface{}{"pid": pid})
		_ = child.Process.Signal(syscall.SIGTERM)
	}()

	err = child.Wait()
	if err == nil {
		s.logger.Info("Supervised process exited", map[string]interface{}{"pid": pid, "exit_code": 0})
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitStatus(exitErr)
		s.logger.Info("Supervised process exited", map[string]interface{}{"pid": pid, "exit_code": code})
		return &ExitError{Code: code}
	}
	return &Error{Op: "wait", Path: path, Err: err}
}
