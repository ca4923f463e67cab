// Package handoff builds the final command line and passes control to it,
// either by replacing the launcher's process image or by supervising a child.
package handoff

import (
	"net"
	"strconv"
	"strings"

	"github.com/psantana5/launchgate/internal/config"
	"github.com/psantana5/launchgate/internal/entrypoint"
)

// Role is the kind of long-running process being launched.
type Role string

const (
	RoleWeb    Role = "web"
	RoleWorker Role = "worker"
)

// Command is a fully resolved invocation. Args includes argv[0].
type Command struct {
	Path string
	Args []string
	Env  []string
}

// String renders the command line for logs and --dry-run.
func (c Command) String() string {
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		parts[i] = quote(a)
	}
	return strings.Join(parts, " ")
}

func quote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`()|&;<>*?") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// BuildWeb returns the application server invocation:
//
//	gunicorn --workers N --bind HOST:PORT --timeout T [extra...] TARGET
func BuildWeb(cfg config.RuntimeConfig, target entrypoint.Target, extra, env []string) Command {
	args := []string{
		cfg.ServerBin,
		"--workers", strconv.Itoa(cfg.WorkerConcurrency),
		"--bind", net.JoinHostPort(cfg.BindHost, strconv.Itoa(cfg.ListenPort)),
		"--timeout", strconv.Itoa(cfg.RequestTimeoutSeconds),
	}
	args = append(args, extra...)
	args = append(args, target.String())

	return Command{Path: cfg.ServerBin, Args: args, Env: withBroker(env, cfg.DependencyURL)}
}

// BuildWorker returns the queue worker invocation. More than one worker
// uses the pool command:
//
//	rq worker --url URL [extra...] QUEUE...
//	rq worker-pool --url URL --num-workers N [extra...] QUEUE...
func BuildWorker(cfg config.RuntimeConfig, extra, env []string) Command {
	args := []string{cfg.WorkerBin}
	if cfg.WorkerConcurrency > 1 {
		args = append(args, "worker-pool", "--url", cfg.DependencyURL,
			"--num-workers", strconv.Itoa(cfg.WorkerConcurrency))
	} else {
		args = append(args, "worker", "--url", cfg.DependencyURL)
	}
	args = append(args, extra...)
	args = append(args, cfg.QueueNames()...)

	return Command{Path: cfg.WorkerBin, Args: args, Env: withBroker(env, cfg.DependencyURL)}
}

// withBroker copies env with REDIS_URL set to url.
func withBroker(env []string, url string) []string {
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if !strings.HasPrefix(kv, "REDIS_URL=") {
			out = append(out, kv)
		}
	}
	return append(out, "REDIS_URL="+url)
}
