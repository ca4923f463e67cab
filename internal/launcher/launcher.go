// Package launcher runs the startup pipeline: wait for dependencies, resolve
// the entry point, then hand off to the long-running program.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/psantana5/launchgate/internal/config"
	"github.com/psantana5/launchgate/internal/entrypoint"
	"github.com/psantana5/launchgate/internal/gate"
	"github.com/psantana5/launchgate/internal/handoff"
	"github.com/psantana5/launchgate/pkg/logging"
	"github.com/psantana5/launchgate/pkg/metrics"
	"github.com/psantana5/launchgate/pkg/retry"
	"github.com/psantana5/launchgate/pkg/shutdown"
	"github.com/psantana5/launchgate/pkg/tracing"
)

// State is a pipeline phase.
type State string

const (
	Configuring          State = "configuring"
	WaitingForDependency State = "waiting_for_dependency"
	ResolvingEntryPoint  State = "resolving_entry_point"
	Handoff              State = "handoff"
	Failed               State = "failed"
)

// Dependency names used in logs and metric labels.
const (
	DependencyBroker   = "broker"
	DependencyDatabase = "database"
)

// GateOutcome is what happened at one readiness gate.
type GateOutcome struct {
	Name       string
	URL        string
	Result     gate.ReadinessResult
	Skipped    bool
	SkipReason string
}

// Plan is everything decided before handoff.
type Plan struct {
	Role       handoff.Role
	Gates      []GateOutcome
	Resolution *entrypoint.Resolution
	Command    handoff.Command
}

// Launcher drives one launch. It is single use.
type Launcher struct {
	cfg   config.RuntimeConfig
	role  handoff.Role
	extra []string
	env   []string

	version   string
	logger    *logging.Logger
	recorder  *metrics.Recorder
	tracer    *tracing.Provider
	proberFor func(string) (gate.Prober, error)
	sleep     func(context.Context, time.Duration) error
	resolver  *entrypoint.Resolver
	executor  handoff.Executor
	hooks     *shutdown.Manager

	mu          sync.Mutex
	transitions []State
}

// Option configures a Launcher.
type Option func(*Launcher)

func WithLogger(l *logging.Logger) Option { return func(x *Launcher) { x.logger = l } }

func WithRecorder(r *metrics.Recorder) Option { return func(x *Launcher) { x.recorder = r } }

func WithTracer(p *tracing.Provider) Option { return func(x *Launcher) { x.tracer = p } }

func WithExecutor(e handoff.Executor) Option { return func(x *Launcher) { x.executor = e } }

func WithResolver(r *entrypoint.Resolver) Option { return func(x *Launcher) { x.resolver = r } }

// WithProberFactory replaces gate.ProberFor.
func WithProberFactory(fn func(string) (gate.Prober, error)) Option {
	return func(x *Launcher) { x.proberFor = fn }
}

// WithSleep replaces the wait between probes.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(x *Launcher) { x.sleep = fn }
}

// WithExtraArgs appends args to the final command line.
func WithExtraArgs(args []string) Option { return func(x *Launcher) { x.extra = args } }

// WithEnv sets the environment inherited by the program. Defaults to os.Environ().
func WithEnv(env []string) Option { return func(x *Launcher) { x.env = env } }

func WithVersion(v string) Option { return func(x *Launcher) { x.version = v } }

// New creates a launcher for role.
func New(cfg config.RuntimeConfig, role handoff.Role, opts ...Option) *Launcher {
	l := &Launcher{
		cfg:       cfg,
		role:      role,
		version:   "dev",
		proberFor: gate.ProberFor,
		sleep:     retry.Sleep,
		hooks:     shutdown.New(5 * time.Second),
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.logger == nil {
		l.logger = logging.Nop()
	}
	l.logger = l.logger.WithField("role", string(role))
	if l.env == nil {
		l.env = os.Environ()
	}
	if l.recorder == nil {
		l.recorder = metrics.NewRecorder()
	}
	if l.tracer == nil {
		l.tracer, _ = tracing.InitTracer(tracing.Config{ServiceName: "launchgate"}, l.logger)
	}
	if l.resolver == nil {
		l.resolver = entrypoint.NewResolver(
			entrypoint.NewIntrospector(cfg.Introspection, cfg.PythonBin, cfg.AppDir), l.logger)
	}
	if l.executor == nil {
		l.executor = DefaultExecutor(cfg.HandoffMode, l.logger)
	}

	l.recorder.SetInfo(string(role), string(cfg.Preset), l.version)
	l.registerHooks()
	l.transition(Configuring)
	return l
}

// DefaultExecutor returns the executor for mode.
func DefaultExecutor(mode config.HandoffMode, logger *logging.Logger) handoff.Executor {
	if mode == config.HandoffSupervise {
		return handoff.NewSupervisor(logger)
	}
	return fallbackExecutor{primary: handoff.NewReplacer(), fallback: handoff.NewSupervisor(logger), logger: logger}
}

// fallbackExecutor supervises when the platform cannot exec.
type fallbackExecutor struct {
	primary  handoff.Executor
	fallback handoff.Executor
	logger   *logging.Logger
}

func (f fallbackExecutor) Exec(ctx context.Context, cmd handoff.Command) error {
	err := f.primary.Exec(ctx, cmd)
	if errors.Is(err, handoff.ErrExecUnsupported) {
		f.logger.Warn("Process replacement unsupported, supervising instead")
		return f.fallback.Exec(ctx, cmd)
	}
	return err
}

// registerHooks adds the pre-handoff flushes. They run in reverse order, so
// probers registered later during the gates close first and tracing shuts
// down last.
func (l *Launcher) registerHooks() {
	l.hooks.Register("tracing", l.tracer.Shutdown)

	if l.cfg.PushgatewayURL != "" {
		l.hooks.Register("pushgateway", func(ctx context.Context) error {
			instance, _ := os.Hostname()
			return l.recorder.Push(ctx, l.cfg.PushgatewayURL, "launchgate", instance, retry.Config{
				MaxRetries:     2,
				InitialBackoff: 250 * time.Millisecond,
				MaxBackoff:     time.Second,
				Multiplier:     2,
			})
		})
	}
	if l.cfg.MetricsTextfile != "" {
		l.hooks.Register("textfile", func(ctx context.Context) error {
			return l.recorder.WriteTextfile(l.cfg.MetricsTextfile)
		})
	}
}

func (l *Launcher) transition(s State) {
	l.mu.Lock()
	l.transitions = append(l.transitions, s)
	l.mu.Unlock()
	l.logger.Debug("state transition", map[string]interface{}{"state": string(s)})
}

// Transitions returns the states entered so far, in order.
func (l *Launcher) Transitions() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.transitions...)
}

// Recorder exposes the launch metrics.
func (l *Launcher) Recorder() *metrics.Recorder {
	return l.recorder
}

// WaitForDependencies runs the broker gate and, when DATABASE_URL is set,
// the database gate. Unreachable dependencies are logged and tolerated.
func (l *Launcher) WaitForDependencies(ctx context.Context) []GateOutcome {
	l.transition(WaitingForDependency)

	deps := []struct{ name, url string }{{DependencyBroker, l.cfg.DependencyURL}}
	if l.cfg.DatabaseURL != "" {
		deps = append(deps, struct{ name, url string }{DependencyDatabase, l.cfg.DatabaseURL})
	}

	outcomes := make([]GateOutcome, 0, len(deps))
	for _, dep := range deps {
		outcomes = append(outcomes, l.waitFor(ctx, dep.name, dep.url))
	}
	return outcomes
}

func (l *Launcher) waitFor(ctx context.Context, name, rawURL string) GateOutcome {
	out := GateOutcome{Name: name, URL: gate.Redact(rawURL)}

	ctx, span := l.tracer.StartSpan(ctx, "wait_for_"+name, attribute.String("dependency.url", out.URL))
	defer span.End()

	prober, err := l.proberFor(rawURL)
	if err != nil {
		out.Skipped = true
		out.SkipReason = err.Error()
		l.logger.Warn(fmt.Sprintf("Cannot check %s, skipping readiness gate", name), map[string]interface{}{
			"url":   out.URL,
			"error": err.Error(),
		})
		tracing.AddEvent(ctx, "gate_skipped")
		return out
	}
	l.hooks.Register("prober:"+name, shutdown.CloseResource(prober))

	g := gate.New(gate.Config{
		Name:         name,
		URL:          rawURL,
		Interval:     time.Duration(l.cfg.PollIntervalSeconds) * time.Second,
		Timeout:      time.Duration(l.cfg.PollTimeoutSeconds) * time.Second,
		ProbeTimeout: time.Duration(l.cfg.ProbeTimeoutSeconds) * time.Second,
	}, prober, l.logger)
	g.Sleep = l.sleep
	g.OnProbe = func(err error) { l.recorder.ObserveProbe(name, err == nil) }

	out.Result = g.Wait(ctx)
	l.recorder.ObserveGate(name, out.Result.Reachable, out.Result.Elapsed)
	span.SetAttributes(
		attribute.Bool("dependency.reachable", out.Result.Reachable),
		attribute.Int("dependency.attempts", out.Result.Attempts),
	)

	if !out.Result.Reachable {
		l.logger.Warn(fmt.Sprintf("%s not available after %ds, continuing anyway", name, out.Result.ElapsedSeconds()),
			map[string]interface{}{"url": out.URL, "attempts": out.Result.Attempts})
		if out.Result.LastErr != nil {
			tracing.SetError(ctx, out.Result.LastErr)
		}
	}
	return out
}

// ResolveEntryPoint decides the web target.
func (l *Launcher) ResolveEntryPoint(ctx context.Context) entrypoint.Resolution {
	l.transition(ResolvingEntryPoint)

	ctx, span := l.tracer.StartSpan(ctx, "resolve_entry_point")
	defer span.End()

	res := l.resolver.Resolve(ctx, entrypoint.Spec{
		Module:   l.cfg.AppModule,
		Factory:  l.cfg.FactorySymbol,
		Instance: l.cfg.InstanceSymbol,
	})
	l.recorder.ObserveResolution(res.Target.Kind.String(), res.Fallback)
	span.SetAttributes(
		attribute.String("entrypoint.target", res.Target.String()),
		attribute.Bool("entrypoint.fallback", res.Fallback),
	)
	return res
}

// Plan runs every phase up to, but not including, the handoff.
func (l *Launcher) Plan(ctx context.Context) Plan {
	ctx, span := l.tracer.StartSpan(ctx, "launch", attribute.String("launch.role", string(l.role)))
	defer span.End()

	plan := Plan{Role: l.role}
	plan.Gates = l.WaitForDependencies(ctx)

	env := l.tracer.InjectEnv(ctx, l.env)
	switch l.role {
	case handoff.RoleWorker:
		l.transition(ResolvingEntryPoint)
		l.logger.Debug("Worker has no entry point to resolve")
		plan.Command = handoff.BuildWorker(l.cfg, l.extra, env)
	default:
		res := l.ResolveEntryPoint(ctx)
		plan.Resolution = &res
		plan.Command = handoff.BuildWeb(l.cfg, res.Target, l.extra, env)
	}
	return plan
}

// Run executes the pipeline and hands off. With exec handoff a successful
// Run never returns. An interrupted launch returns the ctx cause without
// entering Failed, which is kept for handoff errors.
func (l *Launcher) Run(ctx context.Context) error {
	plan := l.Plan(ctx)
	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		l.logger.Warn("Launch interrupted before handoff", map[string]interface{}{"cause": cause.Error()})
		return fmt.Errorf("launch interrupted: %w", cause)
	}

	l.transition(Handoff)
	l.logger.Info("Handing off", map[string]interface{}{"command": plan.Command.String()})
	l.recorder.ObserveHandoff(string(l.role), time.Now())

	if err := l.hooks.Shutdown(); err != nil {
		l.logger.Warn("Pre-handoff flush failed", map[string]interface{}{"error": err.Error()})
	}

	err := l.executor.Exec(ctx, plan.Command)
	var exitErr *handoff.ExitError
	if err == nil || errors.As(err, &exitErr) {
		return err
	}

	l.transition(Failed)
	l.logger.Error("Handoff failed", map[string]interface{}{
		"error":     err.Error(),
		"exit_code": handoff.ExitCode(err),
	})
	return err
}
