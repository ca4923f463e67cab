// Package gate waits, within a bound, for a network dependency to answer.
// An unreachable dependency is reported, never treated as an error.
package gate

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/psantana5/launchgate/pkg/logging"
	"github.com/psantana5/launchgate/pkg/retry"
)

// Prober checks a dependency once.
type Prober interface {
	Probe(ctx context.Context) error
	Close() error
}

// ReadinessResult is the outcome of one Wait.
type ReadinessResult struct {
	Reachable bool
	// Elapsed is the sum of the poll intervals slept, not wall time.
	Elapsed  time.Duration
	Attempts int
	LastErr  error
}

// ElapsedSeconds returns Elapsed truncated to whole seconds.
func (r ReadinessResult) ElapsedSeconds() int {
	return int(r.Elapsed / time.Second)
}

// Config describes one gate.
type Config struct {
	// Name labels the dependency in logs and metrics ("broker", "database").
	Name         string
	URL          string
	Interval     time.Duration
	Timeout      time.Duration
	ProbeTimeout time.Duration
}

// Gate polls a Prober until it succeeds or the timeout is used up.
type Gate struct {
	cfg    Config
	prober Prober
	logger *logging.Logger

	// Sleep waits between attempts. Tests replace it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnProbe, if set, is told about every attempt.
	OnProbe func(err error)

	errLog rate.Sometimes
}

// New creates a gate. A nil logger discards output.
func New(cfg Config, prober Prober, logger *logging.Logger) *Gate {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = cfg.Interval
	}
	if cfg.Name == "" {
		cfg.Name = "dependency"
	}
	return &Gate{
		cfg:    cfg,
		prober: prober,
		logger: logger.WithField("dependency", cfg.Name),
		Sleep:  retry.Sleep,
		errLog: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// Wait probes until the dependency answers or Elapsed reaches the timeout.
// Wall time is bounded by the timeout too, so slow probes cannot stretch the
// wait. A cancelled ctx ends the wait early with Reachable false.
func (g *Gate) Wait(ctx context.Context) ReadinessResult {
	var res ReadinessResult
	target := Redact(g.cfg.URL)

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	for {
		if err := ctx.Err(); err != nil {
			if res.LastErr == nil {
				res.LastErr = err
			}
			return res
		}

		res.Attempts++
		err := g.probe(ctx)
		if g.OnProbe != nil {
			g.OnProbe(err)
		}
		if err == nil {
			res.Reachable = true
			res.LastErr = nil
			g.logger.Info(fmt.Sprintf("%s is available", g.cfg.Name), map[string]interface{}{
				"url":      target,
				"attempts": res.Attempts,
				"elapsed":  res.ElapsedSeconds(),
			})
			return res
		}
		res.LastErr = err

		g.logger.Info(fmt.Sprintf("Waiting for %s at %s...", g.cfg.Name, target), map[string]interface{}{
			"attempt": res.Attempts,
			"elapsed": res.ElapsedSeconds(),
		})
		g.errLog.Do(func() {
			g.logger.Warn("probe failed", map[string]interface{}{
				"error": err.Error(),
				"class": retry.Classify(err),
			})
		})

		if err := g.Sleep(ctx, g.cfg.Interval); err != nil {
			return res
		}
		res.Elapsed += g.cfg.Interval
		if res.Elapsed >= g.cfg.Timeout {
			return res
		}
	}
}

func (g *Gate) probe(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, g.cfg.ProbeTimeout)
	defer cancel()
	return g.prober.Probe(pctx)
}

// Redact hides credentials in a dependency URL for logging.
func Redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	q := u.Query()
	if q.Has("password") {
		q.Set("password", "xxxxx")
		u.RawQuery = q.Encode()
	}
	return u.Redacted()
}
