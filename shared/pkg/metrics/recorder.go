package metrics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/prometheus/common/expfmt"

	"github.com/psantana5/launchgate/pkg/retry"
)

const namespace = "launchgate"

// Recorder holds the launch metrics. The launcher never serves HTTP, so the
// registry is either written to a node_exporter textfile or pushed to a
// Pushgateway just before handoff.
type Recorder struct {
	registry *prometheus.Registry

	probeAttempts *prometheus.CounterVec
	gateWait      *prometheus.GaugeVec
	gateReachable *prometheus.GaugeVec
	resolutions   *prometheus.CounterVec
	handoffTime   *prometheus.GaugeVec
	info          *prometheus.GaugeVec
}

// NewRecorder creates a recorder backed by a private registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		probeAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probe_attempts_total",
				Help:      "Readiness probes issued, by dependency and result",
			},
			[]string{"dependency", "result"},
		),
		gateWait: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "gate_wait_seconds",
				Help:      "Time spent waiting for a dependency before moving on",
			},
			[]string{"dependency"},
		),
		gateReachable: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "gate_reachable",
				Help:      "1 if the dependency answered before the gate gave up",
			},
			[]string{"dependency"},
		),
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entrypoint_resolutions_total",
				Help:      "Entry-point resolutions by target kind",
			},
			[]string{"kind", "fallback"},
		),
		handoffTime: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "handoff_timestamp_seconds",
				Help:      "Unix time at which control was handed to the program",
			},
			[]string{"role"},
		),
		info: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "launch_info",
				Help:      "Static information about this launch",
			},
			[]string{"role", "preset", "version"},
		),
	}

	r.registry.MustRegister(
		r.probeAttempts,
		r.gateWait,
		r.gateReachable,
		r.resolutions,
		r.handoffTime,
		r.info,
	)
	return r
}

// Registry exposes the underlying registry for tests and custom exporters.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveProbe counts a single probe.
func (r *Recorder) ObserveProbe(dependency string, ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	r.probeAttempts.WithLabelValues(dependency, result).Inc()
}

// ObserveGate records the outcome of one readiness gate.
func (r *Recorder) ObserveGate(dependency string, reachable bool, waited time.Duration) {
	r.gateWait.WithLabelValues(dependency).Set(waited.Seconds())
	v := 0.0
	if reachable {
		v = 1
	}
	r.gateReachable.WithLabelValues(dependency).Set(v)
}

// ObserveResolution counts an entry-point decision.
func (r *Recorder) ObserveResolution(kind string, fallback bool) {
	r.resolutions.WithLabelValues(kind, fmt.Sprint(fallback)).Inc()
}

// ObserveHandoff stamps the moment the launcher let go.
func (r *Recorder) ObserveHandoff(role string, at time.Time) {
	r.handoffTime.WithLabelValues(role).Set(float64(at.Unix()))
}

// SetInfo sets the launch_info gauge.
func (r *Recorder) SetInfo(role, preset, version string) {
	r.info.WithLabelValues(role, preset, version).Set(1)
}

// WriteTo encodes all metrics in the Prometheus text format.
func (r *Recorder) WriteTo(w io.Writer) (int64, error) {
	families, err := r.registry.Gather()
	if err != nil {
		return 0, fmt.Errorf("failed to gather metrics: %w", err)
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return 0, fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
		}
	}
	return buf.WriteTo(w)
}

// WriteTextfile atomically replaces path with the current metrics, in the
// format expected by node_exporter's textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".launchgate-*.prom")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := r.WriteTo(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Push sends the metrics to a Pushgateway, retrying transient failures.
func (r *Recorder) Push(ctx context.Context, url, job, instance string, cfg retry.Config) error {
	pusher := push.New(url, job).Gatherer(r.registry)
	if instance != "" {
		pusher = pusher.Grouping("instance", instance)
	}
	return retry.Do(ctx, cfg, func() error {
		return pusher.PushContext(ctx)
	})
}
