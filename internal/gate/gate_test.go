package gate

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeProber struct {
	failures int
	calls    int
	closed   bool
}

func (p *fakeProber) Probe(ctx context.Context) error {
	p.calls++
	if p.failures < 0 || p.calls <= p.failures {
		return errors.New("dial tcp 10.0.0.1:6379: connect: connection refused")
	}
	return nil
}

func (p *fakeProber) Close() error {
	p.closed = true
	return nil
}

func newTestGate(prober Prober, interval, timeout time.Duration) (*Gate, *[]time.Duration) {
	g := New(Config{
		Name:     "broker",
		URL:      "redis://:secret@redis:6379/0",
		Interval: interval,
		Timeout:  timeout,
	}, prober, nil)

	var slept []time.Duration
	g.Sleep = func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		slept = append(slept, d)
		return nil
	}
	return g, &slept
}

func TestWaitReachableAfterFailures(t *testing.T) {
	tests := []struct {
		name     string
		failures int
	}{
		{"immediately", 0},
		{"after one failure", 1},
		{"after five failures", 5},
		{"on the last attempt", 29},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prober := &fakeProber{failures: tt.failures}
			g, slept := newTestGate(prober, 2*time.Second, 60*time.Second)

			res := g.Wait(context.Background())

			if !res.Reachable {
				t.Fatalf("Reachable = false, expected true (last error: %v)", res.LastErr)
			}
			if want := time.Duration(tt.failures) * 2 * time.Second; res.Elapsed != want {
				t.Errorf("Elapsed = %v, expected %v", res.Elapsed, want)
			}
			if res.Attempts != tt.failures+1 {
				t.Errorf("Attempts = %d, expected %d", res.Attempts, tt.failures+1)
			}
			if len(*slept) != tt.failures {
				t.Errorf("slept %d times, expected %d", len(*slept), tt.failures)
			}
			if res.LastErr != nil {
				t.Errorf("LastErr = %v, expected nil", res.LastErr)
			}
		})
	}
}

func TestWaitNeverReachable(t *testing.T) {
	prober := &fakeProber{failures: -1}
	g, slept := newTestGate(prober, 2*time.Second, 60*time.Second)

	res := g.Wait(context.Background())

	if res.Reachable {
		t.Fatal("Reachable = true, expected false")
	}
	if res.Attempts != 30 {
		t.Errorf("Attempts = %d, expected 30", res.Attempts)
	}
	if res.ElapsedSeconds() != 60 {
		t.Errorf("ElapsedSeconds() = %d, expected 60", res.ElapsedSeconds())
	}
	if len(*slept) != 30 {
		t.Errorf("slept %d times, expected 30", len(*slept))
	}
	if res.LastErr == nil {
		t.Error("LastErr = nil, expected the last probe error")
	}
}

func TestWaitElapsedNeverExceedsTimeoutPlusInterval(t *testing.T) {
	tests := []struct {
		interval time.Duration
		timeout  time.Duration
		attempts int
	}{
		{2 * time.Second, 60 * time.Second, 30},
		{3 * time.Second, 10 * time.Second, 4},
		{5 * time.Second, 5 * time.Second, 1},
		{10 * time.Second, 1 * time.Second, 1},
	}

	for _, tt := range tests {
		g, _ := newTestGate(&fakeProber{failures: -1}, tt.interval, tt.timeout)
		res := g.Wait(context.Background())

		if res.Elapsed < tt.timeout || res.Elapsed >= tt.timeout+tt.interval {
			t.Errorf("interval %v timeout %v: Elapsed = %v, expected in [%v, %v)",
				tt.interval, tt.timeout, res.Elapsed, tt.timeout, tt.timeout+tt.interval)
		}
		if res.Attempts != tt.attempts {
			t.Errorf("interval %v timeout %v: Attempts = %d, expected %d",
				tt.interval, tt.timeout, res.Attempts, tt.attempts)
		}
	}
}

func TestWaitHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	prober := &fakeProber{failures: -1}
	g, _ := newTestGate(prober, 2*time.Second, 60*time.Second)

	var observed int
	g.OnProbe = func(err error) {
		observed++
		if observed == 3 {
			cancel()
		}
	}

	res := g.Wait(ctx)

	if res.Reachable {
		t.Error("Reachable = true, expected false after cancel")
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, expected 3", res.Attempts)
	}
	if res.Elapsed != 4*time.Second {
		t.Errorf("Elapsed = %v, expected 4s", res.Elapsed)
	}
}

func TestWaitBoundsEachProbe(t *testing.T) {
	g := New(Config{
		URL:          "redis://redis:6379/0",
		Interval:     time.Millisecond,
		Timeout:      time.Millisecond,
		ProbeTimeout: 20 * time.Millisecond,
	}, proberFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}), nil)

	start := time.Now()
	res := g.Wait(context.Background())

	if res.Reachable {
		t.Error("Reachable = true, expected false")
	}
	if !errors.Is(res.LastErr, context.DeadlineExceeded) {
		t.Errorf("LastErr = %v, expected deadline exceeded", res.LastErr)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("probe was not bounded by the probe timeout")
	}
}

type proberFunc func(ctx context.Context) error

func (f proberFunc) Probe(ctx context.Context) error { return f(ctx) }
func (f proberFunc) Close() error                    { return nil }

func TestRedact(t *testing.T) {
	tests := []struct {
		raw      string
		expected string
	}{
		{"redis://redis:6379/0", "redis://redis:6379/0"},
		{"redis://:secret@redis:6379/0", "redis://:xxxxx@redis:6379/0"},
		{"postgres://app:hunter2@db:5432/app", "postgres://app:xxxxx@db:5432/app"},
		{"unix:///tmp/redis.sock?password=secret", "unix:///tmp/redis.sock?password=xxxxx"},
		{"://bad", "<invalid url>"},
	}

	for _, tt := range tests {
		if got := Redact(tt.raw); got != tt.expected {
			t.Errorf("Redact(%q) = %q, expected %q", tt.raw, got, tt.expected)
		}
	}
}

func TestWaitBoundsWallTimeWhenProbesHang(t *testing.T) {
	hung := proberFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	g := New(Config{
		Name:         "broker",
		URL:          "redis://redis:6379/0",
		Interval:     50 * time.Millisecond,
		Timeout:      200 * time.Millisecond,
		ProbeTimeout: 150 * time.Millisecond,
	}, hung, nil)

	start := time.Now()
	res := g.Wait(context.Background())
	wall := time.Since(start)

	if res.Reachable {
		t.Error("Reachable = true, expected false")
	}
	if res.LastErr == nil {
		t.Error("LastErr = nil, expected the probe error")
	}
	// Counting only intervals, four 150ms probes would run before the
	// logical elapsed time reached 200ms.
	if wall >= 450*time.Millisecond {
		t.Errorf("Wait took %v, expected it to stop near the 200ms timeout", wall)
	}
	if res.Elapsed > 200*time.Millisecond {
		t.Errorf("Elapsed = %v, expected at most the timeout", res.Elapsed)
	}
}
