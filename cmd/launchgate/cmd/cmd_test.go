package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/psantana5/launchgate/internal/config"
	"github.com/psantana5/launchgate/internal/handoff"
	"github.com/psantana5/launchgate/pkg/shutdown"
)

func TestRecommend(t *testing.T) {
	const gib = 1024 * 1024 * 1024

	tests := []struct {
		name     string
		role     string
		cpus     int
		memory   uint64
		expected int
	}{
		{"web by cpu", "web", 4, 16 * gib, 9},
		{"worker by cpu", "worker", 4, 16 * gib, 4},
		{"web capped by memory", "web", 8, 1 * gib, 4},
		{"tiny machine", "web", 1, 100 * 1024 * 1024, 1},
		{"unknown role sized as web", "scheduler", 2, 16 * gib, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := recommend(tt.role, tt.cpus, tt.memory, 256)
			if rec.Workers != tt.expected {
				t.Errorf("recommend() workers = %d, expected %d (%s)", rec.Workers, tt.expected, rec.Rationale)
			}
		})
	}
}

func TestOutputRecommendationBash(t *testing.T) {
	var buf bytes.Buffer
	rec := recommend("worker", 2, 8*1024*1024*1024, 256)

	if err := outputRecommendation(&buf, rec, "bash"); err != nil {
		t.Fatalf("outputRecommendation() error: %v", err)
	}
	if !strings.Contains(buf.String(), "export WORKERS=2\n") {
		t.Errorf("bash output = %q, expected export WORKERS=2", buf.String())
	}
}

func TestWriteSettingsJSON(t *testing.T) {
	cfg := config.Defaults(config.PresetHost)
	cfg.DependencyURL = "redis://:secret@redis:6379/0"

	var buf bytes.Buffer
	if err := writeSettings(&buf, settings(cfg), "json"); err != nil {
		t.Fatalf("writeSettings() error: %v", err)
	}

	var values map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &values); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if values["port"] != float64(8000) {
		t.Errorf("port = %v, expected 8000", values["port"])
	}
	if strings.Contains(buf.String(), "secret") {
		t.Error("config show leaks the broker password")
	}
}

func TestWriteSettingsTable(t *testing.T) {
	var buf bytes.Buffer
	if err := writeSettings(&buf, settings(config.Defaults(config.PresetCompose)), "table"); err != nil {
		t.Fatalf("writeSettings() error: %v", err)
	}
	for _, want := range []string{"redis_url", "REDIS_URL", "redis://redis:6379/0", "gunicorn"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("table missing %q:\n%s", want, buf.String())
		}
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err      error
		expected int
	}{
		{nil, 0},
		{&usageError{err: errors.New("unknown flag: --bogus")}, 2},
		{fmt.Errorf("launch interrupted: %w", context.Canceled), 130},
		{fmt.Errorf("launch interrupted: %w", &shutdown.SignalError{Signal: syscall.SIGINT}), 130},
		{fmt.Errorf("launch interrupted: %w", &shutdown.SignalError{Signal: syscall.SIGTERM}), 143},
		{&handoff.Error{Op: "lookup", Path: "gunicorn", Err: exec.ErrNotFound}, 127},
		{&handoff.ExitError{Code: 4}, 4},
		{errNotReady, 1},
	}

	for _, tt := range tests {
		if got := ExitCode(tt.err); got != tt.expected {
			t.Errorf("ExitCode(%v) = %d, expected %d", tt.err, got, tt.expected)
		}
	}
}

func TestWebDryRun(t *testing.T) {
	srv := miniredis.RunT(t)
	t.Setenv("REDIS_URL", "redis://"+srv.Addr()+"/0")
	t.Setenv("APP_INTROSPECT", "none")
	t.Setenv("PORT", "8080")
	t.Setenv("WORKERS", "3")
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"web", "--dry-run", "--env-file", "/nonexistent/.env", "--", "--preload"})
	t.Cleanup(func() {
		dryRun = false
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
	})

	if err := ExecuteContext(context.Background()); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	want := "gunicorn --workers 3 --bind 0.0.0.0:8080 --timeout 120 --preload app:app"
	if !strings.Contains(out.String(), want) {
		t.Errorf("dry run output = %q, expected it to contain %q", out.String(), want)
	}
	if !strings.Contains(out.String(), "reachable after 1 attempt(s)") {
		t.Errorf("dry run output = %q, expected broker to be reachable", out.String())
	}
}
