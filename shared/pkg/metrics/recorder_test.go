package metrics

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/launchgate/pkg/retry"
)

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder()

	r.ObserveProbe("broker", false)
	r.ObserveProbe("broker", false)
	r.ObserveProbe("broker", true)
	r.ObserveGate("broker", true, 4*time.Second)
	r.ObserveResolution("factory", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.probeAttempts.WithLabelValues("broker", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.probeAttempts.WithLabelValues("broker", "success")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.gateWait.WithLabelValues("broker")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.gateReachable.WithLabelValues("broker")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.resolutions.WithLabelValues("factory", "false")))
}

func TestWriteToTextFormat(t *testing.T) {
	r := NewRecorder()
	r.SetInfo("web", "compose", "dev")

	var buf bytes.Buffer
	_, err := r.WriteTo(&buf)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "# TYPE launchgate_launch_info gauge")
	assert.Contains(t, out, `launchgate_launch_info{preset="compose",role="web",version="dev"} 1`)
}

func TestWriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.ObserveHandoff("worker", time.Unix(1700000000, 0))

	path := filepath.Join(t.TempDir(), "launchgate.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `launchgate_handoff_timestamp_seconds{role="worker"} 1.7e+09`)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file should not be left behind")
}

func TestPushRetriesTransientFailures(t *testing.T) {
	var calls int32
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.True(t, strings.HasSuffix(req.URL.Path, "/job/launchgate/instance/web-1"), req.URL.Path)
		data, _ := io.ReadAll(req.Body)
		body = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewRecorder()
	r.ObserveProbe("broker", true)

	cfg := retry.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1}
	require.NoError(t, r.Push(context.Background(), srv.URL, "launchgate", "web-1", cfg))

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.NotEmpty(t, body)
}
