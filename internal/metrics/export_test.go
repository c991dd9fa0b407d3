package metrics

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/keypair/internal/logging"
)

type pushRequest struct {
	method string
	path   string
	body   []byte
}

func newGateway(t *testing.T, status int) (*httptest.Server, func() []pushRequest) {
	t.Helper()

	var (
		mu       sync.Mutex
		requests []pushRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		requests = append(requests, pushRequest{method: r.Method, path: r.URL.Path, body: body})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)

	return server, func() []pushRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]pushRequest(nil), requests...)
	}
}

func TestPushExporter(t *testing.T) {
	t.Parallel()

	server, requests := newGateway(t, http.StatusOK)
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.RecordReconcile("Create", "SUCCESS", 0.2)
	m.RecordCallbackAttempt("success")

	exporter := NewPushExporter(server.URL, "keypair", "stream-1", reg, time.Second)
	require.NoError(t, exporter.Export(context.Background()))

	got := requests()
	require.Len(t, got, 1)
	assert.Equal(t, http.MethodPut, got[0].method)
	assert.Equal(t, "/metrics/job/keypair/instance/stream-1", got[0].path)
	assert.Contains(t, string(got[0].body), "keypair_reconcile_total")
	assert.Contains(t, string(got[0].body), "keypair_callback_attempts_total")
}

func TestPushExporterCanceledContext(t *testing.T) {
	t.Parallel()

	server, requests := newGateway(t, http.StatusOK)
	reg := prometheus.NewRegistry()
	New(reg).RecordCompensation()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, NewPushExporter(server.URL, "keypair", "", reg, time.Second).Export(ctx))
	got := requests()
	require.Len(t, got, 1)
	assert.Equal(t, "/metrics/job/keypair", got[0].path)
}

func TestPushExporterGatewayError(t *testing.T) {
	t.Parallel()

	server, _ := newGateway(t, http.StatusInternalServerError)
	reg := prometheus.NewRegistry()
	New(reg).RecordCompensation()

	err := NewPushExporter(server.URL, "keypair", "stream-1", reg, time.Second).Export(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to push metrics")
}

func TestLogExporter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, false, true)
	reg := prometheus.NewRegistry()
	exporter := NewLogExporter(logger, reg)

	require.NoError(t, exporter.Export(context.Background()))
	assert.Empty(t, buf.String(), "nothing recorded yet")

	m := New(reg)
	m.RecordReconcile("Create", "SUCCESS", 0.5)
	m.RecordReconcile("Create", "SUCCESS", 0.25)
	m.RecordCallbackAttempt("success")
	require.NoError(t, exporter.Export(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "Metrics: ")
	assert.Contains(t, out, `keypair_reconcile_total{request_type="Create",status="SUCCESS"} 2`)
	assert.Contains(t, out, `keypair_reconcile_duration_seconds_count{request_type="Create"} 2`)
	assert.Contains(t, out, `keypair_reconcile_duration_seconds_sum{request_type="Create"} 0.75`)
	assert.Contains(t, out, `keypair_callback_attempts_total{result="success"} 1`)
	assert.Contains(t, out, "keypair_compensations_total 0")
}

func TestSummaryIgnoresOtherSeries(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	other := prometheus.NewCounter(prometheus.CounterOpts{Name: "other_total", Help: "unrelated"})
	reg.MustRegister(other)
	other.Inc()
	New(reg).RecordCompensation()

	summary, err := Summary(reg)
	require.NoError(t, err)
	assert.Contains(t, summary, "keypair_compensations_total 1")
	assert.NotContains(t, summary, "other_total")
}

func TestWriteText(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	New(reg).RecordReconcile("Delete", "SUCCESS", 0.1)

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, reg))

	out := buf.String()
	assert.Contains(t, out, "# TYPE keypair_reconcile_total counter")
	assert.Contains(t, out, `keypair_reconcile_total{request_type="Delete",status="SUCCESS"} 1`)
	assert.Contains(t, out, "keypair_reconcile_duration_seconds_bucket")
}
