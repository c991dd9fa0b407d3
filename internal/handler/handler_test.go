package handler_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/keypair/internal/callback"
	"github.com/systmms/keypair/internal/config"
	dserrors "github.com/systmms/keypair/internal/errors"
	"github.com/systmms/keypair/internal/handler"
	"github.com/systmms/keypair/internal/metrics"
	"github.com/systmms/keypair/internal/reconcile"
	"github.com/systmms/keypair/internal/secretstores/memory"
	kptest "github.com/systmms/keypair/tests/testutil"
)

func newHandler(t *testing.T, store *memory.Store, m *metrics.Metrics) (*handler.Handler, *kptest.TestLogger) {
	t.Helper()
	logs := kptest.NewTestLogger(t)
	rec := reconcile.New(store, reconcile.WithLogger(logs.Logger), reconcile.WithMetrics(m))
	reporter := callback.New(config.CallbackConfig{MaxAttempts: 1, Timeout: time.Second},
		callback.WithLogger(logs.Logger),
		callback.WithMetrics(m),
	)
	h := handler.New(rec, reporter,
		handler.WithLogger(logs.Logger),
		handler.WithMetrics(m),
		handler.WithReserve(time.Second),
	)
	return h, logs
}

func TestHandleCreateReportsOnce(t *testing.T) {
	t.Parallel()

	server := kptest.NewCallbackServer(t)
	store := memory.New()
	h, logs := newHandler(t, store, metrics.New(prometheus.NewRegistry()))

	event := kptest.CFNEvent(t, "Create", "unique-request-id", server.URL(), kptest.KeyPairProperties("svc-keys", "Service Keys"))
	require.NoError(t, h.Handle(context.Background(), event))

	requests := server.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, http.MethodPut, requests[0].Method)
	body := requests[0].Decode(t)

	assert.Equal(t, "SUCCESS", body["Status"])
	assert.Equal(t, "svc-keys", body["PhysicalResourceId"])
	assert.Equal(t, kptest.TestStackID, body["StackId"])
	assert.Equal(t, "unique-request-id", body["RequestId"])
	assert.Equal(t, kptest.TestLogicalResourceID, body["LogicalResourceId"])

	data, ok := body["Data"].(map[string]interface{})
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(data["PublicKey"].(string), "-----BEGIN PUBLIC KEY-----"))
	assert.NotEmpty(t, data["PublicKeyArn"])
	assert.NotEmpty(t, data["PrivateKeyArn"])

	assert.Equal(t, []string{"svc-keys/private", "svc-keys/public"}, store.Names())

	private, err := store.DescribeSecret(context.Background(), "svc-keys/private")
	require.NoError(t, err)
	logs.AssertNoKeyMaterial(t, private.Value)
}

func TestHandleCreateConflictReportsFailed(t *testing.T) {
	t.Parallel()

	server := kptest.NewCallbackServer(t)
	store := memory.New()
	h, _ := newHandler(t, store, nil)
	props := kptest.KeyPairProperties("svc-keys", "Service Keys")

	require.NoError(t, h.Handle(context.Background(), kptest.CFNEvent(t, "Create", "first", server.URL(), props)))
	require.NoError(t, h.Handle(context.Background(), kptest.CFNEvent(t, "Create", "second", server.URL(), props)))

	requests := server.Requests()
	require.Len(t, requests, 2)
	body := requests[1].Decode(t)
	assert.Equal(t, "FAILED", body["Status"])
	assert.True(t, strings.HasPrefix(body["Reason"].(string), "Create failed"))
	assert.Equal(t, "svc-keys/failed-second", body["PhysicalResourceId"])
	assert.NotContains(t, body, "Data")
	assert.Len(t, store.Names(), 2)
}

func TestHandleDeliveryFailure(t *testing.T) {
	t.Parallel()

	server := kptest.NewCallbackServer(t, http.StatusForbidden)
	m := metrics.New(prometheus.NewRegistry())
	h, logs := newHandler(t, memory.New(), m)

	err := h.Handle(context.Background(), kptest.CFNEvent(t, "Delete", "r", server.URL(), kptest.KeyPairProperties("svc-keys", "")))

	var deliveryErr dserrors.CallbackDeliveryError
	require.ErrorAs(t, err, &deliveryErr)
	assert.Equal(t, http.StatusForbidden, deliveryErr.StatusCode)
	assert.Len(t, server.Requests(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CallbackFailures()))
	logs.AssertContains(t, "Could not deliver outcome for SigningKeys")
}

func TestHandleMissingResponseURL(t *testing.T) {
	t.Parallel()

	h, _ := newHandler(t, memory.New(), nil)
	resp, err := h.HandleEvent(context.Background(), reconcile.Event{
		RequestType:        reconcile.RequestDelete,
		RequestID:          "r",
		LogicalResourceID:  "SigningKeys",
		ResourceProperties: map[string]interface{}{"Name": "svc-keys"},
	})

	require.Error(t, err)
	assert.Equal(t, "CallbackDeliveryError", dserrors.Kind(err))
	assert.Equal(t, reconcile.StatusSuccess, resp.Status)
}

type panicReconciler struct{}

func (panicReconciler) Reconcile(context.Context, reconcile.Event) reconcile.Outcome {
	panic("nil store")
}

type recordingReporter struct {
	mu        sync.Mutex
	responses []callback.Response
}

func (r *recordingReporter) Report(_ context.Context, _ string, resp callback.Response) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, resp)
	return nil
}

func TestHandlePanicStillReports(t *testing.T) {
	t.Parallel()

	reporter := &recordingReporter{}
	h := handler.New(panicReconciler{}, reporter)

	resp, err := h.HandleEvent(context.Background(), reconcile.Event{
		RequestType:        reconcile.RequestCreate,
		RequestID:          "r",
		ResponseURL:        "https://example.invalid/cb",
		ResourceProperties: map[string]interface{}{"Name": "svc-keys"},
	})

	require.NoError(t, err)
	require.Len(t, reporter.responses, 1)
	assert.Equal(t, reconcile.StatusFailed, resp.Status)
	assert.Equal(t, "svc-keys/failed-r", resp.PhysicalResourceID)
	assert.Equal(t, "Create failed: InternalError: panic: nil store", resp.Reason)
}

type deadlineReconciler struct {
	deadline time.Time
	ok       bool
}

func (d *deadlineReconciler) Reconcile(ctx context.Context, event reconcile.Event) reconcile.Outcome {
	d.deadline, d.ok = ctx.Deadline()
	return reconcile.Outcome{Status: reconcile.StatusSuccess, PhysicalResourceID: "x"}
}

func TestHandleReservesCallbackTime(t *testing.T) {
	t.Parallel()

	rec := &deadlineReconciler{}
	reporter := &recordingReporter{}
	h := handler.New(rec, reporter, handler.WithReserve(2*time.Second))

	parentDeadline := time.Now().Add(10 * time.Second)
	ctx, cancel := context.WithDeadline(context.Background(), parentDeadline)
	defer cancel()

	_, err := h.HandleEvent(ctx, reconcile.Event{RequestType: reconcile.RequestDelete, ResponseURL: "https://example.invalid/cb"})
	require.NoError(t, err)

	require.True(t, rec.ok)
	assert.Equal(t, parentDeadline.Add(-2*time.Second), rec.deadline)
	assert.Len(t, reporter.responses, 1)
}

func TestHandleWithoutDeadline(t *testing.T) {
	t.Parallel()

	rec := &deadlineReconciler{}
	h := handler.New(rec, &recordingReporter{}, handler.WithReserve(2*time.Second))

	_, err := h.HandleEvent(context.Background(), reconcile.Event{RequestType: reconcile.RequestDelete, ResponseURL: "https://example.invalid/cb"})
	require.NoError(t, err)
	assert.False(t, rec.ok)
}

type exporterFunc func(ctx context.Context) error

func (f exporterFunc) Export(ctx context.Context) error { return f(ctx) }

func TestHandleExportsMetricsAfterReport(t *testing.T) {
	t.Parallel()

	server := kptest.NewCallbackServer(t)
	logs := kptest.NewTestLogger(t)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	rec := reconcile.New(memory.New(), reconcile.WithLogger(logs.Logger), reconcile.WithMetrics(m))
	reporter := callback.New(config.CallbackConfig{MaxAttempts: 1, Timeout: time.Second},
		callback.WithLogger(logs.Logger),
		callback.WithMetrics(m),
	)
	h := handler.New(rec, reporter,
		handler.WithLogger(logs.Logger),
		handler.WithMetrics(m),
		handler.WithExporter(metrics.NewLogExporter(logs.Logger, reg)),
	)

	require.NoError(t, h.Handle(context.Background(), kptest.CFNEvent(t, "Create", "r-1", server.URL(), kptest.KeyPairProperties("svc-keys", ""))))

	logs.AssertContains(t, `keypair_reconcile_total{request_type="Create",status="SUCCESS"} 1`)
	logs.AssertContains(t, `keypair_callback_attempts_total{result="success"} 1`)
}

func TestHandleExportFailureKeepsOutcome(t *testing.T) {
	t.Parallel()

	logs := kptest.NewTestLogger(t)
	reporter := &recordingReporter{}
	var exports int
	h := handler.New(&deadlineReconciler{}, reporter,
		handler.WithLogger(logs.Logger),
		handler.WithExporter(exporterFunc(func(context.Context) error {
			exports++
			return errors.New("gateway unreachable")
		})),
	)

	resp, err := h.HandleEvent(context.Background(), reconcile.Event{RequestType: reconcile.RequestDelete, ResponseURL: "https://example.invalid/cb"})
	require.NoError(t, err)
	assert.Equal(t, reconcile.StatusSuccess, resp.Status)
	assert.Len(t, reporter.responses, 1)
	assert.Equal(t, 1, exports)
	logs.AssertContains(t, "Failed to export metrics: gateway unreachable")
}
