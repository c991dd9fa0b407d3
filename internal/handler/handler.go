// Package handler connects the Lambda runtime to the reconciler and the
// callback reporter. Every event gets exactly one callback.
package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/cfn"

	"github.com/systmms/keypair/internal/callback"
	dserrors "github.com/systmms/keypair/internal/errors"
	"github.com/systmms/keypair/internal/logging"
	"github.com/systmms/keypair/internal/metrics"
	"github.com/systmms/keypair/internal/reconcile"
)

// Reconciler decides the outcome of an event
type Reconciler interface {
	Reconcile(ctx context.Context, event reconcile.Event) reconcile.Outcome
}

// Reporter delivers the outcome
type Reporter interface {
	Report(ctx context.Context, responseURL string, resp callback.Response) error
}

// Handler processes one lifecycle event per call
type Handler struct {
	reconciler Reconciler
	reporter   Reporter
	logger     *logging.Logger
	metrics    *metrics.Metrics
	exporter   metrics.Exporter
	reserve    time.Duration
}

// Option configures a Handler
type Option func(*Handler)

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithMetrics records delivery failures
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithExporter ships metrics after every event
func WithExporter(e metrics.Exporter) Option {
	return func(h *Handler) {
		h.exporter = e
	}
}

// WithReserve keeps d of the invocation deadline for the callback
func WithReserve(d time.Duration) Option {
	return func(h *Handler) {
		h.reserve = d
	}
}

// New creates a Handler
func New(reconciler Reconciler, reporter Reporter, opts ...Option) *Handler {
	h := &Handler{
		reconciler: reconciler,
		reporter:   reporter,
		logger:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle is the Lambda entry point. The returned error is only the
// delivery failure, since the outcome itself has already been reported.
func (h *Handler) Handle(ctx context.Context, event cfn.Event) error {
	_, err := h.HandleEvent(ctx, reconcile.FromCFN(event))
	return err
}

// HandleEvent reconciles event and reports the outcome to its ResponseURL.
// It returns the response that was sent.
func (h *Handler) HandleEvent(ctx context.Context, event reconcile.Event) (callback.Response, error) {
	h.logger.Info("Received %s for %s (request %s)", event.RequestType, event.LogicalResourceID, event.RequestID)
	defer h.export(ctx)

	reconcileCtx, cancel := h.reconcileContext(ctx)
	outcome := h.reconcile(reconcileCtx, event)
	cancel()

	resp := callback.Response{
		Status:             outcome.Status,
		Reason:             outcome.Reason,
		PhysicalResourceID: outcome.PhysicalResourceID,
		StackID:            event.StackID,
		RequestID:          event.RequestID,
		LogicalResourceID:  event.LogicalResourceID,
		Data:               outcome.Data,
	}

	if event.ResponseURL == "" {
		err := dserrors.CallbackDeliveryError{Err: errors.New("event has no ResponseURL")}
		h.deliveryFailed(event, err)
		return resp, err
	}

	if err := h.reporter.Report(ctx, event.ResponseURL, resp); err != nil {
		h.deliveryFailed(event, err)
		return resp, err
	}

	h.logger.Info("Reported %s for %s (request %s)", resp.Status, resp.PhysicalResourceID, resp.RequestID)
	return resp, nil
}

// reconcileContext ends reconciliation early enough to leave h.reserve
// for the callback.
func (h *Handler) reconcileContext(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok || h.reserve <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, deadline.Add(-h.reserve))
}

// reconcile turns a panic into a FAILED outcome so the callback is still sent.
func (h *Handler) reconcile(ctx context.Context, event reconcile.Event) (outcome reconcile.Outcome) {
	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("panic: %v", p)
			h.logger.Error("Reconciler panicked on request %s: %v", event.RequestID, p)
			outcome = reconcile.Outcome{
				Status:             reconcile.StatusFailed,
				Reason:             dserrors.FailureReason(event.RequestType, err),
				PhysicalResourceID: event.FailedPhysicalID(),
				Err:                err,
			}
		}
	}()
	return h.reconciler.Reconcile(ctx, event)
}

func (h *Handler) export(ctx context.Context) {
	if h.exporter == nil {
		return
	}
	if err := h.exporter.Export(ctx); err != nil {
		h.logger.Warn("Failed to export metrics: %v", err)
	}
}

func (h *Handler) deliveryFailed(event reconcile.Event, err error) {
	h.metrics.RecordCallbackFailure()
	h.logger.Error("Could not deliver outcome for %s (request %s); the orchestrator will time out: %v",
		event.LogicalResourceID, event.RequestID, err)
}
