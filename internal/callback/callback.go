// Package callback delivers a reconciliation outcome to the orchestrator's
// presigned response URL.
//
// The orchestrator waits for exactly one response per event. Delivery is
// retried a bounded number of times on transient failures; the presigned
// URL is an object PUT, so a repeated delivery overwrites rather than
// duplicates.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"github.com/systmms/keypair/internal/config"
	dserrors "github.com/systmms/keypair/internal/errors"
	"github.com/systmms/keypair/internal/logging"
	"github.com/systmms/keypair/internal/metrics"
)

// Status values accepted by the orchestrator.
const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// maxErrorBody bounds how much of a rejected response is kept for the error.
const maxErrorBody = 512

// Response is the callback body.
type Response struct {
	Status             string                 `json:"Status"`
	Reason             string                 `json:"Reason,omitempty"`
	PhysicalResourceID string                 `json:"PhysicalResourceId"`
	StackID            string                 `json:"StackId"`
	RequestID          string                 `json:"RequestId"`
	LogicalResourceID  string                 `json:"LogicalResourceId"`
	NoEcho             bool                   `json:"NoEcho,omitempty"`
	Data               map[string]interface{} `json:"Data,omitempty"`
}

// Reporter sends responses with PUT
type Reporter struct {
	client      *http.Client
	maxAttempts int
	initialWait time.Duration
	logger      *logging.Logger
	metrics     *metrics.Metrics
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option configures a Reporter
type Option func(*Reporter)

// WithHTTPClient replaces the default client
func WithHTTPClient(client *http.Client) Option {
	return func(r *Reporter) {
		r.client = client
	}
}

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) Option {
	return func(r *Reporter) {
		r.logger = logger
	}
}

// WithMetrics records each attempt
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reporter) {
		r.metrics = m
	}
}

// WithSleep replaces the backoff wait (tests only)
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Reporter) {
		r.sleep = sleep
	}
}

// New creates a reporter from the callback configuration
func New(cfg config.CallbackConfig, opts ...Option) *Reporter {
	if cfg.Timeout == 0 {
		cfg.Timeout = config.DefaultCallbackTimeout
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = config.DefaultCallbackMaxAttempts
	}
	if cfg.InitialWait == 0 {
		cfg.InitialWait = config.DefaultCallbackInitialWait
	}

	r := &Reporter{
		client:      &http.Client{Timeout: cfg.Timeout},
		maxAttempts: cfg.MaxAttempts,
		initialWait: cfg.InitialWait,
		logger:      logging.Discard(),
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report PUTs resp to responseURL. It returns a CallbackDeliveryError once
// attempts are exhausted or the server rejects the body with a 4xx.
func (r *Reporter) Report(ctx context.Context, responseURL string, resp Response) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return dserrors.CallbackDeliveryError{Err: fmt.Errorf("failed to encode response: %w", err)}
	}

	var lastErr error
	var lastStatus int
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		status, err := r.put(ctx, responseURL, body)
		if err == nil {
			r.metrics.RecordCallbackAttempt("success")
			r.logger.Debug("Delivered %s for request %s (attempt %d, status %d)", resp.Status, resp.RequestID, attempt, status)
			return nil
		}
		lastErr, lastStatus = err, status

		if !retryable(ctx, status, err) {
			r.metrics.RecordCallbackAttempt("final")
			return dserrors.CallbackDeliveryError{StatusCode: status, Attempts: attempt, Err: err}
		}

		if attempt < r.maxAttempts {
			r.metrics.RecordCallbackAttempt("retry")
			wait := r.backoff(attempt)
			r.logger.Warn("Callback attempt %d/%d for request %s failed, retrying in %s: %v", attempt, r.maxAttempts, resp.RequestID, wait, err)
			if err := r.sleep(ctx, wait); err != nil {
				return dserrors.CallbackDeliveryError{StatusCode: lastStatus, Attempts: attempt, Err: errors.Join(lastErr, err)}
			}
		} else {
			r.metrics.RecordCallbackAttempt("final")
		}
	}

	return dserrors.CallbackDeliveryError{StatusCode: lastStatus, Attempts: r.maxAttempts, Err: lastErr}
}

// put performs one attempt and returns the response status (zero on a
// transport failure).
func (r *Reporter) put(ctx context.Context, responseURL string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, responseURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	// The presigned URL is signed without a content type.
	req.Header["Content-Type"] = []string{""}
	req.ContentLength = int64(len(body))

	resp, err := r.client.Do(req)
	if err != nil {
		// Transport errors quote the URL, and its query carries the signature.
		return 0, fmt.Errorf("request failed: %w", redactedError{err: err, secrets: []string{req.URL.RawQuery}})
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if detail = bytes.TrimSpace(detail); len(detail) > 0 {
			return resp.StatusCode, fmt.Errorf("%s", detail)
		}
		return resp.StatusCode, errors.New(http.StatusText(resp.StatusCode))
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

type redactedError struct {
	err     error
	secrets []string
}

func (e redactedError) Error() string {
	return logging.Redact(e.err.Error(), e.secrets)
}

func (e redactedError) Unwrap() error {
	return e.err
}

// retryable reports whether another attempt could succeed.
func retryable(ctx context.Context, status int, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if status != 0 {
		return status == http.StatusTooManyRequests || status >= 500
	}
	var opErr *net.OpError
	var netErr net.Error
	if errors.As(err, &opErr) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return true
	}
	return dserrors.IsRetryable(err)
}

// backoff doubles the wait each attempt and adds up to 50% jitter.
func (r *Reporter) backoff(attempt int) time.Duration {
	wait := r.initialWait << (attempt - 1)
	if wait <= 0 {
		return 0
	}
	return wait + time.Duration(rand.Int64N(int64(wait)/2+1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
