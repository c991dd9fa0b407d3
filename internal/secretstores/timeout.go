package secretstores

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/systmms/keypair/pkg/secretstore"
)

// TimeoutStore bounds every call to the wrapped store. A call that runs out
// of time fails with an UnavailableError wrapping context.DeadlineExceeded.
type TimeoutStore struct {
	store   secretstore.Store
	timeout time.Duration
}

// WithTimeout wraps store. A zero or negative timeout returns store as is.
func WithTimeout(store secretstore.Store, timeout time.Duration) secretstore.Store {
	if timeout <= 0 {
		return store
	}
	return &TimeoutStore{store: store, timeout: timeout}
}

// Unwrap returns the wrapped store
func (t *TimeoutStore) Unwrap() secretstore.Store {
	return t.store
}

// Name returns the wrapped store's name
func (t *TimeoutStore) Name() string {
	return t.store.Name()
}

// Close closes the wrapped store when it holds a connection
func (t *TimeoutStore) Close() error {
	if closer, ok := t.store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (t *TimeoutStore) CreateSecret(ctx context.Context, secret secretstore.Secret) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	id, err := t.store.CreateSecret(callCtx, secret)
	return id, t.timeoutError(callCtx, err, "CreateSecret", secret.Name)
}

func (t *TimeoutStore) FindSecret(ctx context.Context, name string) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	found, err := t.store.FindSecret(callCtx, name)
	return found, t.timeoutError(callCtx, err, "FindSecret", name)
}

func (t *TimeoutStore) DeleteSecret(ctx context.Context, name string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	id, err := t.store.DeleteSecret(callCtx, name)
	return id, t.timeoutError(callCtx, err, "DeleteSecret", name)
}

func (t *TimeoutStore) DescribeSecret(ctx context.Context, name string) (secretstore.Record, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	rec, err := t.store.DescribeSecret(callCtx, name)
	return rec, t.timeoutError(callCtx, err, "DescribeSecret", name)
}

// timeoutError makes sure a deadline hit is recognisable as one even when
// the SDK hides the context error behind its own types.
func (t *TimeoutStore) timeoutError(callCtx context.Context, err error, op, name string) error {
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if !errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return err
	}
	return secretstore.UnavailableError{
		Store: t.store.Name(),
		Op:    op,
		Name:  name,
		Err:   fmt.Errorf("exceeded %s timeout: %w", t.timeout, context.DeadlineExceeded),
	}
}
