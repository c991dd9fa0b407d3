// Package reconcile turns lifecycle events into key pair secrets.
//
// A Create generates a pair and stores each half as its own secret. If the
// second half cannot be stored, the first is deleted again before FAILED is
// reported, so a failed Create never leaves a half behind. Delete removes
// both halves independently and succeeds when they are already gone.
//
// Key material never reaches the logger; only secret names, store ids and
// the public key fingerprint are logged.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	dserrors "github.com/systmms/keypair/internal/errors"
	"github.com/systmms/keypair/internal/keygen"
	"github.com/systmms/keypair/internal/logging"
	"github.com/systmms/keypair/internal/metrics"
	"github.com/systmms/keypair/pkg/secretstore"
)

// Outcome statuses.
const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// Data keys reported on success.
const (
	DataPublicKey     = "PublicKey"
	DataPublicKeyArn  = "PublicKeyArn"
	DataPrivateKeyArn = "PrivateKeyArn"
)

// DefaultCompensationTimeout bounds the rollback of a failed Create.
const DefaultCompensationTimeout = 2 * time.Second

// Generator produces key material
type Generator interface {
	Generate() (*keygen.KeyMaterial, error)
}

// Outcome is the decision for one event
type Outcome struct {
	Status             string
	Reason             string
	PhysicalResourceID string
	Data               map[string]interface{}

	// Err is the underlying failure, nil on success.
	Err error
}

// Reconciler handles one event at a time and keeps no state between them
type Reconciler struct {
	store               secretstore.Store
	generator           Generator
	logger              *logging.Logger
	metrics             *metrics.Metrics
	tags                map[string]string
	compensationTimeout time.Duration
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithGenerator replaces the RSA generator
func WithGenerator(g Generator) Option {
	return func(r *Reconciler) {
		r.generator = g
	}
}

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// WithMetrics records outcomes and compensations
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// WithTags attaches tags to every secret created
func WithTags(tags map[string]string) Option {
	return func(r *Reconciler) {
		r.tags = tags
	}
}

// WithCompensationTimeout bounds rollback after a failed Create
func WithCompensationTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		r.compensationTimeout = d
	}
}

// New creates a Reconciler over store
func New(store secretstore.Store, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:               store,
		generator:           keygen.New(),
		logger:              logging.Discard(),
		compensationTimeout: DefaultCompensationTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile applies event and returns the outcome to report. It never
// panics on bad input; every failure becomes a FAILED outcome.
func (r *Reconciler) Reconcile(ctx context.Context, event Event) Outcome {
	start := time.Now()

	var outcome Outcome
	requestType := event.RequestType
	switch event.RequestType {
	case RequestCreate:
		outcome = r.handleCreate(ctx, event)
	case RequestUpdate:
		outcome = r.handleUpdate(ctx, event)
	case RequestDelete:
		outcome = r.handleDelete(ctx, event)
	default:
		requestType = "Unknown"
		err := dserrors.ValidationError{Field: "RequestType", Message: fmt.Sprintf("unknown value %q", event.RequestType)}
		outcome = Outcome{
			Status:             StatusFailed,
			Reason:             dserrors.Truncate("Unknown request type "+event.RequestType, dserrors.MaxReasonLength),
			PhysicalResourceID: event.fallbackPhysicalID(),
			Err:                err,
		}
	}

	r.metrics.RecordReconcile(requestType, outcome.Status, time.Since(start).Seconds())

	if outcome.Status == StatusFailed {
		r.logger.Error("%s %s for request %s: %s", event.RequestType, outcome.PhysicalResourceID, event.RequestID, outcome.Reason)
	} else {
		r.logger.Info("%s %s for request %s succeeded", event.RequestType, outcome.PhysicalResourceID, event.RequestID)
	}
	return outcome
}

func (r *Reconciler) handleCreate(ctx context.Context, event Event) Outcome {
	props, err := ParseProperties(event.ResourceProperties)
	if err != nil {
		return failed(RequestCreate, event.fallbackPhysicalID(), err)
	}

	data, err := r.create(ctx, props)
	if err != nil {
		return failed(RequestCreate, event.FailedPhysicalID(), err)
	}
	return Outcome{Status: StatusSuccess, PhysicalResourceID: props.Name, Data: data}
}

// handleUpdate keeps the pair when the name is unchanged and reports the
// stored attributes again. A new name is a replacement: a fresh pair is
// created and the orchestrator deletes the old one afterwards. A complete
// pair already under the new name is adopted instead, which is what a
// rollback to the previous name finds before its cleanup Delete has run.
func (r *Reconciler) handleUpdate(ctx context.Context, event Event) Outcome {
	physicalID := event.fallbackPhysicalID()

	props, err := ParseProperties(event.ResourceProperties)
	if err != nil {
		return failed(RequestUpdate, physicalID, err)
	}

	oldName := event.PhysicalResourceID
	if old, err := ParseProperties(event.OldResourceProperties); err == nil {
		oldName = old.Name
	}

	if props.Name != oldName {
		data, err := r.describe(ctx, props)
		switch {
		case err == nil:
			r.logger.Warn("Name changed from %q to %q, adopting the existing key pair", oldName, props.Name)
		case secretstore.IsNotFound(err):
			r.logger.Info("Name changed from %q to %q, creating replacement key pair", oldName, props.Name)
			data, err = r.create(ctx, props)
		}
		if err != nil {
			return failed(RequestUpdate, physicalID, err)
		}
		return Outcome{Status: StatusSuccess, PhysicalResourceID: props.Name, Data: data}
	}

	data, err := r.describe(ctx, props)
	if err != nil {
		return failed(RequestUpdate, physicalID, err)
	}
	return Outcome{Status: StatusSuccess, PhysicalResourceID: props.Name, Data: data}
}

func (r *Reconciler) handleDelete(ctx context.Context, event Event) Outcome {
	props, err := ParseProperties(event.ResourceProperties)
	if err != nil {
		// Nothing can have been created under an invalid name. Failing here
		// would block the rollback of the Create that rejected it.
		r.logger.Warn("Delete for request %s has invalid properties, nothing to remove: %v", event.RequestID, err)
		return Outcome{Status: StatusSuccess, PhysicalResourceID: event.fallbackPhysicalID()}
	}

	physicalID := props.Name
	if event.PhysicalResourceID != "" {
		physicalID = event.PhysicalResourceID
	}
	if physicalID != props.Name {
		// The resource never owned the name, e.g. a Create that failed on a conflict.
		r.logger.Info("Physical id %s does not own %s, nothing to remove", physicalID, props.Name)
		return Outcome{Status: StatusSuccess, PhysicalResourceID: physicalID}
	}

	data, err := r.delete(ctx, props)
	if err != nil {
		return failed(RequestDelete, physicalID, err)
	}
	return Outcome{Status: StatusSuccess, PhysicalResourceID: physicalID, Data: data}
}

// create generates a pair and stores both halves, undoing the first half
// when the second fails.
func (r *Reconciler) create(ctx context.Context, props Properties) (map[string]interface{}, error) {
	material, err := r.generator.Generate()
	if err != nil {
		return nil, err
	}
	defer material.Destroy()

	r.logger.Info("Generated key pair for %s (fingerprint %s)", props.Name, material.Fingerprint())

	publicName := props.PublicSecretName()
	publicID, err := r.store.CreateSecret(ctx, secretstore.Secret{
		Name:           publicName,
		Description:    props.PublicDescription(),
		Value:          material.PublicKey,
		ReplicaRegions: props.SecretRegions,
		Tags:           r.tags,
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("Created %s (%s)", publicName, publicID)

	privateName := props.PrivateSecretName()
	var privateID string
	err = material.PrivateKey.Use(func(privatePEM []byte) error {
		var createErr error
		privateID, createErr = r.store.CreateSecret(ctx, secretstore.Secret{
			Name:           privateName,
			Description:    props.PrivateDescription(),
			Value:          string(privatePEM),
			ReplicaRegions: props.SecretRegions,
			Tags:           r.tags,
		})
		return createErr
	})
	if err != nil {
		return nil, r.compensate(ctx, err, publicName)
	}
	r.logger.Info("Created %s (%s)", privateName, privateID)

	return map[string]interface{}{
		DataPublicKey:     material.PublicKey,
		DataPublicKeyArn:  publicID,
		DataPrivateKeyArn: privateID,
	}, nil
}

// compensate deletes the secrets this invocation created and returns cause
// joined with any rollback failure. It runs on a fresh deadline so an
// expired request context does not prevent cleanup.
func (r *Reconciler) compensate(ctx context.Context, cause error, created ...string) error {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.compensationTimeout)
	defer cancel()

	errs := []error{cause}
	for _, name := range created {
		id, err := r.store.DeleteSecret(cleanupCtx, name)
		if err != nil {
			r.logger.Error("Rollback of %s failed, secret left behind: %v", name, err)
			errs = append(errs, fmt.Errorf("rollback of %s: %w", name, err))
			continue
		}
		r.metrics.RecordCompensation()
		r.logger.Warn("Rolled back %s (%s)", name, id)
	}
	return errors.Join(errs...)
}

// describe re-reads both halves for an Update that keeps the name
func (r *Reconciler) describe(ctx context.Context, props Properties) (map[string]interface{}, error) {
	public, err := r.store.DescribeSecret(ctx, props.PublicSecretName())
	if err != nil {
		return nil, err
	}
	private, err := r.store.DescribeSecret(ctx, props.PrivateSecretName())
	if err != nil {
		return nil, err
	}

	if fingerprint, err := keygen.Fingerprint([]byte(public.Value)); err == nil {
		r.logger.Info("Kept key pair %s (fingerprint %s)", props.Name, fingerprint)
	}

	return map[string]interface{}{
		DataPublicKey:     public.Value,
		DataPublicKeyArn:  public.ID,
		DataPrivateKeyArn: private.ID,
	}, nil
}

// delete removes both halves. Both are attempted even if the first fails.
func (r *Reconciler) delete(ctx context.Context, props Properties) (map[string]interface{}, error) {
	data := make(map[string]interface{})

	publicID, publicErr := r.store.DeleteSecret(ctx, props.PublicSecretName())
	if publicErr == nil && publicID != "" {
		data[DataPublicKeyArn] = publicID
		r.logger.Info("Deleted %s (%s)", props.PublicSecretName(), publicID)
	}

	privateID, privateErr := r.store.DeleteSecret(ctx, props.PrivateSecretName())
	if privateErr == nil && privateID != "" {
		data[DataPrivateKeyArn] = privateID
		r.logger.Info("Deleted %s (%s)", props.PrivateSecretName(), privateID)
	}

	if err := errors.Join(publicErr, privateErr); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		r.logger.Info("Nothing to delete for %s", props.Name)
		return nil, nil
	}
	return data, nil
}

func failed(requestType, physicalID string, err error) Outcome {
	return Outcome{
		Status:             StatusFailed,
		Reason:             dserrors.FailureReason(requestType, err),
		PhysicalResourceID: physicalID,
		Err:                err,
	}
}
