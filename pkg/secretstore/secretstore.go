// Package secretstore defines the contract between the key-pair reconciler
// and the external secret store that holds the generated key halves.
//
// # Naming
//
// Records are addressed by plain names such as "svc-keys/public". A store
// that cannot hold "/" in its identifiers encodes names internally but must
// accept and report them in this form.
//
// # Semantics
//
// The reconciler has no transactions and runs under at-least-once delivery,
// so implementations must honour these rules exactly:
//
//   - CreateSecret never overwrites. A name collision returns ConflictError.
//   - FindSecret matches the exact name, never a prefix.
//   - DeleteSecret removes immediately with no recovery window, and returns
//     an empty identifier with a nil error when the record is absent.
//   - Availability or transport failures return UnavailableError.
//
// # Security Considerations
//
// Implementations must never log Secret.Value or Record.Value, and must
// honour context cancellation on every call.
package secretstore

import (
	"context"
	"errors"
	"fmt"
)

// Store is implemented by every secret store backend.
type Store interface {
	// Name identifies the backend in logs and metrics, e.g. "aws.secretsmanager".
	Name() string

	// CreateSecret stores a new record and returns its store identifier
	// (an ARN for AWS, a resource name for GCP).
	CreateSecret(ctx context.Context, secret Secret) (string, error)

	// FindSecret reports whether a record with exactly this name exists.
	FindSecret(ctx context.Context, name string) (bool, error)

	// DeleteSecret force-deletes the record if present and returns the
	// identifier it had. Absent records yield ("", nil).
	DeleteSecret(ctx context.Context, name string) (string, error)

	// DescribeSecret returns the current record, or NotFoundError.
	DescribeSecret(ctx context.Context, name string) (Record, error)
}

// Secret is the input to CreateSecret.
type Secret struct {
	Name        string
	Description string
	Value       string

	// ReplicaRegions is passed straight to the store's replication
	// setting. Backends without regional replicas ignore it.
	ReplicaRegions []string

	// Tags are attached where the backend supports labels.
	Tags map[string]string
}

// Record is a stored secret as read back from the store.
type Record struct {
	Name        string
	ID          string
	Description string
	Value       string
}

// ConflictError is returned when CreateSecret hits an existing name.
type ConflictError struct {
	Store string
	Name  string
	Err   error
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s: secret %q already exists", e.Store, e.Name)
}

func (e ConflictError) Unwrap() error {
	return e.Err
}

// NotFoundError is returned by DescribeSecret for a missing record.
type NotFoundError struct {
	Store string
	Name  string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s: secret %q not found", e.Store, e.Name)
}

// UnavailableError wraps transport, throttling, auth and other store
// failures that abort the current step.
type UnavailableError struct {
	Store string
	Op    string
	Name  string
	Err   error
}

func (e UnavailableError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s: %s %q: %v", e.Store, e.Op, e.Name, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Store, e.Op, e.Err)
}

func (e UnavailableError) Unwrap() error {
	return e.Err
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var conflict ConflictError
	return errors.As(err, &conflict)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var notFound NotFoundError
	return errors.As(err, &notFound)
}

// IsUnavailable reports whether err is (or wraps) an UnavailableError.
func IsUnavailable(err error) bool {
	var unavailable UnavailableError
	return errors.As(err, &unavailable)
}
