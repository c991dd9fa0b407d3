// Package gcpsm stores key halves in Google Cloud Secret Manager.
//
// GCP secret ids only allow [A-Za-z0-9_-], so record names are encoded
// one-to-one: "/" becomes "__" and "_" or any other disallowed byte becomes
// "_" followed by two hex digits. The original name and description are
// kept as annotations, since GCP secrets have no description field; a
// secret whose name annotation differs from the requested name is treated
// as absent.
package gcpsm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/systmms/keypair/internal/config"
	dserrors "github.com/systmms/keypair/internal/errors"
	"github.com/systmms/keypair/pkg/secretstore"
)

// StoreName identifies this backend in errors and metrics.
const StoreName = "gcp.secretmanager"

const (
	annotationName        = "keypair.systmms.io/name"
	annotationDescription = "keypair.systmms.io/description"
)

// ClientAPI is the subset of the Secret Manager client used by Store.
type ClientAPI interface {
	CreateSecret(ctx context.Context, req *secretmanagerpb.CreateSecretRequest, opts ...gax.CallOption) (*secretmanagerpb.Secret, error)
	AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.SecretVersion, error)
	GetSecret(ctx context.Context, req *secretmanagerpb.GetSecretRequest, opts ...gax.CallOption) (*secretmanagerpb.Secret, error)
	DeleteSecret(ctx context.Context, req *secretmanagerpb.DeleteSecretRequest, opts ...gax.CallOption) error
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
}

// Store implements secretstore.Store on Google Cloud Secret Manager
type Store struct {
	client    ClientAPI
	projectID string
	closer    func() error
}

// Option is a functional option for configuring the store
type Option func(*Store)

// WithClient sets a custom Secret Manager client (for testing)
func WithClient(client ClientAPI) Option {
	return func(s *Store) {
		s.client = client
	}
}

// New creates a store for cfg.ProjectID
func New(ctx context.Context, cfg config.StoreConfig, opts ...Option) (*Store, error) {
	if cfg.ProjectID == "" {
		return nil, dserrors.ConfigError{
			Field:      "store.project_id",
			Message:    "project_id is required for GCP Secret Manager",
			Suggestion: "Set store.project_id or GOOGLE_CLOUD_PROJECT",
		}
	}

	s := &Store{projectID: cfg.ProjectID}
	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		var clientOptions []option.ClientOption
		if cfg.CredentialsFile != "" {
			path := cfg.CredentialsFile
			if strings.HasPrefix(path, "~/") {
				home, err := os.UserHomeDir()
				if err != nil {
					return nil, fmt.Errorf("failed to get home directory: %w", err)
				}
				path = filepath.Join(home, path[2:])
			}
			clientOptions = append(clientOptions, option.WithCredentialsFile(path))
		}

		client, err := secretmanager.NewClient(ctx, clientOptions...)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCP Secret Manager client: %w", err)
		}
		s.client = client
		s.closer = client.Close
	}

	return s, nil
}

// Name returns the backend name
func (s *Store) Name() string {
	return StoreName
}

// Close releases the gRPC connection of a client created by New
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// SecretID encodes a record name as a GCP secret id. Distinct names
// always yield distinct ids.
func SecretID(name string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '/':
			b.WriteString("__")
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0F])
		}
	}
	return b.String()
}

func (s *Store) parent() string {
	return "projects/" + s.projectID
}

func (s *Store) resourceName(name string) string {
	return s.parent() + "/secrets/" + SecretID(name)
}

// CreateSecret creates the secret and its first version. It returns the
// secret's resource name.
func (s *Store) CreateSecret(ctx context.Context, secret secretstore.Secret) (string, error) {
	replication := &secretmanagerpb.Replication{
		Replication: &secretmanagerpb.Replication_Automatic_{
			Automatic: &secretmanagerpb.Replication_Automatic{},
		},
	}
	if len(secret.ReplicaRegions) > 0 {
		replicas := make([]*secretmanagerpb.Replication_UserManaged_Replica, 0, len(secret.ReplicaRegions))
		for _, region := range secret.ReplicaRegions {
			replicas = append(replicas, &secretmanagerpb.Replication_UserManaged_Replica{Location: region})
		}
		replication = &secretmanagerpb.Replication{
			Replication: &secretmanagerpb.Replication_UserManaged_{
				UserManaged: &secretmanagerpb.Replication_UserManaged{Replicas: replicas},
			},
		}
	}

	created, err := s.client.CreateSecret(ctx, &secretmanagerpb.CreateSecretRequest{
		Parent:   s.parent(),
		SecretId: SecretID(secret.Name),
		Secret: &secretmanagerpb.Secret{
			Replication: replication,
			Labels:      labels(secret.Tags),
			Annotations: map[string]string{
				annotationName:        secret.Name,
				annotationDescription: secret.Description,
			},
		},
	})
	if err != nil {
		return "", s.handleError(err, "CreateSecret", secret.Name)
	}

	_, err = s.client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent:  created.GetName(),
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(secret.Value)},
	})
	if err != nil {
		// A secret without a version would look created on retry; remove it.
		versionErr := s.handleError(err, "AddSecretVersion", secret.Name)
		if delErr := s.client.DeleteSecret(ctx, &secretmanagerpb.DeleteSecretRequest{Name: created.GetName()}); delErr != nil {
			return "", errors.Join(versionErr, fmt.Errorf("versionless secret %s left behind: %w", created.GetName(), delErr))
		}
		return "", versionErr
	}

	return created.GetName(), nil
}

// FindSecret reports whether the secret exists
func (s *Store) FindSecret(ctx context.Context, name string) (bool, error) {
	_, found, err := s.get(ctx, name)
	return found, err
}

// get fetches the secret for name. A secret carrying another record's
// name annotation is reported as absent.
func (s *Store) get(ctx context.Context, name string) (*secretmanagerpb.Secret, bool, error) {
	secret, err := s.client.GetSecret(ctx, &secretmanagerpb.GetSecretRequest{Name: s.resourceName(name)})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, false, nil
		}
		return nil, false, s.handleError(err, "GetSecret", name)
	}
	if owner, ok := secret.GetAnnotations()[annotationName]; ok && owner != name {
		return nil, false, nil
	}
	return secret, true, nil
}

// DeleteSecret deletes the secret and all its versions. GCP has no
// recovery window, so this is always immediate.
func (s *Store) DeleteSecret(ctx context.Context, name string) (string, error) {
	found, err := s.FindSecret(ctx, name)
	if err != nil || !found {
		return "", err
	}

	resource := s.resourceName(name)
	if err := s.client.DeleteSecret(ctx, &secretmanagerpb.DeleteSecretRequest{Name: resource}); err != nil {
		if status.Code(err) == codes.NotFound {
			return "", nil
		}
		return "", s.handleError(err, "DeleteSecret", name)
	}
	return resource, nil
}

// DescribeSecret returns the secret's resource name, description and
// latest value
func (s *Store) DescribeSecret(ctx context.Context, name string) (secretstore.Record, error) {
	resource := s.resourceName(name)
	secret, found, err := s.get(ctx, name)
	if err != nil {
		return secretstore.Record{}, err
	}
	if !found {
		return secretstore.Record{}, secretstore.NotFoundError{Store: StoreName, Name: name}
	}

	version, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: resource + "/versions/latest",
	})
	if err != nil {
		return secretstore.Record{}, s.handleError(err, "AccessSecretVersion", name)
	}

	return secretstore.Record{
		Name:        name,
		ID:          secret.GetName(),
		Description: secret.GetAnnotations()[annotationDescription],
		Value:       string(version.GetPayload().GetData()),
	}, nil
}

func (s *Store) handleError(err error, op, name string) error {
	switch status.Code(err) {
	case codes.AlreadyExists:
		return secretstore.ConflictError{Store: StoreName, Name: name, Err: err}
	case codes.NotFound:
		return secretstore.NotFoundError{Store: StoreName, Name: name}
	default:
		return secretstore.UnavailableError{Store: StoreName, Op: op, Name: name, Err: err}
	}
}

// labels lowercases tag keys and values and drops anything GCP would
// reject rather than failing the create.
func labels(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		k, v = labelValue(k), labelValue(v)
		if k == "" || k[0] < 'a' || k[0] > 'z' {
			continue
		}
		out[k] = v
	}
	return out
}

func labelValue(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	for i := 0; i < len(s) && b.Len() < 63; i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
