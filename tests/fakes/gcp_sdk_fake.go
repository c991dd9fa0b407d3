package fakes

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// FakeGCPSecretManagerClient is an in-memory stand-in for the GCP Secret
// Manager client, keyed by full resource name (projects/X/secrets/Y).
type FakeGCPSecretManagerClient struct {
	mu sync.Mutex

	// Secrets maps secret resource names to their metadata
	Secrets map[string]*secretmanagerpb.Secret
	// Payloads maps secret resource names to their latest version payload
	Payloads map[string][]byte
	// Errors maps "Method:resource" (or "Method:*") to errors to return
	Errors map[string]error
	// Calls records "Method:resource" for every call, in order
	Calls []string
}

// NewFakeGCPSecretManagerClient creates a new fake GCP Secret Manager client
func NewFakeGCPSecretManagerClient() *FakeGCPSecretManagerClient {
	return &FakeGCPSecretManagerClient{
		Secrets:  make(map[string]*secretmanagerpb.Secret),
		Payloads: make(map[string][]byte),
		Errors:   make(map[string]error),
	}
}

// AddError configures the fake to fail method for resource ("*" for any)
func (f *FakeGCPSecretManagerClient) AddError(method, resource string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[method+":"+resource] = err
}

// Has reports whether the resource exists
func (f *FakeGCPSecretManagerClient) Has(resource string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Secrets[resource]
	return ok
}

func (f *FakeGCPSecretManagerClient) record(method, resource string) error {
	f.Calls = append(f.Calls, method+":"+resource)
	if err, ok := f.Errors[method+":"+resource]; ok {
		return err
	}
	if err, ok := f.Errors[method+":*"]; ok {
		return err
	}
	return nil
}

// CreateSecret mocks the CreateSecret RPC
func (f *FakeGCPSecretManagerClient) CreateSecret(ctx context.Context, req *secretmanagerpb.CreateSecretRequest, opts ...gax.CallOption) (*secretmanagerpb.Secret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	resource := fmt.Sprintf("%s/secrets/%s", req.GetParent(), req.GetSecretId())
	if err := f.record("CreateSecret", resource); err != nil {
		return nil, err
	}
	if _, exists := f.Secrets[resource]; exists {
		return nil, status.Errorf(codes.AlreadyExists, "Secret [%s] already exists.", resource)
	}

	secret := &secretmanagerpb.Secret{
		Name:        resource,
		Replication: req.GetSecret().GetReplication(),
		Labels:      req.GetSecret().GetLabels(),
		Annotations: req.GetSecret().GetAnnotations(),
		CreateTime:  timestamppb.Now(),
	}
	f.Secrets[resource] = secret
	return secret, nil
}

// AddSecretVersion mocks the AddSecretVersion RPC
func (f *FakeGCPSecretManagerClient) AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.SecretVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	resource := req.GetParent()
	if err := f.record("AddSecretVersion", resource); err != nil {
		return nil, err
	}
	if _, exists := f.Secrets[resource]; !exists {
		return nil, status.Errorf(codes.NotFound, "Secret [%s] not found.", resource)
	}

	f.Payloads[resource] = append([]byte(nil), req.GetPayload().GetData()...)
	return &secretmanagerpb.SecretVersion{
		Name:       resource + "/versions/1",
		CreateTime: timestamppb.Now(),
		State:      secretmanagerpb.SecretVersion_ENABLED,
	}, nil
}

// GetSecret mocks the GetSecret RPC
func (f *FakeGCPSecretManagerClient) GetSecret(ctx context.Context, req *secretmanagerpb.GetSecretRequest, opts ...gax.CallOption) (*secretmanagerpb.Secret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("GetSecret", req.GetName()); err != nil {
		return nil, err
	}
	secret, exists := f.Secrets[req.GetName()]
	if !exists {
		return nil, status.Errorf(codes.NotFound, "Secret [%s] not found.", req.GetName())
	}
	return secret, nil
}

// DeleteSecret mocks the DeleteSecret RPC
func (f *FakeGCPSecretManagerClient) DeleteSecret(ctx context.Context, req *secretmanagerpb.DeleteSecretRequest, opts ...gax.CallOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("DeleteSecret", req.GetName()); err != nil {
		return err
	}
	if _, exists := f.Secrets[req.GetName()]; !exists {
		return status.Errorf(codes.NotFound, "Secret [%s] not found.", req.GetName())
	}
	delete(f.Secrets, req.GetName())
	delete(f.Payloads, req.GetName())
	return nil
}

// AccessSecretVersion mocks the AccessSecretVersion RPC. Only "latest"
// is tracked.
func (f *FakeGCPSecretManagerClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("AccessSecretVersion", req.GetName()); err != nil {
		return nil, err
	}
	resource := strings.TrimSuffix(req.GetName(), "/versions/latest")
	payload, exists := f.Payloads[resource]
	if !exists {
		return nil, status.Errorf(codes.NotFound, "Secret Version [%s] not found.", req.GetName())
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    resource + "/versions/1",
		Payload: &secretmanagerpb.SecretPayload{Data: payload},
	}, nil
}
