package fakes

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// FakeSecretsManagerClient is an in-memory stand-in for the AWS Secrets
// Manager client. It mimics the behaviour the key-pair store relies on:
// CreateSecret rejects existing names, the ListSecrets name filter matches
// by prefix, and DeleteSecret removes immediately when forced.
type FakeSecretsManagerClient struct {
	mu sync.Mutex

	// Secrets maps secret names to their data
	Secrets map[string]*SecretData
	// Errors maps "Operation:name" (or "Operation:*") to errors to return
	Errors map[string]error
	// PageSize limits ListSecrets pages; zero returns everything at once
	PageSize int
	// Calls records "Operation:name" for every call, in order
	Calls []string
	// LastCreateInput is the most recent CreateSecret input
	LastCreateInput *secretsmanager.CreateSecretInput
	// OmitARN makes CreateSecret return a nil ARN
	OmitARN bool

	// CreateSecretFunc allows custom behavior for CreateSecret
	CreateSecretFunc func(ctx context.Context, params *secretsmanager.CreateSecretInput) (*secretsmanager.CreateSecretOutput, error)
	// ListSecretsFunc allows custom behavior for ListSecrets
	ListSecretsFunc func(ctx context.Context, params *secretsmanager.ListSecretsInput) (*secretsmanager.ListSecretsOutput, error)
	// DeleteSecretFunc allows custom behavior for DeleteSecret
	DeleteSecretFunc func(ctx context.Context, params *secretsmanager.DeleteSecretInput) (*secretsmanager.DeleteSecretOutput, error)
}

// SecretData holds the data for a fake secret
type SecretData struct {
	ARN            string
	SecretString   string
	Description    string
	ReplicaRegions []string
	Tags           map[string]string
	CreatedDate    time.Time
	DeletedDate    *time.Time
}

// NewFakeSecretsManagerClient creates a new fake Secrets Manager client
func NewFakeSecretsManagerClient() *FakeSecretsManagerClient {
	return &FakeSecretsManagerClient{
		Secrets: make(map[string]*SecretData),
		Errors:  make(map[string]error),
	}
}

// SecretARN returns the ARN the fake assigns to name
func SecretARN(name string) string {
	return fmt.Sprintf("arn:aws:secretsmanager:us-east-1:123456789012:secret:%s-AbCdEf", name)
}

// AddSecretString adds a string secret to the fake client
func (f *FakeSecretsManagerClient) AddSecretString(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Secrets[name] = &SecretData{
		ARN:          SecretARN(name),
		SecretString: value,
		CreatedDate:  time.Now(),
	}
}

// AddError configures the fake to fail op ("CreateSecret", "ListSecrets",
// "DeleteSecret", "DescribeSecret", "GetSecretValue") for name, or for
// every name when name is "*".
func (f *FakeSecretsManagerClient) AddError(op, name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[op+":"+name] = err
}

// Has reports whether a secret with this exact name exists
func (f *FakeSecretsManagerClient) Has(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Secrets[name]
	return ok
}

// Names returns the stored secret names in sorted order
func (f *FakeSecretsManagerClient) Names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.Secrets))
	for name := range f.Secrets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CallCount returns how many times op was called
func (f *FakeSecretsManagerClient) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if strings.HasPrefix(c, op+":") {
			n++
		}
	}
	return n
}

func (f *FakeSecretsManagerClient) record(op, name string) error {
	f.Calls = append(f.Calls, op+":"+name)
	if err, ok := f.Errors[op+":"+name]; ok {
		return err
	}
	if err, ok := f.Errors[op+":*"]; ok {
		return err
	}
	return nil
}

// CreateSecret mocks the CreateSecret operation
func (f *FakeSecretsManagerClient) CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error) {
	if f.CreateSecretFunc != nil {
		return f.CreateSecretFunc(ctx, params)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.Name)
	f.LastCreateInput = params
	if err := f.record("CreateSecret", name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, exists := f.Secrets[name]; exists {
		return nil, &types.ResourceExistsException{
			Message: aws.String(fmt.Sprintf("The operation failed because the secret %s already exists.", name)),
		}
	}

	data := &SecretData{
		ARN:          SecretARN(name),
		SecretString: aws.ToString(params.SecretString),
		Description:  aws.ToString(params.Description),
		Tags:         make(map[string]string),
		CreatedDate:  time.Now(),
	}
	for _, r := range params.AddReplicaRegions {
		data.ReplicaRegions = append(data.ReplicaRegions, aws.ToString(r.Region))
	}
	for _, tag := range params.Tags {
		data.Tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	f.Secrets[name] = data

	out := &secretsmanager.CreateSecretOutput{Name: params.Name}
	if !f.OmitARN {
		out.ARN = aws.String(data.ARN)
	}
	return out, nil
}

// ListSecrets mocks the ListSecrets operation. The "name" filter is a
// prefix match, as in the real service.
func (f *FakeSecretsManagerClient) ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error) {
	if f.ListSecretsFunc != nil {
		return f.ListSecretsFunc(ctx, params)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var prefixes []string
	for _, filter := range params.Filters {
		if filter.Key == types.FilterNameStringTypeName {
			prefixes = append(prefixes, filter.Values...)
		}
	}
	if err := f.record("ListSecrets", strings.Join(prefixes, ",")); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var matched []string
	for name, data := range f.Secrets {
		if data.DeletedDate != nil {
			continue
		}
		if len(prefixes) == 0 || hasAnyPrefix(name, prefixes) {
			matched = append(matched, name)
		}
	}
	sort.Strings(matched)

	start := 0
	if tok := aws.ToString(params.NextToken); tok != "" {
		n, err := strconv.Atoi(tok)
		if err != nil {
			return nil, &types.InvalidNextTokenException{Message: aws.String("bad token")}
		}
		start = n
	}
	end := len(matched)
	if f.PageSize > 0 && start+f.PageSize < end {
		end = start + f.PageSize
	}

	out := &secretsmanager.ListSecretsOutput{}
	for _, name := range matched[start:end] {
		out.SecretList = append(out.SecretList, types.SecretListEntry{
			ARN:  aws.String(f.Secrets[name].ARN),
			Name: aws.String(name),
		})
	}
	if end < len(matched) {
		out.NextToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

// DeleteSecret mocks the DeleteSecret operation
func (f *FakeSecretsManagerClient) DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error) {
	if f.DeleteSecretFunc != nil {
		return f.DeleteSecretFunc(ctx, params)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.SecretId)
	if err := f.record("DeleteSecret", name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, exists := f.Secrets[name]
	if !exists || data.DeletedDate != nil {
		return nil, &types.ResourceNotFoundException{
			Message: aws.String(fmt.Sprintf("Secrets Manager can't find the specified secret: %s", name)),
		}
	}

	now := time.Now()
	if aws.ToBool(params.ForceDeleteWithoutRecovery) {
		delete(f.Secrets, name)
	} else {
		data.DeletedDate = &now
	}

	return &secretsmanager.DeleteSecretOutput{
		ARN:          aws.String(data.ARN),
		Name:         params.SecretId,
		DeletionDate: &now,
	}, nil
}

// DescribeSecret mocks the DescribeSecret operation
func (f *FakeSecretsManagerClient) DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.SecretId)
	if err := f.record("DescribeSecret", name); err != nil {
		return nil, err
	}

	data, exists := f.Secrets[name]
	if !exists {
		return nil, &types.ResourceNotFoundException{
			Message: aws.String(fmt.Sprintf("Secrets Manager can't find the specified secret: %s", name)),
		}
	}

	return &secretsmanager.DescribeSecretOutput{
		ARN:         aws.String(data.ARN),
		Name:        params.SecretId,
		Description: aws.String(data.Description),
		CreatedDate: &data.CreatedDate,
		DeletedDate: data.DeletedDate,
	}, nil
}

// GetSecretValue mocks the GetSecretValue operation
func (f *FakeSecretsManagerClient) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.SecretId)
	if err := f.record("GetSecretValue", name); err != nil {
		return nil, err
	}

	data, exists := f.Secrets[name]
	if !exists || data.DeletedDate != nil {
		return nil, &types.ResourceNotFoundException{
			Message: aws.String(fmt.Sprintf("Secrets Manager can't find the specified secret: %s", name)),
		}
	}

	return &secretsmanager.GetSecretValueOutput{
		ARN:          aws.String(data.ARN),
		Name:         params.SecretId,
		SecretString: aws.String(data.SecretString),
		CreatedDate:  &data.CreatedDate,
	}, nil
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
