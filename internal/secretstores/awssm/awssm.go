// Package awssm stores key halves in AWS Secrets Manager.
package awssm

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/systmms/keypair/internal/config"
	"github.com/systmms/keypair/pkg/secretstore"
)

// StoreName identifies this backend in errors and metrics.
const StoreName = "aws.secretsmanager"

// ClientAPI is the subset of the Secrets Manager client used by Store.
// It allows for fakes in tests.
type ClientAPI interface {
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error)
	DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error)
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Store implements secretstore.Store on AWS Secrets Manager
type Store struct {
	client   ClientAPI
	region   string
	endpoint string
}

// Option is a functional option for configuring the store
type Option func(*Store)

// WithClient sets a custom Secrets Manager client (for testing)
func WithClient(client ClientAPI) Option {
	return func(s *Store) {
		s.client = client
	}
}

// New creates a store. Without WithClient it loads the default AWS
// configuration, honouring region, endpoint and static credentials from cfg.
func New(ctx context.Context, cfg config.StoreConfig, opts ...Option) (*Store, error) {
	s := &Store{
		region:   cfg.Region,
		endpoint: cfg.Endpoint,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		awsCfg, err := LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}

		var clientOpts []func(*secretsmanager.Options)
		if s.endpoint != "" {
			endpoint := s.endpoint
			clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
				o.BaseEndpoint = &endpoint
			})
		}
		s.client = secretsmanager.NewFromConfig(awsCfg, clientOpts...)
		s.region = awsCfg.Region
	}

	return s, nil
}

// LoadAWSConfig builds an aws.Config from the store settings. Static
// credentials are only used when both halves are present (LocalStack).
func LoadAWSConfig(ctx context.Context, cfg config.StoreConfig) (aws.Config, error) {
	var configOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		configOpts = append(configOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

// Name returns the backend name
func (s *Store) Name() string {
	return StoreName
}

// Region returns the configured region, possibly empty
func (s *Store) Region() string {
	return s.region
}

// CreateSecret creates a new secret and returns its ARN
func (s *Store) CreateSecret(ctx context.Context, secret secretstore.Secret) (string, error) {
	input := &secretsmanager.CreateSecretInput{
		Name:         aws.String(secret.Name),
		Description:  aws.String(secret.Description),
		SecretString: aws.String(secret.Value),
	}

	for _, region := range secret.ReplicaRegions {
		input.AddReplicaRegions = append(input.AddReplicaRegions, types.ReplicaRegionType{
			Region: aws.String(region),
		})
	}

	// Sorted so requests are reproducible in tests and CloudTrail.
	keys := make([]string, 0, len(secret.Tags))
	for k := range secret.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		input.Tags = append(input.Tags, types.Tag{
			Key:   aws.String(k),
			Value: aws.String(secret.Tags[k]),
		})
	}

	result, err := s.client.CreateSecret(ctx, input)
	if err != nil {
		return "", s.handleError(err, "CreateSecret", secret.Name)
	}

	arn := aws.ToString(result.ARN)
	if arn == "" {
		return "", secretstore.UnavailableError{
			Store: StoreName,
			Op:    "CreateSecret",
			Name:  secret.Name,
			Err:   errors.New("response did not include an ARN"),
		}
	}
	return arn, nil
}

// FindSecret lists secrets filtered by name and looks for an exact match.
// The name filter matches prefixes, so "svc/public" would otherwise also
// match "svc/public-key-id".
func (s *Store) FindSecret(ctx context.Context, name string) (bool, error) {
	_, found, err := s.lookup(ctx, name)
	return found, err
}

func (s *Store) lookup(ctx context.Context, name string) (types.SecretListEntry, bool, error) {
	input := &secretsmanager.ListSecretsInput{
		Filters: []types.Filter{
			{
				Key:    types.FilterNameStringTypeName,
				Values: []string{name},
			},
		},
	}

	for {
		result, err := s.client.ListSecrets(ctx, input)
		if err != nil {
			return types.SecretListEntry{}, false, s.handleError(err, "ListSecrets", name)
		}

		for _, entry := range result.SecretList {
			if aws.ToString(entry.Name) == name {
				return entry, true, nil
			}
		}

		if aws.ToString(result.NextToken) == "" {
			return types.SecretListEntry{}, false, nil
		}
		input.NextToken = result.NextToken
	}
}

// DeleteSecret force-deletes the secret without a recovery window if it
// exists. A missing secret returns an empty ARN and no error.
func (s *Store) DeleteSecret(ctx context.Context, name string) (string, error) {
	entry, found, err := s.lookup(ctx, name)
	if err != nil {
		return "", err
	}
	if !found {
		return "", nil
	}

	result, err := s.client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   aws.String(name),
		ForceDeleteWithoutRecovery: aws.Bool(true),
	})
	if err != nil {
		// Removed between the lookup and the delete by a concurrent retry.
		if isNotFoundError(err) {
			return "", nil
		}
		return "", s.handleError(err, "DeleteSecret", name)
	}

	if arn := aws.ToString(result.ARN); arn != "" {
		return arn, nil
	}
	return aws.ToString(entry.ARN), nil
}

// DescribeSecret returns the secret's ARN, description and current value
func (s *Store) DescribeSecret(ctx context.Context, name string) (secretstore.Record, error) {
	described, err := s.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return secretstore.Record{}, s.handleError(err, "DescribeSecret", name)
	}
	if described.DeletedDate != nil {
		return secretstore.Record{}, secretstore.NotFoundError{Store: StoreName, Name: name}
	}

	value, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return secretstore.Record{}, s.handleError(err, "GetSecretValue", name)
	}

	return secretstore.Record{
		Name:        name,
		ID:          aws.ToString(described.ARN),
		Description: aws.ToString(described.Description),
		Value:       aws.ToString(value.SecretString),
	}, nil
}

// handleError converts AWS errors to secret store errors
func (s *Store) handleError(err error, op, name string) error {
	var exists *types.ResourceExistsException
	if errors.As(err, &exists) {
		return secretstore.ConflictError{Store: StoreName, Name: name, Err: err}
	}
	if isNotFoundError(err) {
		return secretstore.NotFoundError{Store: StoreName, Name: name}
	}
	return secretstore.UnavailableError{Store: StoreName, Op: op, Name: name, Err: err}
}

func isNotFoundError(err error) bool {
	var resourceNotFound *types.ResourceNotFoundException
	return errors.As(err, &resourceNotFound)
}
