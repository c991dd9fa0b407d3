// Package memory is an in-process secret store with the same contract as
// the cloud backends. It backs local invocations and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/systmms/keypair/pkg/secretstore"
)

// StoreName identifies this backend in errors and metrics.
const StoreName = "memory"

// Store keeps records in a map guarded by a mutex
type Store struct {
	mu       sync.Mutex
	records  map[string]secretstore.Record
	regions  map[string][]string
	tags     map[string]map[string]string
	failures map[string]error
	serial   int
}

// New returns an empty store
func New() *Store {
	return &Store{
		records:  make(map[string]secretstore.Record),
		regions:  make(map[string][]string),
		tags:     make(map[string]map[string]string),
		failures: make(map[string]error),
	}
}

// Name returns the backend name
func (s *Store) Name() string {
	return StoreName
}

// FailOn makes op ("CreateSecret", "FindSecret", "DeleteSecret",
// "DescribeSecret") return err for name. Use "*" to match every name.
func (s *Store) FailOn(op, name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op+":"+name] = err
}

// ClearFailures removes every injected failure
func (s *Store) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = make(map[string]error)
}

func (s *Store) failure(op, name string) error {
	err, ok := s.failures[op+":"+name]
	if !ok {
		err, ok = s.failures[op+":*"]
	}
	if !ok {
		return nil
	}
	return secretstore.UnavailableError{Store: StoreName, Op: op, Name: name, Err: err}
}

// CreateSecret stores a new record
func (s *Store) CreateSecret(ctx context.Context, secret secretstore.Secret) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", secretstore.UnavailableError{Store: StoreName, Op: "CreateSecret", Name: secret.Name, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure("CreateSecret", secret.Name); err != nil {
		return "", err
	}
	if _, exists := s.records[secret.Name]; exists {
		return "", secretstore.ConflictError{Store: StoreName, Name: secret.Name}
	}

	s.serial++
	id := fmt.Sprintf("memory:secret:%s-%06d", secret.Name, s.serial)
	s.records[secret.Name] = secretstore.Record{
		Name:        secret.Name,
		ID:          id,
		Description: secret.Description,
		Value:       secret.Value,
	}
	s.regions[secret.Name] = append([]string(nil), secret.ReplicaRegions...)
	tags := make(map[string]string, len(secret.Tags))
	for k, v := range secret.Tags {
		tags[k] = v
	}
	s.tags[secret.Name] = tags
	return id, nil
}

// FindSecret reports whether name exists
func (s *Store) FindSecret(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, secretstore.UnavailableError{Store: StoreName, Op: "FindSecret", Name: name, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure("FindSecret", name); err != nil {
		return false, err
	}
	_, exists := s.records[name]
	return exists, nil
}

// DeleteSecret removes name if present
func (s *Store) DeleteSecret(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", secretstore.UnavailableError{Store: StoreName, Op: "DeleteSecret", Name: name, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure("DeleteSecret", name); err != nil {
		return "", err
	}
	rec, exists := s.records[name]
	if !exists {
		return "", nil
	}
	delete(s.records, name)
	delete(s.regions, name)
	delete(s.tags, name)
	return rec.ID, nil
}

// DescribeSecret returns the record for name
func (s *Store) DescribeSecret(ctx context.Context, name string) (secretstore.Record, error) {
	if err := ctx.Err(); err != nil {
		return secretstore.Record{}, secretstore.UnavailableError{Store: StoreName, Op: "DescribeSecret", Name: name, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure("DescribeSecret", name); err != nil {
		return secretstore.Record{}, err
	}
	rec, exists := s.records[name]
	if !exists {
		return secretstore.Record{}, secretstore.NotFoundError{Store: StoreName, Name: name}
	}
	return rec, nil
}

// Names lists stored record names in sorted order
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.records))
	for name := range s.records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReplicaRegions returns the regions recorded for name
func (s *Store) ReplicaRegions(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.regions[name]...)
}

// Tags returns the tags recorded for name
func (s *Store) Tags(name string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.tags[name]))
	for k, v := range s.tags[name] {
		out[k] = v
	}
	return out
}
