// Package secretstores builds the configured secret store backend.
package secretstores

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/systmms/keypair/internal/config"
	"github.com/systmms/keypair/internal/logging"
	"github.com/systmms/keypair/internal/secretstores/awssm"
	"github.com/systmms/keypair/internal/secretstores/gcpsm"
	"github.com/systmms/keypair/internal/secretstores/memory"
	"github.com/systmms/keypair/pkg/secretstore"
)

// Factory creates a store from its configuration
type Factory func(ctx context.Context, cfg config.StoreConfig) (secretstore.Store, error)

// Registry maps store.type values to factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    *logging.Logger
}

// NewRegistry creates a registry with the built-in backends
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Discard()
	}
	r := &Registry{
		factories: make(map[string]Factory),
		logger:    logger,
	}

	aws := func(ctx context.Context, cfg config.StoreConfig) (secretstore.Store, error) {
		return awssm.New(ctx, cfg)
	}
	gcp := func(ctx context.Context, cfg config.StoreConfig) (secretstore.Store, error) {
		return gcpsm.New(ctx, cfg)
	}

	r.Register(awssm.StoreName, aws)
	r.Register("aws", aws)
	r.Register(gcpsm.StoreName, gcp)
	r.Register("gcp", gcp)
	r.Register(memory.StoreName, func(context.Context, config.StoreConfig) (secretstore.Store, error) {
		return memory.New(), nil
	})

	return r
}

// Register adds or replaces the factory for storeType
func (r *Registry) Register(storeType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[storeType] = factory
}

// CreateSecretStore builds the store named by cfg.Type and bounds each of
// its calls by cfg.Timeout.
func (r *Registry) CreateSecretStore(ctx context.Context, cfg config.StoreConfig) (secretstore.Store, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown secret store type: %s", cfg.Type)
	}

	store, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s secret store: %w", cfg.Type, err)
	}

	r.logger.Debug("Secret store %s ready (call timeout %s)", store.Name(), cfg.Timeout)
	return WithTimeout(store, cfg.Timeout), nil
}

// GetSupportedTypes returns the registered store types in sorted order
func (r *Registry) GetSupportedTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for storeType := range r.factories {
		types = append(types, storeType)
	}
	sort.Strings(types)
	return types
}

// IsSupported checks if a store type is registered
func (r *Registry) IsSupported(storeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[storeType]
	return ok
}
