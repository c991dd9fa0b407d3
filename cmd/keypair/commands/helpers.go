package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/systmms/keypair/internal/config"
	"github.com/systmms/keypair/internal/handler"
	"github.com/systmms/keypair/internal/logging"
	"github.com/systmms/keypair/internal/metrics"
	"github.com/systmms/keypair/internal/reconcile"
	"github.com/systmms/keypair/internal/secretstores"
	"github.com/systmms/keypair/pkg/secretstore"
)

// loadConfig loads the configuration and, when storeType is set, replaces
// the configured store type before validation.
func loadConfig(cfg *config.Config, storeType string) error {
	if err := cfg.Load(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if storeType != "" {
		cfg.Definition.Store.Type = storeType
		if err := cfg.Definition.Validate(); err != nil {
			return err
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New(cfg.Definition.Debug, cfg.Definition.NoColor)
	} else if cfg.Definition.Debug || cfg.Definition.NoColor {
		cfg.Logger = cfg.Logger.WithSettings(cfg.Definition.Debug, cfg.Definition.NoColor)
	}

	store := cfg.Definition.Store
	cfg.Logger.Debug("Store %s (region %q, endpoint %q, project %q, access key %v)",
		store.Type, store.Region, store.Endpoint, store.ProjectID, logging.Secret(store.AccessKeyID))
	return nil
}

// openStore builds the configured secret store. The returned close
// function is always safe to call.
func openStore(ctx context.Context, cfg *config.Config) (secretstore.Store, func(), error) {
	registry := secretstores.NewRegistry(cfg.Logger)
	store, err := registry.CreateSecretStore(ctx, cfg.Definition.Store)
	if err != nil {
		return nil, func() {}, err
	}
	return store, func() {
		if closer, ok := store.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				cfg.Logger.Warn("Failed to close %s: %v", store.Name(), err)
			}
		}
	}, nil
}

// newExporter pushes to the configured gateway, or logs a summary when
// none is set.
func newExporter(cfg *config.Config, g prometheus.Gatherer) metrics.Exporter {
	mc := cfg.Definition.Metrics
	if mc.PushGateway == "" {
		return metrics.NewLogExporter(cfg.Logger, g)
	}
	cfg.Logger.Debug("Pushing metrics to %s as job %s", mc.PushGateway, mc.Job)
	return metrics.NewPushExporter(mc.PushGateway, mc.Job, os.Getenv("AWS_LAMBDA_LOG_STREAM_NAME"), g, mc.Timeout)
}

// newHandler wires the reconciler to reporter
func newHandler(cfg *config.Config, store secretstore.Store, reporter handler.Reporter, m *metrics.Metrics, exporter metrics.Exporter) *handler.Handler {
	rec := reconcile.New(store,
		reconcile.WithLogger(cfg.Logger),
		reconcile.WithMetrics(m),
		reconcile.WithTags(cfg.Definition.Store.Tags),
	)
	h := handler.New(rec, reporter,
		handler.WithLogger(cfg.Logger),
		handler.WithMetrics(m),
		handler.WithReserve(cfg.Definition.Callback.Reserve),
		handler.WithExporter(exporter),
	)
	return h
}
