package commands

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/systmms/keypair/internal/callback"
	"github.com/systmms/keypair/internal/config"
	"github.com/systmms/keypair/internal/metrics"
)

func NewLambdaCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lambda",
		Short: "Serve custom resource events from the AWS Lambda runtime",
		Long: `Start the AWS Lambda runtime loop. Each CloudFormation custom resource
event is reconciled against the configured secret store and answered with
exactly one callback to its ResponseURL.

Configuration comes from KEYPAIR_* environment variables, for example
KEYPAIR_STORE_TYPE=aws.secretsmanager and KEYPAIR_STORE_TIMEOUT=3s.

After every event the keypair_* counters are pushed to
KEYPAIR_METRICS_PUSH_GATEWAY when it is set, or logged as one summary line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cfg, ""); err != nil {
				return err
			}

			store, closeStore, err := openStore(context.Background(), cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			reg := prometheus.NewRegistry()
			m := metrics.New(reg)
			reporter := callback.New(cfg.Definition.Callback,
				callback.WithLogger(cfg.Logger),
				callback.WithMetrics(m),
			)
			h := newHandler(cfg, store, reporter, m, newExporter(cfg, reg))

			cfg.Logger.Info("Serving custom resource events with %s", store.Name())
			lambda.Start(h.Handle)
			return nil
		},
	}

	return cmd
}
