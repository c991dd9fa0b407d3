package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-lambda-go/cfn"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/systmms/keypair/internal/callback"
	"github.com/systmms/keypair/internal/config"
	"github.com/systmms/keypair/internal/handler"
	"github.com/systmms/keypair/internal/metrics"
	"github.com/systmms/keypair/internal/reconcile"
)

func NewInvokeCommand(cfg *config.Config) *cobra.Command {
	var (
		eventFile string
		storeType string
		printOnly bool
		showStats bool
	)

	cmd := &cobra.Command{
		Use:   "invoke",
		Short: "Run a single custom resource event locally",
		Long: `Reconcile one CloudFormation custom resource event read from a JSON file
(or stdin with --event -) and deliver the response.

With --print, or when the event has no ResponseURL, the response is written
to stdout instead of being sent. A missing RequestId is filled with a
random UUID. With --metrics, the collected series are written to stdout
in the Prometheus text format after the event.`,
		Example: `  keypair invoke --event create.json --store memory --print
  keypair invoke --event create.json --store memory --print --metrics
  keypair invoke --event delete.json --config keypair.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cfg, storeType); err != nil {
				return err
			}

			event, err := readEvent(cmd.InOrStdin(), eventFile)
			if err != nil {
				return err
			}
			if event.RequestID == "" {
				event.RequestID = uuid.NewString()
				cfg.Logger.Debug("Assigned RequestId %s", event.RequestID)
			}

			store, closeStore, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			reg := prometheus.NewRegistry()
			m := metrics.New(reg)

			var reporter handler.Reporter
			if printOnly || event.ResponseURL == "" {
				if event.ResponseURL == "" {
					event.ResponseURL = "stdout:"
				}
				reporter = printReporter{out: cmd.OutOrStdout()}
			} else {
				reporter = callback.New(cfg.Definition.Callback,
					callback.WithLogger(cfg.Logger),
					callback.WithMetrics(m),
				)
			}

			h := newHandler(cfg, store, reporter, m, newExporter(cfg, reg))
			resp, err := h.HandleEvent(cmd.Context(), reconcile.FromCFN(event))
			if showStats {
				if werr := metrics.WriteText(cmd.OutOrStdout(), reg); werr != nil {
					cfg.Logger.Warn("Failed to write metrics: %v", werr)
				}
			}
			if err != nil {
				return err
			}
			if resp.Status != reconcile.StatusSuccess {
				return fmt.Errorf("%s reported %s: %s", event.RequestType, resp.Status, resp.Reason)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&eventFile, "event", "", "Event JSON file, or - for stdin")
	cmd.Flags().StringVar(&storeType, "store", "", "Override store.type (e.g. memory)")
	cmd.Flags().BoolVar(&printOnly, "print", false, "Print the response instead of sending it")
	cmd.Flags().BoolVar(&showStats, "metrics", false, "Print the collected metrics after the response")
	_ = cmd.MarkFlagRequired("event")

	return cmd
}

func readEvent(stdin io.Reader, path string) (cfn.Event, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return cfn.Event{}, fmt.Errorf("failed to read event: %w", err)
	}

	var event cfn.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return cfn.Event{}, fmt.Errorf("failed to parse event: %w", err)
	}
	return event, nil
}

// printReporter writes the response instead of sending it
type printReporter struct {
	out io.Writer
}

func (p printReporter) Report(_ context.Context, _ string, resp callback.Response) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
