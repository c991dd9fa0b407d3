package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/spf13/cobra"

	"github.com/systmms/keypair/internal/config"
	"github.com/systmms/keypair/internal/secretstores/awssm"
)

// doctorLookupName is looked up, never created, to prove the store answers.
const doctorLookupName = "keypair-doctor-check/public"

// CheckResult is one line of the doctor report
type CheckResult struct {
	Check      string
	Status     string
	Message    string
	Suggestion string
}

// IdentityAPI is the part of the STS client doctor uses
type IdentityAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// newIdentityClient is replaced in tests.
var newIdentityClient = func(ctx context.Context, storeCfg config.StoreConfig) (IdentityAPI, error) {
	awsCfg, err := awssm.LoadAWSConfig(ctx, storeCfg)
	if err != nil {
		return nil, err
	}
	return sts.NewFromConfig(awsCfg, func(o *sts.Options) {
		if storeCfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(storeCfg.Endpoint)
		}
	}), nil
}

func NewDoctorCommand(cfg *config.Config) *cobra.Command {
	var storeType string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, credentials and store connectivity",
		Long: `Verify that keypair can run with the current configuration.

This command checks:
- Configuration file and KEYPAIR_* overrides
- AWS caller identity (AWS stores only)
- Secret store connectivity, by looking up a reserved name`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cfg, storeType); err != nil {
				return err
			}
			store := cfg.Definition.Store
			ctx := cmd.Context()

			results := []CheckResult{{
				Check:   "config",
				Status:  "ok",
				Message: fmt.Sprintf("store %s, call timeout %s, callback reserve %s", store.Type, store.Timeout, cfg.Definition.Callback.Reserve),
			}}

			if config.IsAWS(store.Type) {
				results = append(results, checkIdentity(ctx, store))
			}
			results = append(results, checkStore(ctx, cfg))

			displayResults(cmd.OutOrStdout(), results)

			failed := 0
			for _, r := range results {
				if r.Status != "ok" {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d checks failed", failed, len(results))
			}
			cfg.Logger.Info("All %d checks passed", len(results))
			return nil
		},
	}

	cmd.Flags().StringVar(&storeType, "store", "", "Override store.type")

	return cmd
}

func checkIdentity(ctx context.Context, store config.StoreConfig) CheckResult {
	result := CheckResult{Check: "aws identity"}

	client, err := newIdentityClient(ctx, store)
	if err != nil {
		result.Status = "error"
		result.Message = err.Error()
		result.Suggestion = "Check AWS_REGION and the credential chain"
		return result
	}

	callCtx, cancel := context.WithTimeout(ctx, store.Timeout)
	defer cancel()

	identity, err := client.GetCallerIdentity(callCtx, &sts.GetCallerIdentityInput{})
	if err != nil {
		result.Status = "error"
		result.Message = err.Error()
		result.Suggestion = "Run 'aws sts get-caller-identity' with the same environment"
		return result
	}

	result.Status = "ok"
	result.Message = fmt.Sprintf("account %s as %s", aws.ToString(identity.Account), aws.ToString(identity.Arn))
	return result
}

func checkStore(ctx context.Context, cfg *config.Config) CheckResult {
	result := CheckResult{Check: "secret store"}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		result.Status = "error"
		result.Message = err.Error()
		return result
	}
	defer closeStore()

	if _, err := store.FindSecret(ctx, doctorLookupName); err != nil {
		result.Status = "error"
		result.Message = err.Error()
		result.Suggestion = "Check network access and list permissions on the store"
		return result
	}

	result.Status = "ok"
	result.Message = store.Name() + " reachable"
	return result
}

func displayResults(w io.Writer, results []CheckResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CHECK\tSTATUS\tDETAILS")
	for _, r := range results {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Check, r.Status, r.Message)
		if r.Suggestion != "" {
			_, _ = fmt.Fprintf(tw, "\t\t💡 %s\n", r.Suggestion)
		}
	}
	_ = tw.Flush()
}
