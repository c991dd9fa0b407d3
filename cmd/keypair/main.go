package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/systmms/keypair/cmd/keypair/commands"
	"github.com/systmms/keypair/internal/config"
	"github.com/systmms/keypair/internal/logging"
	"github.com/systmms/keypair/internal/secure"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	err := run()
	secure.Purge()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Global flags
	var (
		configFile string
		noColor    bool
		debug      bool
	)

	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:   "keypair",
		Short: "Key pair lifecycle custom resource",
		Long: `keypair generates RSA key pairs for CloudFormation custom resources and
stores each half as a secret ({name}/public and {name}/private).`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.Path = configFile
			cfg.Logger = logging.New(debug, noColor)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (optional, KEYPAIR_* variables override it)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		commands.NewLambdaCommand(cfg),
		commands.NewInvokeCommand(cfg),
		commands.NewGenerateCommand(cfg),
		commands.NewDoctorCommand(cfg),
	)

	// The Lambda runtime starts the bootstrap binary without arguments.
	if len(os.Args) == 1 && os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		rootCmd.SetArgs([]string{"lambda", "--no-color"})
	}

	return rootCmd.Execute()
}
