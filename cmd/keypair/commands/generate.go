package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/systmms/keypair/internal/config"
	"github.com/systmms/keypair/internal/keygen"
)

const (
	publicKeyFile  = "public.pem"
	privateKeyFile = "private.pem"
)

func NewGenerateCommand(cfg *config.Config) *cobra.Command {
	var (
		outDir string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a new key pair to local files",
		Long: `Generate a 2048-bit RSA key pair the same way the custom resource does and
write it to public.pem (0644) and private.pem (0600) in --out.

Existing files are not overwritten unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", outDir, err)
			}

			publicPath := filepath.Join(outDir, publicKeyFile)
			privatePath := filepath.Join(outDir, privateKeyFile)
			if !force {
				for _, path := range []string{publicPath, privatePath} {
					if _, err := os.Stat(path); err == nil {
						return fmt.Errorf("%s already exists (use --force to overwrite)", path)
					}
				}
			}

			material, err := keygen.New().Generate()
			if err != nil {
				return err
			}
			defer material.Destroy()

			err = material.PrivateKey.Use(func(privatePEM []byte) error {
				if err := keygen.Verify([]byte(material.PublicKey), privatePEM); err != nil {
					return err
				}
				if err := os.WriteFile(privatePath, privatePEM, 0o600); err != nil {
					return err
				}
				// WriteFile keeps the mode of a file it overwrites.
				return os.Chmod(privatePath, 0o600)
			})
			if err != nil {
				return fmt.Errorf("failed to write private key: %w", err)
			}

			if err := os.WriteFile(publicPath, []byte(material.PublicKey), 0o644); err != nil {
				return fmt.Errorf("failed to write public key: %w", err)
			}

			cfg.Logger.Info("Wrote %s and %s", publicPath, privatePath)
			fmt.Fprintf(cmd.OutOrStdout(), "fingerprint: %s\n", material.Fingerprint())
			return nil
		},
	}

	cmd.Flags().StringVar(&outDir, "out", ".", "Output directory")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing files")

	return cmd
}
