// Package cli implements the phishlens command line.
package cli

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func NewRoot(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "phishlens",
		Short:         "phishlens: URL feature extraction for phishing classifiers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env is normal; credentials may come from the environment.
			_ = godotenv.Load()
			return nil
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate("phishlens {{.Version}}\n")

	cmd.PersistentFlags().String("config", "", "Path to config YAML (default: PHISHLENS_CONFIG, ./phishlens.yaml, or ./config.yaml)")

	cmd.AddCommand(newExtractCmd())
	cmd.AddCommand(newManifestCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}
