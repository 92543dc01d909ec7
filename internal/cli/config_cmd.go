package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show resolved config (after defaults and env overrides)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadLocalConfig(cmd)
			if err != nil {
				return err
			}
			redacted := *cfg
			redacted.Reputation.PageRankAPIKey = redact(cfg.Reputation.PageRankAPIKey)
			redacted.Reputation.SafeBrowsingAPIKey = redact(cfg.Reputation.SafeBrowsingAPIKey)
			if asJSON {
				return printJSON(cmd, redacted)
			}
			return printYAML(cmd, redacted)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON instead of YAML")

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadLocalConfig(cmd); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	})
	return cmd
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}
