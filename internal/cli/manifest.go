package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/phishlens/phishlens/internal/features"
)

func newManifestCmd() *cobra.Command {
	var manifestPath string
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Print the feature manifest with slot indices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if manifestPath == "" {
				cfg, err := loadLocalConfig(cmd)
				if err != nil {
					return err
				}
				manifestPath = cfg.Manifest
			}
			spec, err := loadManifest(manifestPath, true, slog.New(slog.NewTextHandler(io.Discard, nil)))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, name := range spec.Names() {
				fmt.Fprintf(out, "%2d  %s\n", i, name)
			}
			if diff := spec.Diff(features.DefaultSpec()); diff != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: manifest differs from built-in order (%s)\n", diff)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Feature manifest path (overrides config)")
	return cmd
}
