package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/phishlens/phishlens/internal/api"
	"github.com/phishlens/phishlens/internal/features"
	"github.com/phishlens/phishlens/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the feature extraction HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			cfg, err := loadLocalConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Logging, cmd.ErrOrStderr())
			if err != nil {
				return exitErrorf(exitConfig, "%v", err)
			}

			// The serving boundary refuses to start without its manifest.
			spec, err := loadManifest(cfg.Manifest, true, logger)
			if err != nil {
				return err
			}
			if diff := spec.Diff(features.DefaultSpec()); diff != "" {
				logger.Warn("manifest differs from built-in feature order", "diff", diff)
			}

			rt, err := buildRuntime(cfg, spec, logger)
			if err != nil {
				return err
			}

			app := api.NewApp(cfg, spec, rt.extractor, api.Options{
				Metrics: rt.metrics,
				Caches:  rt.cacheStats,
				Ready:   rt.ready,
				Logger:  logger,
			})
			s, err := server.New(cfg, app.Router(), server.Options{
				Syncer:  rt.syncer,
				Watcher: rt.watcher,
				Logger:  logger,
			})
			if err != nil {
				return err
			}
			defer s.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "phishlens server listening on %s\n", s.Addr())
			return s.Run(ctx)
		},
	}
	return cmd
}
