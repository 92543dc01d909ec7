package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/phishlens/phishlens/internal/features"
)

type extractResult struct {
	URL          string                `json:"url"`
	ExtractionID string                `json:"extraction_id"`
	Features     []int                 `json:"features"`
	Named        []features.NamedValue `json:"named,omitempty"`
	Fallbacks    int                   `json:"fallbacks"`
	DurationMS   int64                 `json:"duration_ms"`
}

func newExtractCmd() *cobra.Command {
	var (
		asJSON       bool
		named        bool
		manifestPath string
		timeout      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "extract URL...",
		Short: "Print the feature vector for each URL",
		Args:  cobra.MinimumNArgs(1),
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

			required := manifestPath != ""
			if manifestPath == "" {
				manifestPath = cfg.Manifest
			}
			spec, err := loadManifest(manifestPath, required, logger)
			if err != nil {
				return err
			}

			rt, err := buildRuntime(cfg, spec, logger)
			if err != nil {
				return err
			}
			rt.warmBlocklist(ctx)

			var results []extractResult
			for _, u := range args {
				runCtx, cancel := context.WithTimeout(ctx, timeout)
				run := rt.extractor.Run(runCtx, u)
				cancel()

				if !asJSON {
					if len(args) == 1 {
						fmt.Fprintln(cmd.OutOrStdout(), run.Vector.String())
					} else {
						fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", u, run.Vector.String())
					}
					continue
				}
				res := extractResult{
					URL:          u,
					ExtractionID: run.ID,
					Features:     run.Vector.Ints(),
					Fallbacks:    run.Failures,
					DurationMS:   run.Duration.Milliseconds(),
				}
				if named {
					res.Named = run.Vector.Named(spec)
				}
				results = append(results, res)
			}
			if asJSON {
				return printJSON(cmd, results)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	cmd.Flags().BoolVar(&named, "named", false, "Include slot names in JSON output")
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Feature manifest path (overrides config)")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "Deadline for each extraction")
	return cmd
}
