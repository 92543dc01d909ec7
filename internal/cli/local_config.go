package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/phishlens/phishlens/internal/config"
	"github.com/phishlens/phishlens/internal/features"
)

func defaultConfigPath() string {
	if v := os.Getenv("PHISHLENS_CONFIG"); v != "" {
		return v
	}
	for _, p := range []string{"phishlens.yaml", "phishlens.yml", "config.yaml", "config.yml"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// loadLocalConfig reads the config named by --config or found in the usual
// places. With no file anywhere, defaults and env overrides apply.
func loadLocalConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = defaultConfigPath()
	}
	if path == "" {
		cfg := config.Default()
		return cfg, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, exitErrorf(exitConfig, "load config %s: %v", path, err)
	}
	return cfg, nil
}

// loadManifest loads the feature manifest. When required is false a
// missing file falls back to the built-in order.
func loadManifest(path string, required bool, logger *slog.Logger) (features.Spec, error) {
	spec, err := features.LoadSpec(path)
	if err == nil {
		return spec, nil
	}
	if required {
		return features.Spec{}, exitErrorf(exitManifest, "load manifest: %v", err)
	}
	logger.Warn("manifest unavailable, using built-in feature order", "path", path, "error", err)
	return features.DefaultSpec(), nil
}

var isTTY = term.IsTerminal

// newLogger builds the process logger. Format "auto" writes text to a
// terminal and JSON everywhere else.
func newLogger(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(cfg.Format)
	if format == "auto" {
		format = "json"
		if f, ok := w.(*os.File); ok && isTTY(int(f.Fd())) {
			format = "text"
		}
	}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
