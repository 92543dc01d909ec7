package config

import (
	"fmt"
	"strings"
	"time"
)

// BlocklistConfig configures the local phishing and malware blocklist that
// backs the SafeBrowsing slot alongside the remote lookup.
type BlocklistConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Feeds        []FeedEntry   `yaml:"feeds"`
	LocalLists   []string      `yaml:"local_lists"`
	Allowlist    []string      `yaml:"allowlist"`
	SyncInterval time.Duration `yaml:"sync_interval"`
	CacheDir     string        `yaml:"cache_dir"`
	// Watch re-reads local lists when they change on disk.
	Watch bool `yaml:"watch"`
}

// FeedEntry defines a single remote feed.
type FeedEntry struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	Format string `yaml:"format"` // "hostfile", "domain-list", "url-list" or "auto"
}

func applyBlocklistDefaults(cfg *BlocklistConfig) {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 6 * time.Hour
	}
	for i := range cfg.Feeds {
		if cfg.Feeds[i].Format == "" {
			cfg.Feeds[i].Format = "auto"
		}
	}
}

func validateBlocklist(cfg *BlocklistConfig) error {
	seen := make(map[string]struct{}, len(cfg.Feeds))
	for i, feed := range cfg.Feeds {
		if feed.Name == "" {
			return fmt.Errorf("blocklist.feeds[%d].name is required", i)
		}
		if _, dup := seen[feed.Name]; dup {
			return fmt.Errorf("duplicate blocklist feed name %q", feed.Name)
		}
		seen[feed.Name] = struct{}{}
		if !strings.HasPrefix(feed.URL, "http://") && !strings.HasPrefix(feed.URL, "https://") {
			return fmt.Errorf("blocklist.feeds[%d].url must be http(s), got %q", i, feed.URL)
		}
		switch strings.ToLower(feed.Format) {
		case "hostfile", "domain-list", "url-list", "auto":
		default:
			return fmt.Errorf("invalid blocklist.feeds[%d].format %q", i, feed.Format)
		}
	}
	return nil
}
