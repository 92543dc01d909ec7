package reputation

import (
	"fmt"
	"log/slog"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/phishlens/phishlens/internal/blocklist"
	"github.com/phishlens/phishlens/internal/cache"
	"github.com/phishlens/phishlens/internal/config"
)

// Options carries the collaborators FromConfig cannot build from
// configuration alone.
type Options struct {
	// Blocklist is the local feed store. Nil skips local matching.
	Blocklist *blocklist.Store
	// Cache holds Safe Browsing verdicts. Nil builds one from the config.
	Cache  *cache.Cache[Verdict]
	Logger *slog.Logger
}

// FromConfig builds the collector with the five reputation providers in slot
// order: traffic, page rank, search index, backlinks, Safe Browsing.
func FromConfig(cfg config.ReputationConfig, opts Options) (*Collector, error) {
	verdicts := opts.Cache
	if verdicts == nil {
		var err error
		verdicts, err = cache.New[Verdict](cache.Config{
			Name:       "reputation",
			MaxEntries: cfg.CacheSize,
			TTL:        cfg.CacheTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("reputation: %w", err)
		}
	}

	var limiter *rate.Limiter
	if cfg.SearchRPS > 0 {
		burst := cfg.SearchBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.SearchRPS), burst)
	}
	search := NewSearchClient(SearchConfig{
		BaseURL: cfg.SearchURL,
		Timeout: cfg.TaskTimeout,
		Limiter: limiter,
	})

	sb, err := NewSafeBrowsingProvider(SafeBrowsingConfig{
		BaseURL:   cfg.SafeBrowsingURL,
		APIKey:    cfg.SafeBrowsingAPIKey,
		ClientID:  cfg.ClientID,
		Timeout:   cfg.TaskTimeout,
		Cache:     verdicts,
		Blocklist: opts.Blocklist,
		Logger:    opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	var inFlight *semaphore.Weighted
	if cfg.MaxInFlight > 0 {
		inFlight = semaphore.NewWeighted(cfg.MaxInFlight)
	}

	return NewCollector(CollectorConfig{
		Providers: []Provider{
			NewTrafficProvider(search),
			NewPageRankProvider(PageRankConfig{
				BaseURL: cfg.PageRankURL,
				APIKey:  cfg.PageRankAPIKey,
				Timeout: cfg.TaskTimeout,
			}),
			NewIndexProvider(search),
			NewBacklinkProvider(search),
			sb,
		},
		TaskTimeout:   cfg.TaskTimeout,
		FanoutTimeout: cfg.FanoutTimeout,
		Workers:       cfg.Workers,
		InFlight:      inFlight,
		Logger:        opts.Logger,
	}), nil
}
