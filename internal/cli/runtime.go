package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phishlens/phishlens/internal/blocklist"
	"github.com/phishlens/phishlens/internal/cache"
	"github.com/phishlens/phishlens/internal/config"
	"github.com/phishlens/phishlens/internal/content"
	"github.com/phishlens/phishlens/internal/domain"
	"github.com/phishlens/phishlens/internal/features"
	"github.com/phishlens/phishlens/internal/lexical"
	"github.com/phishlens/phishlens/internal/metrics"
	"github.com/phishlens/phishlens/internal/pipeline"
	"github.com/phishlens/phishlens/internal/reputation"
	"github.com/phishlens/phishlens/internal/whois"
)

// runtime is the process-lifetime object graph behind both extract and serve.
type runtime struct {
	extractor *pipeline.Extractor
	metrics   *metrics.Collector
	registry  *cache.Cache[domain.RegistryResult]
	verdicts  *cache.Cache[reputation.Verdict]

	store   *blocklist.Store
	syncer  *blocklist.Syncer
	watcher *blocklist.Watcher
}

func buildRuntime(cfg *config.Config, spec features.Spec, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{metrics: metrics.New()}

	lex, err := lexical.New(lexical.Config{ShortenerPatterns: cfg.Lexical.ShortenerPatterns})
	if err != nil {
		return nil, err
	}

	maxBody, err := config.ParseByteSize(cfg.Content.MaxBodySize)
	if err != nil {
		return nil, fmt.Errorf("content.max_body_size: %w", err)
	}
	fetcher := content.New(content.Config{
		Timeout:      cfg.Content.Timeout,
		UserAgent:    cfg.Content.UserAgent,
		MaxBodyBytes: maxBody,
		MaxRedirects: cfg.Content.MaxRedirects,
		Logger:       logger,
	})

	dom, err := domain.New(domain.Config{
		Resolver: domain.NewDNSResolver(domain.DNSResolverConfig{
			Nameserver: cfg.Domain.Nameserver,
			Timeout:    cfg.Domain.DNSTimeout,
		}),
		Registry: whois.New(whois.Config{
			Timeout:        cfg.Domain.WhoisTimeout,
			Servers:        cfg.Domain.WhoisServers,
			IANAServer:     cfg.Domain.IANAServer,
			FollowReferral: !cfg.Domain.DisableReferral,
			Logger:         logger,
		}),
		CacheSize:     cfg.Domain.CacheSize,
		CacheTTL:      cfg.Domain.CacheTTL,
		LookupTimeout: cfg.Domain.LookupTimeout,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	rt.registry = dom.Cache()

	if cfg.Blocklist.Enabled {
		rt.store = blocklist.NewStore(cfg.Blocklist.CacheDir, cfg.Blocklist.Allowlist)
		if err := rt.store.LoadFromDisk(); err != nil {
			logger.Warn("blocklist cache unreadable, starting empty", "error", err)
		}
		rt.syncer = blocklist.NewSyncer(rt.store, cfg.Blocklist, logger)
		if cfg.Blocklist.Watch && len(cfg.Blocklist.LocalLists) > 0 {
			rt.watcher, err = blocklist.NewWatcher(rt.syncer, blocklist.WatcherConfig{
				Paths:  cfg.Blocklist.LocalLists,
				Logger: logger,
			})
			if err != nil {
				return nil, fmt.Errorf("blocklist watcher: %w", err)
			}
		}
	}

	rt.verdicts, err = cache.New[reputation.Verdict](cache.Config{
		Name:       "reputation",
		MaxEntries: cfg.Reputation.CacheSize,
		TTL:        cfg.Reputation.CacheTTL,
	})
	if err != nil {
		return nil, err
	}
	rep, err := reputation.FromConfig(cfg.Reputation, reputation.Options{
		Blocklist: rt.store,
		Cache:     rt.verdicts,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	rt.extractor, err = pipeline.New(pipeline.Config{
		Spec:       spec,
		Lexical:    lex,
		Content:    fetcher,
		Domain:     dom,
		Reputation: rep,
		Metrics:    rt.metrics,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// warmBlocklist makes sure a one-shot run sees feed data when no cached copy
// exists on disk.
func (rt *runtime) warmBlocklist(ctx context.Context) {
	if rt.syncer != nil && rt.store.Size() == 0 {
		rt.syncer.Sync(ctx)
	}
}

func (rt *runtime) cacheStats() []cache.Stats {
	return []cache.Stats{rt.registry.Stats(), rt.verdicts.Stats()}
}

// ready reports an error until the blocklist has synced at least once.
func (rt *runtime) ready() error {
	if rt.syncer != nil && rt.syncer.LastSync().IsZero() && rt.store.Size() == 0 {
		return fmt.Errorf("blocklist not loaded")
	}
	return nil
}
