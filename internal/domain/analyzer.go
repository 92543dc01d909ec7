// Package domain derives network and registry features for a URL's host.
package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/phishlens/phishlens/internal/cache"
	"github.com/phishlens/phishlens/internal/content"
	"github.com/phishlens/phishlens/internal/features"
	"github.com/phishlens/phishlens/internal/whois"
)

const (
	// MaxRedirectHops is the redirect count above which a URL is flagged as
	// forwarding.
	MaxRedirectHops = 2
	// MinValidityDays is the registration period below which a domain is flagged.
	MinValidityDays = 365
	// MinAgeDays is the domain age below which a domain is flagged as new.
	MinAgeDays = 180

	defaultCacheSize     = 512
	defaultCacheTTL      = 24 * time.Hour
	defaultLookupTimeout = 15 * time.Second
)

var emailRe = regexp.MustCompile(`[\w.-]+@[\w.-]+`)

// errNoPage is the failure recorded when the content stage produced no page.
var errNoPage = errors.New("no fetched page")

// Registry looks up the registration record of a host.
type Registry interface {
	Lookup(ctx context.Context, host string) (whois.Record, error)
}

// RegistryResult is a registry lookup outcome as stored in the cache.
// Failures are cached so a broken registry is not queried again for the same
// host within the validity window.
type RegistryResult struct {
	Record whois.Record
	Err    error
}

// Config configures the analyzer.
type Config struct {
	Resolver Resolver
	Registry Registry
	// Cache stores registry results by host. When nil a cache is created from
	// CacheSize and CacheTTL.
	Cache     *cache.Cache[RegistryResult]
	CacheSize int
	CacheTTL  time.Duration
	// LookupTimeout bounds one registry lookup, including referrals.
	LookupTimeout time.Duration
	Now           func() time.Time
	Logger        *slog.Logger
}

// Analyzer computes the features.DomainSlots domain slots.
type Analyzer struct {
	resolver      Resolver
	registry      Registry
	cache         *cache.Cache[RegistryResult]
	lookupTimeout time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

// New creates an Analyzer. Resolver and Registry are required.
func New(cfg Config) (*Analyzer, error) {
	if cfg.Resolver == nil || cfg.Registry == nil {
		return nil, features.ConfigError("domain", errors.New("resolver and registry are required"))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = defaultLookupTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Cache == nil {
		if cfg.CacheSize <= 0 {
			cfg.CacheSize = defaultCacheSize
		}
		if cfg.CacheTTL <= 0 {
			cfg.CacheTTL = defaultCacheTTL
		}
		c, err := cache.New[RegistryResult](cache.Config{
			Name:       "registry",
			MaxEntries: cfg.CacheSize,
			TTL:        cfg.CacheTTL,
			Now:        cfg.Now,
		})
		if err != nil {
			return nil, features.ConfigError("domain", err)
		}
		cfg.Cache = c
	}
	return &Analyzer{
		resolver:      cfg.Resolver,
		registry:      cfg.Registry,
		cache:         cfg.Cache,
		lookupTimeout: cfg.LookupTimeout,
		now:           cfg.Now,
		logger:        cfg.Logger,
	}, nil
}

// Cache returns the registry cache.
func (a *Analyzer) Cache() *cache.Cache[RegistryResult] { return a.cache }

// Analyze returns the network group (email pattern, abnormal URL, forwarding)
// followed by the registry group (registration length, age, record
// presence). page is the content stage's fetch of rawURL; nil means the fetch
// failed and the whole network group falls back.
func (a *Analyzer) Analyze(ctx context.Context, rawURL, host string, page *content.Page) features.Signals {
	out := make(features.Signals, 0, features.DomainSlots)
	out = append(out, a.network(ctx, rawURL, host, page)...)
	out = append(out, a.registryChecks(ctx, host)...)
	return out
}

func (a *Analyzer) network(ctx context.Context, rawURL, host string, page *content.Page) features.Signals {
	if page == nil {
		return features.FailedSignals(3, features.NetworkError("domain", errNoPage))
	}
	addrs, err := a.resolver.LookupHost(ctx, host)
	if err != nil {
		a.logger.Debug("resolve failed", "host", host, "error", err)
		return features.FailedSignals(3, err)
	}

	abnormal := true
	for _, addr := range addrs {
		if strings.Contains(rawURL, addr.String()) {
			abnormal = false
			break
		}
	}
	return features.Signals{
		features.OK(features.Flag(emailRe.MatchString(rawURL))),
		features.OK(features.Flag(abnormal)),
		features.OK(features.Flag(page.RedirectHops > MaxRedirectHops)),
	}
}

func (a *Analyzer) registryChecks(ctx context.Context, host string) features.Signals {
	key := strings.ToLower(host)
	res, err := a.cache.Load(ctx, key, func(ctx context.Context) RegistryResult {
		// The flight outlives a caller that gives up, so the result that
		// lands in the cache is the registry's answer, not the cancellation.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.lookupTimeout)
		defer cancel()
		rec, err := a.registry.Lookup(ctx, key)
		return RegistryResult{Record: rec, Err: err}
	})
	if err != nil {
		a.logger.Debug("registry lookup abandoned", "host", host, "error", err)
		return features.FailedSignals(3, fmt.Errorf("domain: registry: %w", err))
	}
	if res.Err != nil {
		a.logger.Debug("registry lookup failed", "host", host, "error", res.Err)
		return features.FailedSignals(3, res.Err)
	}

	rec := res.Record
	validity, age := 0, 0
	if !rec.CreatedAt.IsZero() {
		age = days(a.now().Sub(rec.CreatedAt))
		if !rec.ExpiresAt.IsZero() {
			validity = days(rec.ExpiresAt.Sub(rec.CreatedAt))
		}
	}
	return features.Signals{
		features.OK(features.Flag(validity < MinValidityDays)),
		features.OK(features.Flag(age < MinAgeDays)),
		features.OK(features.Flag(rec.DomainName == "" && rec.Registrant == "")),
	}
}

func days(d time.Duration) int {
	return int(d.Hours() / 24)
}
