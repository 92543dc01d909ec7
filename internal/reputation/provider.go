// Package reputation collects third-party reputation signals for a URL.
package reputation

import (
	"context"

	"github.com/phishlens/phishlens/internal/features"
)

// Target is the URL being scored and its host.
type Target struct {
	URL  string
	Host string
}

// Provider computes a single reputation slot. A returned error makes the
// slot fall back; it never aborts the other providers.
type Provider interface {
	Name() string
	Check(ctx context.Context, t Target) (features.Indicator, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc struct {
	ID string
	Fn func(ctx context.Context, t Target) (features.Indicator, error)
}

func (p ProviderFunc) Name() string { return p.ID }

func (p ProviderFunc) Check(ctx context.Context, t Target) (features.Indicator, error) {
	return p.Fn(ctx, t)
}
