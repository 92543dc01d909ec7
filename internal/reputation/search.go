package reputation

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/phishlens/phishlens/internal/features"
)

const (
	defaultSearchURL = "https://www.google.com/search"
	searchUserAgent  = "Mozilla/5.0"
	maxSearchBody    = 1 << 20

	// noResultsMarker is the phrase a results page carries when the query
	// matched nothing.
	noResultsMarker = "did not match any documents"
)

// SearchConfig configures the search-page client shared by the traffic,
// index, and backlink providers.
type SearchConfig struct {
	BaseURL string
	Timeout time.Duration
	// Limiter paces requests to the search engine. Nil disables pacing.
	Limiter    *rate.Limiter
	HTTPClient *http.Client
}

// SearchClient issues search queries and reports whether they matched.
// Identical concurrent queries share one request.
type SearchClient struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	limiter *rate.Limiter
	flight  singleflight.Group
}

// NewSearchClient creates a SearchClient.
func NewSearchClient(cfg SearchConfig) *SearchClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultSearchURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &SearchClient{
		baseURL: cfg.BaseURL,
		timeout: cfg.Timeout,
		client:  cfg.HTTPClient,
		limiter: cfg.Limiter,
	}
}

// Matches reports whether query returned any results. The shared request
// runs on its own deadline, so a caller that gives up early only abandons
// its own wait.
func (s *SearchClient) Matches(ctx context.Context, query string) (bool, error) {
	ch := s.flight.DoChan(query, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.matches(ctx, query)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return false, res.Err
		}
		return res.Val.(bool), nil
	case <-ctx.Done():
		return false, features.NetworkError("search", ctx.Err())
	}
}

func (s *SearchClient) matches(ctx context.Context, query string) (bool, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return false, features.NetworkError("search", fmt.Errorf("rate limit wait: %w", err))
		}
	}

	u := s.baseURL + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, features.ConfigError("search", fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", searchUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return false, features.NetworkError("search", fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, features.NetworkError("search", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchBody))
	if err != nil {
		return false, features.NetworkError("search", fmt.Errorf("read body: %w", err))
	}
	return !strings.Contains(string(body), noResultsMarker), nil
}

// searchProvider flags a host when a search query about it has results.
type searchProvider struct {
	name   string
	prefix string
	client *SearchClient
}

// NewTrafficProvider estimates traffic from whether the host has indexed pages.
func NewTrafficProvider(client *SearchClient) Provider {
	return &searchProvider{name: "traffic", prefix: "site:", client: client}
}

// NewIndexProvider reports search-engine index membership of the host.
func NewIndexProvider(client *SearchClient) Provider {
	return &searchProvider{name: "index", prefix: "site:", client: client}
}

// NewBacklinkProvider estimates backlinks from pages linking to the host.
func NewBacklinkProvider(client *SearchClient) Provider {
	return &searchProvider{name: "backlinks", prefix: "link:", client: client}
}

func (p *searchProvider) Name() string { return p.name }

func (p *searchProvider) Check(ctx context.Context, t Target) (features.Indicator, error) {
	if t.Host == "" {
		return features.Benign, features.ParseError(p.name, fmt.Errorf("empty host"))
	}
	ok, err := p.client.Matches(ctx, p.prefix+t.Host)
	if err != nil {
		return features.Benign, err
	}
	return features.Flag(ok), nil
}
