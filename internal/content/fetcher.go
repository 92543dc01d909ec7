// Package content fetches a page once and derives features from its markup.
package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/phishlens/phishlens/internal/features"
)

const (
	defaultTimeout      = 5 * time.Second
	defaultMaxBodyBytes = 2 << 20
	defaultMaxRedirects = 10

	// DefaultUserAgent mimics a desktop browser so pages serve their normal markup.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// Config configures the fetcher.
type Config struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
	MaxRedirects int
	// Transport overrides the HTTP transport, for tests.
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// Page is the outcome of one successful fetch. It is shared with later
// pipeline stages so the target is requested only once per extraction.
type Page struct {
	RequestedURL string
	FinalURL     string
	StatusCode   int
	Body         []byte
	// RedirectHops is the number of redirects followed before the final response.
	RedirectHops int
	Duration     time.Duration
}

// Fetcher performs bounded GET requests.
type Fetcher struct {
	client    *http.Client
	userAgent string
	maxBody   int64
	logger    *slog.Logger
}

// New creates a Fetcher, filling unset fields with defaults.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaultMaxRedirects
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	maxRedirects := cfg.MaxRedirects
	return &Fetcher{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		userAgent: cfg.UserAgent,
		maxBody:   cfg.MaxBodyBytes,
		logger:    cfg.Logger,
	}
}

// Fetch issues one GET for rawURL, following redirects. Any status code is a
// successful fetch; only transport and read failures are errors.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, features.ParseError("content", fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, features.NetworkError("content", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, features.NetworkError("content", fmt.Errorf("read body: %w", err))
	}

	return &Page{
		RequestedURL: rawURL,
		FinalURL:     resp.Request.URL.String(),
		StatusCode:   resp.StatusCode,
		Body:         body,
		RedirectHops: redirectHops(resp),
		Duration:     time.Since(start),
	}, nil
}

// Collect fetches rawURL and analyzes it against host. On failure every slot
// carries the error and the returned page is nil.
func (f *Fetcher) Collect(ctx context.Context, rawURL, host string) (features.Signals, *Page) {
	page, err := f.Fetch(ctx, rawURL)
	if err != nil {
		f.logger.Debug("content fetch failed", "url", rawURL, "error", err)
		return features.FailedSignals(features.ContentSlots, err), nil
	}
	return Analyze(page, host), page
}

// redirectHops walks the chain of responses that led to resp.
func redirectHops(resp *http.Response) int {
	hops := 0
	for r := resp.Request; r != nil && r.Response != nil; r = r.Response.Request {
		hops++
	}
	return hops
}
