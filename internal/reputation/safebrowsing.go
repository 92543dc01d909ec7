package reputation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/phishlens/phishlens/internal/blocklist"
	"github.com/phishlens/phishlens/internal/cache"
	"github.com/phishlens/phishlens/internal/features"
)

const (
	defaultSafeBrowsingURL = "https://safebrowsing.googleapis.com/v4/threatMatches:find"
	defaultClientID        = "phishlens"
	clientVersion          = "1.0"
)

var threatTypes = []string{
	"MALWARE",
	"SOCIAL_ENGINEERING",
	"UNWANTED_SOFTWARE",
	"POTENTIALLY_HARMFUL_APPLICATION",
}

// Verdict is a cached remote blocklist answer for one URL.
type Verdict struct {
	Listed bool
	Err    error
}

// SafeBrowsingConfig configures the Safe Browsing provider.
type SafeBrowsingConfig struct {
	BaseURL  string
	APIKey   string
	ClientID string
	Timeout  time.Duration
	// Cache holds verdicts by full URL. Required.
	Cache *cache.Cache[Verdict]
	// Blocklist, when set, is consulted before the remote API; a local hit
	// flags the slot on its own.
	Blocklist  *blocklist.Store
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type safeBrowsingProvider struct {
	baseURL   string
	apiKey    string
	clientID  string
	timeout   time.Duration
	cache     *cache.Cache[Verdict]
	blocklist *blocklist.Store
	client    *http.Client
	logger    *slog.Logger
}

// NewSafeBrowsingProvider returns a provider that flags URLs listed by the
// local blocklist or the Safe Browsing v4 Lookup API.
func NewSafeBrowsingProvider(cfg SafeBrowsingConfig) (Provider, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("safebrowsing: cache is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultSafeBrowsingURL
	}
	if cfg.ClientID == "" {
		cfg.ClientID = defaultClientID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &safeBrowsingProvider{
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		clientID:  cfg.ClientID,
		timeout:   cfg.Timeout,
		cache:     cfg.Cache,
		blocklist: cfg.Blocklist,
		client:    cfg.HTTPClient,
		logger:    cfg.Logger,
	}, nil
}

func (p *safeBrowsingProvider) Name() string { return "safebrowsing" }

func (p *safeBrowsingProvider) Check(ctx context.Context, t Target) (features.Indicator, error) {
	if p.blocklist != nil {
		if entry, ok := p.blocklist.CheckURL(t.URL); ok {
			p.logger.Debug("url on local blocklist", "url", t.URL, "feed", entry.Feed, "matched", entry.Matched)
			return features.Suspicious, nil
		}
	}
	if p.apiKey == "" {
		return features.Benign, features.ConfigError("safebrowsing", errMissingKey)
	}

	v, err := p.cache.Load(ctx, t.URL, func(ctx context.Context) Verdict {
		// Detached from the caller so a slot timeout does not cache a
		// cancellation in place of the API's answer.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		listed, err := p.lookup(ctx, t.URL)
		return Verdict{Listed: listed, Err: err}
	})
	if err != nil {
		return features.Benign, fmt.Errorf("safebrowsing: %w", err)
	}
	if v.Err != nil {
		return features.Benign, v.Err
	}
	return features.Flag(v.Listed), nil
}

type sbClient struct {
	ClientID      string `json:"clientId"`
	ClientVersion string `json:"clientVersion"`
}

type sbThreatEntry struct {
	URL string `json:"url"`
}

type sbThreatInfo struct {
	ThreatTypes      []string        `json:"threatTypes"`
	PlatformTypes    []string        `json:"platformTypes"`
	ThreatEntryTypes []string        `json:"threatEntryTypes"`
	ThreatEntries    []sbThreatEntry `json:"threatEntries"`
}

type sbRequest struct {
	Client     sbClient     `json:"client"`
	ThreatInfo sbThreatInfo `json:"threatInfo"`
}

type sbResponse struct {
	Matches []struct {
		ThreatType string `json:"threatType"`
	} `json:"matches"`
}

func (p *safeBrowsingProvider) lookup(ctx context.Context, rawURL string) (bool, error) {
	body, err := json.Marshal(sbRequest{
		Client: sbClient{ClientID: p.clientID, ClientVersion: clientVersion},
		ThreatInfo: sbThreatInfo{
			ThreatTypes:      threatTypes,
			PlatformTypes:    []string{"ANY_PLATFORM"},
			ThreatEntryTypes: []string{"URL"},
			ThreatEntries:    []sbThreatEntry{{URL: rawURL}},
		},
	})
	if err != nil {
		return false, features.ParseError("safebrowsing", fmt.Errorf("marshal request: %w", err))
	}

	u := p.baseURL + "?" + url.Values{"key": {p.apiKey}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return false, features.ConfigError("safebrowsing", fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		// The request URL carries the key; report only the cause.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return false, features.NetworkError("safebrowsing", fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, features.NetworkError("safebrowsing", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	var out sbResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, features.ParseError("safebrowsing", fmt.Errorf("decode response: %w", err))
	}
	return len(out.Matches) > 0, nil
}
