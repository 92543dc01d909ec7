package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/phishlens/phishlens/internal/features"
)

const (
	defaultPageRankURL = "https://openpagerank.com/api/v1.0/getPageRank"
	// MinPageRank is the OpenPageRank integer score at which the slot flags.
	MinPageRank = 3
)

var errMissingKey = errors.New("api key not configured")

// PageRankConfig configures the OpenPageRank provider.
type PageRankConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type pageRankProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewPageRankProvider returns a provider that flags hosts whose OpenPageRank
// integer score is at least MinPageRank.
func NewPageRankProvider(cfg PageRankConfig) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultPageRankURL
	}
	if cfg.HTTPClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	return &pageRankProvider{baseURL: cfg.BaseURL, apiKey: cfg.APIKey, client: cfg.HTTPClient}
}

func (p *pageRankProvider) Name() string { return "pagerank" }

type pageRankResponse struct {
	StatusCode int `json:"status_code"`
	Response   []struct {
		StatusCode      int    `json:"status_code"`
		Error           string `json:"error"`
		PageRankInteger *int   `json:"page_rank_integer"`
		Domain          string `json:"domain"`
	} `json:"response"`
}

func (p *pageRankProvider) Check(ctx context.Context, t Target) (features.Indicator, error) {
	if p.apiKey == "" {
		return features.Benign, features.ConfigError("pagerank", errMissingKey)
	}
	if t.Host == "" {
		return features.Benign, features.ParseError("pagerank", fmt.Errorf("empty host"))
	}

	u := p.baseURL + "?" + url.Values{"domains[]": {t.Host}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return features.Benign, features.ConfigError("pagerank", fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("API-OPR", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return features.Benign, features.NetworkError("pagerank", fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return features.Benign, features.NetworkError("pagerank", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody)))
	}

	var body pageRankResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return features.Benign, features.ParseError("pagerank", fmt.Errorf("decode response: %w", err))
	}
	if len(body.Response) == 0 {
		return features.Benign, features.ParseError("pagerank", fmt.Errorf("empty response"))
	}
	rank := body.Response[0].PageRankInteger
	if rank == nil {
		return features.Benign, features.ParseError("pagerank", fmt.Errorf("no rank for %s", t.Host))
	}
	return features.Flag(*rank >= MinPageRank), nil
}
