package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Manifest   string           `yaml:"manifest"`
	Allowlist  []string         `yaml:"allowlist"`
	Lexical    LexicalConfig    `yaml:"lexical"`
	Content    ContentConfig    `yaml:"content"`
	Domain     DomainConfig     `yaml:"domain"`
	Reputation ReputationConfig `yaml:"reputation"`
	Blocklist  BlocklistConfig  `yaml:"blocklist"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Health     HealthConfig     `yaml:"health"`
}

type ServerConfig struct {
	HTTP            ServerHTTPConfig `yaml:"http"`
	ShutdownTimeout time.Duration    `yaml:"shutdown_timeout"`
}

type ServerHTTPConfig struct {
	Addr string `yaml:"addr"`

	ReadTimeout    string `yaml:"read_timeout"`
	WriteTimeout   string `yaml:"write_timeout"`
	MaxRequestSize string `yaml:"max_request_size"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LexicalConfig configures URL-string checks.
type LexicalConfig struct {
	// ShortenerPatterns are glob patterns matched against the whole URL.
	ShortenerPatterns []string `yaml:"shortener_patterns"`
}

// ContentConfig configures the single page fetch.
type ContentConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	UserAgent    string        `yaml:"user_agent"`
	MaxBodySize  string        `yaml:"max_body_size"`
	MaxRedirects int           `yaml:"max_redirects"`
}

// DomainConfig configures DNS resolution and registry lookups.
type DomainConfig struct {
	Nameserver      string            `yaml:"nameserver"`
	DNSTimeout      time.Duration     `yaml:"dns_timeout"`
	WhoisTimeout    time.Duration     `yaml:"whois_timeout"`
	LookupTimeout   time.Duration     `yaml:"lookup_timeout"`
	WhoisServers    map[string]string `yaml:"whois_servers"`
	IANAServer      string            `yaml:"iana_server"`
	DisableReferral bool              `yaml:"disable_referral"`
	CacheSize       int               `yaml:"cache_size"`
	CacheTTL        time.Duration     `yaml:"cache_ttl"`
}

// ReputationConfig configures the third-party reputation lookups.
type ReputationConfig struct {
	TaskTimeout   time.Duration `yaml:"task_timeout"`
	FanoutTimeout time.Duration `yaml:"fanout_timeout"`
	Workers       int           `yaml:"workers"`
	// MaxInFlight bounds concurrent reputation calls across all extractions.
	MaxInFlight int64         `yaml:"max_in_flight"`
	CacheSize   int           `yaml:"cache_size"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`

	SearchURL   string  `yaml:"search_url"`
	SearchRPS   float64 `yaml:"search_rps"`
	SearchBurst int     `yaml:"search_burst"`

	PageRankURL    string `yaml:"pagerank_url"`
	PageRankAPIKey string `yaml:"pagerank_api_key"`

	SafeBrowsingURL    string `yaml:"safe_browsing_url"`
	SafeBrowsingAPIKey string `yaml:"safe_browsing_api_key"`
	ClientID           string `yaml:"client_id"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type HealthConfig struct {
	Path          string `yaml:"path"`
	ReadinessPath string `yaml:"readiness_path"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromBytes loads configuration from bytes without applying environment
// overrides. This is intended for testing where env vars should not interfere.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given, with
// environment overrides applied.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTP.Addr == "" {
		cfg.Server.HTTP.Addr = "127.0.0.1:8080"
	}
	if cfg.Server.HTTP.ReadTimeout == "" {
		cfg.Server.HTTP.ReadTimeout = "15s"
	}
	if cfg.Server.HTTP.WriteTimeout == "" {
		cfg.Server.HTTP.WriteTimeout = "60s"
	}
	if cfg.Server.HTTP.MaxRequestSize == "" {
		cfg.Server.HTTP.MaxRequestSize = "64KiB"
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Manifest == "" {
		cfg.Manifest = "feature_names.txt"
	}

	if cfg.Content.Timeout <= 0 {
		cfg.Content.Timeout = 5 * time.Second
	}
	if cfg.Content.MaxBodySize == "" {
		cfg.Content.MaxBodySize = "2MiB"
	}
	if cfg.Content.MaxRedirects <= 0 {
		cfg.Content.MaxRedirects = 10
	}

	if cfg.Domain.DNSTimeout <= 0 {
		cfg.Domain.DNSTimeout = 2 * time.Second
	}
	if cfg.Domain.WhoisTimeout <= 0 {
		cfg.Domain.WhoisTimeout = 5 * time.Second
	}
	if cfg.Domain.LookupTimeout <= 0 {
		cfg.Domain.LookupTimeout = 15 * time.Second
	}
	if cfg.Domain.CacheSize <= 0 {
		cfg.Domain.CacheSize = 512
	}
	if cfg.Domain.CacheTTL <= 0 {
		cfg.Domain.CacheTTL = 24 * time.Hour
	}

	r := &cfg.Reputation
	if r.TaskTimeout <= 0 {
		r.TaskTimeout = 2 * time.Second
	}
	if r.FanoutTimeout <= 0 {
		r.FanoutTimeout = 3 * time.Second
	}
	if r.Workers <= 0 {
		r.Workers = 5
	}
	if r.MaxInFlight <= 0 {
		r.MaxInFlight = 64
	}
	if r.CacheSize <= 0 {
		r.CacheSize = 1024
	}
	if r.CacheTTL <= 0 {
		r.CacheTTL = time.Hour
	}
	if r.SearchURL == "" {
		r.SearchURL = "https://www.google.com/search"
	}
	if r.SearchRPS <= 0 {
		r.SearchRPS = 1
	}
	if r.SearchBurst <= 0 {
		r.SearchBurst = 3
	}
	if r.PageRankURL == "" {
		r.PageRankURL = "https://openpagerank.com/api/v1.0/getPageRank"
	}
	if r.SafeBrowsingURL == "" {
		r.SafeBrowsingURL = "https://safebrowsing.googleapis.com/v4/threatMatches:find"
	}
	if r.ClientID == "" {
		r.ClientID = "phishlens"
	}

	applyBlocklistDefaults(&cfg.Blocklist)

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Health.Path == "" {
		cfg.Health.Path = "/healthz"
	}
	if cfg.Health.ReadinessPath == "" {
		cfg.Health.ReadinessPath = "/readyz"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PHISHLENS_HTTP_ADDR"); v != "" {
		cfg.Server.HTTP.Addr = v
	}
	if v := os.Getenv("PHISHLENS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PHISHLENS_MANIFEST"); v != "" {
		cfg.Manifest = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		cfg.Reputation.SafeBrowsingAPIKey = v
	}
	if v := os.Getenv("OPENPAGERANK_API_KEY"); v != "" {
		cfg.Reputation.PageRankAPIKey = v
	}
}

func validateConfig(cfg *Config) error {
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "text", "json", "auto":
	default:
		return fmt.Errorf("invalid logging.format %q", cfg.Logging.Format)
	}
	if _, err := ParseByteSize(cfg.Content.MaxBodySize); err != nil {
		return fmt.Errorf("content.max_body_size: %w", err)
	}
	if _, err := ParseByteSize(cfg.Server.HTTP.MaxRequestSize); err != nil {
		return fmt.Errorf("server.http.max_request_size: %w", err)
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"server.http.read_timeout", cfg.Server.HTTP.ReadTimeout},
		{"server.http.write_timeout", cfg.Server.HTTP.WriteTimeout},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("invalid %s %q", field.name, field.value)
		}
	}
	if cfg.Reputation.FanoutTimeout < cfg.Reputation.TaskTimeout {
		return fmt.Errorf("reputation.fanout_timeout (%s) must be >= reputation.task_timeout (%s)",
			cfg.Reputation.FanoutTimeout, cfg.Reputation.TaskTimeout)
	}
	return validateBlocklist(&cfg.Blocklist)
}
