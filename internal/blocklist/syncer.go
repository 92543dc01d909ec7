package blocklist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/phishlens/phishlens/internal/config"
)

const maxFeedSize = 100 * 1024 * 1024 // 100 MB

var (
	errNotModified = errors.New("not modified")
	errTruncated   = errors.New("feed exceeds maximum size, skipping to avoid partial data")
)

// Syncer periodically downloads feeds, re-reads local lists, and updates the
// store.
type Syncer struct {
	store    *Store
	feeds    []config.FeedEntry
	locals   []string
	interval time.Duration
	client   *http.Client
	logger   *slog.Logger

	// mu serializes syncs from the ticker and the file watcher.
	mu    sync.Mutex
	etags map[string]string
	// Per-source last-known-good snapshots, keyed by feed name or "local:<path>".
	lastGood    map[string][]string
	seededCache bool
	lastSync    time.Time
}

// NewSyncer creates a new feed syncer. Pass nil for logger to disable logging.
func NewSyncer(store *Store, cfg config.BlocklistConfig, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	interval := cfg.SyncInterval
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &Syncer{
		store:    store,
		feeds:    cfg.Feeds,
		locals:   cfg.LocalLists,
		interval: interval,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
		etags:    make(map[string]string),
		lastGood: make(map[string][]string),
	}
}

// Run syncs immediately and then on every interval. It blocks until ctx is
// cancelled, persisting the store on the way out.
func (s *Syncer) Run(ctx context.Context) {
	s.Sync(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := s.store.SaveToDisk(); err != nil {
				s.logger.Warn("blocklist disk save failed on shutdown", "error", err)
			}
			return
		case <-ticker.C:
			s.Sync(ctx)
		}
	}
}

// Sync fetches all feeds and local lists once.
func (s *Syncer) Sync(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncAll(ctx, true)
}

// ReloadLocal re-reads local lists and merges them with the last-known-good
// feed data without touching the network.
func (s *Syncer) ReloadLocal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncAll(context.Background(), false)
}

// LastSync returns when the store was last updated by this syncer.
func (s *Syncer) LastSync() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync
}

// syncAll merges every source into a fresh item set. On fetch failure or 304
// Not Modified, a source's last-known-good data is reused.
func (s *Syncer) syncAll(ctx context.Context, fetchRemote bool) {
	// On first sync, seed lastGood from the disk-loaded store, but only for
	// sources that are still configured so removed feeds do not linger.
	needsPrune := false
	if !s.seededCache {
		s.seededCache = true
		configured := s.configuredKeys()
		for feed, items := range s.store.Snapshot() {
			if _, ok := configured[feed]; !ok {
				needsPrune = true
				continue
			}
			if _, exists := s.lastGood[feed]; !exists {
				s.lastGood[feed] = items
			}
		}
	}

	merged := make(map[string]Entry)
	anySucceeded := false
	hasSources := len(s.feeds) > 0 || len(s.locals) > 0
	now := time.Now()
	add := func(source string, items []string) {
		for _, item := range items {
			if _, exists := merged[item]; !exists {
				merged[item] = Entry{Feed: source, AddedAt: now}
			}
		}
	}

	for _, feed := range s.feeds {
		items := s.lastGood[feed.Name]
		if fetchRemote {
			fetched, err := s.fetchFeed(ctx, feed)
			switch {
			case errors.Is(err, errNotModified):
				s.logger.Debug("blocklist feed not modified", "feed", feed.Name)
				anySucceeded = true
			case err != nil:
				s.logger.Warn("blocklist feed fetch failed, using cached data",
					"feed", feed.Name, "url", sanitizeURL(feed.URL), "error", err)
			default:
				s.lastGood[feed.Name] = fetched
				items = fetched
				s.logger.Info("blocklist feed synced", "feed", feed.Name, "items", len(fetched))
				anySucceeded = true
			}
		}
		add(feed.Name, items)
	}

	for _, path := range s.locals {
		key := "local:" + path
		items, err := parseLocalFile(path)
		if err != nil {
			s.logger.Warn("local blocklist failed, using cached data", "path", path, "error", err)
			items = s.lastGood[key]
		} else {
			s.lastGood[key] = items
			anySucceeded = true
		}
		add(key, items)
	}

	// Skip the update only when sources exist, all of them failed, and there
	// is nothing to prune, so a disk-loaded store survives an offline start.
	if anySucceeded || !hasSources || len(merged) > 0 || needsPrune {
		s.store.Update(merged)
		s.lastSync = now
		if err := s.store.SaveToDisk(); err != nil {
			s.logger.Warn("blocklist disk save failed", "error", err)
		}
	}
}

func (s *Syncer) fetchFeed(ctx context.Context, feed config.FeedEntry) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, err
	}
	if etag, ok := s.etags[feed.Name]; ok {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, errNotModified
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	// Read one byte past the limit to tell "exactly at limit" from "truncated".
	lr := &io.LimitedReader{R: resp.Body, N: maxFeedSize + 1}
	items, err := ParserForFormat(feed.Format).Parse(lr)
	if err != nil {
		return nil, err
	}
	if lr.N == 0 {
		return nil, errTruncated
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		s.etags[feed.Name] = etag
	}
	return items, nil
}

func parseLocalFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return (&AutoParser{}).Parse(f)
}

func (s *Syncer) configuredKeys() map[string]struct{} {
	keys := make(map[string]struct{}, len(s.feeds)+len(s.locals))
	for _, feed := range s.feeds {
		keys[feed.Name] = struct{}{}
	}
	for _, path := range s.locals {
		keys["local:"+path] = struct{}{}
	}
	return keys
}

// sanitizeURL strips everything except scheme and host from a URL for safe
// logging. Feed URLs may carry tokens in their path or query.
func sanitizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	return u.Scheme + "://" + u.Host
}
