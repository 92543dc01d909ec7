// Package blocklist keeps a local set of known phishing and malware hosts and
// URLs, synced from remote feeds and local files.
package blocklist

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Entry records which feed listed an item and when.
type Entry struct {
	Feed    string
	AddedAt time.Time
	Matched string // set by Check: the host or URL that matched
}

// Store is a thread-safe in-memory set of blocked hosts and URLs with disk
// persistence. Keys containing "://" are URLs, everything else is a host.
type Store struct {
	mu        sync.RWMutex
	items     map[string]Entry
	allowlist map[string]struct{}
	cacheDir  string
}

// NewStore creates an empty store.
func NewStore(cacheDir string, allowlist []string) *Store {
	al := make(map[string]struct{}, len(allowlist))
	for _, d := range allowlist {
		if d = normalizeHost(d); d != "" {
			al[d] = struct{}{}
		}
	}
	return &Store{
		items:     make(map[string]Entry),
		allowlist: al,
		cacheDir:  cacheDir,
	}
}

// CheckHost returns the matching entry if host or one of its parent domains
// is listed and not allowlisted.
func (s *Store) CheckHost(host string) (Entry, bool) {
	host = normalizeHost(host)
	if host == "" {
		return Entry{}, false
	}
	if _, ok := s.allowlist[host]; ok {
		return Entry{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if entry, ok := s.items[host]; ok {
		entry.Matched = host
		return entry, true
	}

	d := host
	for {
		idx := strings.Index(d, ".")
		if idx < 0 {
			break
		}
		d = d[idx+1:]
		if !strings.Contains(d, ".") {
			break
		}
		if _, ok := s.allowlist[d]; ok {
			return Entry{}, false
		}
		if entry, ok := s.items[d]; ok {
			entry.Matched = d
			return entry, true
		}
	}
	return Entry{}, false
}

// CheckURL matches the exact URL first, then its host.
func (s *Store) CheckURL(rawURL string) (Entry, bool) {
	key, host, ok := NormalizeURL(rawURL)
	if !ok {
		return Entry{}, false
	}
	if _, allowed := s.allowlist[host]; !allowed {
		s.mu.RLock()
		entry, found := s.items[key]
		s.mu.RUnlock()
		if found {
			entry.Matched = key
			return entry, true
		}
	}
	return s.CheckHost(host)
}

// Update atomically replaces the entire item set.
func (s *Store) Update(items map[string]Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = items
}

// Size returns the number of listed hosts and URLs.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Snapshot returns the current items grouped by feed name.
func (s *Store) Snapshot() map[string][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	grouped := make(map[string][]string)
	for item, entry := range s.items {
		grouped[entry.Feed] = append(grouped[entry.Feed], item)
	}
	return grouped
}

type diskCache struct {
	Items map[string]Entry
}

const cacheFileName = "blocklist.cache"

// SaveToDisk persists the current item set to a gob-encoded file.
func (s *Store) SaveToDisk() error {
	if s.cacheDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.cacheDir, 0o755); err != nil {
		return err
	}

	s.mu.RLock()
	cache := diskCache{Items: s.items}
	s.mu.RUnlock()

	path := filepath.Join(s.cacheDir, cacheFileName)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(&cache); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	// On Windows, os.Rename fails if the destination exists.
	if runtime.GOOS == "windows" {
		os.Remove(path)
	}
	return os.Rename(tmp, path)
}

// LoadFromDisk loads a previously persisted item set. A missing file is not
// an error.
func (s *Store) LoadFromDisk() error {
	if s.cacheDir == "" {
		return nil
	}
	f, err := os.Open(filepath.Join(s.cacheDir, cacheFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	var cache diskCache
	if err := gob.NewDecoder(f).Decode(&cache); err != nil {
		return err
	}
	if cache.Items == nil {
		cache.Items = make(map[string]Entry)
	}
	s.mu.Lock()
	s.items = cache.Items
	s.mu.Unlock()
	return nil
}

func normalizeHost(h string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(h), "."))
}
