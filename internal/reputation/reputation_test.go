package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/phishlens/phishlens/internal/blocklist"
	"github.com/phishlens/phishlens/internal/cache"
	"github.com/phishlens/phishlens/internal/config"
	"github.com/phishlens/phishlens/internal/features"
)

var target = Target{URL: "https://shop.example.com/login", Host: "shop.example.com"}

func fixed(name string, v features.Indicator) Provider {
	return ProviderFunc{ID: name, Fn: func(context.Context, Target) (features.Indicator, error) {
		return v, nil
	}}
}

func TestCollector_PreservesProviderOrder(t *testing.T) {
	c := NewCollector(CollectorConfig{Providers: []Provider{
		fixed("a", features.Suspicious),
		fixed("b", features.Benign),
		fixed("c", features.Suspicious),
		fixed("d", features.Suspicious),
		fixed("e", features.Benign),
	}})

	got := c.Collect(context.Background(), target.URL, target.Host)
	require.Len(t, got, 5)
	assert.Equal(t, []features.Indicator{1, -1, 1, 1, -1}, got.Indicators())
	assert.Zero(t, got.Errors())
}

func TestCollector_SlowProviderTimesOut(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	slow := ProviderFunc{ID: "slow", Fn: func(context.Context, Target) (features.Indicator, error) {
		// Ignores its context on purpose.
		<-release
		return features.Suspicious, nil
	}}
	c := NewCollector(CollectorConfig{
		Providers:     []Provider{fixed("fast", features.Suspicious), slow, fixed("fast2", features.Suspicious)},
		TaskTimeout:   50 * time.Millisecond,
		FanoutTimeout: 200 * time.Millisecond,
	})

	start := time.Now()
	got := c.Collect(context.Background(), target.URL, target.Host)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 150*time.Millisecond)
	assert.Equal(t, []features.Indicator{1, -1, 1}, got.Indicators())
	require.Error(t, got[1].Err)
	assert.Equal(t, features.KindNetwork, features.KindOf(got[1].Err))
}

func TestCollector_FanoutTimeoutBoundsCollection(t *testing.T) {
	blocking := ProviderFunc{ID: "block", Fn: func(ctx context.Context, _ Target) (features.Indicator, error) {
		<-ctx.Done()
		return features.Benign, ctx.Err()
	}}
	c := NewCollector(CollectorConfig{
		Providers:     []Provider{blocking, blocking, blocking},
		TaskTimeout:   time.Second,
		FanoutTimeout: 50 * time.Millisecond,
		Workers:       1,
	})

	start := time.Now()
	got := c.Collect(context.Background(), target.URL, target.Host)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 3, got.Errors())
}

func TestCollector_PanicBecomesFailure(t *testing.T) {
	boom := ProviderFunc{ID: "boom", Fn: func(context.Context, Target) (features.Indicator, error) {
		panic("unexpected")
	}}
	c := NewCollector(CollectorConfig{Providers: []Provider{boom, fixed("ok", features.Suspicious)}})

	got := c.Collect(context.Background(), target.URL, target.Host)
	assert.Equal(t, []features.Indicator{-1, 1}, got.Indicators())
	require.Error(t, got[0].Err)
	assert.Contains(t, got[0].Err.Error(), "panic")
}

func TestCollector_ProviderErrorFallsBack(t *testing.T) {
	failing := ProviderFunc{ID: "fail", Fn: func(context.Context, Target) (features.Indicator, error) {
		return features.Suspicious, features.ParseError("fail", errors.New("garbage"))
	}}
	c := NewCollector(CollectorConfig{Providers: []Provider{failing}})

	got := c.Collect(context.Background(), target.URL, target.Host)
	assert.Equal(t, features.Benign, got[0].Indicator())
	assert.Equal(t, features.KindParse, features.KindOf(got[0].Err))
}

func TestCollector_InFlightBound(t *testing.T) {
	var cur, peak atomic.Int32
	tracked := ProviderFunc{ID: "tracked", Fn: func(context.Context, Target) (features.Indicator, error) {
		n := cur.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		cur.Add(-1)
		return features.Suspicious, nil
	}}
	c := NewCollector(CollectorConfig{
		Providers: []Provider{tracked, tracked, tracked, tracked},
		InFlight:  semaphore.NewWeighted(2),
	})

	got := c.Collect(context.Background(), target.URL, target.Host)
	assert.Zero(t, got.Errors())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestCollector_CallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewCollector(CollectorConfig{Providers: []Provider{
		ProviderFunc{ID: "ctx", Fn: func(ctx context.Context, _ Target) (features.Indicator, error) {
			<-ctx.Done()
			return features.Benign, ctx.Err()
		}},
	}})
	got := c.Collect(ctx, target.URL, target.Host)
	assert.Equal(t, 1, got.Errors())
}

func searchServer(t *testing.T, hits *atomic.Int32, handler func(q string) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, searchUserAgent, r.Header.Get("User-Agent"))
		status, body := handler(r.URL.Query().Get("q"))
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSearchProviders(t *testing.T) {
	var hits atomic.Int32
	srv := searchServer(t, &hits, func(q string) (int, string) {
		switch q {
		case "site:shop.example.com":
			return http.StatusOK, "<html>About 1,200 results</html>"
		case "link:shop.example.com":
			return http.StatusOK, "<html>Your search - link:shop.example.com - did not match any documents.</html>"
		}
		return http.StatusBadRequest, ""
	})
	client := NewSearchClient(SearchConfig{BaseURL: srv.URL})

	v, err := NewTrafficProvider(client).Check(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, features.Suspicious, v)

	v, err = NewIndexProvider(client).Check(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, features.Suspicious, v)

	v, err = NewBacklinkProvider(client).Check(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, features.Benign, v)
}

func TestSearchClient_EarlyCallerDoesNotFailSharedQuery(t *testing.T) {
	var hits atomic.Int32
	srv := searchServer(t, &hits, func(string) (int, string) {
		time.Sleep(200 * time.Millisecond)
		return http.StatusOK, "<html>About 3 results</html>"
	})
	client := NewSearchClient(SearchConfig{BaseURL: srv.URL, Timeout: 2 * time.Second})

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	type outcome struct {
		ok  bool
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		ok, err := client.Matches(short, "site:example.com")
		first <- outcome{ok, err}
	}()
	time.Sleep(10 * time.Millisecond)

	ok, err := client.Matches(context.Background(), "site:example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	a := <-first
	assert.False(t, a.ok)
	assert.Equal(t, features.KindNetwork, features.KindOf(a.err))
	assert.Equal(t, int32(1), hits.Load(), "both callers share one request")
}

func TestSearchClient_LimiterWaitOutlivesEarlyCaller(t *testing.T) {
	var hits atomic.Int32
	srv := searchServer(t, &hits, func(string) (int, string) {
		return http.StatusOK, "<html>About 3 results</html>"
	})
	limiter := rate.NewLimiter(rate.Every(100*time.Millisecond), 1)
	require.True(t, limiter.Allow())
	client := NewSearchClient(SearchConfig{BaseURL: srv.URL, Timeout: time.Second, Limiter: limiter})

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	go func() { _, _ = client.Matches(short, "link:example.com") }()
	time.Sleep(5 * time.Millisecond)

	ok, err := client.Matches(context.Background(), "link:example.com")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(1), hits.Load())
}

func TestSearchProvider_NonOKIsNetworkFailure(t *testing.T) {
	var hits atomic.Int32
	srv := searchServer(t, &hits, func(string) (int, string) {
		return http.StatusTooManyRequests, "slow down"
	})
	p := NewTrafficProvider(NewSearchClient(SearchConfig{BaseURL: srv.URL}))

	_, err := p.Check(context.Background(), target)
	require.Error(t, err)
	assert.Equal(t, features.KindNetwork, features.KindOf(err))
}

func TestSearchProvider_EmptyHost(t *testing.T) {
	p := NewIndexProvider(NewSearchClient(SearchConfig{BaseURL: "http://127.0.0.1:1"}))
	_, err := p.Check(context.Background(), Target{URL: "::"})
	assert.Equal(t, features.KindParse, features.KindOf(err))
}

func pageRankServer(t *testing.T, rank *int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("API-OPR"))
		assert.Equal(t, "shop.example.com", r.URL.Query().Get("domains[]"))
		entry := map[string]any{"status_code": 200, "domain": "shop.example.com"}
		if rank != nil {
			entry["page_rank_integer"] = *rank
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status_code": 200,
			"response":    []any{entry},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPageRankProvider(t *testing.T) {
	tests := []struct {
		name     string
		rank     *int
		want     features.Indicator
		wantKind features.ErrorKind
	}{
		{name: "high rank", rank: intPtr(5), want: features.Suspicious},
		{name: "threshold", rank: intPtr(MinPageRank), want: features.Suspicious},
		{name: "low rank", rank: intPtr(2), want: features.Benign},
		{name: "missing rank", rank: nil, want: features.Benign, wantKind: features.KindParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := pageRankServer(t, tt.rank)
			p := NewPageRankProvider(PageRankConfig{BaseURL: srv.URL, APIKey: "test-key"})

			v, err := p.Check(context.Background(), target)
			assert.Equal(t, tt.want, v)
			if tt.wantKind != "" {
				assert.Equal(t, tt.wantKind, features.KindOf(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPageRankProvider_MissingKey(t *testing.T) {
	p := NewPageRankProvider(PageRankConfig{BaseURL: "http://127.0.0.1:1"})
	v, err := p.Check(context.Background(), target)
	assert.Equal(t, features.Benign, v)
	assert.Equal(t, features.KindConfiguration, features.KindOf(err))
}

func intPtr(v int) *int { return &v }

func newVerdictCache(t *testing.T) *cache.Cache[Verdict] {
	t.Helper()
	c, err := cache.New[Verdict](cache.Config{Name: "reputation", MaxEntries: 16, TTL: time.Hour})
	require.NoError(t, err)
	return c
}

func safeBrowsingServer(t *testing.T, calls *atomic.Int32, listed map[string]bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "sb-key", r.URL.Query().Get("key"))

		var req sbRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) ||
			!assert.Len(t, req.ThreatInfo.ThreatEntries, 1) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, threatTypes, req.ThreatInfo.ThreatTypes)

		if listed[req.ThreatInfo.ThreatEntries[0].URL] {
			fmt.Fprint(w, `{"matches":[{"threatType":"SOCIAL_ENGINEERING"}]}`)
			return
		}
		fmt.Fprint(w, `{}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSafeBrowsingProvider_MatchesAndCaches(t *testing.T) {
	var calls atomic.Int32
	srv := safeBrowsingServer(t, &calls, map[string]bool{target.URL: true})
	p, err := NewSafeBrowsingProvider(SafeBrowsingConfig{
		BaseURL: srv.URL,
		APIKey:  "sb-key",
		Cache:   newVerdictCache(t),
	})
	require.NoError(t, err)

	v, err := p.Check(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, features.Suspicious, v)

	v, err = p.Check(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, features.Suspicious, v)
	assert.Equal(t, int32(1), calls.Load(), "second check is served from cache")

	clean := Target{URL: "https://shop.example.com/", Host: "shop.example.com"}
	v, err = p.Check(context.Background(), clean)
	require.NoError(t, err)
	assert.Equal(t, features.Benign, v)
	assert.Equal(t, int32(2), calls.Load(), "cache is keyed by full URL")
}

func TestSafeBrowsingProvider_CachesFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := NewSafeBrowsingProvider(SafeBrowsingConfig{BaseURL: srv.URL, APIKey: "sb-key", Cache: newVerdictCache(t)})
	require.NoError(t, err)

	for range 2 {
		v, err := p.Check(context.Background(), target)
		assert.Equal(t, features.Benign, v)
		assert.Equal(t, features.KindNetwork, features.KindOf(err))
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestSafeBrowsingProvider_LocalBlocklist(t *testing.T) {
	store := blocklist.NewStore("", nil)
	store.Update(map[string]blocklist.Entry{"example.com": {Feed: "local"}})

	// No API key: the local hit alone flags the slot.
	p, err := NewSafeBrowsingProvider(SafeBrowsingConfig{Cache: newVerdictCache(t), Blocklist: store})
	require.NoError(t, err)

	v, err := p.Check(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, features.Suspicious, v)

	v, err = p.Check(context.Background(), Target{URL: "https://other.org/", Host: "other.org"})
	assert.Equal(t, features.Benign, v)
	assert.Equal(t, features.KindConfiguration, features.KindOf(err))
}

func TestSafeBrowsingProvider_RequiresCache(t *testing.T) {
	_, err := NewSafeBrowsingProvider(SafeBrowsingConfig{APIKey: "k"})
	assert.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	var searchHits, sbCalls atomic.Int32
	search := searchServer(t, &searchHits, func(q string) (int, string) {
		if q == "link:shop.example.com" {
			return http.StatusOK, "did not match any documents"
		}
		return http.StatusOK, "results"
	})
	rank := 7
	pr := pageRankServer(t, &rank)
	sb := safeBrowsingServer(t, &sbCalls, nil)

	cfg := config.Default().Reputation
	cfg.SearchURL = search.URL
	cfg.SearchRPS = 0
	cfg.PageRankURL = pr.URL
	cfg.PageRankAPIKey = "test-key"
	cfg.SafeBrowsingURL = sb.URL
	cfg.SafeBrowsingAPIKey = "sb-key"

	c, err := FromConfig(cfg, Options{})
	require.NoError(t, err)
	require.Equal(t, features.ReputationSlots, c.Len())

	got := c.Collect(context.Background(), target.URL, target.Host)
	assert.Equal(t, []features.Indicator{1, 1, 1, -1, -1}, got.Indicators())
	assert.Zero(t, got.Errors())
	// traffic and index share the same site: query.
	assert.LessOrEqual(t, searchHits.Load(), int32(3))
}

func TestFromConfig_MissingCredentialsFallBack(t *testing.T) {
	var hits atomic.Int32
	search := searchServer(t, &hits, func(string) (int, string) { return http.StatusOK, "results" })

	cfg := config.Default().Reputation
	cfg.SearchURL = search.URL
	cfg.PageRankAPIKey = ""
	cfg.SafeBrowsingAPIKey = ""

	c, err := FromConfig(cfg, Options{})
	require.NoError(t, err)

	got := c.Collect(context.Background(), target.URL, target.Host)
	assert.Equal(t, features.Benign, got[1].Indicator())
	assert.Equal(t, features.KindConfiguration, features.KindOf(got[1].Err))
	assert.Equal(t, features.KindConfiguration, features.KindOf(got[4].Err))
}
