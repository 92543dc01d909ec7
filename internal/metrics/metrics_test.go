package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/phishlens/phishlens/internal/cache"
)

func TestHandlerExportsCountersAndEscapes(t *testing.T) {
	c := New()
	c.ObserveExtraction(1500 * time.Millisecond)
	c.ObserveExtraction(500 * time.Millisecond)
	c.IncFallback("content", "network")
	c.IncFallback("content", "network")
	c.IncFallback("reputation", "configuration")
	c.IncFallback("odd\n\"stage\"", "")
	c.IncShapeMismatch()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	c.Handler(HandlerOptions{Caches: func() []cache.Stats {
		return []cache.Stats{
			{Name: "reputation", Size: 4, Hits: 3, Misses: 4},
			{Name: "registry", Size: 2, Hits: 9, Misses: 2},
		}
	}}).ServeHTTP(rec, req)

	body := rec.Body.String()
	assertContains := func(substr string) {
		t.Helper()
		if !strings.Contains(body, substr) {
			t.Fatalf("metrics output missing %q. Got:\n%s", substr, body)
		}
	}

	assertContains("phishlens_up 1")
	assertContains("phishlens_extractions_total 2")
	assertContains("phishlens_extraction_seconds_sum 2\n")
	assertContains("phishlens_shape_mismatch_total 1")
	assertContains(`phishlens_slot_fallbacks_total{stage="content",kind="network"} 2`)
	assertContains(`phishlens_slot_fallbacks_total{stage="reputation",kind="configuration"} 1`)
	assertContains(`phishlens_slot_fallbacks_total{stage="odd\n\"stage\"",kind="unknown"} 1`)
	assertContains(`phishlens_cache_lookups_total{cache="registry",result="hit"} 9`)
	assertContains(`phishlens_cache_lookups_total{cache="reputation",result="miss"} 4`)
	assertContains(`phishlens_cache_entries{cache="reputation"} 4`)

	if strings.Index(body, `cache="registry"`) > strings.Index(body, `cache="reputation"`) {
		t.Fatalf("caches not sorted by name:\n%s", body)
	}
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.ObserveExtraction(time.Second)
	c.IncFallback("lexical", "parse")
	c.IncShapeMismatch()
}

func TestSnapshotKeysReturnsSorted(t *testing.T) {
	var m sync.Map
	m.Store(fallbackKey{"b", "x"}, 1)
	m.Store(fallbackKey{"a", "z"}, 1)
	m.Store(fallbackKey{"a", "y"}, 1)

	keys := snapshotKeys(&m)
	var got []string
	for _, k := range keys {
		got = append(got, k.stage+"/"+k.kind)
	}
	if strings.Join(got, ",") != "a/y,a/z,b/x" {
		t.Fatalf("snapshotKeys = %v", got)
	}
}
