// Package metrics exports extraction counters in the Prometheus text format.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phishlens/phishlens/internal/cache"
)

// Collector provides a minimal Prometheus-compatible metrics exporter.
// A nil *Collector is valid and records nothing.
type Collector struct {
	startedAt time.Time

	extractionsTotal atomic.Uint64
	extractionNanos  atomic.Int64
	shapeMismatch    atomic.Uint64
	fallbacks        sync.Map // fallbackKey -> *atomic.Uint64
}

type fallbackKey struct {
	stage string
	kind  string
}

func New() *Collector {
	return &Collector{startedAt: time.Now().UTC()}
}

// ObserveExtraction records one completed extraction.
func (c *Collector) ObserveExtraction(d time.Duration) {
	if c == nil {
		return
	}
	c.extractionsTotal.Add(1)
	c.extractionNanos.Add(int64(d))
}

// IncFallback records a slot that fell back to the sentinel value.
func (c *Collector) IncFallback(stage, kind string) {
	if c == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	ptr, _ := c.fallbacks.LoadOrStore(fallbackKey{stage: stage, kind: kind}, &atomic.Uint64{})
	ptr.(*atomic.Uint64).Add(1)
}

func (c *Collector) IncShapeMismatch() {
	if c == nil {
		return
	}
	c.shapeMismatch.Add(1)
}

type HandlerOptions struct {
	// Caches reports the current counters of the shared caches.
	Caches func() []cache.Stats
}

func (c *Collector) Handler(opts HandlerOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, "# HELP phishlens_up Whether the phishlens server is running.\n")
		fmt.Fprint(w, "# TYPE phishlens_up gauge\n")
		fmt.Fprint(w, "phishlens_up 1\n")

		fmt.Fprint(w, "# HELP phishlens_extractions_total Feature vectors produced.\n")
		fmt.Fprint(w, "# TYPE phishlens_extractions_total counter\n")
		fmt.Fprintf(w, "phishlens_extractions_total %d\n", c.extractionsTotal.Load())

		fmt.Fprint(w, "# HELP phishlens_extraction_seconds_sum Total time spent extracting.\n")
		fmt.Fprint(w, "# TYPE phishlens_extraction_seconds_sum counter\n")
		fmt.Fprintf(w, "phishlens_extraction_seconds_sum %g\n", time.Duration(c.extractionNanos.Load()).Seconds())

		fmt.Fprint(w, "# HELP phishlens_shape_mismatch_total Vectors rejected for disagreeing with the manifest.\n")
		fmt.Fprint(w, "# TYPE phishlens_shape_mismatch_total counter\n")
		fmt.Fprintf(w, "phishlens_shape_mismatch_total %d\n", c.shapeMismatch.Load())

		keys := snapshotKeys(&c.fallbacks)
		if len(keys) > 0 {
			fmt.Fprint(w, "# HELP phishlens_slot_fallbacks_total Slots that fell back, by stage and error kind.\n")
			fmt.Fprint(w, "# TYPE phishlens_slot_fallbacks_total counter\n")
			for _, k := range keys {
				ptr, _ := c.fallbacks.Load(k)
				n := uint64(0)
				if ptr != nil {
					n = ptr.(*atomic.Uint64).Load()
				}
				fmt.Fprintf(w, "phishlens_slot_fallbacks_total{stage=\"%s\",kind=\"%s\"} %d\n",
					escapeLabelValue(k.stage), escapeLabelValue(k.kind), n)
			}
		}

		if opts.Caches != nil {
			stats := opts.Caches()
			sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
			fmt.Fprint(w, "# HELP phishlens_cache_lookups_total Cache lookups by result.\n")
			fmt.Fprint(w, "# TYPE phishlens_cache_lookups_total counter\n")
			for _, s := range stats {
				name := escapeLabelValue(s.Name)
				fmt.Fprintf(w, "phishlens_cache_lookups_total{cache=\"%s\",result=\"hit\"} %d\n", name, s.Hits)
				fmt.Fprintf(w, "phishlens_cache_lookups_total{cache=\"%s\",result=\"miss\"} %d\n", name, s.Misses)
			}
			fmt.Fprint(w, "# HELP phishlens_cache_entries Entries currently stored.\n")
			fmt.Fprint(w, "# TYPE phishlens_cache_entries gauge\n")
			for _, s := range stats {
				fmt.Fprintf(w, "phishlens_cache_entries{cache=\"%s\"} %d\n", escapeLabelValue(s.Name), s.Size)
			}
		}
	})
}

func snapshotKeys(m *sync.Map) []fallbackKey {
	var out []fallbackKey
	m.Range(func(k, _ any) bool {
		if fk, ok := k.(fallbackKey); ok {
			out = append(out, fk)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].stage != out[j].stage {
			return out[i].stage < out[j].stage
		}
		return out[i].kind < out[j].kind
	})
	return out
}

func escapeLabelValue(v string) string {
	// Prometheus text format label escaping for " and \ and newlines.
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\n", "\\n")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	return v
}
