// Package api exposes the extraction pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/phishlens/phishlens/internal/cache"
	"github.com/phishlens/phishlens/internal/config"
	"github.com/phishlens/phishlens/internal/features"
	"github.com/phishlens/phishlens/internal/lexical"
	"github.com/phishlens/phishlens/internal/metrics"
	"github.com/phishlens/phishlens/internal/pipeline"
)

// Sources reported in responses.
const (
	SourcePipeline  = "pipeline"
	SourceAllowlist = "allowlist"
)

// Extractor runs one extraction.
type Extractor interface {
	Run(ctx context.Context, rawURL string) pipeline.Extraction
}

// Options carries optional collaborators.
type Options struct {
	Metrics *metrics.Collector
	// Caches reports cache counters for /metrics.
	Caches func() []cache.Stats
	// Ready reports whether the service can take traffic. Nil means always.
	Ready  func() error
	Logger *slog.Logger
}

type App struct {
	cfg       *config.Config
	spec      features.Spec
	extractor Extractor
	allow     *Allowlist
	metrics   *metrics.Collector
	caches    func() []cache.Stats
	ready     func() error
	logger    *slog.Logger
}

// NewApp builds the HTTP application. spec is the manifest loaded at
// startup; every response vector is checked against it.
func NewApp(cfg *config.Config, spec features.Spec, extractor Extractor, opts Options) *App {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &App{
		cfg:       cfg,
		spec:      spec,
		extractor: extractor,
		allow:     NewAllowlist(cfg.Allowlist),
		metrics:   opts.Metrics,
		caches:    opts.Caches,
		ready:     opts.Ready,
		logger:    opts.Logger,
	}
}

func (a *App) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(a.recoverMiddleware)
	r.Use(a.logMiddleware)

	r.Get(a.cfg.Health.Path, func(w http.ResponseWriter, r *http.Request) { writeText(w, http.StatusOK, "ok\n") })
	r.Get(a.cfg.Health.ReadinessPath, a.readiness)
	if a.cfg.Metrics.Enabled && a.metrics != nil {
		r.Method(http.MethodGet, a.cfg.Metrics.Path, a.metrics.Handler(metrics.HandlerOptions{Caches: a.caches}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/features", a.extractFeatures)
		r.Get("/manifest", a.manifest)
	})

	return r
}

func (a *App) readiness(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		if err := a.ready(); err != nil {
			writeText(w, http.StatusServiceUnavailable, "not ready: "+err.Error()+"\n")
			return
		}
	}
	writeText(w, http.StatusOK, "ready\n")
}

type featuresRequest struct {
	URL string `json:"url"`
}

type featuresResponse struct {
	URL          string   `json:"url"`
	ExtractionID string   `json:"extraction_id"`
	Features     []int    `json:"features"`
	FeatureNames []string `json:"feature_names"`
	Source       string   `json:"source"`
	Fallbacks    int      `json:"fallbacks"`
}

func (a *App) extractFeatures(w http.ResponseWriter, r *http.Request) {
	var req featuresRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	rawURL := strings.TrimSpace(req.URL)
	if rawURL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "url is required"})
		return
	}

	var run pipeline.Extraction
	source := SourcePipeline
	if host := lexical.Parse(rawURL).Host; a.allow.Contains(host) {
		source = SourceAllowlist
		run = pipeline.Extraction{ID: uuid.NewString(), URL: rawURL, Vector: features.Filled(a.spec.Len())}
	} else {
		run = a.extractor.Run(r.Context(), rawURL)
	}

	if err := features.CheckShape(a.spec, run.Vector); err != nil {
		a.metrics.IncShapeMismatch()
		a.logger.Error("feature vector rejected", "extraction_id", run.ID, "url", rawURL, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": err.Error(),
			"kind":  features.KindShapeMismatch,
		})
		return
	}

	writeJSON(w, http.StatusOK, featuresResponse{
		URL:          rawURL,
		ExtractionID: run.ID,
		Features:     run.Vector.Ints(),
		FeatureNames: a.spec.Names(),
		Source:       source,
		Fallbacks:    run.Failures,
	})
}

func (a *App) manifest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"feature_names": a.spec.Names(), "count": a.spec.Len()})
}

func (a *App) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				a.logger.Error("handler panicked", "path", r.URL.Path, "panic", rec)
				writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (a *App) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		a.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(s))
}
