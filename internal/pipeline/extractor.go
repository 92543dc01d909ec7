// Package pipeline assembles the feature vector for a URL from the lexical,
// content, domain, and reputation stages.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/phishlens/phishlens/internal/content"
	"github.com/phishlens/phishlens/internal/features"
	"github.com/phishlens/phishlens/internal/lexical"
	"github.com/phishlens/phishlens/internal/metrics"
)

const tracerName = "phishlens/pipeline"

// Stage names, in vector order.
const (
	StageLexical    = "lexical"
	StageContent    = "content"
	StageDomain     = "domain"
	StageReputation = "reputation"
)

// ContentStage fetches the target and returns its content slots together
// with the fetched page, or nil when the fetch failed.
type ContentStage interface {
	Collect(ctx context.Context, rawURL, host string) (features.Signals, *content.Page)
}

// DomainStage computes the domain slots, reusing the page fetched earlier.
type DomainStage interface {
	Analyze(ctx context.Context, rawURL, host string, page *content.Page) features.Signals
}

// ReputationStage computes the reputation slots.
type ReputationStage interface {
	Collect(ctx context.Context, rawURL, host string) features.Signals
}

// Config wires the stages into an Extractor.
type Config struct {
	// Spec fixes the output length. The zero value means features.DefaultSpec().
	Spec       features.Spec
	Lexical    *lexical.Analyzer
	Content    ContentStage
	Domain     DomainStage
	Reputation ReputationStage
	Metrics    *metrics.Collector
	Tracer     trace.Tracer
	Logger     *slog.Logger
}

// Extractor is the single entry point that turns a URL into a feature
// vector. It is safe for concurrent use.
type Extractor struct {
	spec       features.Spec
	lexical    *lexical.Analyzer
	content    ContentStage
	domain     DomainStage
	reputation ReputationStage
	metrics    *metrics.Collector
	tracer     trace.Tracer
	logger     *slog.Logger
}

// New validates cfg and returns an Extractor.
func New(cfg Config) (*Extractor, error) {
	if cfg.Lexical == nil || cfg.Content == nil || cfg.Domain == nil || cfg.Reputation == nil {
		return nil, features.ConfigError("pipeline", fmt.Errorf("all four stages are required"))
	}
	if cfg.Spec.Len() == 0 {
		cfg.Spec = features.DefaultSpec()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Extractor{
		spec:       cfg.Spec,
		lexical:    cfg.Lexical,
		content:    cfg.Content,
		domain:     cfg.Domain,
		reputation: cfg.Reputation,
		metrics:    cfg.Metrics,
		tracer:     cfg.Tracer,
		logger:     cfg.Logger,
	}, nil
}

// Spec returns the manifest the extractor fits its output to.
func (e *Extractor) Spec() features.Spec { return e.spec }

// Extraction is the outcome of one Run.
type Extraction struct {
	ID       string
	URL      string
	Vector   features.Vector
	Failures int
	Duration time.Duration
}

// Extract returns the feature vector for rawURL. It never fails: slots that
// cannot be computed hold the benign sentinel.
func (e *Extractor) Extract(ctx context.Context, rawURL string) features.Vector {
	return e.Run(ctx, rawURL).Vector
}

// Run is Extract with the bookkeeping the serving layer reports.
func (e *Extractor) Run(ctx context.Context, rawURL string) Extraction {
	start := time.Now()
	id := uuid.NewString()

	ctx, span := e.tracer.Start(ctx, "extract", trace.WithAttributes(
		attribute.String("phishlens.extraction_id", id),
		attribute.String("url.full", rawURL),
	))
	defer span.End()

	parts := lexical.Parse(rawURL)
	host := parts.Host
	slots := make([]features.Result, 0, e.spec.Len())

	slots = append(slots, e.stage(ctx, id, StageLexical, features.LexicalSlots, len(slots), func(context.Context) features.Signals {
		return e.lexical.Analyze(parts)
	})...)

	var page *content.Page
	slots = append(slots, e.stage(ctx, id, StageContent, features.ContentSlots, len(slots), func(ctx context.Context) features.Signals {
		var sig features.Signals
		sig, page = e.content.Collect(ctx, rawURL, host)
		return sig
	})...)

	slots = append(slots, e.stage(ctx, id, StageDomain, features.DomainSlots, len(slots), func(ctx context.Context) features.Signals {
		return e.domain.Analyze(ctx, rawURL, host, page)
	})...)

	slots = append(slots, e.stage(ctx, id, StageReputation, features.ReputationSlots, len(slots), func(ctx context.Context) features.Signals {
		return e.reputation.Collect(ctx, rawURL, host)
	})...)

	sig := features.Signals(slots)
	vec := features.Fit(sig.Indicators(), e.spec.Len())
	failures := sig.Errors()
	elapsed := time.Since(start)

	span.SetAttributes(attribute.Int("phishlens.fallbacks", failures))
	e.metrics.ObserveExtraction(elapsed)
	e.logger.Info("features extracted",
		"extraction_id", id,
		"url", rawURL,
		"duration", elapsed,
		"fallbacks", failures,
	)

	return Extraction{ID: id, URL: rawURL, Vector: vec, Failures: failures, Duration: elapsed}
}

// stage runs one component under its own span. The result always has
// exactly n slots; a panicking or misbehaving component degrades to
// failed slots instead of breaking the vector.
func (e *Extractor) stage(ctx context.Context, id, name string, n, offset int, fn func(context.Context) features.Signals) (out features.Signals) {
	ctx, span := e.tracer.Start(ctx, name)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("stage panicked", "extraction_id", id, "stage", name, "panic", r)
			out = features.FailedSignals(n, fmt.Errorf("%s: panic: %v", name, r))
		}
		if len(out) != n {
			e.logger.Warn("stage returned wrong slot count", "extraction_id", id, "stage", name, "want", n, "got", len(out))
			out = fitSignals(out, n, name)
		}
		failed := e.record(id, name, offset, out)
		span.SetAttributes(attribute.Int("phishlens.fallbacks", failed))
		if failed == n {
			span.SetStatus(codes.Error, "all slots fell back")
		}
	}()

	return fn(ctx)
}

func (e *Extractor) record(id, stage string, offset int, sig features.Signals) int {
	failed := 0
	for i, r := range sig {
		if r.Err == nil {
			continue
		}
		failed++
		kind := features.KindOf(r.Err)
		e.metrics.IncFallback(stage, string(kind))
		e.logger.Debug("slot fell back",
			"extraction_id", id,
			"index", offset+i,
			"slot", e.spec.Name(offset+i),
			"kind", kind,
			"error", r.Err,
		)
	}
	return failed
}

func fitSignals(sig features.Signals, n int, stage string) features.Signals {
	out := make(features.Signals, n)
	for i := range out {
		if i < len(sig) {
			out[i] = sig[i]
		} else {
			out[i] = features.Failed(&features.SignalError{
				Kind:   features.KindShapeMismatch,
				Source: stage,
				Err:    fmt.Errorf("slot %d missing", i),
			})
		}
	}
	return out
}
