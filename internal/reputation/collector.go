package reputation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/phishlens/phishlens/internal/features"
)

const (
	defaultTaskTimeout   = 2 * time.Second
	defaultFanoutTimeout = 3 * time.Second
	defaultWorkers       = 5
)

// CollectorConfig configures a Collector.
type CollectorConfig struct {
	// Providers in slot order.
	Providers     []Provider
	TaskTimeout   time.Duration
	FanoutTimeout time.Duration
	// Workers bounds concurrent tasks within one collection.
	Workers int
	// InFlight, when set, bounds concurrent provider calls across all
	// collections sharing it.
	InFlight *semaphore.Weighted
	Logger   *slog.Logger
}

// Collector fans a target out to every provider in parallel, bounds each
// with its own timeout, and fans the results back in slot order.
type Collector struct {
	providers     []Provider
	taskTimeout   time.Duration
	fanoutTimeout time.Duration
	workers       int
	inFlight      *semaphore.Weighted
	logger        *slog.Logger
}

// NewCollector creates a Collector.
func NewCollector(cfg CollectorConfig) *Collector {
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = defaultTaskTimeout
	}
	if cfg.FanoutTimeout <= 0 {
		cfg.FanoutTimeout = defaultFanoutTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Collector{
		providers:     cfg.Providers,
		taskTimeout:   cfg.TaskTimeout,
		fanoutTimeout: cfg.FanoutTimeout,
		workers:       cfg.Workers,
		inFlight:      cfg.InFlight,
		logger:        cfg.Logger,
	}
}

// Len returns the number of slots Collect produces.
func (c *Collector) Len() int { return len(c.providers) }

// Collect returns one result per provider, in provider order. A provider that
// fails or outlives its timeout yields a failed result; Collect itself
// returns no later than the fan-out timeout.
func (c *Collector) Collect(ctx context.Context, rawURL, host string) features.Signals {
	target := Target{URL: rawURL, Host: host}
	out := make(features.Signals, len(c.providers))

	ctx, cancel := context.WithTimeout(ctx, c.fanoutTimeout)
	defer cancel()

	var g errgroup.Group
	g.SetLimit(c.workers)
	for i, p := range c.providers {
		g.Go(func() error {
			out[i] = c.run(ctx, p, target)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// run executes one provider. The call happens on its own goroutine so a
// provider that ignores its context still cannot hold the slot past the
// timeout.
func (c *Collector) run(ctx context.Context, p Provider, t Target) features.Result {
	ctx, cancel := context.WithTimeout(ctx, c.taskTimeout)
	defer cancel()

	if c.inFlight != nil {
		if err := c.inFlight.Acquire(ctx, 1); err != nil {
			return features.Failed(features.NetworkError(p.Name(), fmt.Errorf("waiting for capacity: %w", err)))
		}
	}

	done := make(chan features.Result, 1)
	go func() {
		if c.inFlight != nil {
			defer c.inFlight.Release(1)
		}
		defer func() {
			if r := recover(); r != nil {
				done <- features.Failed(fmt.Errorf("%s: panic: %v", p.Name(), r))
			}
		}()
		v, err := p.Check(ctx, t)
		if err != nil {
			done <- features.Failed(err)
			return
		}
		done <- features.OK(v)
	}()

	select {
	case res := <-done:
		if res.Err != nil {
			c.logger.Debug("reputation lookup failed", "provider", p.Name(), "host", t.Host, "error", res.Err)
		}
		return res
	case <-ctx.Done():
		c.logger.Debug("reputation lookup timed out", "provider", p.Name(), "host", t.Host)
		return features.Failed(features.NetworkError(p.Name(), ctx.Err()))
	}
}
