// Package probe polls the upstream crawl API and tracks its readiness.
package probe

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/crawlfront/crawlfront/internal/metrics"
	"github.com/crawlfront/crawlfront/internal/upstream"
)

// HealthClient is the slice of the upstream client the prober needs.
type HealthClient interface {
	Health(ctx context.Context) (upstream.Health, error)
}

// Prober periodically checks the upstream health endpoint. A single
// success marks the upstream ready; readiness is only withdrawn after the
// configured number of consecutive failures, so one flaky probe does not
// flap the readiness endpoint.
type Prober struct {
	client    HealthClient
	interval  time.Duration
	threshold int
	logger    *zap.Logger

	failures atomic.Int32
	ready    atomic.Bool
	last     atomic.Pointer[upstream.Health]
}

// New constructs a Prober.
func New(client HealthClient, interval time.Duration, threshold int, logger *zap.Logger) *Prober {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if threshold <= 0 {
		threshold = 3
	}
	return &Prober{
		client:    client,
		interval:  interval,
		threshold: threshold,
		logger:    logger,
	}
}

// Run blocks, probing until the context finishes. The first check runs
// immediately so readiness settles at startup rather than one interval in.
func (p *Prober) Run(ctx context.Context) {
	p.check(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.check(ctx)
		}
	}
}

// Ready reports whether the upstream passed its last probes.
func (p *Prober) Ready() bool {
	return p.ready.Load()
}

// LastHealth returns the most recent successful health payload, if any.
func (p *Prober) LastHealth() (upstream.Health, bool) {
	h := p.last.Load()
	if h == nil {
		return upstream.Health{}, false
	}
	return *h, true
}

func (p *Prober) check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	health, err := p.client.Health(probeCtx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.ObserveProbeFailure()
		failures := p.failures.Add(1)
		p.logger.Warn("upstream health probe failed",
			zap.Error(err),
			zap.Int32("consecutive_failures", failures),
		)
		if int(failures) >= p.threshold && p.ready.CompareAndSwap(true, false) {
			metrics.SetUpstreamHealthy(false)
			p.logger.Error("upstream marked unready",
				zap.Int32("consecutive_failures", failures),
			)
		}
		return
	}

	p.failures.Store(0)
	p.last.Store(&health)
	metrics.SetUpstreamHealthy(true)
	metrics.SetUpstreamStats(health.AvailableSlots, health.MemoryUsage, health.CPUUsage)
	if p.ready.CompareAndSwap(false, true) {
		p.logger.Info("upstream marked ready",
			zap.String("status", health.Status),
			zap.Int("available_slots", health.AvailableSlots),
		)
	}
}
