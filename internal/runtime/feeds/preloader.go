package feeds

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/d3vh/omnifeed/internal/config"
)

// Preloader warms the feed cache ahead of user demand: one pass at startup,
// then one per interval until the process context is cancelled. Passes run
// detached from the ticker, so a slow pass may overlap the next one; both
// just refresh the same cache entries.
type Preloader struct {
	fetcher  *Fetcher
	sources  []config.FeedSource
	interval time.Duration
	logger   *slog.Logger
}

// NewPreloader wires the warm-up loop over the configured feed sources.
func NewPreloader(fetcher *Fetcher, sources []config.FeedSource, interval time.Duration, logger *slog.Logger) *Preloader {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Preloader{
		fetcher:  fetcher,
		sources:  sources,
		interval: interval,
		logger:   logger.With(slog.String("agent", "feed_preloader")),
	}
}

// Run blocks until ctx is cancelled. Call it from its own goroutine.
func (p *Preloader) Run(ctx context.Context) {
	if len(p.sources) == 0 {
		p.logger.Info("no feeds configured, preloader idle")
		return
	}

	p.logger.Info("feed preloader starting",
		slog.Int("feeds", len(p.sources)),
		slog.Duration("interval", p.interval))

	go p.pass(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("feed preloader stopping")
			return
		case <-ticker.C:
			go p.pass(ctx)
		}
	}
}

// pass refreshes every configured feed once with an empty filter.
func (p *Preloader) pass(ctx context.Context) {
	started := time.Now()
	var wg sync.WaitGroup
	for _, src := range p.sources {
		wg.Add(1)
		go func(src config.FeedSource) {
			defer wg.Done()
			p.fetcher.Fetch(ctx, src, "")
		}(src)
	}
	wg.Wait()
	p.logger.Debug("feed preload pass complete", slog.Duration("took", time.Since(started)))
}
