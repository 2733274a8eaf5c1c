// Package enricher attaches pool and token metadata to swap events.
//
// Enrichment is fail-open: metadata lookups never block the pipeline beyond
// a small bounded wait, and an event missing metadata is forwarded with
// StaleMetadata set rather than dropped.
package enricher

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pwmpw/uniswap-relay/internal/cache"
	"github.com/pwmpw/uniswap-relay/internal/domain/model"
	"github.com/pwmpw/uniswap-relay/internal/metrics"
	"github.com/pwmpw/uniswap-relay/internal/source"
)

const (
	// DefaultRefreshWait bounds how long Enrich waits for an in-flight
	// metadata refresh before falling back to stale data.
	DefaultRefreshWait = 150 * time.Millisecond

	// refreshTimeout bounds the background fetch itself.
	refreshTimeout = 5 * time.Second
)

type Config struct {
	CacheSize   int
	CacheTTL    time.Duration
	RefreshWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.CacheSize <= 0 {
		c.CacheSize = 1024
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.RefreshWait <= 0 {
		c.RefreshWait = DefaultRefreshWait
	}
	return c
}

type Enricher struct {
	sources   map[model.Version]source.SwapSource
	pools     *cache.LRU[string, model.PoolInfo]
	tokens    *cache.LRU[string, model.TokenInfo]
	wait      time.Duration
	collector *metrics.Collector
	logger    *slog.Logger

	mu       sync.Mutex
	inflight map[string]chan struct{}

	staleCount atomic.Int64
	totalCount atomic.Int64
}

func New(cfg Config, sources map[model.Version]source.SwapSource, collector *metrics.Collector, logger *slog.Logger) *Enricher {
	cfg = cfg.withDefaults()
	if collector == nil {
		collector = metrics.NewCollector()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{
		sources:   sources,
		pools:     cache.NewLRU[string, model.PoolInfo](cfg.CacheSize, cfg.CacheTTL),
		tokens:    cache.NewLRU[string, model.TokenInfo](cfg.CacheSize, cfg.CacheTTL),
		wait:      cfg.RefreshWait,
		collector: collector,
		logger:    logger.With("component", "enricher"),
		inflight:  make(map[string]chan struct{}),
	}
}

// Enrich returns a copy of event with pool metadata attached when available
// within the wait budget. It never returns an error and never blocks past
// the configured wait: missing metadata degrades, it does not stall.
func (e *Enricher) Enrich(ctx context.Context, event model.SwapEvent) model.SwapEvent {
	e.totalCount.Add(1)
	e.observeTokens(event)
	event = e.fillTokens(event)

	key := poolKey(event.Version, event.PoolAddress)

	pool, fresh, present := e.pools.GetStale(key)
	if fresh {
		metrics.CacheHits.WithLabelValues("pool").Inc()
		return event.WithPool(&pool, false)
	}
	metrics.CacheMisses.WithLabelValues("pool").Inc()

	done := e.refresh(event.Version, event.PoolAddress, key)

	select {
	case <-done:
		if refreshed, ok := e.pools.Get(key); ok {
			return event.WithPool(&refreshed, false)
		}
	case <-time.After(e.wait):
	case <-ctx.Done():
	}

	// Fail open: stale copy if one exists, otherwise no pool at all.
	e.staleCount.Add(1)
	e.collector.RecordStaleEnrichment(event.Version)
	if present {
		return event.WithPool(&pool, true)
	}
	return event.WithPool(nil, true)
}

// StaleRatio reports the fraction of enriched events forwarded with stale or
// missing metadata. Health checks degrade the component above a threshold.
func (e *Enricher) StaleRatio() float64 {
	total := e.totalCount.Load()
	if total == 0 {
		return 0
	}
	return float64(e.staleCount.Load()) / float64(total)
}

// refresh starts a single-flight background fetch for key and returns a
// channel closed when the fetch settles. Concurrent callers for the same
// pool share one fetch.
func (e *Enricher) refresh(version model.Version, address, key string) <-chan struct{} {
	e.mu.Lock()
	if done, ok := e.inflight[key]; ok {
		e.mu.Unlock()
		return done
	}
	done := make(chan struct{})
	e.inflight[key] = done
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.inflight, key)
			e.mu.Unlock()
			close(done)
		}()

		src, ok := e.sources[version]
		if !ok {
			metrics.EnrichmentRefreshes.WithLabelValues("failure").Inc()
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()

		pool, err := src.FetchPool(ctx, address)
		if err != nil {
			metrics.EnrichmentRefreshes.WithLabelValues("failure").Inc()
			e.logger.Warn("pool metadata refresh failed",
				"version", version.String(),
				"pool", address,
				"error", err)
			return
		}

		pool.RefreshedAt = time.Now().UTC()
		e.pools.Put(key, *pool)
		metrics.EnrichmentRefreshes.WithLabelValues("success").Inc()
	}()

	return done
}

// observeTokens writes token metadata carried on the event itself into the
// token cache, so later events with sparse rows can be filled.
func (e *Enricher) observeTokens(event model.SwapEvent) {
	for _, t := range []model.TokenInfo{event.TokenIn, event.TokenOut} {
		if t.Address == "" || t.Symbol == "" {
			continue
		}
		e.tokens.Put(t.Address, t)
	}
}

func (e *Enricher) fillTokens(event model.SwapEvent) model.SwapEvent {
	var in, out *model.TokenInfo
	if event.TokenIn.Symbol == "" && event.TokenIn.Address != "" {
		if t, ok := e.tokens.Get(event.TokenIn.Address); ok {
			metrics.CacheHits.WithLabelValues("token").Inc()
			in = &t
		} else {
			metrics.CacheMisses.WithLabelValues("token").Inc()
		}
	}
	if event.TokenOut.Symbol == "" && event.TokenOut.Address != "" {
		if t, ok := e.tokens.Get(event.TokenOut.Address); ok {
			metrics.CacheHits.WithLabelValues("token").Inc()
			out = &t
		} else {
			metrics.CacheMisses.WithLabelValues("token").Inc()
		}
	}
	if in == nil && out == nil {
		return event
	}
	return event.WithTokens(in, out)
}

func poolKey(version model.Version, address string) string {
	return version.String() + ":" + address
}
