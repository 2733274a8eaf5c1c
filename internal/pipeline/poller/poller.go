// Package poller drives the fetch cycle for one subgraph source.
//
// Each poller owns a ticker loop: wait for the rate limiter, fetch a page
// after the committed cursor, filter through the deduplicator, hand the
// survivors to the bounded pipeline queue, then commit and persist the new
// cursor. The cursor only moves after the downstream handoff succeeds, so a
// crash between fetch and handoff re-fetches instead of losing events.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pwmpw/uniswap-relay/internal/domain/model"
	"github.com/pwmpw/uniswap-relay/internal/metrics"
	"github.com/pwmpw/uniswap-relay/internal/pipeline/dedup"
	"github.com/pwmpw/uniswap-relay/internal/retry"
	"github.com/pwmpw/uniswap-relay/internal/source"
	"github.com/pwmpw/uniswap-relay/internal/source/ratelimit"
	"github.com/pwmpw/uniswap-relay/internal/store"
)

// State is the poller lifecycle state exported on the state gauge.
type State int

const (
	StateIdle State = iota
	StatePolling
	StateRetrying
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateRetrying:
		return "retrying"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Item is one event handed to the pipeline queue, stamped with the start of
// the poll cycle that produced it for end-to-end latency measurement.
type Item struct {
	Event    model.SwapEvent
	PolledAt time.Time
}

// HealthReporter receives per-cycle outcomes. Implemented by the pipeline
// health monitor.
type HealthReporter interface {
	ReportSuccess(component string)
	ReportFailure(component string, err error)
}

type Config struct {
	Interval time.Duration
	PageSize int
	Policy   retry.Policy
	// DegradedAfter is the number of consecutive failed cycles before the
	// poller reports itself degraded.
	DegradedAfter int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.Policy.MaxAttempts == 0 {
		c.Policy = retry.DefaultPolicy()
	}
	if c.DegradedAfter <= 0 {
		c.DegradedAfter = 3
	}
	return c
}

type Poller struct {
	src       source.SwapSource
	limiter   *ratelimit.Limiter
	dedup     *dedup.Deduplicator
	store     store.CursorStore
	out       chan<- Item
	health    HealthReporter
	collector *metrics.Collector
	cfg       Config
	logger    *slog.Logger
	tracer    trace.Tracer

	consecutiveFailures int

	sleepFn func(ctx context.Context, d time.Duration) error // test seam
}

func New(
	src source.SwapSource,
	limiter *ratelimit.Limiter,
	dd *dedup.Deduplicator,
	st store.CursorStore,
	out chan<- Item,
	health HealthReporter,
	collector *metrics.Collector,
	cfg Config,
	logger *slog.Logger,
) *Poller {
	if collector == nil {
		collector = metrics.NewCollector()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		src:       src,
		limiter:   limiter,
		dedup:     dd,
		store:     st,
		out:       out,
		health:    health,
		collector: collector,
		cfg:       cfg.withDefaults(),
		logger:    logger.With("component", "poller", "version", src.Version().String()),
		tracer:    otel.Tracer("poller"),
		sleepFn:   retry.Sleep,
	}
}

// Run executes poll cycles on the configured interval until ctx is done.
// The first cycle runs immediately.
func (p *Poller) Run(ctx context.Context) error {
	version := p.src.Version()
	p.logger.Info("poller starting",
		"interval", p.cfg.Interval.String(),
		"page_size", p.cfg.PageSize,
		"cursor", p.dedup.Committed(version).String())

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	defer p.setState(StateIdle)

	for {
		p.cycle(ctx)

		select {
		case <-ctx.Done():
			p.logger.Info("poller stopping", "cursor", p.dedup.Committed(version).String())
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Poller) cycle(ctx context.Context) {
	version := p.src.Version()
	start := time.Now()

	ctx, span := p.tracer.Start(ctx, "poll_cycle",
		trace.WithAttributes(attribute.String("swap.version", version.String())))
	defer span.End()

	metrics.PollCycles.WithLabelValues(version.String()).Inc()
	p.setState(StatePolling)

	page, err := p.fetchWithRetry(ctx, version)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		p.failCycle(version, err)
		return
	}

	p.collector.RecordFetched(version, len(page.Events))
	if page.Skipped > 0 {
		p.collector.RecordParseSkipped(version, page.Skipped)
		p.logger.Warn("page contained unparseable records", "skipped", page.Skipped)
	}

	kept := p.dedup.Filter(version, page.Events)
	if err := p.enqueue(ctx, start, kept); err != nil {
		// Shutdown mid-handoff: nothing was committed, the next run
		// re-fetches from the old cursor.
		return
	}

	if page.Max.After(p.dedup.Committed(version)) {
		p.dedup.Commit(version, page.Max)
		if err := p.store.Save(ctx, version, page.Max); err != nil {
			// Persistence failure costs re-delivery after a restart, not
			// correctness: the in-memory cursor still advanced.
			p.logger.Error("cursor persistence failed", "cursor", page.Max.String(), "error", err)
		}
		metrics.CursorBlock.WithLabelValues(version.String()).Set(float64(page.Max.BlockNumber))
	}

	p.consecutiveFailures = 0
	if p.health != nil {
		p.health.ReportSuccess("poller_" + version.String())
	}
	metrics.PollLatency.WithLabelValues(version.String()).Observe(time.Since(start).Seconds())
	p.setState(StateIdle)

	if len(kept) > 0 {
		p.logger.Debug("poll cycle complete",
			"fetched", len(page.Events),
			"forwarded", len(kept),
			"cursor", page.Max.String(),
			"duration", time.Since(start).String())
	}
}

// fetchWithRetry runs the rate-limited fetch under the backoff policy.
// Transient failures are retried within the attempt budget; terminal
// failures and exhaustion abort the cycle.
func (p *Poller) fetchWithRetry(ctx context.Context, version model.Version) (*source.Page, error) {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.Policy.Attempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := p.attempt(ctx)
		if err == nil {
			return page, nil
		}
		lastErr = err

		decision := retry.Classify(err)
		if decision.Class == retry.ClassTerminal {
			p.collector.RecordPollFailure(version, decision.Reason)
			p.logger.Error("poll failed terminally", "reason", decision.Reason, "error", err)
			return nil, err
		}

		if attempt == p.cfg.Policy.Attempts() {
			break
		}

		p.setState(StateRetrying)
		metrics.PollRetries.WithLabelValues(version.String()).Inc()
		delay := p.cfg.Policy.DelayFor(attempt)
		p.logger.Warn("poll failed, retrying",
			"attempt", attempt,
			"reason", decision.Reason,
			"delay", delay.String(),
			"error", err)

		if err := p.sleepFn(ctx, delay); err != nil {
			return nil, err
		}
	}

	p.collector.RecordPollFailure(version, "retries_exhausted")
	p.logger.Error("poll failed after exhausting retries",
		"attempts", p.cfg.Policy.Attempts(),
		"error", lastErr)
	return nil, lastErr
}

func (p *Poller) attempt(ctx context.Context) (*source.Page, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.src.FetchPage(ctx, p.dedup.Committed(p.src.Version()), p.cfg.PageSize)
}

// enqueue hands events to the bounded queue in order. A full queue blocks
// the poller; that backpressure is the design, not a fault.
func (p *Poller) enqueue(ctx context.Context, polledAt time.Time, events []model.SwapEvent) error {
	for _, e := range events {
		select {
		case p.out <- Item{Event: e, PolledAt: polledAt}:
			p.collector.SetQueueDepth(len(p.out))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *Poller) failCycle(version model.Version, err error) {
	p.consecutiveFailures++
	if p.health != nil {
		p.health.ReportFailure("poller_"+version.String(), err)
	}
	if p.consecutiveFailures >= p.cfg.DegradedAfter {
		p.setState(StateDegraded)
		p.logger.Error("poller degraded",
			"consecutive_failures", p.consecutiveFailures,
			"error", err)
		return
	}
	p.setState(StateIdle)
}

func (p *Poller) setState(s State) {
	metrics.PollerState.WithLabelValues(p.src.Version().String()).Set(float64(s))
}
