// Package pipeline connects the pollers to the publisher through one
// bounded queue.
//
// The queue is the only buffering between fetch and publish. When the
// consumer falls behind, pollers block on enqueue, which delays the next
// cycle; nothing is dropped to shed load.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/pwmpw/uniswap-relay/internal/metrics"
	"github.com/pwmpw/uniswap-relay/internal/pipeline/enricher"
	"github.com/pwmpw/uniswap-relay/internal/pipeline/poller"
	"github.com/pwmpw/uniswap-relay/internal/pipeline/publisher"
)

// drainTimeout bounds how long shutdown spends publishing queued events.
const drainTimeout = 5 * time.Second

type Pipeline struct {
	queue     chan poller.Item
	enricher  *enricher.Enricher
	publisher *publisher.Publisher
	collector *metrics.Collector
	health    *HealthMonitor
	logger    *slog.Logger
}

func New(
	queueSize int,
	enr *enricher.Enricher,
	pub *publisher.Publisher,
	collector *metrics.Collector,
	health *HealthMonitor,
	logger *slog.Logger,
) *Pipeline {
	if queueSize <= 0 {
		queueSize = 1000
	}
	if collector == nil {
		collector = metrics.NewCollector()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		queue:     make(chan poller.Item, queueSize),
		enricher:  enr,
		publisher: pub,
		collector: collector,
		health:    health,
		logger:    logger.With("component", "pipeline"),
	}
}

// Queue returns the send side handed to pollers.
func (p *Pipeline) Queue() chan<- poller.Item {
	return p.queue
}

// Run consumes the queue until ctx is done, then drains what is already
// queued under a bounded deadline. A single consumer preserves the
// per-source (block, log index) ordering the pollers established.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline consumer starting", "queue_capacity", cap(p.queue))

	for {
		// Check cancellation first so queued items are drained with a fresh
		// context instead of failing against the dead one.
		select {
		case <-ctx.Done():
			p.drain()
			return ctx.Err()
		default:
		}

		select {
		case <-ctx.Done():
			p.drain()
			return ctx.Err()
		case item := <-p.queue:
			p.collector.SetQueueDepth(len(p.queue))
			p.process(ctx, item)
		}
	}
}

func (p *Pipeline) process(ctx context.Context, item poller.Item) {
	enriched := p.enricher.Enrich(ctx, item.Event)

	if err := p.publisher.Publish(ctx, enriched); err != nil {
		if p.health != nil {
			p.health.ReportFailure("publisher", err)
		}
	} else if p.health != nil {
		p.health.ReportSuccess("publisher")
	}

	metrics.PipelineLatency.WithLabelValues(item.Event.Version.String()).
		Observe(time.Since(item.PolledAt).Seconds())
}

// drain publishes events already in the queue at shutdown. Runs detached
// from the canceled run context but under its own deadline, so shutdown
// stays bounded even with a dead Redis.
func (p *Pipeline) drain() {
	remaining := len(p.queue)
	if remaining == 0 {
		return
	}
	p.logger.Info("draining queued events before shutdown", "remaining", remaining)

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		select {
		case item := <-p.queue:
			p.process(ctx, item)
			p.collector.SetQueueDepth(len(p.queue))
		case <-ctx.Done():
			if n := len(p.queue); n > 0 {
				p.logger.Warn("shutdown drain deadline reached", "abandoned", n)
			}
			return
		default:
			return
		}
	}
}
