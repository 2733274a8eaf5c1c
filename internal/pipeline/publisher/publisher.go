// Package publisher delivers enriched swap events to a Redis pub/sub
// channel as JSON.
//
// Delivery is fire-and-forget toward subscribers: Redis pub/sub has no
// consumer acknowledgement, so the publish retry budget only covers getting
// the command to the server. An event that exhausts its budget is dropped
// and logged by identity; the stream keeps moving.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pwmpw/uniswap-relay/internal/domain/model"
	"github.com/pwmpw/uniswap-relay/internal/metrics"
	"github.com/pwmpw/uniswap-relay/internal/retry"
)

// commandClient is the slice of go-redis used by the publisher. *redis.Client
// satisfies it; tests substitute a fake.
type commandClient interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

type Publisher struct {
	client    commandClient
	channel   string
	policy    retry.Policy
	collector *metrics.Collector
	logger    *slog.Logger
	tracer    trace.Tracer

	connected atomic.Bool

	sleepFn func(ctx context.Context, d time.Duration) error // test seam
}

func New(client commandClient, channel string, policy retry.Policy, collector *metrics.Collector, logger *slog.Logger) *Publisher {
	if collector == nil {
		collector = metrics.NewCollector()
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		client:    client,
		channel:   channel,
		policy:    policy,
		collector: collector,
		logger:    logger.With("component", "publisher"),
		tracer:    otel.Tracer("publisher"),
		sleepFn:   retry.Sleep,
	}
	p.connected.Store(true)
	return p
}

// Publish serializes event and publishes it to the configured channel,
// retrying transient failures within the policy budget. When the budget is
// exhausted the event is dropped: the error return reports the drop, the
// caller is expected to log and continue rather than halt.
func (p *Publisher) Publish(ctx context.Context, event model.SwapEvent) error {
	ctx, span := p.tracer.Start(ctx, "publish",
		trace.WithAttributes(
			attribute.String("swap.version", event.Version.String()),
			attribute.String("swap.identity", event.Identity()),
		))
	defer span.End()

	payload, err := json.Marshal(event)
	if err != nil {
		// Serialization can only fail on a programming error in the model.
		p.collector.RecordDropped(event.Version)
		return fmt.Errorf("marshal event %s: %w", event.Identity(), err)
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= p.policy.Attempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := p.client.Publish(ctx, p.channel, payload).Err()
		if err == nil {
			p.connected.Store(true)
			p.collector.RecordPublished(event.Version)
			metrics.PublishLatency.WithLabelValues(event.Version.String()).Observe(time.Since(start).Seconds())
			return nil
		}

		lastErr = err
		p.connected.Store(false)

		if attempt == p.policy.Attempts() {
			break
		}

		metrics.PublishRetries.WithLabelValues(event.Version.String()).Inc()
		p.logger.Warn("publish failed, retrying",
			"identity", event.Identity(),
			"attempt", attempt,
			"error", err)

		// Nudge the client to re-establish a dead connection before the
		// next attempt. The result only updates the health flag.
		if pingErr := p.client.Ping(ctx).Err(); pingErr == nil {
			p.connected.Store(true)
		}

		if err := p.sleepFn(ctx, p.policy.DelayFor(attempt)); err != nil {
			return err
		}
	}

	p.collector.RecordDropped(event.Version)
	p.logger.Error("dropping event after exhausting publish retries",
		"identity", event.Identity(),
		"version", event.Version.String(),
		"attempts", p.policy.Attempts(),
		"error", lastErr)
	return fmt.Errorf("publish %s: %w", event.Identity(), lastErr)
}

// Connected reports whether the last Redis command succeeded. Feeds the
// health snapshot.
func (p *Publisher) Connected() bool {
	return p.connected.Load()
}

// Channel returns the configured pub/sub channel name.
func (p *Publisher) Channel() string {
	return p.channel
}
