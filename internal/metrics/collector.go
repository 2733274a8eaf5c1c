package metrics

import (
	"sync/atomic"
	"time"

	"github.com/pwmpw/uniswap-relay/internal/domain/model"
)

// Collector keeps atomic counters alongside the Prometheus metrics so the
// pull-based health endpoint can return a point-in-time snapshot without
// scraping the registry.
type Collector struct {
	startedAt time.Time

	processed    atomic.Int64
	deduplicated atomic.Int64
	parseSkipped atomic.Int64
	stale        atomic.Int64
	published    atomic.Int64
	dropped      atomic.Int64
	pollFailures atomic.Int64
	queueDepth   atomic.Int64
}

func NewCollector() *Collector {
	return &Collector{startedAt: time.Now()}
}

func (c *Collector) RecordFetched(v model.Version, n int) {
	c.processed.Add(int64(n))
	EventsFetched.WithLabelValues(v.String()).Add(float64(n))
}

func (c *Collector) RecordDeduplicated(v model.Version, n int) {
	c.deduplicated.Add(int64(n))
	EventsDeduplicated.WithLabelValues(v.String()).Add(float64(n))
}

func (c *Collector) RecordParseSkipped(v model.Version, n int) {
	c.parseSkipped.Add(int64(n))
	EventsParseSkipped.WithLabelValues(v.String()).Add(float64(n))
}

func (c *Collector) RecordStaleEnrichment(v model.Version) {
	c.stale.Add(1)
	EnrichmentStale.WithLabelValues(v.String()).Inc()
}

func (c *Collector) RecordPublished(v model.Version) {
	c.published.Add(1)
	PublishSucceeded.WithLabelValues(v.String()).Inc()
}

func (c *Collector) RecordDropped(v model.Version) {
	c.dropped.Add(1)
	PublishDropped.WithLabelValues(v.String()).Inc()
}

func (c *Collector) RecordPollFailure(v model.Version, class string) {
	c.pollFailures.Add(1)
	PollErrors.WithLabelValues(v.String(), class).Inc()
}

func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Store(int64(depth))
	QueueDepth.Set(float64(depth))
}

// Snapshot is a JSON-safe view of the counters for the external monitoring
// collaborator.
type Snapshot struct {
	UptimeSeconds      float64 `json:"uptime_seconds"`
	EventsProcessed    int64   `json:"events_processed_total"`
	EventsDeduplicated int64   `json:"events_deduplicated_total"`
	EventsParseSkipped int64   `json:"events_parse_skipped_total"`
	EnrichmentStale    int64   `json:"enrichment_stale_total"`
	PublishSucceeded   int64   `json:"publish_succeeded_total"`
	PublishDropped     int64   `json:"publish_dropped_total"`
	PollFailures       int64   `json:"poll_failures_total"`
	QueueDepth         int64   `json:"queue_depth"`
	EventsPerSecond    float64 `json:"events_per_second"`
}

func (c *Collector) Snapshot() Snapshot {
	uptime := time.Since(c.startedAt).Seconds()
	published := c.published.Load()

	rate := 0.0
	if uptime > 0 {
		rate = float64(published) / uptime
	}

	return Snapshot{
		UptimeSeconds:      uptime,
		EventsProcessed:    c.processed.Load(),
		EventsDeduplicated: c.deduplicated.Load(),
		EventsParseSkipped: c.parseSkipped.Load(),
		EnrichmentStale:    c.stale.Load(),
		PublishSucceeded:   published,
		PublishDropped:     c.dropped.Load(),
		PollFailures:       c.pollFailures.Load(),
		QueueDepth:         c.queueDepth.Load(),
		EventsPerSecond:    rate,
	}
}
