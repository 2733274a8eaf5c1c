package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline stage counters and histograms, partitioned by source version.

var (
	// Poller
	PollCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "poller",
		Name:      "cycles_total",
		Help:      "Total poll cycles started",
	}, []string{"version"})

	PollErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "poller",
		Name:      "errors_total",
		Help:      "Total poll cycles failed after retry exhaustion or terminal error",
	}, []string{"version", "class"})

	PollRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "poller",
		Name:      "retries_total",
		Help:      "Total transient poll failures that were retried",
	}, []string{"version"})

	PollLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "relay",
		Subsystem: "poller",
		Name:      "cycle_duration_seconds",
		Help:      "Poll cycle duration including retries",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"version"})

	PollerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relay",
		Subsystem: "poller",
		Name:      "state",
		Help:      "Poller state (0=IDLE, 1=POLLING, 2=RETRYING, 3=DEGRADED)",
	}, []string{"version"})

	CursorBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relay",
		Subsystem: "poller",
		Name:      "cursor_block",
		Help:      "Latest committed cursor block number per source",
	}, []string{"version"})

	// Subgraph
	EventsFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "subgraph",
		Name:      "events_fetched_total",
		Help:      "Total swap events fetched from subgraph pages",
	}, []string{"version"})

	EventsParseSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "subgraph",
		Name:      "events_parse_skipped_total",
		Help:      "Total individual swap records skipped as unparseable",
	}, []string{"version"})

	RateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "subgraph",
		Name:      "rate_limit_waits_total",
		Help:      "Total times subgraph calls waited for the rate limiter",
	}, []string{"source"})

	// Deduplicator
	EventsDeduplicated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "dedup",
		Name:      "events_dropped_total",
		Help:      "Total events dropped at or before the committed cursor",
	}, []string{"version"})

	// Enricher
	EnrichmentStale = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "enricher",
		Name:      "stale_total",
		Help:      "Total events forwarded with missing or stale metadata",
	}, []string{"version"})

	EnrichmentRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "enricher",
		Name:      "refreshes_total",
		Help:      "Total metadata refresh attempts by outcome",
	}, []string{"outcome"})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total metadata cache hits",
	}, []string{"cache"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total metadata cache misses",
	}, []string{"cache"})

	// Publisher
	PublishSucceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "publisher",
		Name:      "succeeded_total",
		Help:      "Total events published to the channel",
	}, []string{"version"})

	PublishDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "publisher",
		Name:      "dropped_total",
		Help:      "Total events dropped after exhausting the publish retry budget",
	}, []string{"version"})

	PublishRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "publisher",
		Name:      "retries_total",
		Help:      "Total publish retries after transient failures",
	}, []string{"version"})

	PublishLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "relay",
		Subsystem: "publisher",
		Name:      "duration_seconds",
		Help:      "Single publish duration including retries",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"version"})

	// Pipeline-level
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Subsystem: "pipeline",
		Name:      "queue_depth",
		Help:      "Current depth of the bounded event queue",
	})

	PipelineLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "relay",
		Subsystem: "pipeline",
		Name:      "event_duration_seconds",
		Help:      "Poll-start to publish-complete duration per event",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"version"})

	ComponentHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relay",
		Subsystem: "pipeline",
		Name:      "component_healthy",
		Help:      "Per-component health (1=healthy, 0=unhealthy)",
	}, []string{"component"})
)
