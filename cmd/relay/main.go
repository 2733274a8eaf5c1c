package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/pwmpw/uniswap-relay/internal/config"
	"github.com/pwmpw/uniswap-relay/internal/domain/model"
	"github.com/pwmpw/uniswap-relay/internal/metrics"
	"github.com/pwmpw/uniswap-relay/internal/pipeline"
	"github.com/pwmpw/uniswap-relay/internal/pipeline/dedup"
	"github.com/pwmpw/uniswap-relay/internal/pipeline/enricher"
	"github.com/pwmpw/uniswap-relay/internal/pipeline/poller"
	"github.com/pwmpw/uniswap-relay/internal/pipeline/publisher"
	"github.com/pwmpw/uniswap-relay/internal/retry"
	"github.com/pwmpw/uniswap-relay/internal/source"
	"github.com/pwmpw/uniswap-relay/internal/source/graphql"
	"github.com/pwmpw/uniswap-relay/internal/source/ratelimit"
	"github.com/pwmpw/uniswap-relay/internal/store"
	"github.com/pwmpw/uniswap-relay/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting uniswap-relay",
		"v2_subgraph", cfg.Subgraph.V2URL,
		"v3_subgraph", cfg.Subgraph.V3URL,
		"poll_interval", cfg.Subgraph.PollInterval.String(),
		"page_size", cfg.Subgraph.PageSize,
		"redis_channel", cfg.Redis.Channel,
	)

	shutdownTracing, err := tracing.Init(context.Background(), "uniswap-relay", cfg.Tracing.Endpoint, cfg.Tracing.Insecure)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	// Redis backs both the publisher channel and cursor persistence.
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Error("invalid redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	cancelPing()
	logger.Info("connected to redis")

	collector := metrics.NewCollector()
	health := pipeline.NewHealthMonitor(cfg.Pipeline.DegradedAfter, logger)
	cursorStore := store.NewRedisStoreWithClient(redisClient, cfg.Redis.KeyPrefix, logger)

	gqlClient := graphql.NewClient(cfg.Subgraph.RequestTimeout, logger)
	sources := make(map[model.Version]source.SwapSource, 2)
	if cfg.Subgraph.V2URL != "" {
		sources[model.VersionV2] = source.NewV2Source(gqlClient, cfg.Subgraph.V2URL, logger)
	}
	if cfg.Subgraph.V3URL != "" {
		sources[model.VersionV3] = source.NewV3Source(gqlClient, cfg.Subgraph.V3URL, logger)
	}

	pollPolicy := retry.Policy{
		Initial:     cfg.Retry.InitialBackoff,
		Max:         cfg.Retry.MaxBackoff,
		Multiplier:  cfg.Retry.Multiplier,
		Jitter:      cfg.Retry.Jitter,
		MaxAttempts: cfg.Retry.MaxAttempts,
	}
	publishPolicy := pollPolicy
	publishPolicy.MaxAttempts = cfg.Redis.PublishAttempts

	enr := enricher.New(enricher.Config{
		CacheSize:   cfg.Enricher.CacheSize,
		CacheTTL:    cfg.Enricher.CacheTTL,
		RefreshWait: cfg.Enricher.RefreshWait,
	}, sources, collector, logger)

	pub := publisher.New(redisClient, cfg.Redis.Channel, publishPolicy, collector, logger)

	health.RegisterProbe("publisher_connection", pub.Connected)
	health.RegisterProbe("enricher_staleness", func() bool {
		return enr.StaleRatio() <= pipeline.DefaultStaleRatioLimit
	})

	pipe := pipeline.New(cfg.Pipeline.QueueSize, enr, pub, collector, health, logger)

	// Restore committed cursors so a restart resumes instead of re-reading
	// the whole window.
	dd := dedup.New(collector)
	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 5*time.Second)
	for version := range sources {
		cursor, ok, err := cursorStore.Load(loadCtx, version)
		if err != nil {
			cancelLoad()
			logger.Error("failed to load cursor", "version", version.String(), "error", err)
			os.Exit(1)
		}
		if ok {
			dd.Restore(version, cursor)
			logger.Info("restored cursor", "version", version.String(), "cursor", cursor.String())
		}
	}
	cancelLoad()

	limiter := ratelimit.NewLimiter(
		cfg.Subgraph.RateLimitRPS,
		cfg.Subgraph.RateLimitBurst,
		cfg.Subgraph.RateMaxWait,
		"subgraph",
	)

	pollerCfg := poller.Config{
		Interval:      cfg.Subgraph.PollInterval,
		PageSize:      cfg.Subgraph.PageSize,
		Policy:        pollPolicy,
		DegradedAfter: cfg.Pipeline.DegradedAfter,
	}
	pollers := make([]*poller.Poller, 0, len(sources))
	for _, src := range sources {
		pollers = append(pollers, poller.New(src, limiter, dd, cursorStore, pipe.Queue(), health, collector, pollerCfg, logger))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runHealthServer(gCtx, cfg.Server.HealthPort, health, collector, logger)
	})

	g.Go(func() error {
		return pipe.Run(gCtx)
	})

	for _, p := range pollers {
		p := p
		g.Go(func() error {
			return p.Run(gCtx)
		})
	}

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig.String())
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("relay exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("relay shut down gracefully")
}

func runHealthServer(ctx context.Context, port int, health *pipeline.HealthMonitor, collector *metrics.Collector, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		snapshot := health.Snapshot()
		status := http.StatusOK
		if !snapshot.Healthy {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		payload := struct {
			pipeline.HealthSnapshot
			Metrics metrics.Snapshot `json:"metrics"`
		}{
			HealthSnapshot: snapshot,
			Metrics:        collector.Snapshot(),
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			logger.Warn("failed to write health response", "error", err)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("health server shutdown error", "error", err)
		}
	}()

	logger.Info("health server started", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}
