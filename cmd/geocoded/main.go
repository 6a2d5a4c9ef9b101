// Command geocoded runs the address geocoding service: an HTTP API backed
// by the fallback provider chain, plus an optional Kafka stream.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	httpadapter "github.com/couchcryptid/address-geocoding/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/address-geocoding/internal/adapter/kafka"
	"github.com/couchcryptid/address-geocoding/internal/cache"
	"github.com/couchcryptid/address-geocoding/internal/config"
	"github.com/couchcryptid/address-geocoding/internal/domain"
	"github.com/couchcryptid/address-geocoding/internal/observability"
	"github.com/couchcryptid/address-geocoding/internal/pipeline"
	"github.com/couchcryptid/address-geocoding/internal/provider/census"
	"github.com/couchcryptid/address-geocoding/internal/provider/google"
	"github.com/couchcryptid/address-geocoding/internal/provider/mapbox"
	"github.com/couchcryptid/address-geocoding/internal/provider/nominatim"
	"github.com/couchcryptid/address-geocoding/internal/stream"
)

// alwaysReady satisfies the readiness check when the Kafka stream is off
// and the HTTP API alone defines liveness.
type alwaysReady struct{}

func (alwaysReady) CheckReadiness(_ context.Context) error { return nil }

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	store, cleanup, err := buildStore(cfg, clock, logger)
	if err != nil {
		logger.Error("failed to open cache", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	chain := buildChain(cfg, clock, logger)
	if len(chain) == 0 {
		logger.Error("no providers enabled; check PROVIDER_CHAIN and credentials")
		os.Exit(1)
	}

	resolver := pipeline.NewResolver(chain, store, pipeline.ResolverOptions{
		Threshold:      cfg.ConfidenceThreshold,
		CallTimeout:    cfg.ProviderCallTimeout,
		RequestTimeout: cfg.RequestTimeout,
		CacheTTL:       cfg.CacheTTL,
	}, logger, metrics, clock)

	batchOpts := pipeline.BatchOptions{
		Concurrency: cfg.BatchConcurrency,
		Timeout:     cfg.BatchTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var ready httpadapter.ReadinessChecker = alwaysReady{}
	var reader *kafkaadapter.Reader
	var writer *kafkaadapter.Writer

	if cfg.KafkaEnabled {
		reader = kafkaadapter.NewReader(cfg, logger)
		writer = kafkaadapter.NewWriter(cfg, logger)
		s := stream.New(reader, resolver, writer, logger, metrics, cfg.BatchSize, batchOpts)
		ready = s

		go func() {
			if err := s.Run(ctx); err != nil {
				logger.Error("stream error", "error", err)
			}
		}()
		logger.Info("kafka stream enabled",
			"source_topic", cfg.KafkaSourceTopic,
			"sink_topic", cfg.KafkaSinkTopic,
			"batch_size", cfg.BatchSize)
	} else {
		logger.Info("kafka stream disabled")
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, resolver, ready, batchOpts, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if reader != nil {
		if err := reader.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

// buildStore opens the configured cache backend. The cleanup closes any
// underlying handle.
func buildStore(cfg *config.Config, clock clockwork.Clock, logger *slog.Logger) (cache.Store, func(), error) {
	switch cfg.CacheBackend {
	case config.CacheBackendSQLite:
		store, err := cache.NewSQLite(cfg.CacheSQLitePath, clock)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("sqlite cache enabled", "path", cfg.CacheSQLitePath, "ttl", cfg.CacheTTL)
		return store, func() { _ = store.Close() }, nil
	default:
		logger.Info("in-memory cache enabled", "max_entries", cfg.CacheMaxEntries, "ttl", cfg.CacheTTL)
		return cache.NewMemory(cfg.CacheMaxEntries, clock), func() {}, nil
	}
}

// buildChain assembles provider clients and specs in configured order.
// Paid providers are feature-flagged by credential presence.
func buildChain(cfg *config.Config, clock clockwork.Clock, logger *slog.Logger) []pipeline.ChainEntry {
	timeout := cfg.ProviderCallTimeout
	clients := map[string]domain.Provider{
		"nominatim": nominatim.NewClient("", cfg.NominatimUserAgent, timeout, logger),
		"census":    census.NewClient("", timeout, logger),
	}
	if cfg.GoogleEnabled {
		clients["google"] = google.NewClient(cfg.GoogleAPIKey, "", timeout, logger)
	}
	if cfg.MapboxEnabled {
		clients["mapbox"] = mapbox.NewClient(cfg.MapboxToken, "", timeout, logger)
	}

	specs := make([]pipeline.ProviderSpec, 0, len(cfg.ProviderChain))
	for i, id := range cfg.ProviderChain {
		limits := cfg.Limits[id]
		spec := pipeline.ProviderSpec{
			ID:        id,
			Priority:  i,
			Quota:     limits.Quota,
			Window:    limits.Window,
			CostClass: "free",
			Enabled:   true,
		}
		switch id {
		case "google":
			spec.CostClass = "paid"
			spec.RequiresCredential = true
			spec.CredentialPresent = cfg.GoogleEnabled
		case "mapbox":
			spec.CostClass = "paid"
			spec.RequiresCredential = true
			spec.CredentialPresent = cfg.MapboxEnabled
		}
		specs = append(specs, spec)
	}

	chain := pipeline.NewChain(specs, clients, clock)
	for _, e := range chain {
		logger.Info("provider enabled", "provider", e.Spec().ID,
			"priority", e.Spec().Priority,
			"quota", e.Spec().Quota,
			"window", e.Spec().Window,
			"cost_class", e.Spec().CostClass)
	}
	return chain
}
