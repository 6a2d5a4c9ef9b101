// Package config populates service settings from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Cache backend names accepted by CACHE_BACKEND.
const (
	CacheBackendMemory = "memory"
	CacheBackendSQLite = "sqlite"
)

// knownProviders are the chain identifiers PROVIDER_CHAIN may reference.
var knownProviders = map[string]bool{
	"nominatim": true,
	"census":    true,
	"google":    true,
	"mapbox":    true,
}

// ProviderLimits holds one provider's rate budget.
type ProviderLimits struct {
	Quota  int
	Window time.Duration
}

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Fallback chain tuning.
	ConfidenceThreshold float64
	ProviderCallTimeout time.Duration
	RequestTimeout      time.Duration
	BatchTimeout        time.Duration
	BatchConcurrency    int

	// Provider chain, cheapest first, and per-provider budgets.
	ProviderChain []string
	Limits        map[string]ProviderLimits

	// Provider credentials. Paid providers are enabled by credential
	// presence, the same way optional integrations are gated elsewhere.
	GoogleAPIKey       string
	GoogleEnabled      bool
	MapboxToken        string
	MapboxEnabled      bool
	NominatimUserAgent string

	// Cache configuration.
	CacheBackend    string
	CacheTTL        time.Duration
	CacheMaxEntries int
	CacheSQLitePath string

	// Kafka stream configuration. The stream is optional; the HTTP API
	// works without it.
	KafkaEnabled       bool
	KafkaBrokers       []string
	KafkaSourceTopic   string
	KafkaSinkTopic     string
	KafkaGroupID       string
	BatchSize          int
	BatchFlushInterval time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	callTimeout, err := parseDuration("PROVIDER_CALL_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	requestTimeout, err := parseDuration("GEOCODE_REQUEST_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	batchTimeout, err := parseDuration("BATCH_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	cacheTTL, err := parseDuration("CACHE_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	flushInterval, err := parseDuration("BATCH_FLUSH_INTERVAL", 5*time.Second)
	if err != nil {
		return nil, err
	}

	threshold, err := parseFloat("CONFIDENCE_THRESHOLD", 0.75)
	if err != nil {
		return nil, err
	}

	batchConcurrency, err := parseInt("BATCH_CONCURRENCY", 8)
	if err != nil {
		return nil, err
	}
	cacheMaxEntries, err := parseInt("CACHE_MAX_ENTRIES", 10000)
	if err != nil {
		return nil, err
	}
	batchSize, err := parseInt("BATCH_SIZE", 100)
	if err != nil {
		return nil, err
	}

	limits, err := parseLimits()
	if err != nil {
		return nil, err
	}

	googleKey := os.Getenv("GOOGLE_MAPS_API_KEY")
	googleEnabled := googleKey != ""
	if v := os.Getenv("GOOGLE_ENABLED"); v != "" {
		googleEnabled = v == "true"
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	kafkaBrokers := parseBrokers(os.Getenv("KAFKA_BROKERS"))
	kafkaEnabled := len(kafkaBrokers) > 0
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		kafkaEnabled = v == "true"
	}

	cfg := &Config{
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		ConfidenceThreshold: threshold,
		ProviderCallTimeout: callTimeout,
		RequestTimeout:      requestTimeout,
		BatchTimeout:        batchTimeout,
		BatchConcurrency:    batchConcurrency,

		ProviderChain: parseChain(envOrDefault("PROVIDER_CHAIN", "nominatim,census,google,mapbox")),
		Limits:        limits,

		GoogleAPIKey:       googleKey,
		GoogleEnabled:      googleEnabled,
		MapboxToken:        mapboxToken,
		MapboxEnabled:      mapboxEnabled,
		NominatimUserAgent: envOrDefault("NOMINATIM_USER_AGENT", "address-geocoding/1.0"),

		CacheBackend:    envOrDefault("CACHE_BACKEND", CacheBackendMemory),
		CacheTTL:        cacheTTL,
		CacheMaxEntries: cacheMaxEntries,
		CacheSQLitePath: envOrDefault("CACHE_SQLITE_PATH", "geocode-cache.db"),

		KafkaEnabled:       kafkaEnabled,
		KafkaBrokers:       kafkaBrokers,
		KafkaSourceTopic:   envOrDefault("KAFKA_SOURCE_TOPIC", "addresses-to-geocode"),
		KafkaSinkTopic:     envOrDefault("KAFKA_SINK_TOPIC", "geocoded-addresses"),
		KafkaGroupID:       envOrDefault("KAFKA_GROUP_ID", "address-geocoding"),
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,
	}

	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 {
		return nil, errors.New("CONFIDENCE_THRESHOLD must be between 0 and 1")
	}
	if len(cfg.ProviderChain) == 0 {
		return nil, errors.New("PROVIDER_CHAIN must name at least one provider")
	}
	for _, id := range cfg.ProviderChain {
		if !knownProviders[id] {
			return nil, fmt.Errorf("PROVIDER_CHAIN references unknown provider %q", id)
		}
	}
	if cfg.CacheBackend != CacheBackendMemory && cfg.CacheBackend != CacheBackendSQLite {
		return nil, fmt.Errorf("CACHE_BACKEND must be %q or %q", CacheBackendMemory, CacheBackendSQLite)
	}
	if cfg.GoogleEnabled && cfg.GoogleAPIKey == "" {
		return nil, errors.New("GOOGLE_ENABLED is true but GOOGLE_MAPS_API_KEY is not set")
	}
	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
		}
		if cfg.KafkaSourceTopic == "" {
			return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
		}
		if cfg.KafkaSinkTopic == "" {
			return nil, errors.New("KAFKA_SINK_TOPIC is required")
		}
	}

	return cfg, nil
}

// parseLimits reads per-provider quota and window env vars. Defaults stay
// well under each provider's published limits.
func parseLimits() (map[string]ProviderLimits, error) {
	defaults := map[string]ProviderLimits{
		"nominatim": {Quota: 60, Window: time.Minute},
		"census":    {Quota: 120, Window: time.Minute},
		"google":    {Quota: 3000, Window: time.Minute},
		"mapbox":    {Quota: 600, Window: time.Minute},
	}
	limits := make(map[string]ProviderLimits, len(defaults))
	for id, def := range defaults {
		prefix := strings.ToUpper(id)
		quota, err := parseInt(prefix+"_QUOTA", def.Quota)
		if err != nil {
			return nil, err
		}
		window, err := parseDuration(prefix+"_RATE_WINDOW", def.Window)
		if err != nil {
			return nil, err
		}
		limits[id] = ProviderLimits{Quota: quota, Window: window}
	}
	return limits, nil
}

func parseChain(s string) []string {
	parts := strings.Split(s, ",")
	chain := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			chain = append(chain, strings.ToLower(p))
		}
	}
	return chain
}

func parseBrokers(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func parseInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return n, nil
}

func parseFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return f, nil
}
