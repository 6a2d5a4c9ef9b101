// Package pipeline implements the fallback geocoding chain: cache lookup,
// providers in cost order, calibrated confidence scoring, and write-through
// caching of resolved results.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/address-geocoding/internal/cache"
	"github.com/couchcryptid/address-geocoding/internal/domain"
	"github.com/couchcryptid/address-geocoding/internal/observability"
	"github.com/couchcryptid/address-geocoding/internal/scoring"
	"github.com/jonboulle/clockwork"
	"github.com/uber/h3-go/v4"
)

// h3Resolution buckets resolved points into cells roughly the size of a
// city block, fine enough for dedup and coarse enough for aggregation.
const h3Resolution = 9

// Resolver walks the provider chain for single addresses.
type Resolver struct {
	chain          []ChainEntry
	store          cache.Store
	threshold      float64
	callTimeout    time.Duration
	requestTimeout time.Duration
	cacheTTL       time.Duration
	waitForQuota   bool
	logger         *slog.Logger
	metrics        *observability.Metrics
	clock          clockwork.Clock
}

// ResolverOptions carries the tunables for a Resolver.
type ResolverOptions struct {
	Threshold      float64
	CallTimeout    time.Duration
	RequestTimeout time.Duration
	CacheTTL       time.Duration

	// WaitForQuota makes an over-quota provider block until its window
	// refills instead of being skipped. Batch jobs set it to keep traffic
	// on the cheap providers; the serving path leaves it off.
	WaitForQuota bool
}

// NewResolver wires the chain, cache and scoring into a resolver.
func NewResolver(chain []ChainEntry, store cache.Store, opts ResolverOptions, logger *slog.Logger, metrics *observability.Metrics, clock clockwork.Clock) *Resolver {
	metrics.ActiveProviders.Set(float64(len(chain)))
	return &Resolver{
		chain:          chain,
		store:          store,
		threshold:      opts.Threshold,
		callTimeout:    opts.CallTimeout,
		requestTimeout: opts.RequestTimeout,
		cacheTTL:       opts.CacheTTL,
		waitForQuota:   opts.WaitForQuota,
		logger:         logger,
		metrics:        metrics,
		clock:          clock,
	}
}

// Providers describes the active chain in priority order.
func (r *Resolver) Providers() []ProviderStatus {
	statuses := make([]ProviderStatus, 0, len(r.chain))
	for _, e := range r.chain {
		statuses = append(statuses, ProviderStatus{
			ID:        e.spec.ID,
			Priority:  e.spec.Priority,
			CostClass: e.spec.CostClass,
			Quota:     e.spec.Quota,
			WindowSec: e.spec.Window.Seconds(),
			Available: e.limiter.Available(),
		})
	}
	return statuses
}

// Resolve geocodes a single address through the cache and the provider
// chain. It returns the first result whose calibrated confidence meets the
// threshold; if no provider reaches it, the best candidate seen is returned
// instead. The request timeout cuts the chain short but never discards a
// candidate already in hand. When every provider fails or is skipped without
// producing a candidate, the error wraps domain.ErrExhausted.
func (r *Resolver) Resolve(ctx context.Context, req domain.AddressRequest) (domain.GeocodeResult, error) {
	key, err := req.CacheKey()
	if err != nil {
		r.metrics.Resolutions.WithLabelValues("invalid").Inc()
		return domain.GeocodeResult{}, err
	}

	if r.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.requestTimeout)
		defer cancel()
	}

	if cached, ok := r.lookupCache(ctx, key); ok {
		r.metrics.Resolutions.WithLabelValues("cache_hit").Inc()
		return cached, nil
	}

	var (
		best    domain.GeocodeResult
		hasBest bool
	)
	for _, entry := range r.chain {
		result, ok := r.tryProvider(ctx, entry, req)
		if !ok {
			// The request deadline stops the chain, but a candidate
			// already in hand still counts below.
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if result.Confidence >= r.threshold {
			r.metrics.Resolutions.WithLabelValues("accepted").Inc()
			r.writeCache(ctx, key, result)
			return result, nil
		}

		r.logger.Debug("candidate below threshold",
			"provider", entry.spec.ID,
			"confidence", result.Confidence,
			"threshold", r.threshold)
		if !hasBest || result.Confidence > best.Confidence {
			best = result
			hasBest = true
		}
		r.metrics.Escalations.Inc()
	}

	if hasBest {
		r.metrics.Resolutions.WithLabelValues("best_effort").Inc()
		r.writeCache(ctx, key, best)
		return best, nil
	}

	r.metrics.Resolutions.WithLabelValues("exhausted").Inc()
	return domain.GeocodeResult{}, fmt.Errorf("no provider resolved address: %w", domain.ErrExhausted)
}

// tryProvider runs one chain entry: rate limit, call, score, stamp. A false
// return means the entry produced no candidate and the chain should move on.
func (r *Resolver) tryProvider(ctx context.Context, entry ChainEntry, req domain.AddressRequest) (domain.GeocodeResult, bool) {
	id := entry.spec.ID

	// A provider over quota is normally skipped, not waited on; the next
	// provider in the chain is likely cheaper than the latency of a full
	// window. Batch mode waits out the window instead.
	if r.waitForQuota {
		if err := entry.limiter.Acquire(ctx); err != nil {
			r.metrics.ProviderRequests.WithLabelValues(id, "rate_limited").Inc()
			r.logger.Warn("provider quota wait aborted", "provider", id, "error", err)
			r.metrics.Escalations.Inc()
			return domain.GeocodeResult{}, false
		}
	} else if !entry.limiter.TryAcquire() {
		r.metrics.ProviderRequests.WithLabelValues(id, "rate_limited").Inc()
		r.logger.Warn("provider quota exhausted, escalating", "provider", id)
		r.metrics.Escalations.Inc()
		return domain.GeocodeResult{}, false
	}

	callCtx := ctx
	if r.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
	}

	start := r.clock.Now()
	result, err := entry.client.Geocode(callCtx, req)
	r.metrics.ProviderDuration.WithLabelValues(id).Observe(r.clock.Since(start).Seconds())

	if err != nil {
		outcome := "error"
		if pe, ok := domain.AsProviderError(err); ok {
			outcome = string(pe.Kind)
		}
		r.metrics.ProviderRequests.WithLabelValues(id, outcome).Inc()
		r.logger.Warn("provider call failed, escalating",
			"provider", id, "outcome", outcome, "error", err)
		r.metrics.Escalations.Inc()
		return domain.GeocodeResult{}, false
	}

	r.metrics.ProviderRequests.WithLabelValues(id, "success").Inc()

	result.Provider = id
	result.Confidence = scoring.Score(id, result)
	result.ResolvedAt = r.clock.Now().UTC()
	if result.HasCoordinates() {
		if cell, err := h3.LatLngToCell(h3.NewLatLng(result.Latitude, result.Longitude), h3Resolution); err == nil {
			result.H3Cell = cell.String()
		}
	}
	return result, true
}

// lookupCache reads the store, treating any failure as a miss.
func (r *Resolver) lookupCache(ctx context.Context, key string) (domain.GeocodeResult, bool) {
	result, hit, err := r.store.Get(ctx, key)
	if err != nil {
		r.metrics.CacheLookups.WithLabelValues("error").Inc()
		r.logger.Warn("cache lookup failed", "error", err)
		return domain.GeocodeResult{}, false
	}
	if !hit {
		r.metrics.CacheLookups.WithLabelValues("miss").Inc()
		return domain.GeocodeResult{}, false
	}
	r.metrics.CacheLookups.WithLabelValues("hit").Inc()
	result.FromCache = true
	return result, true
}

// writeCache persists a resolved result. The write runs on a detached
// context so it still lands when the request deadline has already expired.
// Failures are logged and ignored; the caller already has the result in hand.
func (r *Resolver) writeCache(ctx context.Context, key string, result domain.GeocodeResult) {
	if err := r.store.Put(context.WithoutCancel(ctx), key, result, r.cacheTTL); err != nil {
		r.logger.Warn("cache write failed", "error", err)
	}
}
