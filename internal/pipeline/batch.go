package pipeline

import (
	"context"
	"time"

	"github.com/couchcryptid/address-geocoding/internal/domain"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// BatchOptions bounds a batch resolution run.
type BatchOptions struct {
	// Concurrency caps the number of in-flight chain walks. Zero means 1.
	Concurrency int

	// Timeout bounds the whole batch. Zero means no batch-level deadline.
	Timeout time.Duration
}

// Slot is one position in a batch: the input request plus its outcome.
// Result is nil exactly when Err is set.
type Slot struct {
	Index   int                   `json:"index"`
	Request domain.AddressRequest `json:"request"`
	Result  *domain.GeocodeResult `json:"result,omitempty"`
	Err     error                 `json:"-"`
}

// ResolveBatch geocodes a set of addresses concurrently. Duplicate
// addresses (same normalized form) are resolved once and the result fanned
// out to every slot that asked for them. The returned slice preserves input
// order, one slot per request, regardless of individual outcomes.
func (r *Resolver) ResolveBatch(ctx context.Context, reqs []domain.AddressRequest, opts BatchOptions) []Slot {
	batchID := uuid.NewString()
	start := r.clock.Now()
	r.metrics.BatchSize.Observe(float64(len(reqs)))
	r.logger.Info("batch started", "batch_id", batchID, "size", len(reqs))

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	slots := make([]Slot, len(reqs))

	// Group slot indexes by cache key so each unique address is resolved
	// once. Requests that fail validation are settled here and never
	// reach the chain.
	groups := make(map[string][]int, len(reqs))
	for i, req := range reqs {
		slots[i] = Slot{Index: i, Request: req}
		key, err := req.CacheKey()
		if err != nil {
			slots[i].Err = err
			r.metrics.Resolutions.WithLabelValues("invalid").Inc()
			continue
		}
		groups[key] = append(groups[key], i)
	}

	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, indexes := range groups {
		indexes := indexes
		g.Go(func() error {
			// Each goroutine owns a disjoint set of slots, so no
			// locking is needed around the writes below.
			result, err := r.Resolve(gctx, slots[indexes[0]].Request)
			for _, i := range indexes {
				if err != nil {
					slots[i].Err = err
					continue
				}
				res := result
				slots[i].Result = &res
			}
			return nil
		})
	}
	// Workers never return errors; outcomes live in the slots.
	_ = g.Wait()

	resolved := 0
	for i := range slots {
		if slots[i].Result != nil {
			resolved++
		}
	}
	r.metrics.BatchDuration.Observe(r.clock.Since(start).Seconds())
	r.logger.Info("batch finished",
		"batch_id", batchID,
		"size", len(reqs),
		"resolved", resolved,
		"unique", len(groups),
		"duration", r.clock.Since(start))
	return slots
}
