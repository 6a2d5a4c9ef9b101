// Package stream runs the Kafka consume-geocode-produce loop.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/address-geocoding/internal/domain"
	"github.com/couchcryptid/address-geocoding/internal/observability"
	"github.com/couchcryptid/address-geocoding/internal/pipeline"
)

// BatchExtractor reads up to batchSize raw messages from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawMessage, error)
}

// Geocoder resolves a batch of addresses through the fallback chain.
type Geocoder interface {
	ResolveBatch(ctx context.Context, reqs []domain.AddressRequest, opts pipeline.BatchOptions) []pipeline.Slot
}

// BatchLoader writes geocoded records to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, records []domain.GeocodedRecord) error
}

// Stream orchestrates the extract-geocode-load loop.
type Stream struct {
	extractor BatchExtractor
	geocoder  Geocoder
	loader    BatchLoader
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
	batchSize int
	batchOpts pipeline.BatchOptions
}

// New creates a Stream with the given stages and observability.
func New(e BatchExtractor, g Geocoder, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int, opts pipeline.BatchOptions) *Stream {
	return &Stream{
		extractor: e,
		geocoder:  g,
		loader:    l,
		logger:    logger,
		metrics:   metrics,
		batchSize: batchSize,
		batchOpts: opts,
	}
}

// CheckReadiness returns nil if the stream has processed at least one
// message, or an error describing why the service is not yet ready.
func (s *Stream) CheckReadiness(_ context.Context) error {
	if !s.ready.Load() {
		return errors.New("stream has not processed any messages yet")
	}
	return nil
}

// Run executes the batch loop until the context is cancelled.
func (s *Stream) Run(ctx context.Context) error {
	s.logger.Info("stream started", "batch_size", s.batchSize)
	s.metrics.StreamRunning.Set(1)
	defer s.metrics.StreamRunning.Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stream stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !s.processBatch(ctx, &backoff, maxBackoff) {
			return nil
		}
	}
}

// processBatch runs one extract-geocode-load cycle. Returns false if the
// stream should stop.
func (s *Stream) processBatch(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	rawBatch, err := s.extractor.ExtractBatch(ctx, s.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		s.logger.Error("extract batch failed", "error", err)
		return s.backoffOrStop(ctx, backoff, maxBackoff)
	}

	if len(rawBatch) == 0 {
		return ctx.Err() == nil
	}

	s.metrics.MessagesConsumed.Add(float64(len(rawBatch)))
	*backoff = 200 * time.Millisecond

	loaded, ok := s.geocodeAndLoad(ctx, rawBatch, backoff, maxBackoff)
	if !ok {
		return false
	}

	if loaded > 0 {
		s.ready.Store(true)
	}
	return true
}

// geocodeAndLoad parses each message, resolves the batch through the chain,
// loads the records, and commits offsets. Returns the number of loaded
// records and false if the stream should stop.
func (s *Stream) geocodeAndLoad(ctx context.Context, rawBatch []domain.RawMessage, backoff *time.Duration, maxBackoff time.Duration) (int, bool) {
	type parsed struct {
		raw    domain.RawMessage
		record domain.AddressRecord
	}

	batch := make([]parsed, 0, len(rawBatch))
	for _, raw := range rawBatch {
		var record domain.AddressRecord
		if err := json.Unmarshal(raw.Value, &record); err != nil {
			s.logger.Warn("malformed record, skipping message",
				"error", err,
				"topic", raw.Topic,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			s.metrics.RecordErrors.Inc()
			s.commitOffset(ctx, raw)
			continue
		}
		batch = append(batch, parsed{raw: raw, record: record})
	}

	if len(batch) == 0 {
		return 0, true
	}

	reqs := make([]domain.AddressRequest, len(batch))
	for i, p := range batch {
		reqs[i] = p.record.Request()
	}

	slots := s.geocoder.ResolveBatch(ctx, reqs, s.batchOpts)
	if ctx.Err() != nil {
		return 0, false
	}

	records := make([]domain.GeocodedRecord, len(slots))
	for i, slot := range slots {
		records[i] = domain.GeocodedRecord{ID: batch[i].record.ID, Result: slot.Result}
		if slot.Err != nil {
			records[i].Error = slot.Err.Error()
			s.metrics.RecordErrors.Inc()
		}
	}

	if err := s.loader.LoadBatch(ctx, records); err != nil {
		s.logger.Error("load batch failed", "error", err, "batch_size", len(records))
		return 0, s.backoffOrStop(ctx, backoff, maxBackoff)
	}

	s.metrics.MessagesProduced.Add(float64(len(records)))

	for _, p := range batch {
		s.commitOffset(ctx, p.raw)
	}

	return len(records), true
}

// backoffOrStop checks for context cancellation, sleeps with the current
// backoff, and advances the backoff. Returns false if the stream should stop.
func (s *Stream) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (s *Stream) commitOffset(ctx context.Context, raw domain.RawMessage) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		s.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
