package stream_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/address-geocoding/internal/domain"
	"github.com/couchcryptid/address-geocoding/internal/observability"
	"github.com/couchcryptid/address-geocoding/internal/pipeline"
	"github.com/couchcryptid/address-geocoding/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockExtractor struct {
	batches [][]domain.RawMessage
	index   atomic.Int64
	err     error
}

func (m *mockExtractor) ExtractBatch(ctx context.Context, _ int) ([]domain.RawMessage, error) {
	if m.err != nil {
		return nil, m.err
	}
	i := int(m.index.Add(1) - 1)
	if i >= len(m.batches) {
		// Block until cancellation to simulate waiting for messages.
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m.batches[i], nil
}

type mockGeocoder struct {
	err error
}

func (m *mockGeocoder) ResolveBatch(_ context.Context, reqs []domain.AddressRequest, _ pipeline.BatchOptions) []pipeline.Slot {
	slots := make([]pipeline.Slot, len(reqs))
	for i, req := range reqs {
		slots[i] = pipeline.Slot{Index: i, Request: req}
		if m.err != nil {
			slots[i].Err = m.err
			continue
		}
		slots[i].Result = &domain.GeocodeResult{
			Latitude: 41.88, Longitude: -87.63,
			Confidence: 0.98, Provider: "google",
		}
	}
	return slots
}

type mockLoader struct {
	mu     sync.Mutex
	loaded []domain.GeocodedRecord
	err    error
}

func (m *mockLoader) LoadBatch(_ context.Context, records []domain.GeocodedRecord) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = append(m.loaded, records...)
	return nil
}

func (m *mockLoader) all() []domain.GeocodedRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.GeocodedRecord(nil), m.loaded...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func makeRawMessage(t *testing.T, record domain.AddressRecord) domain.RawMessage {
	t.Helper()
	value, err := json.Marshal(record)
	require.NoError(t, err)
	return domain.RawMessage{
		Key:   []byte(record.ID),
		Value: value,
		Topic: "addresses-to-geocode",
	}
}

func newTestStream(e stream.BatchExtractor, g stream.Geocoder, l stream.BatchLoader) *stream.Stream {
	return stream.New(e, g, l, testLogger(), observability.NewMetricsForTesting(), 10, pipeline.BatchOptions{Concurrency: 2})
}

// --- tests ---

func TestStream_Run_HappyPath(t *testing.T) {
	raw := makeRawMessage(t, domain.AddressRecord{ID: "addr-1", Street: "227 W Monroe St", City: "Chicago"})

	ext := &mockExtractor{batches: [][]domain.RawMessage{{raw}}}
	ldr := &mockLoader{}
	s := newTestStream(ext, &mockGeocoder{}, ldr)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	require.NoError(t, s.Run(ctx))

	loaded := ldr.all()
	require.Len(t, loaded, 1)
	assert.Equal(t, "addr-1", loaded[0].ID)
	require.NotNil(t, loaded[0].Result)
	assert.Equal(t, "google", loaded[0].Result.Provider)
	assert.NoError(t, s.CheckReadiness(context.Background()))
}

func TestStream_Run_ContextCancellation(t *testing.T) {
	ext := &mockExtractor{} // no batches, blocks
	ldr := &mockLoader{}
	s := newTestStream(ext, &mockGeocoder{}, ldr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, s.Run(ctx))
	assert.Empty(t, ldr.all())
	assert.Error(t, s.CheckReadiness(context.Background()))
}

func TestStream_Run_MalformedRecordSkippedAndCommitted(t *testing.T) {
	var committed atomic.Bool
	bad := domain.RawMessage{
		Key:   []byte("bad"),
		Value: []byte("not json"),
		Topic: "addresses-to-geocode",
		Commit: func(_ context.Context) error {
			committed.Store(true)
			return nil
		},
	}
	good := makeRawMessage(t, domain.AddressRecord{ID: "addr-1", City: "Chicago"})

	ext := &mockExtractor{batches: [][]domain.RawMessage{{bad, good}}}
	ldr := &mockLoader{}
	s := newTestStream(ext, &mockGeocoder{}, ldr)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	require.NoError(t, s.Run(ctx))

	loaded := ldr.all()
	require.Len(t, loaded, 1, "malformed record must not reach the sink")
	assert.Equal(t, "addr-1", loaded[0].ID)
	assert.True(t, committed.Load(), "malformed record offset must still be committed")
}

func TestStream_Run_FailedResolutionsStillProduced(t *testing.T) {
	raw := makeRawMessage(t, domain.AddressRecord{ID: "addr-1", City: "Chicago"})

	ext := &mockExtractor{batches: [][]domain.RawMessage{{raw}}}
	ldr := &mockLoader{}
	s := newTestStream(ext, &mockGeocoder{err: domain.ErrExhausted}, ldr)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	require.NoError(t, s.Run(ctx))

	loaded := ldr.all()
	require.Len(t, loaded, 1)
	assert.Nil(t, loaded[0].Result)
	assert.Contains(t, loaded[0].Error, "exhausted")
}

func TestStream_Run_CommitsAfterLoad(t *testing.T) {
	var commits atomic.Int64
	raw := makeRawMessage(t, domain.AddressRecord{ID: "addr-1", City: "Chicago"})
	raw.Commit = func(_ context.Context) error {
		commits.Add(1)
		return nil
	}

	ext := &mockExtractor{batches: [][]domain.RawMessage{{raw}}}
	ldr := &mockLoader{}
	s := newTestStream(ext, &mockGeocoder{}, ldr)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, int64(1), commits.Load())
}

func TestStream_Run_LoadFailureDoesNotCommit(t *testing.T) {
	var commits atomic.Int64
	raw := makeRawMessage(t, domain.AddressRecord{ID: "addr-1", City: "Chicago"})
	raw.Commit = func(_ context.Context) error {
		commits.Add(1)
		return nil
	}

	ext := &mockExtractor{batches: [][]domain.RawMessage{{raw}}}
	ldr := &mockLoader{err: errors.New("broker unavailable")}
	s := newTestStream(ext, &mockGeocoder{}, ldr)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, int64(0), commits.Load(), "offsets must not advance past unloaded records")
	assert.Error(t, s.CheckReadiness(context.Background()))
}
