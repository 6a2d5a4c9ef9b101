package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/address-geocoding/internal/cache"
	"github.com/couchcryptid/address-geocoding/internal/domain"
	"github.com/couchcryptid/address-geocoding/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProvider returns a canned result or error and counts its calls.
type stubProvider struct {
	id     string
	result domain.GeocodeResult
	err    error
	calls  atomic.Int64
}

func (s *stubProvider) ID() string { return s.id }

func (s *stubProvider) Geocode(_ context.Context, _ domain.AddressRequest) (domain.GeocodeResult, error) {
	s.calls.Add(1)
	if s.err != nil {
		return domain.GeocodeResult{}, s.err
	}
	return s.result, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSpec(id string, priority int) ProviderSpec {
	return ProviderSpec{
		ID:       id,
		Priority: priority,
		Quota:    100,
		Window:   time.Minute,
		Enabled:  true,
	}
}

func newTestResolver(t *testing.T, clock clockwork.Clock, threshold float64, providers ...*stubProvider) *Resolver {
	t.Helper()
	specs := make([]ProviderSpec, 0, len(providers))
	clients := make(map[string]domain.Provider, len(providers))
	for i, p := range providers {
		specs = append(specs, testSpec(p.id, i))
		clients[p.id] = p
	}
	chain := NewChain(specs, clients, clock)
	store := cache.NewMemory(100, clock)
	return NewResolver(chain, store, ResolverOptions{
		Threshold:   threshold,
		CallTimeout: time.Second,
		CacheTTL:    time.Hour,
	}, discardLogger(), observability.NewMetricsForTesting(), clock)
}

var testAddress = domain.AddressRequest{
	Street: "227 W Monroe St", City: "Chicago", Region: "IL", PostalCode: "60606", Country: "US",
}

func TestResolve_FirstProviderAboveThresholdShortCircuits(t *testing.T) {
	clock := clockwork.NewFakeClock()
	first := &stubProvider{id: "google", result: domain.GeocodeResult{
		Latitude: 41.88, Longitude: -87.63, Quality: "ROOFTOP",
	}}
	second := &stubProvider{id: "mapbox", result: domain.GeocodeResult{
		Latitude: 41.88, Longitude: -87.63, Relevance: 0.99,
	}}
	r := newTestResolver(t, clock, 0.75, first, second)

	res, err := r.Resolve(context.Background(), testAddress)
	require.NoError(t, err)
	assert.Equal(t, "google", res.Provider)
	assert.GreaterOrEqual(t, res.Confidence, 0.75)
	assert.Equal(t, int64(1), first.calls.Load())
	assert.Equal(t, int64(0), second.calls.Load(), "chain must not continue past an accepted result")
}

func TestResolve_SoftErrorEscalatesToNextProvider(t *testing.T) {
	clock := clockwork.NewFakeClock()
	first := &stubProvider{id: "nominatim", err: domain.NewProviderError("nominatim", domain.ErrKindUnavailable, errors.New("503"))}
	second := &stubProvider{id: "google", result: domain.GeocodeResult{
		Latitude: 41.88, Longitude: -87.63, Quality: "ROOFTOP",
	}}
	r := newTestResolver(t, clock, 0.75, first, second)

	res, err := r.Resolve(context.Background(), testAddress)
	require.NoError(t, err)
	assert.Equal(t, "google", res.Provider)
	assert.Equal(t, int64(1), first.calls.Load())
}

func TestResolve_LowConfidenceEscalatesAndSecondWins(t *testing.T) {
	clock := clockwork.NewFakeClock()
	// town scores 0.50; Exact scores 0.90.
	first := &stubProvider{id: "nominatim", result: domain.GeocodeResult{
		Latitude: 41.0, Longitude: -87.0, Quality: "town",
	}}
	second := &stubProvider{id: "census", result: domain.GeocodeResult{
		Latitude: 41.8789, Longitude: -87.6359, Quality: "Exact",
		Admin: domain.AdminCodes{StateCode: "17", CountyCode: "17031"},
	}}
	r := newTestResolver(t, clock, 0.75, first, second)

	res, err := r.Resolve(context.Background(), testAddress)
	require.NoError(t, err)
	assert.Equal(t, "census", res.Provider)
	assert.InDelta(t, 0.90, res.Confidence, 0.001)
	assert.InDelta(t, 41.8789, res.Latitude, 0.0001)
	assert.Equal(t, "17031", res.Admin.CountyCode)
	assert.Equal(t, int64(1), first.calls.Load())
	assert.Equal(t, int64(1), second.calls.Load())
}

func TestResolve_BestEffortBelowThreshold(t *testing.T) {
	clock := clockwork.NewFakeClock()
	// APPROXIMATE scores 0.50, GEOMETRIC_CENTER 0.75; threshold 0.90 rejects both.
	first := &stubProvider{id: "google", result: domain.GeocodeResult{
		Latitude: 41.0, Longitude: -87.0, Quality: "APPROXIMATE",
	}}
	second := &stubProvider{id: "mapbox", result: domain.GeocodeResult{
		Latitude: 41.88, Longitude: -87.63, Relevance: 0.75,
	}}
	r := newTestResolver(t, clock, 0.90, first, second)

	res, err := r.Resolve(context.Background(), testAddress)
	require.NoError(t, err)
	assert.Equal(t, "mapbox", res.Provider, "highest-confidence candidate wins")
	assert.InDelta(t, 0.75, res.Confidence, 0.001)
	assert.Less(t, res.Confidence, 0.90)
}

func TestResolve_AllProvidersFailIsExhausted(t *testing.T) {
	clock := clockwork.NewFakeClock()
	first := &stubProvider{id: "nominatim", err: domain.NewProviderError("nominatim", domain.ErrKindNotFound, nil)}
	second := &stubProvider{id: "census", err: domain.NewProviderError("census", domain.ErrKindTimeout, context.DeadlineExceeded)}
	r := newTestResolver(t, clock, 0.75, first, second)

	_, err := r.Resolve(context.Background(), testAddress)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrExhausted)
}

func TestResolve_EmptyChainIsExhausted(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := newTestResolver(t, clock, 0.75)

	_, err := r.Resolve(context.Background(), testAddress)
	assert.ErrorIs(t, err, domain.ErrExhausted)
}

func TestResolve_CacheHitSkipsProviders(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := &stubProvider{id: "google", result: domain.GeocodeResult{
		Latitude: 41.88, Longitude: -87.63, Quality: "ROOFTOP",
	}}
	r := newTestResolver(t, clock, 0.75, p)

	first, err := r.Resolve(context.Background(), testAddress)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := r.Resolve(context.Background(), testAddress)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Latitude, second.Latitude)
	assert.Equal(t, int64(1), p.calls.Load(), "second resolve must be served from cache")
}

func TestResolve_BestEffortResultIsCached(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := &stubProvider{id: "google", result: domain.GeocodeResult{
		Latitude: 41.0, Longitude: -87.0, Quality: "APPROXIMATE",
	}}
	r := newTestResolver(t, clock, 0.90, p)

	_, err := r.Resolve(context.Background(), testAddress)
	require.NoError(t, err)

	res, err := r.Resolve(context.Background(), testAddress)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, int64(1), p.calls.Load())
}

func TestResolve_ExhaustedIsNeverCached(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := &stubProvider{id: "google", err: domain.NewProviderError("google", domain.ErrKindUnavailable, errors.New("503"))}
	r := newTestResolver(t, clock, 0.75, p)

	_, err := r.Resolve(context.Background(), testAddress)
	assert.ErrorIs(t, err, domain.ErrExhausted)

	_, err = r.Resolve(context.Background(), testAddress)
	assert.ErrorIs(t, err, domain.ErrExhausted)
	assert.Equal(t, int64(2), p.calls.Load(), "failed resolutions must retry providers")
}

func TestResolve_InvalidAddressNeverReachesChain(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := &stubProvider{id: "google", result: domain.GeocodeResult{Latitude: 1, Longitude: 1}}
	r := newTestResolver(t, clock, 0.75, p)

	_, err := r.Resolve(context.Background(), domain.AddressRequest{})
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)
	assert.Equal(t, int64(0), p.calls.Load())
}

func TestResolve_StampsH3CellAndProvenance(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := &stubProvider{id: "google", result: domain.GeocodeResult{
		Latitude: 41.8807, Longitude: -87.6348, Quality: "ROOFTOP",
	}}
	r := newTestResolver(t, clock, 0.75, p)

	res, err := r.Resolve(context.Background(), testAddress)
	require.NoError(t, err)
	assert.NotEmpty(t, res.H3Cell)
	assert.Equal(t, "google", res.Provider)
	assert.False(t, res.ResolvedAt.IsZero())
}

func TestResolve_RateLimitedProviderIsSkipped(t *testing.T) {
	clock := clockwork.NewFakeClock()
	first := &stubProvider{id: "nominatim", result: domain.GeocodeResult{
		Latitude: 41.88, Longitude: -87.63, Quality: "house",
	}}
	second := &stubProvider{id: "google", result: domain.GeocodeResult{
		Latitude: 41.88, Longitude: -87.63, Quality: "ROOFTOP",
	}}

	specs := []ProviderSpec{
		{ID: "nominatim", Priority: 0, Quota: 1, Window: time.Minute, Enabled: true},
		{ID: "google", Priority: 1, Quota: 100, Window: time.Minute, Enabled: true},
	}
	clients := map[string]domain.Provider{"nominatim": first, "google": second}
	chain := NewChain(specs, clients, clock)
	r := NewResolver(chain, cache.NewMemory(100, clock), ResolverOptions{
		Threshold:   0.75,
		CallTimeout: time.Second,
		CacheTTL:    time.Hour,
	}, discardLogger(), observability.NewMetricsForTesting(), clock)

	res, err := r.Resolve(context.Background(), testAddress)
	require.NoError(t, err)
	assert.Equal(t, "nominatim", res.Provider)

	// Quota is spent; a different address must skip straight to google
	// instead of blocking on nominatim's window.
	other := testAddress
	other.Street = "233 S Wacker Dr"
	res, err = r.Resolve(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, "google", res.Provider)
	assert.Equal(t, int64(1), first.calls.Load())
}

// stalledProvider blocks until the request context expires.
type stalledProvider struct {
	id    string
	calls atomic.Int64
}

func (s *stalledProvider) ID() string { return s.id }

func (s *stalledProvider) Geocode(ctx context.Context, _ domain.AddressRequest) (domain.GeocodeResult, error) {
	s.calls.Add(1)
	<-ctx.Done()
	return domain.GeocodeResult{}, domain.NewProviderError(s.id, domain.ErrKindTimeout, ctx.Err())
}

func TestResolve_RequestTimeoutReturnsBestCandidate(t *testing.T) {
	clock := clockwork.NewRealClock()
	// town scores 0.50, below the 0.75 threshold, so the chain escalates
	// into the stalled provider and the request deadline fires there.
	quick := &stubProvider{id: "nominatim", result: domain.GeocodeResult{
		Latitude: 41.88, Longitude: -87.63, Quality: "town",
	}}
	stalled := &stalledProvider{id: "census"}

	specs := []ProviderSpec{testSpec("nominatim", 0), testSpec("census", 1)}
	clients := map[string]domain.Provider{"nominatim": quick, "census": stalled}
	chain := NewChain(specs, clients, clock)
	r := NewResolver(chain, cache.NewMemory(100, clock), ResolverOptions{
		Threshold:      0.75,
		CallTimeout:    time.Second,
		RequestTimeout: 100 * time.Millisecond,
		CacheTTL:       time.Hour,
	}, discardLogger(), observability.NewMetricsForTesting(), clock)

	res, err := r.Resolve(context.Background(), testAddress)
	require.NoError(t, err, "deadline expiry must not discard a candidate in hand")
	assert.Equal(t, "nominatim", res.Provider)
	assert.InDelta(t, 0.50, res.Confidence, 0.001)
	assert.Equal(t, int64(1), stalled.calls.Load())

	// The candidate is cached even though the request context had expired.
	cached, err := r.Resolve(context.Background(), testAddress)
	require.NoError(t, err)
	assert.True(t, cached.FromCache)
}

func TestResolve_RequestTimeoutWithNoCandidateIsExhausted(t *testing.T) {
	clock := clockwork.NewRealClock()
	stalled := &stalledProvider{id: "nominatim"}

	chain := NewChain([]ProviderSpec{testSpec("nominatim", 0)}, map[string]domain.Provider{"nominatim": stalled}, clock)
	r := NewResolver(chain, cache.NewMemory(100, clock), ResolverOptions{
		Threshold:      0.75,
		CallTimeout:    time.Second,
		RequestTimeout: 50 * time.Millisecond,
		CacheTTL:       time.Hour,
	}, discardLogger(), observability.NewMetricsForTesting(), clock)

	_, err := r.Resolve(context.Background(), testAddress)
	assert.ErrorIs(t, err, domain.ErrExhausted)
}

func TestResolve_WaitForQuotaBlocksUntilWindowRefills(t *testing.T) {
	clock := clockwork.NewFakeClock()
	nominatim := &stubProvider{id: "nominatim", result: domain.GeocodeResult{
		Latitude: 41.88, Longitude: -87.63, Quality: "house",
	}}
	google := &stubProvider{id: "google", result: domain.GeocodeResult{
		Latitude: 41.88, Longitude: -87.63, Quality: "ROOFTOP",
	}}

	specs := []ProviderSpec{
		{ID: "nominatim", Priority: 0, Quota: 1, Window: time.Minute, Enabled: true},
		{ID: "google", Priority: 1, Quota: 100, Window: time.Minute, Enabled: true},
	}
	clients := map[string]domain.Provider{"nominatim": nominatim, "google": google}
	chain := NewChain(specs, clients, clock)
	r := NewResolver(chain, cache.NewMemory(100, clock), ResolverOptions{
		Threshold:    0.75,
		CallTimeout:  time.Second,
		CacheTTL:     time.Hour,
		WaitForQuota: true,
	}, discardLogger(), observability.NewMetricsForTesting(), clock)

	_, err := r.Resolve(context.Background(), testAddress)
	require.NoError(t, err)

	// Quota spent: a second address must wait for nominatim's window
	// instead of escalating to google.
	other := testAddress
	other.Street = "233 S Wacker Dr"
	type outcome struct {
		res domain.GeocodeResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := r.Resolve(context.Background(), other)
		done <- outcome{res: res, err: err}
	}()

	clock.BlockUntil(1)
	clock.Advance(time.Minute)

	got := <-done
	require.NoError(t, got.err)
	assert.Equal(t, "nominatim", got.res.Provider)
	assert.Equal(t, int64(2), nominatim.calls.Load())
	assert.Equal(t, int64(0), google.calls.Load(), "batch mode must wait, not escalate")
}

func TestNewChain_CredentialGatingAndOrdering(t *testing.T) {
	clock := clockwork.NewFakeClock()
	clients := map[string]domain.Provider{
		"nominatim": &stubProvider{id: "nominatim"},
		"google":    &stubProvider{id: "google"},
		"mapbox":    &stubProvider{id: "mapbox"},
	}
	specs := []ProviderSpec{
		{ID: "mapbox", Priority: 3, Quota: 10, Window: time.Minute, Enabled: true, RequiresCredential: true, CredentialPresent: false},
		{ID: "google", Priority: 2, Quota: 10, Window: time.Minute, Enabled: true, RequiresCredential: true, CredentialPresent: true},
		{ID: "nominatim", Priority: 0, Quota: 10, Window: time.Minute, Enabled: true},
		{ID: "census", Priority: 1, Quota: 10, Window: time.Minute, Enabled: true}, // no client registered
	}

	chain := NewChain(specs, clients, clock)
	require.Len(t, chain, 2)
	assert.Equal(t, "nominatim", chain[0].spec.ID)
	assert.Equal(t, "google", chain[1].spec.ID)
}
