package mapbox

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/couchcryptid/address-geocoding/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-token", srv.URL, 2*time.Second, discardLogger())
}

func TestGeocode_ParsesFeature(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "227 W Monroe St")
		assert.Equal(t, "test-token", r.URL.Query().Get("access_token"))
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		w.Write([]byte(`{
			"features": [{
				"center": [-87.6348, 41.8807],
				"place_name": "227 W Monroe St, Chicago, Illinois 60606, United States",
				"text": "W Monroe St",
				"relevance": 0.96
			}]
		}`))
	})

	res, err := c.Geocode(context.Background(), domain.AddressRequest{
		Street: "227 W Monroe St", City: "Chicago", Region: "IL",
	})
	require.NoError(t, err)
	assert.InDelta(t, 41.8807, res.Latitude, 0.0001)
	assert.InDelta(t, -87.6348, res.Longitude, 0.0001)
	assert.InDelta(t, 0.96, res.Relevance, 0.0001)
	assert.Empty(t, res.Quality)
}

func TestGeocode_NoFeaturesIsNotFound(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"features": []}`))
	})

	_, err := c.Geocode(context.Background(), domain.AddressRequest{City: "Nowhereville"})
	pe, ok := domain.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrKindNotFound, pe.Kind)
	assert.Equal(t, "mapbox", pe.Provider)
}

func TestGeocode_UnauthorizedIsInvalidCredential(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message": "Not Authorized - Invalid Token"}`))
	})

	_, err := c.Geocode(context.Background(), domain.AddressRequest{City: "Chicago"})
	pe, ok := domain.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrKindInvalidCredential, pe.Kind)
}

func TestGeocode_TooManyRequestsIsRateLimited(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.Geocode(context.Background(), domain.AddressRequest{City: "Chicago"})
	pe, ok := domain.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrKindRateLimited, pe.Kind)
}
