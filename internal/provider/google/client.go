// Package google adapts the Google Maps Geocoding API, the paid
// high-accuracy provider near the tail of the default chain.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/couchcryptid/address-geocoding/internal/domain"
	"github.com/couchcryptid/address-geocoding/internal/provider"
)

const providerID = "google"

// Client implements domain.Provider using the Google Maps Geocoding API.
type Client struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a Google Maps geocoding client. The API key is required;
// chain construction excludes the provider when it is absent.
func NewClient(apiKey, baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://maps.googleapis.com/maps/api/geocode/json"
	}
	return &Client{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		logger:     logger,
	}
}

func (c *Client) ID() string { return providerID }

func (c *Client) Geocode(ctx context.Context, req domain.AddressRequest) (domain.GeocodeResult, error) {
	params := url.Values{}
	params.Set("address", req.Query())
	params.Set("key", c.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return domain.GeocodeResult{}, domain.NewProviderError(providerID, domain.ErrKindUnavailable,
			fmt.Errorf("create request: %w", err))
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.GeocodeResult{}, domain.NewProviderError(providerID, provider.KindFromRequestError(err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.GeocodeResult{}, domain.NewProviderError(providerID, provider.KindFromStatus(resp.StatusCode),
			fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}

	var gr googleResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return domain.GeocodeResult{}, domain.NewProviderError(providerID, domain.ErrKindUnavailable,
			fmt.Errorf("decode response: %w", err))
	}

	// The API reports errors in the body status, not the HTTP status.
	switch gr.Status {
	case "OK":
	case "ZERO_RESULTS":
		return domain.GeocodeResult{}, domain.NewProviderError(providerID, domain.ErrKindNotFound, nil)
	case "OVER_QUERY_LIMIT", "OVER_DAILY_LIMIT":
		return domain.GeocodeResult{}, domain.NewProviderError(providerID, domain.ErrKindRateLimited,
			fmt.Errorf("api status %s", gr.Status))
	case "REQUEST_DENIED":
		return domain.GeocodeResult{}, domain.NewProviderError(providerID, domain.ErrKindInvalidCredential,
			fmt.Errorf("api status %s: %s", gr.Status, gr.ErrorMessage))
	default:
		return domain.GeocodeResult{}, domain.NewProviderError(providerID, domain.ErrKindUnavailable,
			fmt.Errorf("api status %s: %s", gr.Status, gr.ErrorMessage))
	}

	if len(gr.Results) == 0 {
		return domain.GeocodeResult{}, domain.NewProviderError(providerID, domain.ErrKindNotFound, nil)
	}

	r := gr.Results[0]
	raw, _ := json.Marshal(r)
	return domain.GeocodeResult{
		Latitude:  r.Geometry.Location.Lat,
		Longitude: r.Geometry.Location.Lng,
		Quality:   r.Geometry.LocationType,
		Raw:       raw,
	}, nil
}

// Google Maps API response types.

type googleResponse struct {
	Results      []result `json:"results"`
	Status       string   `json:"status"`
	ErrorMessage string   `json:"error_message"`
}

type result struct {
	FormattedAddress string `json:"formatted_address"`
	Geometry         struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
		LocationType string `json:"location_type"` // ROOFTOP, RANGE_INTERPOLATED, GEOMETRIC_CENTER, APPROXIMATE
	} `json:"geometry"`
	PlaceID string `json:"place_id"`
}
