// Package mapbox adapts the Mapbox Geocoding API, the paid alternate
// provider at the tail of the default chain.
package mapbox

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

const providerID = "mapbox"

// Client implements domain.Provider using the Mapbox Geocoding API.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a Mapbox geocoding client. The access token is required;
// chain construction excludes the provider when it is absent.
func NewClient(token, baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://api.mapbox.com/geocoding/v5/mapbox.places"
	}
	return &Client{
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		logger:     logger,
	}
}

func (c *Client) ID() string { return providerID }

func (c *Client) Geocode(ctx context.Context, req domain.AddressRequest) (domain.GeocodeResult, error) {
	query := req.Query()
	u := fmt.Sprintf("%s/%s.json", c.baseURL, url.PathEscape(query))
	params := url.Values{
		"access_token": {c.token},
		"limit":        {"1"},
		"types":        {"address,place,postcode,locality"},
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u+"?"+params.Encode(), nil)
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

	var mr mapboxResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return domain.GeocodeResult{}, domain.NewProviderError(providerID, domain.ErrKindUnavailable,
			fmt.Errorf("decode response: %w", err))
	}

	if len(mr.Features) == 0 {
		return domain.GeocodeResult{}, domain.NewProviderError(providerID, domain.ErrKindNotFound, nil)
	}

	f := mr.Features[0]
	result := domain.GeocodeResult{
		Relevance: f.Relevance,
	}
	if len(f.Center) == 2 {
		// Mapbox uses lon,lat order.
		result.Longitude = f.Center[0]
		result.Latitude = f.Center[1]
	}
	result.Raw, _ = json.Marshal(f)
	return result, nil
}

// Mapbox API response types.

type mapboxResponse struct {
	Features []feature `json:"features"`
}

type feature struct {
	Center    []float64 `json:"center"` // [lon, lat]
	PlaceName string    `json:"place_name"`
	Text      string    `json:"text"`
	Relevance float64   `json:"relevance"`
}
