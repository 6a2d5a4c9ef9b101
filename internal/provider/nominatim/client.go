// Package nominatim adapts the OpenStreetMap Nominatim search API. It is
// the free worldwide provider at the head of the default chain.
package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/couchcryptid/address-geocoding/internal/domain"
	"github.com/couchcryptid/address-geocoding/internal/provider"
)

const providerID = "nominatim"

// Client implements domain.Provider against a Nominatim instance.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	logger     *slog.Logger
}

// NewClient creates a Nominatim client. Nominatim's usage policy requires an
// identifying User-Agent, so userAgent must be non-empty for the public
// instance.
func NewClient(baseURL, userAgent string, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://nominatim.openstreetmap.org"
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		userAgent:  userAgent,
		logger:     logger,
	}
}

func (c *Client) ID() string { return providerID }

// Geocode resolves an address via the /search endpoint. Structured fields
// are passed as structured query parameters; free-text requests fall back to
// the q parameter.
func (c *Client) Geocode(ctx context.Context, req domain.AddressRequest) (domain.GeocodeResult, error) {
	params := url.Values{
		"format": {"jsonv2"},
		"limit":  {"1"},
	}
	if req.FreeText != "" {
		params.Set("q", req.Query())
	} else {
		if req.Street != "" {
			params.Set("street", req.Street)
		}
		if req.City != "" {
			params.Set("city", req.City)
		}
		if req.Region != "" {
			params.Set("state", req.Region)
		}
		if req.PostalCode != "" {
			params.Set("postalcode", req.PostalCode)
		}
		if req.Country != "" {
			params.Set("country", req.Country)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return domain.GeocodeResult{}, domain.NewProviderError(providerID, domain.ErrKindUnavailable,
			fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("User-Agent", c.userAgent)

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

	var places []place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return domain.GeocodeResult{}, domain.NewProviderError(providerID, domain.ErrKindUnavailable,
			fmt.Errorf("decode response: %w", err))
	}

	if len(places) == 0 {
		return domain.GeocodeResult{}, domain.NewProviderError(providerID, domain.ErrKindNotFound, nil)
	}

	p := places[0]
	lat, latErr := strconv.ParseFloat(p.Lat, 64)
	lon, lonErr := strconv.ParseFloat(p.Lon, 64)
	if latErr != nil || lonErr != nil {
		return domain.GeocodeResult{}, domain.NewProviderError(providerID, domain.ErrKindUnavailable,
			fmt.Errorf("malformed coordinates %q,%q", p.Lat, p.Lon))
	}

	raw, _ := json.Marshal(p)
	return domain.GeocodeResult{
		Latitude:  lat,
		Longitude: lon,
		Quality:   p.Type,
		Raw:       raw,
	}, nil
}

// Nominatim API response types (jsonv2 format). Coordinates arrive as
// strings.

type place struct {
	Lat         string  `json:"lat"`
	Lon         string  `json:"lon"`
	Category    string  `json:"category"`
	Type        string  `json:"type"`
	DisplayName string  `json:"display_name"`
	Importance  float64 `json:"importance"`
}
