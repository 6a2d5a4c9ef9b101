// Package census adapts the US Census Bureau geocoder. It is free,
// US-only, and the only provider that enriches results with administrative
// codes (state and county FIPS from the TIGER/Line geographies).
package census

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/address-geocoding/internal/domain"
	"github.com/couchcryptid/address-geocoding/internal/provider"
)

const providerID = "census"

// Client implements domain.Provider against the Census geographies endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a Census geocoder client. No credential is required.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://geocoding.geo.census.gov"
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		logger:     logger,
	}
}

func (c *Client) ID() string { return providerID }

// Geocode resolves a US street address. Requests for other countries are
// rejected locally with NotFound, so no quota is spent on addresses the
// service cannot match.
func (c *Client) Geocode(ctx context.Context, req domain.AddressRequest) (domain.GeocodeResult, error) {
	if !coversCountry(req.Country) {
		return domain.GeocodeResult{}, domain.NewProviderError(providerID, domain.ErrKindNotFound,
			fmt.Errorf("country %q outside coverage", req.Country))
	}

	params := url.Values{
		"benchmark": {"Public_AR_Current"},
		"vintage":   {"Current_Current"},
		"format":    {"json"},
		"layers":    {"States,Counties"},
	}
	if req.Street == "" && req.FreeText != "" {
		params.Set("address", req.Query())
	} else {
		params.Set("street", req.Street)
		if req.City != "" {
			params.Set("city", req.City)
		}
		if req.Region != "" {
			params.Set("state", req.Region)
		}
		if req.PostalCode != "" {
			params.Set("zip", req.PostalCode)
		}
	}

	endpoint := c.baseURL + "/geocoder/geographies/address?" + params.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
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

	var cr censusResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return domain.GeocodeResult{}, domain.NewProviderError(providerID, domain.ErrKindUnavailable,
			fmt.Errorf("decode response: %w", err))
	}

	if len(cr.Result.AddressMatches) == 0 {
		return domain.GeocodeResult{}, domain.NewProviderError(providerID, domain.ErrKindNotFound, nil)
	}

	m := cr.Result.AddressMatches[0]
	result := domain.GeocodeResult{
		Latitude:  m.Coordinates.Y,
		Longitude: m.Coordinates.X,
		Quality:   m.matchType(),
	}
	if states := m.Geographies["States"]; len(states) > 0 {
		result.Admin.StateCode = states[0].GeoID
	}
	if counties := m.Geographies["Counties"]; len(counties) > 0 {
		result.Admin.CountyCode = counties[0].GeoID
	}
	result.Raw, _ = json.Marshal(m)
	return result, nil
}

// coversCountry reports whether the Census geocoder can serve the country
// field. An empty country is assumed to be a US request.
func coversCountry(country string) bool {
	switch strings.ToLower(strings.TrimSpace(country)) {
	case "", "us", "usa", "united states", "united states of america":
		return true
	default:
		return false
	}
}

// Census geocoder response types.

type censusResponse struct {
	Result struct {
		AddressMatches []addressMatch `json:"addressMatches"`
	} `json:"result"`
}

type addressMatch struct {
	MatchedAddress string `json:"matchedAddress"`
	Coordinates    struct {
		X float64 `json:"x"` // longitude
		Y float64 `json:"y"` // latitude
	} `json:"coordinates"`
	TigerLine struct {
		TigerLineID string `json:"tigerLineId"`
		Side        string `json:"side"`
	} `json:"tigerLine"`
	Geographies map[string][]geography `json:"geographies"`
}

type geography struct {
	GeoID string `json:"GEOID"`
	Name  string `json:"NAME"`
}

// matchType reports the TIGER match quality: a match snapped to a TIGER
// edge is an exact street-segment hit, anything else is approximate.
func (m addressMatch) matchType() string {
	if m.TigerLine.TigerLineID != "" {
		return "Exact"
	}
	return "Non_Exact"
}
