package domain

import (
	"encoding/json"
	"time"
)

// AdminCodes carries administrative-area identifiers attached to a resolved
// address by providers that support enrichment (currently the Census
// geocoder, which returns FIPS codes).
type AdminCodes struct {
	StateCode  string `json:"state_code,omitempty"`
	CountyCode string `json:"county_code,omitempty"`
}

// GeocodeResult is a resolved coordinate pair for one address.
//
// Providers fill Latitude, Longitude, Quality or Relevance, Admin, and Raw.
// The pipeline fills Provider, Confidence, H3Cell, ResolvedAt, and FromCache.
type GeocodeResult struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	// Confidence is the calibrated match quality on the canonical [0,1]
	// scale. Always clamped.
	Confidence float64 `json:"confidence"`

	// Provider is the chain identifier of the service that produced the hit.
	Provider string `json:"provider"`

	// Quality is the provider-native match level (e.g. "ROOFTOP", "Exact",
	// "house"). Empty for providers that report a continuous score instead.
	Quality string `json:"quality,omitempty"`

	// Relevance is the provider-native continuous score for providers that
	// have one (Mapbox). Zero otherwise.
	Relevance float64 `json:"relevance,omitempty"`

	Admin AdminCodes `json:"admin,omitempty"`

	// H3Cell is the resolution-9 H3 index of the resolved point, stamped on
	// acceptance so downstream consumers can bucket results spatially.
	H3Cell string `json:"h3_cell,omitempty"`

	// Raw preserves the provider's native response fragment for debugging.
	Raw json.RawMessage `json:"raw,omitempty"`

	ResolvedAt time.Time `json:"resolved_at"`

	// FromCache marks results served from the cache without a provider call.
	// Not persisted.
	FromCache bool `json:"-"`
}

// HasCoordinates reports whether the result carries a usable location.
func (r GeocodeResult) HasCoordinates() bool {
	return r.Latitude != 0 || r.Longitude != 0
}
