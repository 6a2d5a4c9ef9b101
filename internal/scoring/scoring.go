// Package scoring calibrates provider-native match quality onto the
// canonical [0,1] confidence scale.
//
// The tables below are the single source of truth for what a provider's raw
// match level is worth. They are deliberately static: identical provider
// output must always yield identical confidence, or cached results would
// disagree with fresh ones.
package scoring

import (
	"strings"

	"github.com/couchcryptid/address-geocoding/internal/domain"
)

// Unknown quality strings fall back to this per-provider floor rather than
// zero, so an unrecognized-but-successful match still counts as a candidate.
const defaultConfidence = 0.30

// googleLocationTypes maps the Geocoding API geometry location_type.
// ROOFTOP is an exact street-address match; APPROXIMATE is usually a
// postal-code or locality centroid.
var googleLocationTypes = map[string]float64{
	"ROOFTOP":            0.98,
	"RANGE_INTERPOLATED": 0.90,
	"GEOMETRIC_CENTER":   0.75,
	"APPROXIMATE":        0.50,
}

// censusMatchTypes maps the TIGER/Line match type from the Census geocoder.
var censusMatchTypes = map[string]float64{
	"Exact":     0.90,
	"Non_Exact": 0.60,
}

// nominatimPlaceTypes maps the OSM type of the matched object. Street-number
// level objects score high; settlement centroids score low.
var nominatimPlaceTypes = map[string]float64{
	"house":          0.90,
	"building":       0.90,
	"address":        0.85,
	"residential":    0.75,
	"road":           0.75,
	"street":         0.75,
	"postcode":       0.60,
	"neighbourhood":  0.55,
	"suburb":         0.55,
	"village":        0.50,
	"town":           0.50,
	"city":           0.50,
	"county":         0.40,
	"state":          0.35,
	"country":        0.30,
	"administrative": 0.40,
}

// Score maps a provider's native quality signal to [0,1]. The result is a
// pure function of (provider, quality, relevance); it never consults the
// coordinates or the request.
func Score(provider string, res domain.GeocodeResult) float64 {
	switch provider {
	case "google":
		return lookup(googleLocationTypes, res.Quality)
	case "census":
		return lookup(censusMatchTypes, res.Quality)
	case "nominatim":
		return lookup(nominatimPlaceTypes, strings.ToLower(res.Quality))
	case "mapbox":
		// Mapbox relevance is already a [0,1] score; pass it through.
		return Clamp(res.Relevance)
	default:
		return defaultConfidence
	}
}

// Clamp bounds v to the canonical [0,1] confidence range.
func Clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func lookup(table map[string]float64, quality string) float64 {
	if v, ok := table[quality]; ok {
		return Clamp(v)
	}
	return defaultConfidence
}
