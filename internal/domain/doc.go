// Package domain models postal addresses and their geocoded resolutions.
//
// # Address Identity
//
// Two requests describe the same address when their normalized keys match.
// Normalization lower-cases every field, trims it, and collapses interior
// whitespace, so "227  W Monroe St" and "227 w monroe st " are the same
// street. The key concatenates the identity-bearing fields (street, city,
// region, postal code, country, free text) in a fixed order so the result is
// independent of how the caller populated the struct. The cache and the batch
// deduplicator key on the SHA-256 of that string, never on raw input.
//
// A request with no identity-bearing field at all is rejected with a
// [ValidationError] before any provider is contacted.
//
// # Provider Contract
//
// A [Provider] wraps one external geocoding service. Implementations parse
// their own wire format and surface exactly two shapes: a [GeocodeResult]
// carrying the provider's native match-quality signal, or a [ProviderError]
// with one of the five defined kinds. Anything else leaking out of a provider
// package is a bug.
//
// Native quality signals differ per service:
//
//	nominatim: OSM place type of the match ("house", "residential", "city", ...)
//	census:    TIGER match type ("Exact" or "Non_Exact"), plus state and
//	           county FIPS codes as administrative enrichment
//	google:    geometry location_type ("ROOFTOP", "RANGE_INTERPOLATED",
//	           "GEOMETRIC_CENTER", "APPROXIMATE")
//	mapbox:    continuous relevance score in [0,1]
//
// The scoring package maps each of these onto the canonical [0,1] confidence
// scale; providers never set Confidence themselves.
//
// # Error Semantics
//
// Provider errors are soft: the fallback chain logs them and escalates to the
// next provider. Only [ErrExhausted] (every provider failed or was skipped
// and no candidate was ever obtained) is surfaced to the caller of a single
// resolution. Cache failures are softer still and degrade to a cache miss.
package domain
