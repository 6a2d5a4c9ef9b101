package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// AddressRequest holds the raw fields of a postal address to resolve.
// Values are read-only for the lifetime of a pipeline call.
type AddressRequest struct {
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
	FreeText   string `json:"free_text,omitempty"`
}

// ValidationError reports a request that cannot identify any address.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid address request: " + e.Reason
}

// NormalizedKey derives the canonical identity string for the request.
// The same logical address yields the same key regardless of casing,
// surrounding or repeated whitespace, or which fields the caller chose to
// leave empty. Field positions are fixed, so "Springfield" as a city and
// "Springfield" as a region produce different keys.
func (r AddressRequest) NormalizedKey() (string, error) {
	fields := []string{
		normalizeField(r.Street),
		normalizeField(r.City),
		normalizeField(r.Region),
		normalizeField(r.PostalCode),
		normalizeField(r.Country),
		normalizeField(r.FreeText),
	}

	empty := true
	for _, f := range fields {
		if f != "" {
			empty = false
			break
		}
	}
	if empty {
		return "", &ValidationError{Reason: "no identifying fields"}
	}

	return strings.Join(fields, "|"), nil
}

// CacheKey returns the SHA-256 hex digest of the normalized key. It is the
// identity used by the result cache and the batch deduplicator.
func (r AddressRequest) CacheKey() (string, error) {
	key, err := r.NormalizedKey()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:]), nil
}

// Query renders the request as a single comma-separated line for providers
// that accept only free-form input.
func (r AddressRequest) Query() string {
	if r.FreeText != "" {
		return strings.Join(strings.Fields(r.FreeText), " ")
	}
	parts := make([]string, 0, 5)
	for _, f := range []string{r.Street, r.City, r.Region, r.PostalCode, r.Country} {
		if s := strings.Join(strings.Fields(f), " "); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

func (r AddressRequest) String() string {
	return fmt.Sprintf("AddressRequest(%s)", r.Query())
}

// normalizeField lower-cases, trims, and collapses interior whitespace.
func normalizeField(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
