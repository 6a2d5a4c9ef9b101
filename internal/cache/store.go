// Package cache stores geocoding results keyed by normalized address hash.
//
// Store failures are never fatal to the pipeline: the resolver logs them and
// proceeds as if the lookup missed, falling through to live provider calls.
package cache

import (
	"context"
	"time"

	"github.com/couchcryptid/address-geocoding/internal/domain"
)

// Store is the pluggable result cache. Implementations must be safe for
// concurrent readers and writers, and must treat entries past their TTL as
// absent.
type Store interface {
	// Get returns the cached result for key, or ok=false on a miss. An
	// expired entry is a miss.
	Get(ctx context.Context, key string) (result domain.GeocodeResult, ok bool, err error)

	// Put stores or refreshes the result under key with the given TTL.
	Put(ctx context.Context, key string, result domain.GeocodeResult, ttl time.Duration) error
}
