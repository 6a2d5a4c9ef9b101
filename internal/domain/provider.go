package domain

import "context"

// Provider is the uniform contract over external geocoding services.
// Each call consumes one unit of the provider's rate quota and may incur
// real network latency; callers bound it with a context deadline.
type Provider interface {
	// ID returns the stable chain identifier of the provider.
	ID() string

	// Geocode resolves a single address. It returns either a result with the
	// provider's native quality signal set, or a *ProviderError.
	Geocode(ctx context.Context, req AddressRequest) (GeocodeResult, error)
}
