package pipeline

import (
	"sort"
	"time"

	"github.com/couchcryptid/address-geocoding/internal/domain"
	"github.com/couchcryptid/address-geocoding/internal/ratelimit"
	"github.com/jonboulle/clockwork"
)

// ProviderSpec declares one provider's position and budget in the chain.
// Specs with RequiresCredential set are silently excluded at construction
// when no credential was configured, mirroring how feature flags gate
// optional integrations elsewhere in the service.
type ProviderSpec struct {
	ID                 string
	Priority           int // lower runs first
	Quota              int
	Window             time.Duration
	CostClass          string // "free" or "paid"
	RequiresCredential bool
	CredentialPresent  bool
	Enabled            bool
}

// ChainEntry pairs a provider client with its spec and rate limiter.
type ChainEntry struct {
	spec    ProviderSpec
	client  domain.Provider
	limiter *ratelimit.Limiter
}

// Spec returns the entry's provider spec.
func (e ChainEntry) Spec() ProviderSpec { return e.spec }

// ProviderStatus is the externally visible description of one chain entry,
// served by the providers endpoint.
type ProviderStatus struct {
	ID        string  `json:"id"`
	Priority  int     `json:"priority"`
	CostClass string  `json:"cost_class"`
	Quota     int     `json:"quota"`
	WindowSec float64 `json:"window_seconds"`
	Available int     `json:"available"`
}

// NewChain assembles the ordered provider chain from specs and their
// clients. Disabled specs, specs missing a required credential, and specs
// without a registered client are dropped. The result is sorted by
// priority, cheapest first by convention.
func NewChain(specs []ProviderSpec, clients map[string]domain.Provider, clock clockwork.Clock) []ChainEntry {
	entries := make([]ChainEntry, 0, len(specs))
	for _, spec := range specs {
		if !spec.Enabled {
			continue
		}
		if spec.RequiresCredential && !spec.CredentialPresent {
			continue
		}
		client, ok := clients[spec.ID]
		if !ok {
			continue
		}
		entries = append(entries, ChainEntry{
			spec:    spec,
			client:  client,
			limiter: ratelimit.New(spec.Quota, spec.Window, clock),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].spec.Priority < entries[j].spec.Priority
	})
	return entries
}
