package domain

import (
	"context"
	"time"
)

// AddressRecord is the flat JSON structure consumed from the source topic.
// ID correlates the output with the producer's own records.
type AddressRecord struct {
	ID         string `json:"id"`
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
	FreeText   string `json:"free_text,omitempty"`
}

// Request converts the record into a pipeline address request.
func (r AddressRecord) Request() AddressRequest {
	return AddressRequest{
		Street:     r.Street,
		City:       r.City,
		Region:     r.Region,
		PostalCode: r.PostalCode,
		Country:    r.Country,
		FreeText:   r.FreeText,
	}
}

// GeocodedRecord is the enriched structure published to the sink topic.
// Exactly one of Result or Error is meaningful per record.
type GeocodedRecord struct {
	ID     string         `json:"id"`
	Result *GeocodeResult `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// RawMessage represents an unprocessed message from the source topic.
type RawMessage struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}
