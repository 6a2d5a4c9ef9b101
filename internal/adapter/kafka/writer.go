package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/address-geocoding/internal/config"
	"github.com/couchcryptid/address-geocoding/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces geocoded records to the sink topic.
// It implements stream.BatchLoader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// LoadBatch serializes and publishes multiple geocoded records to the sink
// topic in a single WriteMessages call.
func (w *Writer) LoadBatch(ctx context.Context, records []domain.GeocodedRecord) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(records))
	for i := range records {
		msg, err := serializeToMessage(records[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return w.writer.WriteMessages(ctx, msgs...)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a GeocodedRecord into a Kafka message keyed by
// record ID so retries of the same address land in the same partition.
func serializeToMessage(record domain.GeocodedRecord) (kafkago.Message, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize geocoded record: %w", err)
	}
	provider := ""
	processedAt := time.Now().UTC()
	if record.Result != nil {
		provider = record.Result.Provider
		if !record.Result.ResolvedAt.IsZero() {
			processedAt = record.Result.ResolvedAt
		}
	}
	return kafkago.Message{
		Key:   []byte(record.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "provider", Value: []byte(provider)},
			{Key: "processed_at", Value: []byte(processedAt.Format(time.RFC3339))},
		},
	}, nil
}
