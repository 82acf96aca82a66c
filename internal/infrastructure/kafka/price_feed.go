package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"quantumgrid-backend/internal/domain"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// TickRecorder receives decoded price ticks.
type TickRecorder interface {
	Record(ctx context.Context, tick domain.PriceTick) error
}

// MessageReader is the subset of *kafka.Reader used by PriceFeed.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PriceFeed consumes the external per-source-type price topics, one reader per topic.
type PriceFeed struct {
	readers  map[string]MessageReader
	recorder TickRecorder
}

// NewPriceFeed creates a reader for each topic in the consumer group.
func NewPriceFeed(brokers, topics []string, groupID string, recorder TickRecorder) *PriceFeed {
	readers := make(map[string]MessageReader, len(topics))
	for _, topic := range topics {
		readers[topic] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 1 << 20,
		})
	}
	return &PriceFeed{readers: readers, recorder: recorder}
}

// NewPriceFeedWithReaders wires pre-built readers keyed by topic (tests).
func NewPriceFeedWithReaders(readers map[string]MessageReader, recorder TickRecorder) *PriceFeed {
	return &PriceFeed{readers: readers, recorder: recorder}
}

// Run blocks until ctx is cancelled, then closes the readers.
func (f *PriceFeed) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for topic, r := range f.readers {
		wg.Add(1)
		go func(topic string, r MessageReader) {
			defer wg.Done()
			f.consume(ctx, topic, r)
		}(topic, r)
	}
	wg.Wait()
	for topic, r := range f.readers {
		if err := r.Close(); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("price feed reader close")
		}
	}
}

func (f *PriceFeed) consume(ctx context.Context, topic string, r MessageReader) {
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("topic", topic).Msg("price feed fetch")
			}
			return
		}
		if tick, err := DecodeTick(topic, msg.Value); err != nil {
			log.Warn().Err(err).Str("topic", topic).Int64("offset", msg.Offset).Msg("price feed: skipping malformed tick")
		} else if err := f.recorder.Record(ctx, tick); err != nil {
			log.Error().Err(err).Str("topic", topic).Msg("price feed record")
		}
		if err := r.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("topic", topic).Msg("price feed commit")
		}
	}
}

type rawTick struct {
	Type      string    `json:"type"`
	Region    string    `json:"region"`
	Rate      *float64  `json:"rate"`
	Timestamp time.Time `json:"timestamp"`
}

// DecodeTick parses a {type, region, rate, timestamp} payload. A missing type is taken from the
// topic name (energy-solar -> solar).
func DecodeTick(topic string, value []byte) (domain.PriceTick, error) {
	var raw rawTick
	if err := json.Unmarshal(value, &raw); err != nil {
		return domain.PriceTick{}, err
	}
	if raw.Rate == nil {
		return domain.PriceTick{}, domain.NewValidationError("rate", "is required")
	}
	typ := raw.Type
	if typ == "" {
		typ = strings.TrimPrefix(topic, "energy-")
	}
	if raw.Timestamp.IsZero() {
		raw.Timestamp = time.Now().UTC()
	}
	return domain.PriceTick{
		Type:      domain.NormalizeSourceType(typ),
		Region:    raw.Region,
		Rate:      *raw.Rate,
		Timestamp: raw.Timestamp,
		Topic:     topic,
	}, nil
}
