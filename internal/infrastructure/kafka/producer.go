package kafka

import (
	"context"
	"encoding/json"
	"time"

	"quantumgrid-backend/internal/domain"

	"github.com/segmentio/kafka-go"
)

// TradeSettledEvent is the payload published after a settlement commits.
const TradeSettledEvent = "trade.settled"

// MessageWriter is the subset of *kafka.Writer used by Producer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes trade events keyed by listing so events of one listing stay ordered.
type Producer struct {
	writer MessageWriter
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// NewProducerWithWriter wraps an existing writer (tests).
func NewProducerWithWriter(w MessageWriter) *Producer {
	return &Producer{writer: w}
}

type tradeMessage struct {
	Event string        `json:"event"`
	Trade *domain.Trade `json:"trade"`
	Total string        `json:"total"`
}

// PublishTradeSettled sends a trade.settled event for t.
func (p *Producer) PublishTradeSettled(ctx context.Context, t *domain.Trade) error {
	value, err := json.Marshal(tradeMessage{
		Event: TradeSettledEvent,
		Trade: t,
		Total: t.Total().String(),
	})
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(t.ListingID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(TradeSettledEvent)},
		},
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// BrokerPinger checks that at least one broker accepts connections.
type BrokerPinger struct {
	Brokers []string
}

func (p BrokerPinger) Ping(ctx context.Context) error {
	var lastErr error
	for _, b := range p.Brokers {
		conn, err := kafka.DialContext(ctx, "tcp", b)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	return lastErr
}
