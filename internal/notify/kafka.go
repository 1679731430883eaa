// Package notify publishes finished backtest results to downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"backtest-core/internal/backtest"
)

// Message is the payload published for every stored run.
type Message struct {
	RunID     string           `json:"run_id"`
	SweepID   string           `json:"sweep_id,omitempty"`
	Summary   backtest.Summary `json:"summary"`
	Published time.Time        `json:"published_at"`
}

// Publisher delivers result messages.
type Publisher interface {
	Publish(ctx context.Context, m Message) error
	Close() error
}

// Nop discards messages. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Message) error { return nil }
func (Nop) Close() error                           { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes JSON messages keyed by run id.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	log    *slog.Logger
}

// NewKafkaPublisher creates a publisher for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string, log *slog.Logger) *KafkaPublisher {
	if log == nil {
		log = slog.Default()
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Compression:            kafka.Gzip,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		WriteBackoffMin:        100 * time.Millisecond,
		WriteBackoffMax:        time.Second,
		BatchTimeout:           50 * time.Millisecond,
	}
	log.Info("kafka publisher created", "brokers", brokers, "topic", topic)
	return &KafkaPublisher{writer: w, topic: topic, log: log}
}

// Publish sends one message. Runs with the same id land on the same partition.
func (p *KafkaPublisher) Publish(ctx context.Context, m Message) error {
	if m.Published.IsZero() {
		m.Published = time.Now().UTC()
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal result message: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(m.RunID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "symbol", Value: []byte(m.Summary.Symbol)},
			{Key: "content-type", Value: []byte("application/json")},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Error("kafka publish failed", "topic", p.topic, "run_id", m.RunID, "error", err)
		return err
	}
	p.log.Debug("kafka message sent", "topic", p.topic, "run_id", m.RunID)
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Observed wraps a Publisher and reports every failed publish to OnError.
type Observed struct {
	Publisher
	OnError func(error)
}

func (o Observed) Publish(ctx context.Context, m Message) error {
	err := o.Publisher.Publish(ctx, m)
	if err != nil && o.OnError != nil {
		o.OnError(err)
	}
	return err
}
