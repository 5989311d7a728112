/**
 * @description
 * Kafka publisher for payment lifecycle events. The exchange name is used as
 * the topic and the routing key travels as a header.
 */
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

// WriterInterface abstracts kafka.Writer for testing.
type WriterInterface interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Keyed is implemented by events that choose their own partition key.
type Keyed interface {
	PartitionKey() string
}

// EventProducer publishes JSON events to Kafka.
type EventProducer struct {
	writer WriterInterface
}

// NewEventProducer creates a producer writing to the given brokers.
func NewEventProducer(brokers []string) (*EventProducer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
	}
	return &EventProducer{writer: writer}, nil
}

// NewEventProducerWithWriter wraps an existing writer.
func NewEventProducerWithWriter(w WriterInterface) *EventProducer {
	return &EventProducer{writer: w}
}

// Publish writes one message to the topic named by exchange.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	if p.writer == nil {
		return errors.New("kafka writer not initialized")
	}

	var payload []byte
	switch v := body.(type) {
	case json.RawMessage:
		payload = v
	case []byte:
		payload = v
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = encoded
	}

	key := routingKey
	if k, ok := body.(Keyed); ok && k.PartitionKey() != "" {
		key = k.PartitionKey()
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: exchange,
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "routing_key", Value: []byte(routingKey)},
			{Key: "content_type", Value: []byte("application/json")},
		},
		Time: time.Now(),
	})
}

// Close flushes and closes the writer.
func (p *EventProducer) Close() {
	if p.writer != nil {
		_ = p.writer.Close()
	}
}
