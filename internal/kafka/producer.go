package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-checkin/internal/broadcast"
	"ms-checkin/internal/logger"
)

// MessageWriter is the part of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes live-update messages to Kafka for downstream consumers
// such as reporting and notification services. It implements
// broadcast.Broadcaster.
type Producer struct {
	Writer MessageWriter
	Logger *logger.Logger
	Topic  string
}

func NewProducer(brokers []string, topic string, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &Producer{Writer: writer, Logger: log, Topic: topic}
}

// Broadcast keys each message by its channel so updates for one event stay
// ordered within a partition.
func (p *Producer) Broadcast(ctx context.Context, msg broadcast.Message) error {
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", msg.Kind, err)
	}

	err = p.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Channel),
		Value: msgBytes,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(msg.Kind)},
		},
	})
	if err != nil {
		p.Logger.LogKafka("PUBLISH_FAILED", p.Topic, fmt.Sprintf("%s: %v", msg.Channel, err))
		return err
	}
	p.Logger.LogKafka("PUBLISHED", p.Topic, msg.Channel)
	return nil
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
