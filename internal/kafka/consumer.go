package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"ms-checkin/internal/logger"
)

// SyncRequest asks this service to pull an event from the upstream platform,
// typically published when tickets were sold or changed there.
type SyncRequest struct {
	EventID int64 `json:"event_id"`
}

// MessageReader is the part of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader MessageReader
	logger *logger.Logger
	topic  string
}

// NewConsumer creates a Kafka consumer for the given topic and group.
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return NewConsumerWithReader(reader, topic, log)
}

func NewConsumerWithReader(r MessageReader, topic string, log *logger.Logger) *Consumer {
	return &Consumer{reader: r, logger: log, topic: topic}
}

// Start hands each sync request to handler until ctx is cancelled. A message
// is committed once handled, or once it proves undecodable.
func (c *Consumer) Start(ctx context.Context, handler func(ctx context.Context, req SyncRequest) error) error {
	c.logger.LogKafka("CONSUMER_STARTED", c.topic, "waiting for sync requests")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.LogKafka("FETCH_FAILED", c.topic, err.Error())
			return err
		}

		var req SyncRequest
		if err := json.Unmarshal(msg.Value, &req); err != nil || req.EventID <= 0 {
			c.logger.LogKafka("SKIPPED", c.topic, fmt.Sprintf("offset %d: malformed sync request", msg.Offset))
		} else if err := handler(ctx, req); err != nil {
			c.logger.LogKafka("HANDLER_FAILED", c.topic, fmt.Sprintf("event %d: %v", req.EventID, err))
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.LogKafka("COMMIT_FAILED", c.topic, err.Error())
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
