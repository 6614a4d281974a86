// Package ingest consumes intrusion-detection alerts from Kafka and feeds
// them to the dispatcher.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/ips-responder/internal/types"
)

var messagesConsumed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ips_ingest_messages_total",
		Help: "Kafka alert messages consumed, by result",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(messagesConsumed)
}

// Handler processes one raw alert payload.
type Handler interface {
	HandlePayload(ctx context.Context, data []byte) (types.Outcome, error)
}

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads alert messages from one topic within a consumer group.
// Each message is committed after it was handled, whether or not it was a
// valid alert, so a bad message is never redelivered forever.
type Consumer struct {
	reader  MessageReader
	handler Handler
	topic   string
	log     *logrus.Logger
}

// NewConsumer creates a group consumer for topic.
func NewConsumer(brokers []string, topic, groupID string, h Handler, log *logrus.Logger) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("brokers cannot be empty")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}
	if groupID == "" {
		return nil, fmt.Errorf("groupID cannot be empty")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
		StartOffset: kafka.LastOffset,
	})
	log.WithFields(logrus.Fields{"brokers": brokers, "topic": topic, "group_id": groupID}).Info("Kafka alert consumer configured")
	return NewConsumerWithReader(reader, topic, h, log), nil
}

// NewConsumerWithReader wraps an existing reader.
func NewConsumerWithReader(r MessageReader, topic string, h Handler, log *logrus.Logger) *Consumer {
	return &Consumer{reader: r, handler: h, topic: topic, log: log}
}

// Run consumes until ctx is cancelled. It returns nil on cancellation and
// the reader error otherwise.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.WithField("topic", c.topic).Info("Starting Kafka alert consumer")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.log.Info("Kafka alert consumer stopping")
				return nil
			}
			return fmt.Errorf("fetch alert message: %w", err)
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.WithError(err).WithField("offset", msg.Offset).Error("Failed to commit alert message")
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	entry := c.log.WithFields(logrus.Fields{"partition": msg.Partition, "offset": msg.Offset})
	out, err := c.handler.HandlePayload(ctx, msg.Value)
	if err != nil {
		messagesConsumed.WithLabelValues("rejected").Inc()
		entry.WithError(err).Warn("Discarding invalid alert message")
		return
	}
	messagesConsumed.WithLabelValues(string(out.Kind)).Inc()
	entry.WithField("dispatch_id", out.DispatchID).Debug("Alert message dispatched")
}

// Close releases the reader.
func (c *Consumer) Close() error {
	c.log.WithField("topic", c.topic).Info("Closing Kafka alert consumer")
	return c.reader.Close()
}
