package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/config"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/deadletter"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/logging"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/metrics"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/models"
)

// Enricher turns a raw message body into an enriched package record
type Enricher interface {
	Enrich(ctx context.Context, body []byte) (models.Package, error)
}

// Buffer accepts enriched records for batched persistence
type Buffer interface {
	Add(ctx context.Context, p models.Package)
}

// RabbitMQConsumer consumes package registration events from RabbitMQ
type RabbitMQConsumer struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	config   config.RabbitMQConfig
	enricher Enricher
	buffer   Buffer
	dlq      deadletter.Queue
	logger   *logging.Logger
}

// NewRabbitMQConsumer connects, declares the queue and applies the prefetch limit.
// A nil dlq drops unprocessable messages after logging them.
func NewRabbitMQConsumer(cfg config.RabbitMQConfig, enricher Enricher, buffer Buffer, dlq deadletter.Queue, logger *logging.Logger) (*RabbitMQConsumer, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if dlq == nil {
		dlq = deadletter.Nop{}
	}

	conn, channel, err := dial(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Prefetch > 0 {
		if err := channel.Qos(cfg.Prefetch, 0, false); err != nil {
			channel.Close()
			conn.Close()
			return nil, fmt.Errorf("failed to set QoS: %w", err)
		}
	}

	logger = logger.With(logging.Component("consumer"))
	logger.Info("RabbitMQ consumer initialized",
		"queue", cfg.Queue,
		"exchange", cfg.Exchange,
		"routing_key", cfg.RoutingKey,
		"prefetch", cfg.Prefetch,
	)

	return &RabbitMQConsumer{
		conn:     conn,
		channel:  channel,
		config:   cfg,
		enricher: enricher,
		buffer:   buffer,
		dlq:      dlq,
		logger:   logger,
	}, nil
}

// Start begins consuming messages from the queue. It returns nil when ctx is
// cancelled and an error when the broker closes the delivery channel.
func (c *RabbitMQConsumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.config.Queue, // queue
		"",             // consumer tag (auto-generated)
		false,          // auto-ack (we'll ack manually)
		false,          // exclusive
		false,          // no-local
		false,          // no-wait
		nil,            // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("RabbitMQ consumer started", "queue", c.config.Queue)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("context cancelled, stopping RabbitMQ consumer")
			return nil

		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}
			c.handleMessage(ctx, msg)
		}
	}
}

// handleMessage enriches one message, hands the record to the buffer and acks.
// Messages that cannot be enriched are dead-lettered and acked, never requeued.
func (c *RabbitMQConsumer) handleMessage(ctx context.Context, msg amqp.Delivery) {
	record, err := c.enricher.Enrich(ctx, msg.Body)
	if err != nil {
		reason := failureReason(err)
		c.logger.Warn("dropping unprocessable message",
			logging.Error(err),
			logging.Reason(reason),
			"delivery_tag", msg.DeliveryTag,
		)
		if dlqErr := c.dlq.Write(ctx, msg.Body, err, reason); dlqErr != nil {
			c.logger.Error("failed to dead-letter message", logging.Error(dlqErr))
		}
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		c.ack(msg)
		return
	}

	c.buffer.Add(ctx, record)
	metrics.MessagesTotal.WithLabelValues("accepted").Inc()
	c.logger.Debug("package enriched",
		logging.RecordID(record.ID.String()),
		"type_id", record.TypeID,
	)
	c.ack(msg)
}

func (c *RabbitMQConsumer) ack(msg amqp.Delivery) {
	if err := msg.Ack(false); err != nil {
		c.logger.Error("failed to ack message", logging.Error(err), "delivery_tag", msg.DeliveryTag)
	}
}

func failureReason(err error) string {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return deadletter.ReasonMalformed
	}
	return deadletter.ReasonInvalid
}

// Close closes the RabbitMQ connection and channel
func (c *RabbitMQConsumer) Close() error {
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Warn("error closing channel", logging.Error(err))
		}
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
