package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/config"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/models"
)

// RabbitMQPublisher publishes package registration events
type RabbitMQPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	config  config.RabbitMQConfig
}

// NewRabbitMQPublisher connects and declares the same topology as the consumer
func NewRabbitMQPublisher(cfg config.RabbitMQConfig) (*RabbitMQPublisher, error) {
	conn, channel, err := dial(cfg)
	if err != nil {
		return nil, err
	}
	return &RabbitMQPublisher{conn: conn, channel: channel, config: cfg}, nil
}

// Publish sends event as a persistent JSON message
func (p *RabbitMQPublisher) Publish(ctx context.Context, event models.PackageRegisteredEvent) error {
	msg, err := newPublishing(event)
	if err != nil {
		return err
	}

	exchange, key := p.route()
	if err := p.channel.PublishWithContext(ctx, exchange, key, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// route returns the exchange and routing key. Without an exchange the
// message goes through the default exchange straight to the queue.
func (p *RabbitMQPublisher) route() (string, string) {
	if p.config.Exchange == "" {
		return "", p.config.Queue
	}
	return p.config.Exchange, p.config.RoutingKey
}

func newPublishing(event models.PackageRegisteredEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}, nil
}

// Close closes the channel and connection
func (p *RabbitMQPublisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
