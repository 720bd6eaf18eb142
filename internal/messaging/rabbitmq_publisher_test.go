package messaging

import (
	"encoding/json"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/config"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/models"
)

func TestNewPublishing(t *testing.T) {
	typeID := 2
	event := models.PackageRegisteredEvent{Name: "Phone", WeightKg: 0.3, ContentValueUSD: 500, TypeID: &typeID}

	msg, err := newPublishing(event)
	require.NoError(t, err)

	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.NotEmpty(t, msg.MessageId)

	var decoded models.PackageRegisteredEvent
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, "Phone", decoded.Name)
	require.NotNil(t, decoded.TypeID)
	assert.Equal(t, 2, *decoded.TypeID)
	assert.Nil(t, decoded.SessionID)
}

func TestPublisherRoute(t *testing.T) {
	direct := &RabbitMQPublisher{config: config.RabbitMQConfig{Queue: "packages_queue"}}
	exchange, key := direct.route()
	assert.Equal(t, "", exchange)
	assert.Equal(t, "packages_queue", key)

	topic := &RabbitMQPublisher{config: config.RabbitMQConfig{Queue: "q", Exchange: "delivery", RoutingKey: "package.registered"}}
	exchange, key = topic.route()
	assert.Equal(t, "delivery", exchange)
	assert.Equal(t, "package.registered", key)
}
