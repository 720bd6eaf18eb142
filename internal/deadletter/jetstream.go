package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/logging"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/metrics"
)

const (
	StreamName    = "PACKAGES_DLQ"
	SubjectPrefix = "packages.dlq."
)

type publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// JetStreamQueue writes failed messages to a NATS JetStream stream.
type JetStreamQueue struct {
	conn   *nats.Conn
	js     publisher
	logger *logging.Logger
}

// NewJetStreamQueue connects to NATS and creates or updates the dead letter stream.
func NewJetStreamQueue(ctx context.Context, url string, logger *logging.Logger) (*JetStreamQueue, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.With(logging.Component("deadletter"))

	conn, err := nats.Connect(url,
		nats.Name("delivery-service"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", logging.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectPrefix + ">"},
		MaxAge:    7 * 24 * time.Hour,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}

	logger.Info("dead letter stream ready", "stream", StreamName)

	return &JetStreamQueue{conn: conn, js: js, logger: logger}, nil
}

// Write publishes the failed message to packages.dlq.<reason>.
func (q *JetStreamQueue) Write(ctx context.Context, body []byte, err error, reason string) error {
	failed := FailedMessage{
		Timestamp: time.Now().UTC(),
		Body:      body,
		Reason:    reason,
	}
	if err != nil {
		failed.Error = err.Error()
	}

	data, marshalErr := json.Marshal(failed)
	if marshalErr != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", marshalErr)
	}

	if _, pubErr := q.js.Publish(ctx, SubjectPrefix+reason, data); pubErr != nil {
		return fmt.Errorf("failed to publish dead letter: %w", pubErr)
	}

	metrics.DeadLettered.WithLabelValues(reason).Inc()
	return nil
}

// Close drains the NATS connection.
func (q *JetStreamQueue) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Drain()
}
