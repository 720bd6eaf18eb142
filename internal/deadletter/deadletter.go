// Package deadletter keeps messages the consumer could not process.
package deadletter

import (
	"context"
	"time"
)

// Reasons used in subjects and metrics.
const (
	ReasonMalformed = "malformed"
	ReasonInvalid   = "invalid"
)

// FailedMessage is the record written for an unprocessable queue message.
type FailedMessage struct {
	Timestamp time.Time `json:"timestamp"`
	Body      []byte    `json:"body"`
	Error     string    `json:"error"`
	Reason    string    `json:"reason"`
}

// Queue stores failed messages.
type Queue interface {
	Write(ctx context.Context, body []byte, err error, reason string) error
	Close() error
}

// Nop drops everything. It is the default when no dead letter store is configured.
type Nop struct{}

func (Nop) Write(ctx context.Context, body []byte, err error, reason string) error {
	return nil
}

func (Nop) Close() error { return nil }
