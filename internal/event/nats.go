// internal/event/nats.go
// Package event provides NATS JetStream implementation for event publishing.
// It streams entity change and sync completion events so companion services
// (analytics, notification fan-out) can react without polling the store.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/stylevault/stylevault-go/internal/model"
)

// Publisher interface defines the event publishing operations required by
// the sync coordinator. Publishing is best-effort: a failed publish never
// fails the storage operation that triggered it.
type Publisher interface {
	// PublishEntityChanged announces that a user's entity was written.
	PublishEntityChanged(ctx context.Context, userID string, key model.EntityKey) error

	// PublishSyncCompleted announces the end of a merge-on-login cycle.
	PublishSyncCompleted(ctx context.Context, userID string, merged bool) error

	// Close closes the publisher connection
	Close() error
}

// noop is a no-op implementation of Publisher for when NATS is not
// configured. It allows the service to run without event streaming.
type noop struct{}

func (n *noop) Close() error { return nil }

func (n *noop) PublishEntityChanged(ctx context.Context, userID string, key model.EntityKey) error {
	return nil
}

func (n *noop) PublishSyncCompleted(ctx context.Context, userID string, merged bool) error {
	return nil
}

// NewNoop returns a Publisher that drops every event.
func NewNoop() Publisher { return &noop{} }

// natsPub is the NATS JetStream implementation of Publisher.
type natsPub struct {
	nc *nats.Conn            // NATS connection
	js nats.JetStreamContext // JetStream context for stream operations
}

// NewPublisherFromEnv creates a new publisher based on environment
// configuration. It reads SV_NATS_URL; when unset, or when the connection
// fails, a no-op publisher is returned so the service keeps working.
func NewPublisherFromEnv() Publisher {
	url := os.Getenv("SV_NATS_URL")
	if url == "" {
		return &noop{}
	}

	nc, err := nats.Connect(url)
	if err != nil {
		slog.Warn("NATS connect failed, using noop publisher", "error", err)
		return &noop{}
	}

	js, err := nc.JetStream()
	if err != nil {
		slog.Warn("NATS JetStream context creation failed, using noop publisher", "error", err)
		nc.Close()
		return &noop{}
	}

	if err := initStream(js); err != nil {
		slog.Warn("NATS stream initialization failed, using noop publisher", "error", err)
		nc.Close()
		return &noop{}
	}

	return &natsPub{nc: nc, js: js}
}

// initStream creates the SV_EVENTS stream covering every service subject.
func initStream(js nats.JetStreamContext) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      "SV_EVENTS",                // Stream name
		Subjects:  []string{"stylevault.>"},   // All service subjects
		Retention: nats.LimitsPolicy,          // Retention policy
		MaxAge:    24 * time.Hour,             // Keep events for 24 hours
		Discard:   nats.DiscardOld,            // Discard old messages when limits reached
		Storage:   nats.FileStorage,           // Use file storage for persistence
	})
	if err != nil {
		return fmt.Errorf("failed to create SV_EVENTS stream: %w", err)
	}
	return nil
}

// EventEnvelope represents the standard event envelope structure.
// All events published to NATS are wrapped in this envelope.
type EventEnvelope struct {
	Type          string      `json:"type"`          // Event type identifier
	Version       string      `json:"version"`       // Event schema version
	OccurredAt    time.Time   `json:"occurredAt"`    // When the event occurred
	CorrelationID string      `json:"correlationId"` // Correlation ID for tracing
	Payload       interface{} `json:"payload"`       // Event-specific data
}

// Close closes the NATS connection.
func (p *natsPub) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

func (p *natsPub) publish(subject string, payload interface{}) error {
	envelope := EventEnvelope{
		Type:          subject,
		Version:       "1.0.0",
		OccurredAt:    time.Now().UTC(),
		CorrelationID: uuid.New().String(),
		Payload:       payload,
	}
	b, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(subject, b)
	return err
}

// PublishEntityChanged publishes an entity change event. The payload names
// the user and entity but never carries the entity body, which can hold
// personal data.
func (p *natsPub) PublishEntityChanged(ctx context.Context, userID string, key model.EntityKey) error {
	subject := fmt.Sprintf("stylevault.entity.%s.changed", key)
	return p.publish(subject, map[string]interface{}{
		"userId": userID,
		"entity": string(key),
	})
}

// PublishSyncCompleted publishes a sync completion event.
func (p *natsPub) PublishSyncCompleted(ctx context.Context, userID string, merged bool) error {
	return p.publish("stylevault.sync.completed", map[string]interface{}{
		"userId": userID,
		"merged": merged,
	})
}
