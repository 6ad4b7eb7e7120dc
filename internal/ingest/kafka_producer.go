// Package ingest publishes session lifecycle events for the reporting and
// dashboard subsystems. Delivery is best effort; the live protocol path
// never blocks on it.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/shuttle-presence/internal/models"
)

const (
	KindStarted = "started"
	KindStopped = "stopped"
	KindExpired = "expired"
)

// SessionEvent is the wire record written to the session-events topic.
type SessionEvent struct {
	Kind          string      `json:"kind"`
	SessionID     string      `json:"session_id"`
	UserID        string      `json:"user_id"`
	Role          models.Role `json:"role"`
	LocationRefID string      `json:"location_ref_id"`
	At            time.Time   `json:"at"`
}

// Publisher is what the protocol handler and the sweeper depend on.
type Publisher interface {
	PublishSessionEvent(ctx context.Context, ev SessionEvent) error
}

type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaProducer{writer: w}
}

func (k *KafkaProducer) PublishSessionEvent(ctx context.Context, ev SessionEvent) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(ev)
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.UserID), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// EventFromSession builds the lifecycle record for a session transition.
func EventFromSession(kind string, sess *models.Session) SessionEvent {
	at := sess.StartedAt
	if kind != KindStarted {
		at = sess.EndedAt
	}
	return SessionEvent{
		Kind:          kind,
		SessionID:     sess.ID,
		UserID:        sess.UserID,
		Role:          sess.Role,
		LocationRefID: sess.LocationRefID,
		At:            at,
	}
}
