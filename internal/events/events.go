package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	TopicUserEvents = "user_events"
	// TopicNotifications carries events holding live secrets, such as
	// reset tokens, so consumer access can be granted separately.
	TopicNotifications = "auth_notifications"

	TypeRegistered      = "user_registered"
	TypeLoggedIn        = "user_logged_in"
	TypeLoggedOut       = "user_logged_out"
	TypeResetRequested  = "password_reset_requested"
	TypePasswordReset   = "password_reset_completed"
	TypeSessionsRevoked = "sessions_revoked"

	writeTimeout = 5 * time.Second
)

// Event is the JSON value written to Kafka. ResetToken is only set on
// password_reset_requested, which the notification service turns into
// an email.
type Event struct {
	Type       string    `json:"type"`
	UserID     uint      `json:"user_id"`
	Username   string    `json:"username,omitempty"`
	Email      string    `json:"email,omitempty"`
	ResetToken string    `json:"reset_token,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// TopicFor routes an event type to its topic.
func TopicFor(eventType string) string {
	if eventType == TypeResetRequested {
		return TopicNotifications
	}
	return TopicUserEvents
}

type Publisher interface {
	PublishEvent(ctx context.Context, topic, key string, event any) error
}

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	w writer
}

func NewProducer(brokers []string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
			WriteTimeout:           writeTimeout,
		},
	}
}

func (p *Producer) PublishEvent(ctx context.Context, topic, key string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka: json.Marshal failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write failed: %w", err)
	}
	return nil
}

func (p *Producer) Close() error { return p.w.Close() }

// Nop drops every event. It is used when KAFKA_BROKERS is unset.
type Nop struct{}

func (Nop) PublishEvent(context.Context, string, string, any) error { return nil }

func KeyFromID(id uint) string { return strconv.FormatUint(uint64(id), 10) }
