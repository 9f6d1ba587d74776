// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	TypeBallotRecorded = "ballot.recorded"
	TypeMessageSent    = "message.sent"
)

// Event is the envelope written to the topic.
type Event struct {
	Type      string    `json:"type"`
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

type BallotRecorded struct {
	PollID  string `json:"poll_id"`
	UserID  string `json:"user_id"`
	Options []int  `json:"options"`
	Partial bool   `json:"partial"`
}

type MessageSent struct {
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
	SenderID  string `json:"sender_id,omitempty"`
	File      bool   `json:"file"`
}

// Publisher emits domain events for downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// New builds an Event keyed for partitioning.
func New(eventType, key string, data any) Event {
	return Event{
		Type:      eventType,
		Key:       key,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// KafkaPublisher writes events asynchronously; delivery failures surface
// through the writer's error logger, not Publish.
type KafkaPublisher struct {
	w *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		ErrorLogger:  kafka.LoggerFunc(func(msg string, args ...interface{}) {
			slog.Error("kafka writer", "error", fmt.Sprintf(msg, args...))
		}),
	}
	return &KafkaPublisher{w: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Key),
		Value: value,
		Time:  e.Timestamp,
	})
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
