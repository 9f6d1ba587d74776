// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package realtime

import (
	"context"
	"errors"

	"github.com/kpuvote/kpu-vote/models"
)

// Status is the lifecycle state of a room subscription.
type Status int

const (
	Subscribing Status = iota
	Subscribed
	ChannelError
	TimedOut
	Closed
)

func (s Status) String() string {
	switch s {
	case Subscribing:
		return "SUBSCRIBING"
	case Subscribed:
		return "SUBSCRIBED"
	case ChannelError:
		return "CHANNEL_ERROR"
	case TimedOut:
		return "TIMED_OUT"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Healthy reports whether the status is a normal, non-failure state.
func (s Status) Healthy() bool {
	return s == Subscribing || s == Subscribed || s == Closed
}

var (
	ErrTimedOut = errors.New("realtime: subscribe timed out")
	ErrClosed   = errors.New("realtime: broker closed")
	ErrOverflow = errors.New("realtime: subscriber fell behind")
)

// EventFunc receives messages inserted into a subscribed room.
type EventFunc func(models.ChatMessage)

// StatusFunc receives subscription status changes. err is non-nil for
// ChannelError and TimedOut.
type StatusFunc func(Status, error)

// Subscription is a live interest in one room's inserts.
// Unsubscribe is idempotent.
type Subscription interface {
	Room() string
	Unsubscribe() error
}

// Broker fans chat message inserts out to room subscribers.
//
// Failures while establishing a subscription are returned from Subscribe.
// Everything after that, including the initial Subscribed status, is
// reported through onStatus from the subscription's own goroutine, so
// callbacks may take locks held by the caller of Subscribe.
type Broker interface {
	Publish(ctx context.Context, msg models.ChatMessage) error
	Subscribe(ctx context.Context, room string, onEvent EventFunc, onStatus StatusFunc) (Subscription, error)
	Close() error
}

// Channel returns the pub/sub channel name for a room.
func Channel(room string) string {
	return "room_" + room
}
