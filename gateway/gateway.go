// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package gateway

import (
	"context"
	"log/slog"

	"github.com/kpuvote/kpu-vote/models"
	"github.com/kpuvote/kpu-vote/realtime"
)

// Gateway is the single boundary the workflows talk to: table access plus
// insert notifications for chat rooms.
type Gateway struct {
	*SQLStore
	broker realtime.Broker
}

func New(store *SQLStore, broker realtime.Broker) *Gateway {
	return &Gateway{SQLStore: store, broker: broker}
}

// InsertMessage stores msg and then announces it to room subscribers. A
// failed announcement is logged, not returned: the row is already stored.
func (g *Gateway) InsertMessage(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error) {
	stored, err := g.SQLStore.InsertMessage(ctx, msg)
	if err != nil {
		return models.ChatMessage{}, err
	}

	if err := g.broker.Publish(ctx, stored); err != nil {
		slog.Warn("failed to publish chat message", "room_id", stored.RoomID, "message_id", stored.ID, "error", err)
	}
	return stored, nil
}

// Subscribe registers interest in inserts for roomID.
func (g *Gateway) Subscribe(ctx context.Context, roomID string, onEvent realtime.EventFunc, onStatus realtime.StatusFunc) (realtime.Subscription, error) {
	return g.broker.Subscribe(ctx, roomID, onEvent, onStatus)
}

// Broker returns the realtime broker backing Subscribe.
func (g *Gateway) Broker() realtime.Broker { return g.broker }
