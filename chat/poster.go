// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package chat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/kpuvote/kpu-vote/apperr"
	"github.com/kpuvote/kpu-vote/events"
	"github.com/kpuvote/kpu-vote/metrics"
	"github.com/kpuvote/kpu-vote/models"
	"github.com/kpuvote/kpu-vote/session"
)

var (
	ErrEmptyMessage = apperr.New(apperr.Validation, "send", "Message cannot be empty")
	ErrNoUploads    = apperr.New(apperr.Validation, "send file", "File sharing is not available")
)

// Inserter stores a message and announces it to the room.
type Inserter interface {
	InsertMessage(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error)
}

// Poster writes messages into rooms. It holds no room state; callers that
// need an in-flight guard use Stream.
type Poster struct {
	store    Inserter
	uploader Uploader
	metrics  *metrics.Metrics
	events   events.Publisher
}

func NewPoster(store Inserter, uploader Uploader, m *metrics.Metrics, p events.Publisher) *Poster {
	if p == nil {
		p = events.Nop{}
	}
	return &Poster{store: store, uploader: uploader, metrics: m, events: p}
}

// CanUpload reports whether file shares are configured.
func (p *Poster) CanUpload() bool { return p.uploader != nil }

// Sender checks that id can author messages. The display name falls back
// to the email; an identity with neither cannot send.
func Sender(op string, id *session.Identity) error {
	if id == nil || id.DisplayName() == "" {
		return apperr.New(apperr.Unauthenticated, op, "Please sign in to chat")
	}
	return nil
}

// Text stores a trimmed text message from sender in room.
func (p *Poster) Text(ctx context.Context, room string, sender *session.Identity, content string) (models.ChatMessage, error) {
	const op = "send"

	text := strings.TrimSpace(content)
	if text == "" {
		return models.ChatMessage{}, ErrEmptyMessage
	}
	if err := Sender(op, sender); err != nil {
		return models.ChatMessage{}, err
	}

	stored, err := p.store.InsertMessage(ctx, NewTextMessage(room, sender, text))
	if err != nil {
		slog.Error("failed to send chat message", "room_id", room, "error", err)
		return models.ChatMessage{}, apperr.E(apperr.Transport, op, "Failed to send message", err)
	}

	p.sent(ctx, stored, "text")
	return stored, nil
}

// File uploads r and stores a file-share message pointing at it. The
// upload is removed again if the message cannot be stored.
func (p *Poster) File(ctx context.Context, room string, sender *session.Identity, name, contentType string, r io.Reader, size int64) (models.ChatMessage, error) {
	const op = "send file"

	if p.uploader == nil {
		return models.ChatMessage{}, ErrNoUploads
	}
	name = CleanFileName(name)
	if name == "" {
		return models.ChatMessage{}, apperr.New(apperr.Validation, op, "File name is required")
	}
	if err := Sender(op, sender); err != nil {
		return models.ChatMessage{}, err
	}

	key := fmt.Sprintf("%s/%s-%s", room, uuid.NewString(), name)
	url, err := p.uploader.Upload(ctx, key, contentType, r, size)
	if err != nil {
		slog.Error("failed to upload chat file", "room_id", room, "file", name, "error", err)
		return models.ChatMessage{}, apperr.E(apperr.Transport, op, "Failed to upload file", err)
	}

	stored, err := p.store.InsertMessage(ctx, ShareFile(room, sender, url, name))
	if err != nil {
		slog.Error("failed to send file message", "room_id", room, "file", name, "error", err)
		if rmErr := p.uploader.Remove(context.WithoutCancel(ctx), key); rmErr != nil {
			slog.Warn("failed to remove orphaned upload", "key", key, "error", rmErr)
		}
		return models.ChatMessage{}, apperr.E(apperr.Transport, op, "Failed to send file", err)
	}

	p.sent(ctx, stored, "file")
	return stored, nil
}

// CleanFileName strips any directory part from a client-supplied name.
func CleanFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	return name
}

func (p *Poster) sent(ctx context.Context, m models.ChatMessage, kind string) {
	p.metrics.MessageSent(kind)
	e := events.New(events.TypeMessageSent, m.RoomID, events.MessageSent{
		RoomID:    m.RoomID,
		MessageID: m.ID,
		SenderID:  m.SenderID,
		File:      m.IsFile(),
	})
	if err := p.events.Publish(ctx, e); err != nil {
		slog.Warn("failed to publish message event", "room_id", m.RoomID, "error", err)
	}
}
