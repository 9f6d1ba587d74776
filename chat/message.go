// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package chat

import (
	"slices"
	"strings"

	"github.com/kpuvote/kpu-vote/models"
	"github.com/kpuvote/kpu-vote/session"
)

// NewTextMessage builds an unsaved text message from sender.
func NewTextMessage(room string, sender *session.Identity, content string) models.ChatMessage {
	return models.ChatMessage{
		RoomID:     room,
		SenderName: sender.DisplayName(),
		SenderID:   sender.ID,
		Content:    &content,
	}
}

// ShareFile builds an unsaved file-share message. Content stays nil.
func ShareFile(room string, sender *session.Identity, url, name string) models.ChatMessage {
	return models.ChatMessage{
		RoomID:     room,
		SenderName: sender.DisplayName(),
		SenderID:   sender.ID,
		FileURL:    &url,
		FileName:   &name,
	}
}

// SortMessages orders msgs by timestamp, breaking ties by id.
func SortMessages(msgs []models.ChatMessage) {
	slices.SortStableFunc(msgs, func(a, b models.ChatMessage) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
