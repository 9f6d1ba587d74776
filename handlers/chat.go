// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/kpuvote/kpu-vote/chat"
	"github.com/kpuvote/kpu-vote/gateway"
	"github.com/kpuvote/kpu-vote/middleware"
	"github.com/kpuvote/kpu-vote/models"
	"github.com/kpuvote/kpu-vote/session"
)

// MaxUploadSize bounds a multipart file share
const MaxUploadSize = 10 << 20

type ChatHandler struct {
	gw           *gateway.Gateway
	poster       *chat.Poster
	historyLimit int
}

func NewChatHandler(gw *gateway.Gateway, poster *chat.Poster, historyLimit int) *ChatHandler {
	if historyLimit <= 0 {
		historyLimit = chat.DefaultHistoryLimit
	}
	return &ChatHandler{gw: gw, poster: poster, historyLimit: historyLimit}
}

// ListMessages handles GET /rooms/{room}/messages
// Returns the newest page in ascending order.
func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")

	limit := h.historyLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			middleware.ErrorResponse(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, h.historyLimit)
	}

	msgs, err := h.gw.ListMessages(r.Context(), room, limit)
	if err != nil {
		slog.Error("failed to list messages", "room_id", room, "error", err)
		middleware.ErrorResponse(w, http.StatusBadGateway, "Failed to load messages")
		return
	}
	chat.SortMessages(msgs)

	middleware.JSONResponse(w, http.StatusOK, models.MessagesResponse{RoomID: room, Messages: msgs})
}

// SendMessage handles POST /rooms/{room}/messages
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req models.SendMessageRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	msg, err := h.poster.Text(r.Context(), r.PathValue("room"), session.FromContext(r.Context()), req.Content)
	if err != nil {
		middleware.WriteAppError(w, err)
		return
	}

	middleware.JSONResponse(w, http.StatusCreated, msg)
}

// SendFile handles POST /rooms/{room}/files
// Expects a multipart form with a "file" part.
func (h *ChatHandler) SendFile(w http.ResponseWriter, r *http.Request) {
	if !h.poster.CanUpload() {
		middleware.WriteAppError(w, chat.ErrNoUploads)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			middleware.ErrorResponse(w, http.StatusRequestEntityTooLarge, "File is too large")
			return
		}
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	msg, err := h.poster.File(r.Context(), r.PathValue("room"), session.FromContext(r.Context()),
		header.Filename, header.Header.Get("Content-Type"), file, header.Size)
	if err != nil {
		middleware.WriteAppError(w, err)
		return
	}

	middleware.JSONResponse(w, http.StatusCreated, msg)
}
