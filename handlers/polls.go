// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kpuvote/kpu-vote/apperr"
	"github.com/kpuvote/kpu-vote/gateway"
	"github.com/kpuvote/kpu-vote/middleware"
	"github.com/kpuvote/kpu-vote/models"
	"github.com/kpuvote/kpu-vote/session"
	"github.com/kpuvote/kpu-vote/tally"
)

// maxListLimit caps GET /votes page size
const maxListLimit = 100

type PollHandler struct {
	gw    *gateway.Gateway
	tally *tally.Reconciler
}

func NewPollHandler(gw *gateway.Gateway, rec *tally.Reconciler) *PollHandler {
	return &PollHandler{gw: gw, tally: rec}
}

// ListPolls handles GET /votes
// Public polls newest first. ?mine=true lists the caller's own polls and
// ?voted=true the polls they have voted on; both include private polls.
// ?sort=popular keeps polls with votes, most voted first.
func (h *PollHandler) ListPolls(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := gateway.ListFilter{PublicOnly: true, Limit: maxListLimit}

	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			middleware.ErrorResponse(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = min(n, maxListLimit)
	}

	switch q.Get("sort") {
	case "", "newest":
	case "popular":
		filter.Popular = true
	default:
		middleware.ErrorResponse(w, http.StatusBadRequest, "sort must be newest or popular")
		return
	}

	mine, voted := q.Get("mine") == "true", q.Get("voted") == "true"
	if mine || voted {
		id := session.FromContext(r.Context())
		if id == nil {
			middleware.ErrorResponse(w, http.StatusUnauthorized, "Please sign in")
			return
		}
		filter.PublicOnly = false
		if mine {
			filter.CreatedBy = id.ID
		}
		if voted {
			filter.VotedBy = id.ID
		}
	}

	polls, err := h.gw.ListPolls(r.Context(), filter)
	if err != nil {
		slog.Error("failed to list polls", "error", err)
		middleware.ErrorResponse(w, http.StatusBadGateway, "Failed to load polls")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.PollListResponse{Polls: polls})
}

// CreatePoll handles POST /votes
func (h *PollHandler) CreatePoll(w http.ResponseWriter, r *http.Request) {
	id := session.FromContext(r.Context())

	var req models.CreatePollRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	poll, err := pollFromRequest(req, id.ID, h.tally.Now())
	if err != nil {
		middleware.WriteAppError(w, err)
		return
	}

	poll, err = h.gw.InsertPoll(r.Context(), poll)
	if err != nil {
		slog.Error("failed to insert poll", "error", err)
		middleware.ErrorResponse(w, http.StatusBadGateway, "Failed to create poll")
		return
	}

	slog.Info("poll created", "poll_id", poll.ID, "created_by", id.ID, "options", len(poll.Options))

	middleware.JSONResponse(w, http.StatusCreated, models.CreatePollResponse{ID: poll.ID})
}

// pollFromRequest validates the create form and builds the row to insert
func pollFromRequest(req models.CreatePollRequest, createdBy string, now time.Time) (models.Poll, error) {
	const op = "create poll"

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return models.Poll{}, apperr.New(apperr.Validation, op, "Title is required")
	}
	if len(req.Options) < 2 {
		return models.Poll{}, apperr.New(apperr.Validation, op, "At least two options are required")
	}
	options := make([]models.Option, len(req.Options))
	for i, text := range req.Options {
		text = strings.TrimSpace(text)
		if text == "" {
			return models.Poll{}, apperr.New(apperr.Validation, op, "Options cannot be empty")
		}
		options[i] = models.Option{Text: text}
	}
	if req.DueDate.IsZero() || !req.DueDate.After(now) {
		return models.Poll{}, apperr.New(apperr.Validation, op, "Due date must be in the future")
	}

	p := models.Poll{
		Title:         title,
		DueDate:       req.DueDate,
		Options:       options,
		IsPublic:      true,
		AllowMultiple: req.AllowMultiple,
		AllowComments: true,
		Tags:          req.Tags,
		CreatedBy:     createdBy,
	}
	if req.IsPublic != nil {
		p.IsPublic = *req.IsPublic
	}
	if req.AllowComments != nil {
		p.AllowComments = *req.AllowComments
	}
	if d := strings.TrimSpace(req.Description); d != "" {
		p.Description = &d
	}
	if req.ImageURL != "" {
		p.ImageURL = &req.ImageURL
	}
	if req.CategoryID != "" {
		p.CategoryID = &req.CategoryID
	}
	return p, nil
}

// Recount handles POST /votes/{id}/recount
// Rebuilds the tally from stored ballots. Safe to repeat.
func (h *PollHandler) Recount(w http.ResponseWriter, r *http.Request) {
	pollID := r.PathValue("id")

	poll, err := h.tally.Recount(r.Context(), pollID)
	if err != nil {
		middleware.WriteAppError(w, err)
		return
	}

	middleware.JSONResponse(w, http.StatusOK, poll)
}

// DeletePoll handles DELETE /votes/{id}
// Only the creator may delete a poll.
func (h *PollHandler) DeletePoll(w http.ResponseWriter, r *http.Request) {
	pollID := r.PathValue("id")
	id := session.FromContext(r.Context())

	poll, err := h.gw.GetPoll(r.Context(), pollID)
	if gateway.IsNotFound(err) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Poll not found")
		return
	}
	if err != nil {
		slog.Error("failed to load poll", "poll_id", pollID, "error", err)
		middleware.ErrorResponse(w, http.StatusBadGateway, "Failed to load poll")
		return
	}

	if poll.CreatedBy != id.ID {
		middleware.ErrorResponse(w, http.StatusForbidden, "Only the poll creator can delete it")
		return
	}

	if err := h.gw.DeletePoll(r.Context(), pollID); err != nil {
		if gateway.IsNotFound(err) {
			middleware.ErrorResponse(w, http.StatusNotFound, "Poll not found")
			return
		}
		slog.Error("failed to delete poll", "poll_id", pollID, "error", err)
		middleware.ErrorResponse(w, http.StatusBadGateway, "Failed to delete poll")
		return
	}

	slog.Info("poll deleted", "poll_id", pollID, "deleted_by", id.ID)
	w.WriteHeader(http.StatusNoContent)
}
