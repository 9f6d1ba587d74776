// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/kpuvote/kpu-vote/apperr"
	"github.com/kpuvote/kpu-vote/ballot"
	"github.com/kpuvote/kpu-vote/gateway"
	"github.com/kpuvote/kpu-vote/middleware"
	"github.com/kpuvote/kpu-vote/models"
	"github.com/kpuvote/kpu-vote/session"
	"github.com/kpuvote/kpu-vote/tally"
)

type VotingHandler struct {
	gw    *gateway.Gateway
	tally *tally.Reconciler
}

func NewVotingHandler(gw *gateway.Gateway, rec *tally.Reconciler) *VotingHandler {
	return &VotingHandler{gw: gw, tally: rec}
}

// open builds a ballot machine for the caller and loads it
func (h *VotingHandler) open(r *http.Request) (*ballot.Machine, error) {
	sess := session.WithIdentity(session.FromContext(r.Context()))
	m := ballot.New(r.PathValue("id"), h.gw, h.tally, sess, ballot.WithClock(h.tally.Now))
	if err := m.Open(r.Context()); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

// GetPoll handles GET /votes/{id}
// Returns the poll with the caller's eligibility and prior ballot.
func (h *VotingHandler) GetPoll(w http.ResponseWriter, r *http.Request) {
	m, err := h.open(r)
	if err != nil {
		middleware.WriteAppError(w, err)
		return
	}
	defer m.Close()

	middleware.JSONResponse(w, http.StatusOK, m.View())
}

// SubmitBallot handles POST /votes/{id}/ballots
func (h *VotingHandler) SubmitBallot(w http.ResponseWriter, r *http.Request) {
	pollID := r.PathValue("id")

	var req models.SubmitBallotRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if len(req.Options) == 0 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Please select an option")
		return
	}

	m, err := h.open(r)
	if err != nil {
		middleware.WriteAppError(w, err)
		return
	}
	defer m.Close()

	// SelectOption toggles on multi-select polls, so repeats are dropped first
	indices := slices.Clone(req.Options)
	slices.Sort(indices)
	indices = slices.Compact(indices)

	if view := m.View(); view.Poll != nil && !view.Poll.AllowMultiple && len(indices) > 1 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Only one option can be selected")
		return
	}
	for _, i := range indices {
		if err := m.SelectOption(i); err != nil {
			middleware.WriteAppError(w, err)
			return
		}
	}

	err = m.Submit(r.Context())
	switch apperr.KindOf(err) {
	case apperr.Unknown:
		if err != nil {
			middleware.WriteAppError(w, err)
			return
		}
		view := m.View()
		middleware.JSONResponse(w, http.StatusCreated, models.SubmitBallotResponse{
			Status:  "recorded",
			Message: view.Message,
			View:    view,
		})
	case apperr.PartialSuccess:
		slog.Warn("ballot recorded with stale tally", "poll_id", pollID, "error", err)
		middleware.JSONResponse(w, http.StatusAccepted, models.SubmitBallotResponse{
			Status:  "partial",
			Message: apperr.Message(err),
			View:    m.View(),
		})
	default:
		middleware.WriteAppError(w, err)
	}
}
