// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package tally

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/kpuvote/kpu-vote/apperr"
	"github.com/kpuvote/kpu-vote/events"
	"github.com/kpuvote/kpu-vote/gateway"
	"github.com/kpuvote/kpu-vote/metrics"
	"github.com/kpuvote/kpu-vote/models"
)

// MaxCASAttempts bounds the read-increment-swap loop of the aggregate write.
const MaxCASAttempts = 8

// ErrContention is returned when every CAS attempt lost to another writer.
var ErrContention = errors.New("tally: too much write contention")

const (
	msgAlreadyVoted = "You have already voted on this poll"
	msgPartial      = "Your vote was recorded but totals may be delayed"
)

// Store is the subset of the gateway the reconciler writes through.
type Store interface {
	GetPoll(ctx context.Context, id string) (models.Poll, error)
	InsertBallot(ctx context.Context, b models.Ballot) (models.Ballot, error)
	CompareAndSwapTally(ctx context.Context, pollID string, expectedRev int64, options []models.Option, votesCount int) (bool, error)
	CountSelections(ctx context.Context, pollID string) (map[int]int, error)
}

// Outcome describes a submission whose ballot was stored. Poll is the
// post-write tally: authoritative after a full success, optimistic when
// Partial is set.
type Outcome struct {
	Ballot   models.Ballot
	Poll     models.Poll
	Partial  bool
	Attempts int
}

// Reconciler performs the two-phase vote write: record the ballot, then
// bump the aggregate counts.
type Reconciler struct {
	store   Store
	now     func() time.Time
	metrics *metrics.Metrics
	events  events.Publisher
}

type Option func(*Reconciler)

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

func WithEvents(p events.Publisher) Option {
	return func(r *Reconciler) { r.events = p }
}

func New(store Store, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:  store,
		now:    time.Now,
		events: events.Nop{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Now returns the reconciler's clock reading.
func (r *Reconciler) Now() time.Time { return r.now() }

// Validate normalizes a selection against poll: duplicates are removed and
// indices sorted. Every failure is a Validation error.
func Validate(poll models.Poll, indices []int, now time.Time) ([]int, error) {
	const op = "validate ballot"

	if poll.Closed(now) {
		return nil, apperr.New(apperr.Validation, op, "Voting has closed for this poll")
	}
	if len(indices) == 0 {
		return nil, apperr.New(apperr.Validation, op, "Please select an option")
	}

	sel := slices.Clone(indices)
	slices.Sort(sel)
	sel = slices.Compact(sel)

	for _, i := range sel {
		if i < 0 || i >= len(poll.Options) {
			return nil, apperr.New(apperr.Validation, op, "Selected option does not exist")
		}
	}
	if !poll.AllowMultiple && len(sel) > 1 {
		return nil, apperr.New(apperr.Validation, op, "This poll allows only one choice")
	}
	return sel, nil
}

// Apply returns a copy of poll with each selected option and votes_count
// incremented by one per selection.
func Apply(poll models.Poll, indices []int) models.Poll {
	next := poll.Clone()
	for _, i := range indices {
		if i < 0 || i >= len(next.Options) {
			continue
		}
		next.Options[i].Votes++
		next.VotesCount++
	}
	return next
}

// Submit records userID's ballot on pollID and updates the tally.
//
// The poll is re-read first so the due date and option list are current.
// A uniqueness conflict on the ballot is AlreadyVoted. If the ballot is
// stored but the tally write fails, the Outcome is still returned with
// Partial set, together with a PartialSuccess error; the ballot write is
// never retried.
func (r *Reconciler) Submit(ctx context.Context, pollID, userID string, indices []int) (Outcome, error) {
	const op = "submit ballot"

	if userID == "" {
		return Outcome{}, apperr.New(apperr.Unauthenticated, op, "Please sign in to vote")
	}

	poll, err := r.store.GetPoll(ctx, pollID)
	if err != nil {
		r.metrics.BallotSubmitted("error")
		if gateway.IsNotFound(err) {
			return Outcome{}, apperr.E(apperr.NotFound, op, "Poll not found", err)
		}
		return Outcome{}, apperr.E(apperr.Transport, op, "Failed to load poll", err)
	}

	sel, err := Validate(poll, indices, r.now())
	if err != nil {
		r.metrics.BallotSubmitted("invalid")
		return Outcome{}, err
	}

	// Phase A
	ballot, err := r.store.InsertBallot(ctx, models.Ballot{
		UserID:          userID,
		PollID:          pollID,
		SelectedIndices: sel,
	})
	if err != nil {
		if gateway.IsConflict(err) {
			r.metrics.BallotSubmitted("already_voted")
			return Outcome{}, apperr.E(apperr.AlreadyVoted, op, msgAlreadyVoted, err)
		}
		r.metrics.BallotSubmitted("error")
		slog.Error("failed to insert ballot", "poll_id", pollID, "error", err)
		return Outcome{}, apperr.E(apperr.Transport, op, "Failed to record your vote", err)
	}

	// Phase B
	updated, attempts, err := r.increment(ctx, pollID, sel)
	if err != nil {
		r.metrics.BallotSubmitted("partial")
		slog.Warn("ballot recorded but tally update failed",
			"poll_id", pollID, "ballot_id", ballot.ID, "attempts", attempts, "error", err)
		r.emit(ctx, ballot, true)
		return Outcome{
			Ballot:   ballot,
			Poll:     Apply(poll, sel),
			Partial:  true,
			Attempts: attempts,
		}, apperr.E(apperr.PartialSuccess, op, msgPartial, err)
	}

	r.metrics.BallotSubmitted("ok")
	slog.Info("ballot recorded", "poll_id", pollID, "ballot_id", ballot.ID, "attempts", attempts)
	r.emit(ctx, ballot, false)
	return Outcome{Ballot: ballot, Poll: updated, Attempts: attempts}, nil
}

// increment re-reads the current counts immediately before each write and
// swaps them in only if no other tally write landed in between.
func (r *Reconciler) increment(ctx context.Context, pollID string, sel []int) (models.Poll, int, error) {
	for attempt := 1; attempt <= MaxCASAttempts; attempt++ {
		current, err := r.store.GetPoll(ctx, pollID)
		if err != nil {
			return models.Poll{}, attempt, err
		}
		next := Apply(current, sel)

		ok, err := r.store.CompareAndSwapTally(ctx, pollID, current.TallyRev, next.Options, next.VotesCount)
		if err != nil {
			return models.Poll{}, attempt, err
		}
		if ok {
			return next, attempt, nil
		}
		r.metrics.TallyCASRetry()
	}
	return models.Poll{}, MaxCASAttempts, ErrContention
}

// Recount rebuilds every option count and votes_count from the stored
// ballots. It is safe to repeat and is the retry path after a partial
// success.
func (r *Reconciler) Recount(ctx context.Context, pollID string) (models.Poll, error) {
	const op = "recount"

	for attempt := 1; attempt <= MaxCASAttempts; attempt++ {
		current, err := r.store.GetPoll(ctx, pollID)
		if err != nil {
			if gateway.IsNotFound(err) {
				return models.Poll{}, apperr.E(apperr.NotFound, op, "Poll not found", err)
			}
			return models.Poll{}, apperr.E(apperr.Transport, op, "Failed to load poll", err)
		}

		counts, err := r.store.CountSelections(ctx, pollID)
		if err != nil {
			return models.Poll{}, apperr.E(apperr.Transport, op, "Failed to count ballots", err)
		}

		next := current.Clone()
		for i := range next.Options {
			next.Options[i].Votes = counts[i]
		}
		next.VotesCount = next.TallySum()

		ok, err := r.store.CompareAndSwapTally(ctx, pollID, current.TallyRev, next.Options, next.VotesCount)
		if err != nil {
			return models.Poll{}, apperr.E(apperr.Transport, op, "Failed to write tally", err)
		}
		if ok {
			r.metrics.TallyRecount()
			if !current.TallyConsistent() || current.VotesCount != next.VotesCount {
				slog.Info("tally repaired", "poll_id", pollID,
					"old_count", current.VotesCount, "new_count", next.VotesCount)
			}
			return next, nil
		}
		r.metrics.TallyCASRetry()
	}
	return models.Poll{}, apperr.E(apperr.Transport, op, "Tally is busy, try again", ErrContention)
}

func (r *Reconciler) emit(ctx context.Context, b models.Ballot, partial bool) {
	e := events.New(events.TypeBallotRecorded, b.PollID, events.BallotRecorded{
		PollID:  b.PollID,
		UserID:  b.UserID,
		Options: b.Indices(),
		Partial: partial,
	})
	if err := r.events.Publish(ctx, e); err != nil {
		slog.Warn("failed to publish ballot event", "poll_id", b.PollID, "error", err)
	}
}
