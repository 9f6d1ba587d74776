// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package ballot

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/kpuvote/kpu-vote/apperr"
	"github.com/kpuvote/kpu-vote/gateway"
	"github.com/kpuvote/kpu-vote/models"
	"github.com/kpuvote/kpu-vote/session"
	"github.com/kpuvote/kpu-vote/tally"
)

type State int

const (
	Loading State = iota
	Unauthenticated
	CheckingPriorBallot
	Eligible
	AlreadyVoted
	Closed
	Submitting
	Submitted
	SubmitFailed
	// LoadFailed means the poll could not be fetched; Err says why.
	LoadFailed
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Unauthenticated:
		return "unauthenticated"
	case CheckingPriorBallot:
		return "checking_prior_ballot"
	case Eligible:
		return "eligible"
	case AlreadyVoted:
		return "already_voted"
	case Closed:
		return "closed"
	case Submitting:
		return "submitting"
	case Submitted:
		return "submitted"
	case SubmitFailed:
		return "submit_failed"
	case LoadFailed:
		return "load_failed"
	default:
		return "unknown"
	}
}

// ErrSubmitInProgress rejects a submit while another is outstanding.
var ErrSubmitInProgress = apperr.New(apperr.Validation, "submit", "Your vote is already being submitted")

const (
	msgSubmitted     = "Your vote has been recorded"
	msgAlreadyVoted  = "You have already voted on this poll"
	msgPriorUnknown  = "Could not check for a previous vote"
	msgSignInToVote  = "Please sign in to vote"
	msgVotingClosed  = "Voting has closed for this poll"
	msgNoSelection   = "Please select an option"
	msgNotAvailable  = "Voting is not available for this poll"
	msgPollNotLoaded = "Poll is not loaded"
)

// Store is the read side the machine needs.
type Store interface {
	GetPoll(ctx context.Context, id string) (models.Poll, error)
	FindBallot(ctx context.Context, pollID, userID string) (*models.Ballot, error)
}

// Submitter performs the two-phase write.
type Submitter interface {
	Submit(ctx context.Context, pollID, userID string, indices []int) (tally.Outcome, error)
}

// Machine tracks one viewer's interaction with one poll. All methods are
// safe for concurrent use; the lock is never held across a store call.
type Machine struct {
	mu      sync.Mutex
	store   Store
	tally   Submitter
	session *session.Session
	now     func() time.Time
	pollID  string

	// poll is a cache. Submit replaces it with the post-write tally;
	// the next LoadPoll supersedes that.
	poll    *models.Poll
	loadErr error

	identity         *session.Identity
	identityResolved bool
	identityGen      int

	priorChecked bool
	hasVoted     bool
	previous     []int
	selection    []int

	submitting   bool
	submitted    bool
	submitFailed bool
	lastErr      error
	warning      string

	stopSession func()
	closed      bool
}

type Option func(*Machine)

func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// New creates a machine for pollID. It follows sess: an identity change
// resets the viewer's vote status.
func New(pollID string, store Store, submitter Submitter, sess *session.Session, opts ...Option) *Machine {
	m := &Machine{
		store:   store,
		tally:   submitter,
		session: sess,
		now:     time.Now,
		pollID:  pollID,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.stopSession = sess.OnChange(m.identityChanged)
	return m
}

// Open loads the poll, resolves the viewer and checks for a prior ballot.
// Only a load failure is returned; a failed prior-ballot check leaves the
// viewer eligible with a warning.
func (m *Machine) Open(ctx context.Context) error {
	if err := m.LoadPoll(ctx); err != nil {
		return err
	}
	if m.ResolveIdentity() == nil {
		return nil
	}
	_ = m.CheckPriorBallot(ctx)
	return nil
}

// LoadPoll fetches the poll. Failures are NotFound or Transport.
func (m *Machine) LoadPoll(ctx context.Context) error {
	const op = "load poll"

	p, err := m.store.GetPoll(ctx, m.pollID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		if gateway.IsNotFound(err) {
			m.loadErr = apperr.E(apperr.NotFound, op, "Poll not found", err)
		} else {
			m.loadErr = apperr.E(apperr.Transport, op, "Failed to load poll", err)
		}
		return m.loadErr
	}
	m.poll = &p
	m.loadErr = nil
	return nil
}

// ResolveIdentity reads the current viewer from the session. nil means
// anonymous: the viewer can see the poll but not vote.
func (m *Machine) ResolveIdentity() *session.Identity {
	id := m.session.Identity()

	m.mu.Lock()
	defer m.mu.Unlock()

	if !sameUser(m.identity, id) {
		m.resetViewerLocked()
	}
	m.identity = id
	m.identityResolved = true
	return copyIdentity(id)
}

// CheckPriorBallot looks for the viewer's existing ballot. A ballot moves
// the machine to AlreadyVoted and records its selection.
func (m *Machine) CheckPriorBallot(ctx context.Context) error {
	const op = "check prior ballot"

	m.mu.Lock()
	if m.identity == nil {
		m.mu.Unlock()
		return apperr.New(apperr.Unauthenticated, op, msgSignInToVote)
	}
	userID := m.identity.ID
	gen := m.identityGen
	m.mu.Unlock()

	b, err := m.store.FindBallot(ctx, m.pollID, userID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.identityGen {
		return nil
	}
	m.priorChecked = true
	if err != nil {
		// The unique constraint still guards a second ballot at submit time.
		m.warning = msgPriorUnknown
		return apperr.E(apperr.Transport, op, msgPriorUnknown, err)
	}
	m.warning = ""
	if b != nil {
		m.hasVoted = true
		m.previous = b.Indices()
	}
	return nil
}

// SelectOption adds index to the pending selection. Single-select polls
// replace the selection; multi-select polls toggle the index.
func (m *Machine) SelectOption(index int) error {
	const op = "select option"

	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.stateLocked() {
	case Eligible, SubmitFailed:
	case Closed:
		return apperr.New(apperr.Validation, op, msgVotingClosed)
	case AlreadyVoted, Submitted:
		return apperr.New(apperr.AlreadyVoted, op, msgAlreadyVoted)
	case Unauthenticated:
		return apperr.New(apperr.Unauthenticated, op, msgSignInToVote)
	default:
		return apperr.New(apperr.Validation, op, msgNotAvailable)
	}

	if index < 0 || index >= len(m.poll.Options) {
		return apperr.New(apperr.Validation, op, "Selected option does not exist")
	}

	if !m.poll.AllowMultiple {
		m.selection = []int{index}
	} else if i := slices.Index(m.selection, index); i >= 0 {
		m.selection = slices.Delete(m.selection, i, i+1)
	} else {
		m.selection = append(m.selection, index)
		slices.Sort(m.selection)
	}
	m.submitFailed = false
	return nil
}

// Submit sends the pending selection through the reconciler. A concurrent
// call returns ErrSubmitInProgress. On PartialSuccess the vote counts as
// submitted and the warning is kept for display.
func (m *Machine) Submit(ctx context.Context) error {
	const op = "submit"

	m.mu.Lock()
	if m.submitting {
		m.mu.Unlock()
		return ErrSubmitInProgress
	}
	if err := m.canSubmitLocked(op); err != nil {
		m.mu.Unlock()
		return err
	}
	m.submitting = true
	sel := slices.Clone(m.selection)
	userID := m.identity.ID
	gen := m.identityGen
	m.mu.Unlock()

	out, err := m.tally.Submit(ctx, m.pollID, userID, sel)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitting = false

	if gen != m.identityGen {
		return err
	}

	switch apperr.KindOf(err) {
	case apperr.Unknown:
		if err != nil {
			m.failLocked(err)
			return err
		}
		m.recordVoteLocked(out.Poll, sel)
		m.lastErr = nil
		m.warning = ""
	case apperr.PartialSuccess:
		m.recordVoteLocked(out.Poll, sel)
		m.lastErr = err
		m.warning = apperr.Message(err)
	case apperr.AlreadyVoted:
		m.hasVoted = true
		m.previous = nil
		m.selection = nil
		m.lastErr = err
	default:
		m.failLocked(err)
	}
	return err
}

// Refresh re-reads the poll and the viewer's ballot, superseding any cached
// tally.
func (m *Machine) Refresh(ctx context.Context) error {
	return m.Open(ctx)
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// Err returns the last load or submit error.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return m.loadErr
	}
	return m.lastErr
}

// View renders the machine for display.
func (m *Machine) View() models.PollView {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.stateLocked()
	v := models.PollView{
		State:             state.String(),
		HasVoted:          m.hasVoted,
		PreviousSelection: slices.Clone(m.previous),
		Selection:         slices.Clone(m.selection),
		Warning:           m.warning,
	}
	if m.poll != nil {
		p := m.poll.Clone()
		v.Poll = &p
		v.Closed = p.Closed(m.now())
		v.Percentages = p.Percentages()
	}
	v.CanSubmit = (state == Eligible || state == SubmitFailed) && len(m.selection) > 0

	switch {
	case m.loadErr != nil:
		v.Message = apperr.Message(m.loadErr)
	case state == Submitted:
		v.Message = msgSubmitted
	case state == AlreadyVoted:
		v.Message = msgAlreadyVoted
	case m.lastErr != nil:
		v.Message = apperr.Message(m.lastErr)
	}
	return v
}

// Close detaches the machine from its session. Safe to call repeatedly.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	stop := m.stopSession
	m.mu.Unlock()

	stop()
}

func (m *Machine) stateLocked() State {
	switch {
	case m.submitting:
		return Submitting
	case m.poll == nil && m.loadErr != nil:
		return LoadFailed
	case m.poll == nil, !m.identityResolved:
		return Loading
	case m.identity == nil:
		return Unauthenticated
	case !m.priorChecked:
		return CheckingPriorBallot
	case m.submitted:
		return Submitted
	case m.hasVoted:
		return AlreadyVoted
	case m.poll.Closed(m.now()):
		return Closed
	case m.submitFailed:
		return SubmitFailed
	default:
		return Eligible
	}
}

func (m *Machine) canSubmitLocked(op string) error {
	if m.poll == nil {
		return apperr.New(apperr.Validation, op, msgPollNotLoaded)
	}
	if m.identity == nil {
		return apperr.New(apperr.Unauthenticated, op, msgSignInToVote)
	}
	if m.hasVoted {
		return apperr.New(apperr.AlreadyVoted, op, msgAlreadyVoted)
	}
	if m.poll.Closed(m.now()) {
		return apperr.New(apperr.Validation, op, msgVotingClosed)
	}
	if len(m.selection) == 0 {
		return apperr.New(apperr.Validation, op, msgNoSelection)
	}
	return nil
}

func (m *Machine) recordVoteLocked(p models.Poll, sel []int) {
	m.poll = &p
	m.hasVoted = true
	m.submitted = true
	m.submitFailed = false
	m.previous = sel
	m.selection = nil
}

func (m *Machine) failLocked(err error) {
	m.submitFailed = true
	m.lastErr = err
}

func (m *Machine) identityChanged(id *session.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetViewerLocked()
	m.identity = id
	m.identityResolved = true
}

func (m *Machine) resetViewerLocked() {
	m.identityGen++
	m.priorChecked = false
	m.hasVoted = false
	m.previous = nil
	m.selection = nil
	m.submitted = false
	m.submitFailed = false
	m.lastErr = nil
	m.warning = ""
}

func sameUser(a, b *session.Identity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID
}

func copyIdentity(id *session.Identity) *session.Identity {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}
