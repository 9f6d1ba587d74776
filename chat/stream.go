// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/kpuvote/kpu-vote/apperr"
	"github.com/kpuvote/kpu-vote/events"
	"github.com/kpuvote/kpu-vote/metrics"
	"github.com/kpuvote/kpu-vote/models"
	"github.com/kpuvote/kpu-vote/realtime"
	"github.com/kpuvote/kpu-vote/session"
)

// DefaultHistoryLimit is how many past messages OpenRoom fetches.
const DefaultHistoryLimit = 150

type State int

const (
	Disconnected State = iota
	Subscribing
	Subscribed
	Errored
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Subscribing:
		return "subscribing"
	case Subscribed:
		return "subscribed"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

var (
	ErrSendInProgress = apperr.New(apperr.Validation, "send", "A message is already being sent")
	ErrNoRoom         = apperr.New(apperr.Validation, "send", "No chat room is open")
)

// Store is the gateway surface the stream uses.
type Store interface {
	ListMessages(ctx context.Context, roomID string, limit int) ([]models.ChatMessage, error)
	InsertMessage(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error)
	Subscribe(ctx context.Context, roomID string, onEvent realtime.EventFunc, onStatus realtime.StatusFunc) (realtime.Subscription, error)
}

// Uploader stores shared files and returns a public URL.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, r io.Reader, size int64) (string, error)
	Remove(ctx context.Context, key string) error
}

// ChangeFunc receives the full ordered message list of room after each
// change.
type ChangeFunc func(room string, messages []models.ChatMessage)

// WarningFunc receives connectivity problems for room. The message list is
// kept when one is reported.
type WarningFunc func(room string, err error)

// Stream keeps the message list of one active room in step with the store.
type Stream struct {
	store        Store
	uploader     Uploader
	session      *session.Session
	metrics      *metrics.Metrics
	events       events.Publisher
	historyLimit int
	poster       *Poster

	mu       sync.Mutex
	room     string
	gen      int
	state    State
	sub      realtime.Subscription
	messages []models.ChatMessage
	seen     map[string]struct{}
	sending  bool

	onChange  ChangeFunc
	onWarning WarningFunc

	// notifyMu orders listener calls so a stale snapshot never follows a
	// newer one.
	notifyMu sync.Mutex
}

type Option func(*Stream)

func WithUploader(u Uploader) Option {
	return func(s *Stream) { s.uploader = u }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Stream) { s.metrics = m }
}

func WithEvents(p events.Publisher) Option {
	return func(s *Stream) { s.events = p }
}

func WithHistoryLimit(n int) Option {
	return func(s *Stream) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

func NewStream(store Store, sess *session.Session, opts ...Option) *Stream {
	s := &Stream{
		store:        store,
		session:      sess,
		events:       events.Nop{},
		historyLimit: DefaultHistoryLimit,
		seen:         make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.poster = NewPoster(store, s.uploader, s.metrics, s.events)
	return s
}

// OnChange sets the list listener. fn must not call back into the Stream.
func (s *Stream) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// OnWarning sets the connectivity listener.
func (s *Stream) OnWarning(fn WarningFunc) {
	s.mu.Lock()
	s.onWarning = fn
	s.mu.Unlock()
}

// OpenRoom switches the stream to roomID. The previous subscription is torn
// down first, then the push subscription is opened and history fetched.
// A subscribe failure leaves the stream Errored and is returned as a
// Connectivity error after history has been loaded.
func (s *Stream) OpenRoom(ctx context.Context, roomID string) error {
	const op = "open room"

	if strings.TrimSpace(roomID) == "" {
		return apperr.New(apperr.Validation, op, "Room is required")
	}

	s.mu.Lock()
	prev := s.sub
	s.sub = nil
	s.gen++
	gen := s.gen
	s.room = roomID
	s.state = Subscribing
	s.messages = nil
	s.seen = make(map[string]struct{})
	s.mu.Unlock()

	s.release(prev)

	var subErr error
	sub, err := s.store.Subscribe(ctx, roomID,
		func(m models.ChatMessage) { s.receive(gen, m) },
		func(st realtime.Status, err error) { s.status(gen, st, err) },
	)
	if err != nil {
		slog.Warn("failed to subscribe to chat room", "room_id", roomID, "error", err)
		subErr = apperr.E(apperr.Connectivity, op, "Live updates are unavailable for this room", err)
		s.mu.Lock()
		current := gen == s.gen
		if current {
			s.state = Errored
		}
		s.mu.Unlock()
		if current {
			s.metrics.RealtimeWarning(realtime.ChannelError.String())
			s.warn(roomID, subErr)
		}
	} else {
		s.mu.Lock()
		current := gen == s.gen
		if current {
			s.sub = sub
		}
		s.mu.Unlock()
		if !current {
			// Another OpenRoom or CloseRoom won the race.
			sub.Unsubscribe()
			return nil
		}
		s.metrics.SubscriptionOpened()
	}

	history, err := s.store.ListMessages(ctx, roomID, s.historyLimit)
	if err != nil {
		slog.Error("failed to load chat history", "room_id", roomID, "error", err)
		return apperr.E(apperr.Transport, op, "Failed to load messages", err)
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return nil
	}
	s.mergeLocked(history...)
	s.mu.Unlock()
	s.notify(gen)

	return subErr
}

// CloseRoom drops the active subscription. Safe to call repeatedly.
func (s *Stream) CloseRoom() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.gen++
	s.room = ""
	s.state = Disconnected
	s.messages = nil
	s.seen = make(map[string]struct{})
	s.mu.Unlock()

	s.release(sub)
}

// SendMessage inserts a text message into the active room. The message is
// not appended locally; it arrives through the subscription.
func (s *Stream) SendMessage(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	sender := s.session.Identity()
	if err := Sender("send", sender); err != nil {
		return err
	}
	room, done, err := s.beginSend()
	if err != nil {
		return err
	}
	defer done()

	_, err = s.poster.Text(ctx, room, sender, content)
	return err
}

// SendFile uploads r and shares it in the active room. Same guard as
// SendMessage.
func (s *Stream) SendFile(ctx context.Context, name, contentType string, r io.Reader, size int64) error {
	if !s.poster.CanUpload() {
		return ErrNoUploads
	}
	sender := s.session.Identity()
	if err := Sender("send file", sender); err != nil {
		return err
	}
	room, done, err := s.beginSend()
	if err != nil {
		return err
	}
	defer done()

	_, err = s.poster.File(ctx, room, sender, name, contentType, r, size)
	return err
}

// Messages returns a copy of the ordered message list.
func (s *Stream) Messages() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}

func (s *Stream) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Stream) receive(gen int, m models.ChatMessage) {
	s.mu.Lock()
	if gen != s.gen || m.RoomID != s.room {
		s.mu.Unlock()
		return
	}
	changed := s.mergeLocked(m)
	s.mu.Unlock()

	if changed {
		s.notify(gen)
	}
}

func (s *Stream) status(gen int, st realtime.Status, err error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	room := s.room
	switch st {
	case realtime.Subscribing:
		s.state = Subscribing
	case realtime.Subscribed:
		s.state = Subscribed
	default:
		s.state = Errored
	}
	s.mu.Unlock()

	if st == realtime.ChannelError || st == realtime.TimedOut || st == realtime.Closed {
		if err == nil {
			err = errors.New(strings.ToLower(st.String()))
		}
		slog.Warn("chat subscription interrupted", "room_id", room, "status", st.String(), "error", err)
		s.metrics.RealtimeWarning(st.String())
		s.warn(room, apperr.E(apperr.Connectivity, "subscribe", "Live updates were interrupted", err))
	}
}

// mergeLocked adds unseen messages and restores timestamp-then-id order.
func (s *Stream) mergeLocked(msgs ...models.ChatMessage) bool {
	changed := false
	for _, m := range msgs {
		if _, ok := s.seen[m.ID]; ok {
			continue
		}
		s.seen[m.ID] = struct{}{}
		s.messages = append(s.messages, m)
		changed = true
	}
	if changed {
		SortMessages(s.messages)
	}
	return changed
}

func (s *Stream) notify(gen int) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if gen != s.gen || s.onChange == nil {
		s.mu.Unlock()
		return
	}
	fn := s.onChange
	room := s.room
	snapshot := slices.Clone(s.messages)
	s.mu.Unlock()

	fn(room, snapshot)
}

func (s *Stream) warn(room string, err error) {
	s.mu.Lock()
	fn := s.onWarning
	s.mu.Unlock()
	if fn != nil {
		fn(room, err)
	}
}

func (s *Stream) release(sub realtime.Subscription) {
	if sub == nil {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		slog.Warn("failed to unsubscribe from chat room", "room_id", sub.Room(), "error", err)
	}
	s.metrics.SubscriptionClosed()
}

func (s *Stream) beginSend() (room string, done func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.room == "" {
		return "", nil, ErrNoRoom
	}
	if s.sending {
		return "", nil, ErrSendInProgress
	}
	s.sending = true
	return s.room, func() {
		s.mu.Lock()
		s.sending = false
		s.mu.Unlock()
	}, nil
}
