// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kpuvote/kpu-vote/models"
)

// SubscriberQueueSize is the per-subscriber buffer. A subscriber that falls
// this far behind is dropped with ChannelError.
const SubscriberQueueSize = 64

// Hub is an in-process Broker. It is used when no Redis address is
// configured and in tests.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[uint64]*hubSub
	lastID uint64
	closed bool
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:  make(map[string]map[uint64]*hubSub),
		logger: logger,
	}
}

// Publish delivers msg to every subscriber of msg.RoomID without blocking.
func (h *Hub) Publish(ctx context.Context, msg models.ChatMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var overflowed []*hubSub

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrClosed
	}
	for _, s := range h.rooms[msg.RoomID] {
		select {
		case s.ch <- msg:
		default:
			overflowed = append(overflowed, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range overflowed {
		h.logger.Warn("dropping slow subscriber", "room", s.room, "id", s.id)
		s.close(ChannelError, ErrOverflow)
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, room string, onEvent EventFunc, onStatus StatusFunc) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	h.lastID++
	s := &hubSub{
		hub:      h,
		id:       h.lastID,
		room:     room,
		ch:       make(chan models.ChatMessage, SubscriberQueueSize),
		done:     make(chan struct{}),
		onEvent:  onEvent,
		onStatus: onStatus,
	}
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[uint64]*hubSub)
	}
	h.rooms[room][s.id] = s

	go s.run()
	return s, nil
}

// Close drops every subscriber and rejects further use.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	var subs []*hubSub
	for _, room := range h.rooms {
		for _, s := range room {
			subs = append(subs, s)
		}
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.close(Closed, nil)
	}
	return nil
}

// SubscriberCount returns the number of live subscribers for room.
func (h *Hub) SubscriberCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) remove(s *hubSub) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[s.room]; ok {
		delete(room, s.id)
		if len(room) == 0 {
			delete(h.rooms, s.room)
		}
	}
}

type hubSub struct {
	hub      *Hub
	id       uint64
	room     string
	ch       chan models.ChatMessage
	done     chan struct{}
	once     sync.Once
	onEvent  EventFunc
	onStatus StatusFunc

	final    Status
	finalErr error
}

func (s *hubSub) Room() string { return s.room }

func (s *hubSub) Unsubscribe() error {
	s.close(Closed, nil)
	return nil
}

func (s *hubSub) close(status Status, err error) {
	s.once.Do(func() {
		s.hub.remove(s)
		s.final = status
		s.finalErr = err
		close(s.done)
	})
}

func (s *hubSub) run() {
	s.notify(Subscribed, nil)
	for {
		// done wins over queued messages
		select {
		case <-s.done:
			s.notify(s.final, s.finalErr)
			return
		default:
		}
		select {
		case <-s.done:
			s.notify(s.final, s.finalErr)
			return
		case msg := <-s.ch:
			if s.onEvent != nil {
				s.onEvent(msg)
			}
		}
	}
}

func (s *hubSub) notify(status Status, err error) {
	if s.onStatus != nil {
		s.onStatus(status, err)
	}
}
