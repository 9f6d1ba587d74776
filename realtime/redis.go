// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kpuvote/kpu-vote/models"
)

// DefaultSubscribeTimeout bounds how long Subscribe waits for the server to
// confirm a subscription.
const DefaultSubscribeTimeout = 10 * time.Second

// RedisBroker fans messages out across server instances through Redis
// pub/sub. Payloads are JSON-encoded ChatMessages.
type RedisBroker struct {
	client  *redis.Client
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.Mutex
	subs   map[*redisSub]struct{}
	closed bool
}

func NewRedisBroker(client *redis.Client, logger *slog.Logger) *RedisBroker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBroker{
		client:  client,
		logger:  logger,
		timeout: DefaultSubscribeTimeout,
		subs:    make(map[*redisSub]struct{}),
	}
}

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

func (b *RedisBroker) Publish(ctx context.Context, msg models.ChatMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("realtime: encode message: %w", err)
	}
	if err := b.client.Publish(ctx, Channel(msg.RoomID), payload).Err(); err != nil {
		return fmt.Errorf("realtime: publish: %w", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, room string, onEvent EventFunc, onStatus StatusFunc) (Subscription, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	ps := b.client.Subscribe(ctx, Channel(room))
	if _, err := ps.ReceiveTimeout(ctx, b.timeout); err != nil {
		ps.Close()
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimedOut, err)
		}
		return nil, fmt.Errorf("realtime: subscribe %s: %w", room, err)
	}

	s := &redisSub{
		broker:   b,
		room:     room,
		ps:       ps,
		done:     make(chan struct{}),
		onEvent:  onEvent,
		onStatus: onStatus,
	}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.run()
	return s, nil
}

// Close unsubscribes everything. The Redis client is owned by the caller.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	subs := make([]*redisSub, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

type redisSub struct {
	broker   *RedisBroker
	room     string
	ps       *redis.PubSub
	done     chan struct{}
	once     sync.Once
	onEvent  EventFunc
	onStatus StatusFunc
}

func (s *redisSub) Room() string { return s.room }

func (s *redisSub) Unsubscribe() error {
	s.once.Do(func() {
		s.broker.mu.Lock()
		delete(s.broker.subs, s)
		s.broker.mu.Unlock()
		close(s.done)
	})
	return nil
}

func (s *redisSub) run() {
	defer s.ps.Close()

	ch := s.ps.Channel()
	s.notify(Subscribed, nil)

	for {
		select {
		case <-s.done:
			s.notify(Closed, nil)
			return
		default:
		}
		select {
		case <-s.done:
			s.notify(Closed, nil)
			return
		case m, ok := <-ch:
			if !ok {
				s.Unsubscribe()
				s.notify(ChannelError, errors.New("realtime: channel closed"))
				return
			}
			var msg models.ChatMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				s.broker.logger.Warn("dropping malformed realtime payload", "channel", m.Channel, "error", err)
				continue
			}
			if msg.RoomID != s.room {
				continue
			}
			if s.onEvent != nil {
				s.onEvent(msg)
			}
		}
	}
}

func (s *redisSub) notify(status Status, err error) {
	if s.onStatus != nil {
		s.onStatus(status, err)
	}
}
