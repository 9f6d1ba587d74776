// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package session

import (
	"context"
	"sync"

	"github.com/kpuvote/kpu-vote/apperr"
)

// Identity is the authenticated viewer.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// DisplayName is the name shown next to chat messages: the profile name,
// falling back to the email address.
func (i Identity) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.Email
}

// Verifier turns a bearer token into an identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// Session holds the current identity and notifies listeners when it
// changes. A nil identity means anonymous.
type Session struct {
	mu        sync.Mutex
	verifier  Verifier
	identity  *Identity
	listeners map[int]func(*Identity)
	nextID    int
	disposed  bool
}

func New(v Verifier) *Session {
	return &Session{
		verifier:  v,
		listeners: make(map[int]func(*Identity)),
	}
}

// WithIdentity returns a session already bound to id. Used by HTTP handlers
// whose identity was verified by middleware.
func WithIdentity(id *Identity) *Session {
	s := New(nil)
	if id != nil {
		c := *id
		s.identity = &c
	}
	return s
}

// Init resolves token into the session identity. An empty token leaves the
// session anonymous. An invalid token also leaves it anonymous and returns
// an Unauthenticated error.
func (s *Session) Init(ctx context.Context, token string) error {
	if token == "" {
		s.Set(nil)
		return nil
	}
	if s.verifier == nil {
		s.Set(nil)
		return apperr.New(apperr.Unauthenticated, "session init", "Authentication is not configured")
	}

	id, err := s.verifier.Verify(ctx, token)
	if err != nil {
		s.Set(nil)
		return apperr.E(apperr.Unauthenticated, "session init", "Invalid or expired token", err)
	}
	s.Set(id)
	return nil
}

// Identity returns a copy of the current identity, or nil.
func (s *Session) Identity() *Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return nil
	}
	c := *s.identity
	return &c
}

// Set replaces the identity and notifies listeners if it changed.
func (s *Session) Set(id *Identity) {
	s.mu.Lock()
	if s.disposed || sameIdentity(s.identity, id) {
		s.mu.Unlock()
		return
	}
	if id != nil {
		c := *id
		s.identity = &c
	} else {
		s.identity = nil
	}
	listeners := make([]func(*Identity), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	current := s.identity
	s.mu.Unlock()

	for _, fn := range listeners {
		if current == nil {
			fn(nil)
			continue
		}
		c := *current
		fn(&c)
	}
}

func (s *Session) SignOut() { s.Set(nil) }

// OnChange registers fn for identity changes. The returned func removes it.
func (s *Session) OnChange(fn func(*Identity)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return func() {}
	}
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Dispose drops all listeners. Later Set calls are ignored.
func (s *Session) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
	s.listeners = make(map[int]func(*Identity))
}

func sameIdentity(a, b *Identity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

type ctxKey struct{}

// NewContext returns a context carrying id.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by NewContext, or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(ctxKey{}).(*Identity)
	return id
}
