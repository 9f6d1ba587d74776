package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/kpuvote/kpu-vote/apperr"
	"github.com/kpuvote/kpu-vote/events"
	"github.com/kpuvote/kpu-vote/metrics"
	"github.com/kpuvote/kpu-vote/session"
)

type recordingPublisher struct {
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, e events.Event) error {
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func TestPoster_TextEmitsEvent(t *testing.T) {
	store := newFakeStore()
	pub := &recordingPublisher{err: errors.New("broker down")}
	p := NewPoster(store, nil, metrics.New(), pub)

	m, err := p.Text(context.Background(), "r1", &session.Identity{ID: "u1", Name: "Ana"}, "halo")
	if err != nil {
		t.Fatalf("publish failure must not fail the send: %v", err)
	}
	if len(pub.events) != 1 {
		t.Fatalf("published %d events", len(pub.events))
	}
	got := pub.events[0]
	if got.Type != events.TypeMessageSent || got.Key != "r1" {
		t.Errorf("unexpected event %+v", got)
	}
	data, ok := got.Data.(events.MessageSent)
	if !ok || data.MessageID != m.ID || data.File {
		t.Errorf("unexpected payload %+v", got.Data)
	}
}

func TestPoster_TextTransportError(t *testing.T) {
	store := newFakeStore()
	store.insertErr = errors.New("connection reset")
	p := NewPoster(store, nil, nil, nil)

	_, err := p.Text(context.Background(), "r1", &session.Identity{ID: "u1", Name: "Ana"}, "halo")
	if !apperr.Is(err, apperr.Transport) {
		t.Errorf("expected transport error, got %v", err)
	}
}

func TestCleanFileName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"report.pdf", "report.pdf"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\ana\foto.jpg`, "foto.jpg"},
		{"dir/", "dir"},
		{"", ""},
		{"/", ""},
		{".", ""},
	}
	for _, tt := range tests {
		if got := CleanFileName(tt.in); got != tt.want {
			t.Errorf("CleanFileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
