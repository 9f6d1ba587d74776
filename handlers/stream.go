// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kpuvote/kpu-vote/apperr"
	"github.com/kpuvote/kpu-vote/chat"
	"github.com/kpuvote/kpu-vote/gateway"
	"github.com/kpuvote/kpu-vote/models"
	"github.com/kpuvote/kpu-vote/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxFrameSize   = 8 << 10
	outboundFrames = 32
)

type StreamHandler struct {
	gw       *gateway.Gateway
	opts     []chat.Option
	upgrader websocket.Upgrader
}

func NewStreamHandler(gw *gateway.Gateway, opts ...chat.Option) *StreamHandler {
	return &StreamHandler{
		gw:   gw,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Any origin; callers authenticate with a bearer token
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Stream handles GET /rooms/{room}/stream
// Upgrades to a WebSocket and pushes the room's full message list on each
// change. Clients send {"type":"send"} and {"type":"open"} frames.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	id := session.FromContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "room_id", room, "error", err)
		return
	}

	c := &streamConn{
		conn: conn,
		out:  make(chan models.StreamFrame, outboundFrames),
		done: make(chan struct{}),
	}

	stream := chat.NewStream(h.gw, session.WithIdentity(id), h.opts...)
	stream.OnChange(func(room string, msgs []models.ChatMessage) {
		c.send(models.StreamFrame{Type: models.FrameMessages, Room: room, Messages: msgs})
	})
	stream.OnWarning(func(room string, err error) {
		c.send(models.StreamFrame{Type: models.FrameWarning, Room: room, Message: apperr.Message(err)})
	})

	go c.writeLoop()

	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		stream.CloseRoom()
		c.close()
	}()

	slog.Info("stream opened", "room_id", room, "user_id", id.ID)
	c.open(ctx, stream, room)
	c.readLoop(ctx, stream)
	slog.Info("stream closed", "room_id", stream.Room(), "user_id", id.ID)
}

// streamConn serializes writes to one WebSocket. Only writeLoop writes.
type streamConn struct {
	conn *websocket.Conn
	out  chan models.StreamFrame
	done chan struct{}
	once sync.Once
}

// close stops writeLoop, which then closes the connection and unblocks
// readLoop.
func (c *streamConn) close() {
	c.once.Do(func() { close(c.done) })
}

// send queues f without blocking. A client that cannot keep up is
// disconnected.
func (c *streamConn) send(f models.StreamFrame) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.out <- f:
	case <-c.done:
	default:
		slog.Warn("stream client too slow, disconnecting")
		c.close()
	}
}

func (c *streamConn) sendError(err error) {
	frame := models.StreamFrame{Type: models.FrameError, Message: apperr.Message(err)}
	if apperr.Is(err, apperr.Connectivity) {
		frame.Type = models.FrameWarning
	}
	c.send(frame)
}

func (c *streamConn) open(ctx context.Context, stream *chat.Stream, room string) {
	if err := stream.OpenRoom(ctx, room); err != nil {
		c.sendError(err)
	}
}

func (c *streamConn) readLoop(ctx context.Context, stream *chat.Stream) {
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f models.StreamFrame
		if err := c.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("stream read failed", "error", err)
			}
			return
		}

		switch f.Type {
		case models.FrameOpen:
			c.open(ctx, stream, f.Room)
		case models.FrameSend:
			if err := stream.SendMessage(ctx, f.Content); err != nil {
				c.sendError(err)
			}
		default:
			c.send(models.StreamFrame{Type: models.FrameError, Message: "Unknown frame type"})
		}
	}
}

func (c *streamConn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(f); err != nil {
				slog.Debug("stream write failed", "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
