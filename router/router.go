// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package router

import (
	"net/http"

	"github.com/kpuvote/kpu-vote/chat"
	"github.com/kpuvote/kpu-vote/gateway"
	"github.com/kpuvote/kpu-vote/handlers"
	"github.com/kpuvote/kpu-vote/metrics"
	"github.com/kpuvote/kpu-vote/middleware"
	"github.com/kpuvote/kpu-vote/session"
	"github.com/kpuvote/kpu-vote/tally"
)

// Deps holds everything the routes are built from. Metrics and Limiter may
// be nil.
type Deps struct {
	Gateway      *gateway.Gateway
	Tally        *tally.Reconciler
	Poster       *chat.Poster
	Verifier     session.Verifier
	Metrics      *metrics.Metrics
	Limiter      *middleware.LimiterPool
	StreamOpts   []chat.Option
	HistoryLimit int
}

func NewRouter(d Deps) http.Handler {
	mux := http.NewServeMux()

	limiter := d.Limiter
	if limiter == nil {
		limiter = middleware.NewLimiterPool(0, 0)
	}

	// Initialize handlers
	pollHandler := handlers.NewPollHandler(d.Gateway, d.Tally)
	votingHandler := handlers.NewVotingHandler(d.Gateway, d.Tally)
	chatHandler := handlers.NewChatHandler(d.Gateway, d.Poster, d.HistoryLimit)
	streamHandler := handlers.NewStreamHandler(d.Gateway, d.StreamOpts...)

	authed := func(h http.HandlerFunc) http.HandlerFunc {
		return middleware.WithLogging(middleware.RequireAuth(h))
	}
	limited := func(h http.HandlerFunc) http.HandlerFunc {
		return middleware.WithLogging(middleware.RequireAuth(middleware.RateLimit(limiter, h)))
	}

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics.Handler())
	}

	// Polls
	mux.HandleFunc("GET /votes", middleware.WithLogging(pollHandler.ListPolls))
	mux.HandleFunc("POST /votes", authed(pollHandler.CreatePoll))
	mux.HandleFunc("GET /votes/{id}", middleware.WithLogging(votingHandler.GetPoll))
	mux.HandleFunc("DELETE /votes/{id}", authed(pollHandler.DeletePoll))
	mux.HandleFunc("POST /votes/{id}/ballots", limited(votingHandler.SubmitBallot))
	mux.HandleFunc("POST /votes/{id}/recount", authed(pollHandler.Recount))

	// Chat
	mux.HandleFunc("GET /rooms/{room}/messages", middleware.WithLogging(chatHandler.ListMessages))
	mux.HandleFunc("POST /rooms/{room}/messages", limited(chatHandler.SendMessage))
	mux.HandleFunc("POST /rooms/{room}/files", limited(chatHandler.SendFile))
	mux.HandleFunc("GET /rooms/{room}/stream", middleware.RequireAuth(streamHandler.Stream))

	// Root endpoint
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("kpu-vote API v1"))
	})

	var h http.Handler = mux
	h = middleware.Authenticate(d.Verifier)(h)
	h = middleware.Instrument(d.Metrics, h)
	return middleware.CORS(h)
}
