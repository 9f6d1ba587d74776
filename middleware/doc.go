// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package middleware provides HTTP middleware and helper functions.

# Request Logging and Metrics

	mux.HandleFunc("GET /health", middleware.WithLogging(handler))
	handler := middleware.Instrument(m, mux)

WithLogging logs method, path, status and duration_ms. Instrument feeds the
same values to Prometheus.

# Authentication

Authenticate verifies a bearer token from the Authorization header, or the
token query parameter for WebSocket clients, and stores the identity in the
request context. Anonymous requests pass through; RequireAuth rejects them.

	mux.HandleFunc("POST /votes", middleware.RequireAuth(h.CreatePoll))

# Rate Limiting

LimiterPool keeps one token bucket per user (or client IP when anonymous):

	limiter := middleware.NewLimiterPool(cfg.SendRPS, cfg.SendBurst)
	mux.HandleFunc("POST /rooms/{room}/messages", middleware.RateLimit(limiter, h.SendMessage))

# JSON Helpers

	middleware.JSONResponse(w, http.StatusOK, data)
	middleware.ErrorResponse(w, http.StatusBadRequest, "message")
	middleware.WriteAppError(w, err)

WriteAppError maps apperr kinds to statuses: validation 400,
unauthenticated 401, forbidden 403, not found 404, already voted 409,
partial success 202, transport 502.

# Client IP Extraction

	ip := middleware.GetClientIP(r)

Checks X-Forwarded-For, then X-Real-IP, then RemoteAddr.
*/
package middleware
