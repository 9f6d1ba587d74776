// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kpuvote/kpu-vote/auth"
	"github.com/kpuvote/kpu-vote/session"
)

// BearerToken returns the request's token from the Authorization header,
// or from the token query parameter for WebSocket clients that cannot set
// headers. An empty string means no token was sent.
func BearerToken(r *http.Request) (string, error) {
	token, err := auth.ParseAuthHeader(r.Header.Get("Authorization"))
	if errors.Is(err, auth.ErrMissingToken) {
		return r.URL.Query().Get("token"), nil
	}
	return token, err
}

// Authenticate resolves the caller's identity and stores it in the request
// context. Requests without a token pass through anonymously; a token that
// fails verification is rejected.
func Authenticate(v session.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := BearerToken(r)
			if err != nil {
				ErrorResponse(w, http.StatusUnauthorized, "Invalid authorization header")
				return
			}
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			id, err := v.Verify(r.Context(), token)
			if err != nil {
				slog.Debug("token rejected", "path", r.URL.Path, "error", err)
				ErrorResponse(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(session.NewContext(r.Context(), id)))
		})
	}
}

// RequireAuth rejects anonymous requests
func RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if session.FromContext(r.Context()) == nil {
			ErrorResponse(w, http.StatusUnauthorized, "Please sign in")
			return
		}
		next(w, r)
	}
}
