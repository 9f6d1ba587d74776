// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package auth verifies bearer tokens issued by the external identity provider.

# Tokens

Tokens are HS256 JWTs. The subject is the user id; email and name are
optional claims used for display:

	v := auth.NewJWTVerifier(cfg.JWTSecret)
	id, err := v.Verify(ctx, token)

Only HS256 is accepted. Expired tokens and tokens without a subject are
rejected.

# Development Tokens

IssueToken signs a token with the same secret. Production tokens come from
the identity provider; this is for local runs and tests:

	token, err := auth.IssueToken(secret, session.Identity{ID: "u1"}, time.Hour)

# Headers

	token, err := auth.ParseAuthHeader(r.Header.Get("Authorization"))
*/
package auth
