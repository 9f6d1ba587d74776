// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package router defines HTTP routes for the KPU Vote API.

# Route Registration

NewRouter wires handlers and middleware into one http.Handler:

	h := router.NewRouter(router.Deps{Gateway: gw, Tally: rec, ...})

# Endpoints

Health and metrics:

	GET /health
	GET /metrics

Polls:

	GET    /votes                - Public polls; ?mine=true, ?voted=true, ?sort=popular
	POST   /votes                - Create poll (auth)
	GET    /votes/{id}           - Poll with caller's voting state
	DELETE /votes/{id}           - Delete own poll (auth)
	POST   /votes/{id}/ballots   - Submit ballot (auth, rate limited)
	POST   /votes/{id}/recount   - Rebuild tally (auth)

Chat:

	GET  /rooms/{room}/messages  - Recent history
	POST /rooms/{room}/messages  - Send text (auth, rate limited)
	POST /rooms/{room}/files     - Share a file (auth, rate limited)
	GET  /rooms/{room}/stream    - WebSocket stream (auth)

# Middleware Order

Outermost first: CORS, Instrument, Authenticate, then per-route
WithLogging, RequireAuth and RateLimit. The stream route is not wrapped
with WithLogging; the handler logs connection open and close itself.
*/
package router
