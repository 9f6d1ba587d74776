// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package handlers contains HTTP request handlers for the KPU Vote API.

# Handler Types

Each handler is a struct built from the data access gateway and the
components it drives:

  - PollHandler: list, create and delete polls, recount tallies
  - VotingHandler: poll view and ballot submission through ballot.Machine
  - ChatHandler: room history, text messages and file shares
  - StreamHandler: WebSocket push of a room's message list

	pollHandler := handlers.NewPollHandler(gw, rec)
	chatHandler := handlers.NewChatHandler(gw, poster, cfg.HistoryLimit)

# Identity

Handlers read the caller from session.FromContext. The router's
Authenticate middleware puts it there from a bearer token; routes that
need a signed-in caller are wrapped with RequireAuth.

# Voting Flow

	GET  /votes/{id}          → GetPoll (state, tally, previous selection)
	POST /votes/{id}/ballots  → SubmitBallot

SubmitBallot answers 201 when ballot and tally were both written, 202 when
the ballot was stored but the tally update failed, and 409 when the caller
already voted. POST /votes/{id}/recount rebuilds a tally from the ballots.

# Errors

Component errors carry an apperr.Kind; middleware.WriteAppError maps it to
the status code and writes the user-facing message.

# Stream Protocol

Frames are models.StreamFrame JSON objects. The server sends "messages"
(the full ordered list), "warning" (live updates interrupted) and "error".
The client sends "send" with content, or "open" with a room to switch.
*/
package handlers
