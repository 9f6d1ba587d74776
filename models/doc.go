// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package models defines request, response, and domain types for the API.

# Domain Types

  - Poll: a question with embedded Options, a due date and the redundant
    votes_count total (stored in the votes table)
  - Option: display text and running vote count
  - Ballot: one user's participation in one poll (user_poll_votes)
  - ChatMessage: one message in a chat room (chat_messages), either text or
    a shared file

A poll is closed once now >= due_date:

	if poll.Closed(time.Now()) { ... }

The votes_count column duplicates the sum of option counts for fast display.
TallyConsistent reports whether the two agree.

# Request Types

  - CreatePollRequest: title, description, due_date, options, flags
  - SubmitBallotRequest: options (chosen indices)
  - SendMessageRequest: content

# Response Types

  - CreatePollResponse: id
  - PollView: poll plus the caller's voting state
  - SubmitBallotResponse: status, message, view
  - PollListResponse, MessagesResponse
  - ErrorResponse: error, kind, message

# Stream Frames

StreamFrame is the WebSocket envelope. Clients send "open" and "send"
frames; the server answers with "messages", "warning" and "error" frames.
*/
package models
