// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package ballot drives one viewer's interaction with one poll.

A Machine moves through these states:

	loading -> unauthenticated
	        -> checking_prior_ballot -> eligible | already_voted | closed
	eligible -> submitting -> submitted | already_voted | submit_failed
	submit_failed -> submitting

The state is derived from the loaded poll, the session identity and the
prior-ballot check, so an identity change or a due date passing is
reflected without an explicit transition. Submitting is exclusive: a
second Submit while one is outstanding fails with ErrSubmitInProgress.

The machine never decides whether a ballot may be stored. Submit goes
through the tally reconciler, which re-reads the poll and relies on the
unique (user, poll) constraint.
*/
package ballot
