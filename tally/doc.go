// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package tally records ballots and keeps poll aggregates in step with them.

# Two-Phase Write

Submit performs two writes without a spanning transaction:

 1. insert the ballot row; a unique violation means AlreadyVoted
 2. re-read the poll, increment the chosen options and votes_count, and
    compare-and-swap them in, retrying up to MaxCASAttempts times

If step 2 fails the ballot stands and Submit returns a PartialSuccess error
alongside an Outcome holding the optimistic tally. Step 1 is never retried.

# Recount

Recount rebuilds all counts from the ballot rows. It restores
votes_count == sum(option votes) and can be repeated safely.
*/
package tally
