// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package gateway is the data access boundary used by the voting and chat
workflows.

# Stores

SQLStore wraps database/sql for both Postgres and SQLite. Queries use ?
placeholders and are rebound to $N for Postgres:

	store := gateway.NewSQLStore(conn, cfg.DatabaseType)
	g := gateway.New(store, broker)

Gateway adds realtime delivery on top: InsertMessage publishes the stored
row to the room's subscribers, Subscribe registers interest in a room.

# Errors

Every failure is an *Error with a structured Kind:

  - KindNotFound: no matching row
  - KindConflict: unique violation (Postgres 23505, SQLite
    SQLITE_CONSTRAINT_UNIQUE or SQLITE_CONSTRAINT_PRIMARYKEY)
  - KindTransport: anything else

Classification reads driver error codes, never message text:

	if gateway.IsConflict(err) {
		// already voted
	}

# Tally Writes

CompareAndSwapTally updates a poll's options and votes_count only when the
stored tally_rev matches the revision the caller read, then bumps it. A
recount that keeps votes_count unchanged still moves the revision, so a
writer holding counts from before the recount loses the swap. Callers
re-read and retry on a false result.
*/
package gateway
