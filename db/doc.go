// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package db opens the database and creates its schema.

# Connecting

Open accepts "postgres" (lib/pq) or "sqlite" (modernc.org/sqlite):

	conn, err := db.Open(cfg.DatabaseType, cfg.DatabaseURL)

SQLite connections are capped at one and get a busy timeout.

# Schema Creation

	if err := db.CreateSchema(conn, cfg.DatabaseType); err != nil {
		log.Fatal(err)
	}

Safe to call multiple times - uses IF NOT EXISTS for all tables and indexes.

# Tables

  - votes: polls with embedded JSON options and the votes_count total
  - user_poll_votes: one ballot per (user_id, vote_id), enforced by UNIQUE
  - chat_messages: room-scoped chat history

# Relationships

	votes 1──* user_poll_votes

chat_messages.room_id is free-form and not a foreign key.
*/
package db
