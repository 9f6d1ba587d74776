// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package main provides the entry point for the KPU Vote API server.

KPU Vote runs community polls and per-room chat. Signed-in users vote once
per poll; tallies are kept on the poll row and can be rebuilt from the
ballots. Chat messages are pushed live over WebSockets.

# Starting the Server

The server reads flags, environment variables (a .env file is loaded
first) and an optional YAML file:

	DATABASE_URL=file:kpu.db JWT_SECRET=... go run .

Or with flags:

	go run . -p 3318 -t postgres -d "postgres://..." -redis localhost:6379

# Configuration

Required settings:

  - DATABASE_URL (-d): SQLite path or PostgreSQL connection string
  - JWT_SECRET (--jwt-secret): HS256 secret shared with the identity provider

Optional settings:

  - PORT (-p): Server port (default: 3318)
  - DATABASE_TYPE (-t): sqlite or postgres (default: sqlite)
  - REDIS_ADDR (--redis): fan chat out through Redis pub/sub
  - KAFKA_BROKERS (--kafka), KAFKA_TOPIC: publish ballot and message events
  - S3_ENDPOINT, S3_ACCESS_KEY, S3_SECRET_KEY, S3_BUCKET, S3_USE_SSL: file sharing
  - HISTORY_LIMIT, SEND_RPS, SEND_BURST, LOG_LEVEL, LOG_FORMAT
  - CONFIG_FILE (-c): YAML file with the non-secret settings

# Architecture

  - handlers, router, middleware: HTTP surface
  - ballot: per-viewer vote state machine
  - tally: two-phase ballot and tally write, recount
  - chat: room message stream and message posting
  - gateway: SQL store plus realtime publish
  - realtime: in-process hub and Redis broker
  - session, auth: caller identity
  - events, metrics, storage: Kafka, Prometheus, S3-compatible objects
  - db, cliparse, models, apperr, testutil

See package documentation for each component.
*/
package main
