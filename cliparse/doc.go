// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package cliparse handles command-line argument parsing and configuration.

# Configuration

ParseFlags returns a Config struct with all settings:

	cliparse.LoadDotEnv(".env")
	cfg, err := cliparse.ParseFlags(os.Args[1:])

# Precedence

Each setting is taken from the first source that provides it:

 1. CLI flag
 2. environment variable (a .env file is loaded into the environment first)
 3. YAML config file (-c or CONFIG_FILE)
 4. built-in default

Secrets (JWT_SECRET, S3 keys) are never read from the config file.

# CLI Flags

	-p            Server port
	-d            Database URL
	-t            Database type (sqlite or postgres)
	-c            YAML config file
	-redis        Redis address
	-kafka        Kafka brokers, comma separated
	-jwt-secret   JWT signing secret

# Environment Variables

	PORT, DATABASE_URL, DATABASE_TYPE, JWT_SECRET, REDIS_ADDR,
	KAFKA_BROKERS, KAFKA_TOPIC, S3_ENDPOINT, S3_ACCESS_KEY, S3_SECRET_KEY,
	S3_BUCKET, S3_USE_SSL, HISTORY_LIMIT, SEND_RPS, SEND_BURST,
	LOG_LEVEL, LOG_FORMAT, CONFIG_FILE

# Validation

ParseFlags returns an error if required values are missing:

  - DATABASE_URL must be provided
  - JWT_SECRET must be provided

An empty REDIS_ADDR selects the in-process realtime hub, empty
KAFKA_BROKERS disables event publishing, and an empty S3_ENDPOINT disables
file sharing.
*/
package cliparse
