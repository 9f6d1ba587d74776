// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package events publishes domain events to Kafka.

Two events are emitted:

  - ballot.recorded, keyed by poll id, after a ballot is stored
  - message.sent, keyed by room id, after a chat message is stored

When no brokers are configured the service uses Nop.
*/
package events
