// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package realtime delivers chat message inserts to room subscribers.

# Brokers

  - Hub: in-process fan-out, one goroutine and a bounded queue per subscriber
  - RedisBroker: Redis pub/sub on channel "room_<id>" for multi-instance setups

Both implement Broker:

	sub, err := broker.Subscribe(ctx, roomID, onEvent, onStatus)
	defer sub.Unsubscribe()

# Status

Subscriptions report SUBSCRIBED once live, then one terminal status:
CLOSED after Unsubscribe, CHANNEL_ERROR when the transport fails or the
subscriber falls behind. A subscribe that is never confirmed fails with
ErrTimedOut.
*/
package realtime
