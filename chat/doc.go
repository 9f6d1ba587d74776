// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package chat maintains the live message list of one chat room.

OpenRoom subscribes before it fetches history, so a message inserted
between the two calls is seen through at least one of them. Both paths
merge by message id and the list is kept sorted by timestamp, then id.

Each OpenRoom and CloseRoom starts a new generation. Callbacks and history
results from an older generation are dropped, which keeps a slow response
for a previous room out of the current list.

Sends are not applied locally. A sent message appears once the
subscription delivers it.
*/
package chat
