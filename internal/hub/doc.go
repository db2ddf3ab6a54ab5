// Package hub performs best-effort event fan-out to live connections.
//
// The Hub tracks registered connections and their room memberships (a room
// is keyed by conversation id) and delivers Events to all connections, to
// one room, or to everyone except a named sender. Delivery is
// fire-and-forget: membership is snapshotted under a read lock and sends
// happen outside it, so a connection disconnecting mid-broadcast is skipped
// without failing the batch.
//
// The hub is transport agnostic. A connection is anything implementing
// Sender; the websocket adapter in internal/api satisfies it with a
// buffered, non-blocking channel send.
package hub
