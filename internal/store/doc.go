// Package store provides persistent storage for chat-relay using SQLite.
//
// # Architecture
//
// The Store interface covers three groups of operations:
//
//   - Users: registration lookups and the mirrored online flag
//   - Conversations: find-or-create by participant pair, listing
//   - Messages: append-only per-conversation logs
//
// SQLiteStore is the production implementation (modernc.org/sqlite, WAL
// mode, schema auto-created on open). MockStore is an in-memory
// implementation for tests.
//
// # Ordering guarantees
//
// Messages carry a server-assigned sequence number allocated atomically with
// the insert, so concurrent appends to the same conversation always land in
// a single total order. Client timestamps are never trusted for ordering.
//
// # Pair uniqueness
//
// At most one conversation exists per unordered participant pair. The
// invariant is enforced by a UNIQUE index on a canonical pair key; a
// concurrent duplicate insert fails the constraint and is resolved by
// re-reading the winner's row.
package store
