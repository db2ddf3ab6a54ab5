// Package presence tracks which users currently have live connections.
//
// The Registry maps each user id to the set of connection ids joined as that
// user, and each connection id to at most one user. Presence transitions are
// edge-triggered: Join reports the offline-to-online edge and Leave reports
// the online-to-offline edge, so callers emit exactly one presence change
// per transition no matter how many connections a user has or how often a
// call is retried.
//
// All operations take a single registry-wide mutex. Critical sections are
// map updates only, never I/O, so contention is negligible at the scale of
// one coordinating process.
package presence
