// Package api is the transport layer: a JSON REST surface for accounts and
// conversation history, and a websocket endpoint for live events.
//
// REST handlers authenticate with bearer tokens via the auth middleware and
// translate HTTP requests into store and router calls. The websocket handler
// authenticates the token before upgrading, then runs a read pump that
// dispatches client frames (join, message, typing, and friends) to the
// router, and a write pump that drains the per-connection event queue and
// sends keepalive pings.
//
// A client frame and every server event share one envelope:
//
//	{"event": "message", "data": {...}}
//
// Errors raised by a client frame are sent back on that connection as an
// "error" event and never fan out to other connections.
package api
