// Package router coordinates presence, conversation, and fan-out operations.
//
// # Connection lifecycle
//
// Each connection moves through three states:
//
//	Unidentified --HandleJoin--> Joined --HandleDisconnect--> Disconnected
//
// HandleLeave returns a Joined connection to Unidentified while keeping the
// transport open. The joined identity is held by the presence registry, so
// the router itself is stateless and every operation resolves identity
// through the registry at call time.
//
// # Identity binding
//
// SendMessage requires the supplied sender id to equal the connection's
// joined identity. This replaces the original client-trusted sender id with
// a connection-bound identity established at join time.
//
// # Fan-out
//
// The router never writes to connections directly; it instructs the hub:
// presence snapshots broadcast to everyone, messages to the conversation's
// room, and typing notifications to everyone except the sender. Rejected
// operations are reported to the originating caller only.
package router
