// ABOUTME: Routes connection lifecycle and chat events between presence, store, and hub.
// ABOUTME: Central coordinator: validates a request, mutates state, instructs fan-out.

package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/2389/chat-relay/internal/hub"
	"github.com/2389/chat-relay/internal/presence"
	"github.com/2389/chat-relay/internal/store"
)

// ErrNotJoined means the connection has not established an identity yet.
var ErrNotJoined = errors.New("connection has not joined")

// ErrSenderMismatch means the supplied sender id does not match the
// connection's joined identity. Identity is bound at join time and checked
// on every send; client-supplied sender ids are never trusted on their own.
var ErrSenderMismatch = errors.New("sender does not match joined user")

// ErrNotParticipant means the connection's user is not a member of the
// conversation it tried to open.
var ErrNotParticipant = errors.New("user is not a conversation participant")

// Store is what the router needs from persistence.
type Store interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
	SetUserOnline(ctx context.Context, id string, online bool) error
	FindOrCreateConversation(ctx context.Context, userA, userB string) (*store.Conversation, error)
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	AppendMessage(ctx context.Context, conversationID, senderID, text string) (*store.Message, error)
}

// Hub is what the router needs from the connection hub.
type Hub interface {
	Unregister(connID string) bool
	Subscribe(connID, roomID string)
	Unsubscribe(connID, roomID string)
	Broadcast(event hub.Event)
	EmitToRoom(roomID string, event hub.Event)
	EmitExcluding(connID string, event hub.Event)
}

// Router orchestrates conversation, message, and presence operations. Each
// connection moves through Unidentified -> Joined -> Disconnected; the
// joined identity lives in the presence registry, not in the router.
type Router struct {
	store    Store
	registry *presence.Registry
	hub      Hub
	logger   *slog.Logger
}

// New creates a Router. Pass nil logger for default.
func New(st Store, registry *presence.Registry, h Hub, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:    st,
		registry: registry,
		hub:      h,
		logger:   logger.With("component", "router"),
	}
}

// HandleJoin establishes a connection's identity. The user must exist; the
// connection must not already be joined as someone else. On success the
// updated online-username list is broadcast to all connections. A rejected
// join leaves the connection Unidentified and is reported to the caller
// only, never broadcast.
func (r *Router) HandleJoin(ctx context.Context, connID, userID string) error {
	user, err := r.store.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("looking up user: %w", err)
	}

	cameOnline, err := r.registry.Join(connID, userID)
	if err != nil {
		return err
	}

	if cameOnline {
		// Mirror the flag; presence stays authoritative if this fails.
		if err := r.store.SetUserOnline(ctx, userID, true); err != nil {
			r.logger.Warn("mirroring online flag failed", "user_id", userID, "error", err)
		}
	}

	r.logger.Info("user joined",
		"conn_id", connID,
		"user_id", userID,
		"username", user.Username,
	)
	r.broadcastOnlineUsers(ctx)
	return nil
}

// HandleLeave releases a connection's identity while keeping the transport
// open. A connection that never joined is a no-op.
func (r *Router) HandleLeave(ctx context.Context, connID string) {
	userID, wentOffline := r.registry.Leave(connID)
	if userID == "" {
		return
	}

	if wentOffline {
		if err := r.store.SetUserOnline(ctx, userID, false); err != nil {
			r.logger.Warn("mirroring offline flag failed", "user_id", userID, "error", err)
		}
	}

	r.logger.Info("user left", "conn_id", connID, "user_id", userID)
	r.broadcastOnlineUsers(ctx)
}

// HandleDisconnect tears down a connection: hub unregistration and presence
// leave happen as one logical step so presence never lags a dead connection.
// Safe for connections that never joined, and effective exactly once even
// when a disconnect races an in-flight leave.
func (r *Router) HandleDisconnect(ctx context.Context, connID string) {
	wasRegistered := r.hub.Unregister(connID)

	userID, wentOffline := r.registry.Leave(connID)
	if userID == "" {
		if wasRegistered {
			r.logger.Debug("unidentified connection disconnected", "conn_id", connID)
		}
		return
	}

	if wentOffline {
		if err := r.store.SetUserOnline(ctx, userID, false); err != nil {
			r.logger.Warn("mirroring offline flag failed", "user_id", userID, "error", err)
		}
	}

	r.logger.Info("connection disconnected", "conn_id", connID, "user_id", userID)
	r.broadcastOnlineUsers(ctx)
}

// SendMessage appends a message on behalf of a live connection, then emits
// it to the conversation's room. Valid only from Joined, and only when
// senderID equals the connection's joined identity; a rejected send stores
// nothing and broadcasts nothing.
func (r *Router) SendMessage(ctx context.Context, connID, conversationID, senderID, text string) (*store.Message, error) {
	joinedAs, ok := r.registry.UserFor(connID)
	if !ok {
		return nil, ErrNotJoined
	}
	if senderID != joinedAs {
		return nil, ErrSenderMismatch
	}

	return r.PostMessage(ctx, senderID, conversationID, text)
}

// PostMessage appends a message for an already-authenticated sender (the
// REST path, where identity comes from the verified token rather than a
// live connection) and emits it to the conversation's room.
func (r *Router) PostMessage(ctx context.Context, senderID, conversationID, text string) (*store.Message, error) {
	msg, err := r.store.AppendMessage(ctx, conversationID, senderID, text)
	if err != nil {
		return nil, err
	}

	r.hub.EmitToRoom(conversationID, hub.Event{
		Name:    EventMessage,
		Payload: MessagePayload(msg),
	})
	return msg, nil
}

// OpenConversation finds or creates the conversation between the
// connection's user and another user, then subscribes the connection to the
// conversation's room. Subscription is automatic on open: a client that
// opens a conversation starts receiving its messages without a separate
// subscribe step.
func (r *Router) OpenConversation(ctx context.Context, connID, otherUserID string) (*store.Conversation, error) {
	userID, ok := r.registry.UserFor(connID)
	if !ok {
		return nil, ErrNotJoined
	}

	conv, err := r.store.FindOrCreateConversation(ctx, userID, otherUserID)
	if err != nil {
		return nil, err
	}

	r.hub.Subscribe(connID, conv.ID)
	return conv, nil
}

// SubscribeConversation subscribes a joined connection to an existing
// conversation's room, verifying the user is a participant first.
func (r *Router) SubscribeConversation(ctx context.Context, connID, conversationID string) error {
	userID, ok := r.registry.UserFor(connID)
	if !ok {
		return ErrNotJoined
	}

	conv, err := r.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}

	participant := false
	for _, p := range conv.Participants {
		if p.UserID == userID {
			participant = true
			break
		}
	}
	if !participant {
		return ErrNotParticipant
	}

	r.hub.Subscribe(connID, conversationID)
	return nil
}

// UnsubscribeConversation removes a connection from a conversation's room.
func (r *Router) UnsubscribeConversation(connID, conversationID string) {
	r.hub.Unsubscribe(connID, conversationID)
}

// Typing notifies everyone except the sender that the connection's user is
// typing. Fire-and-forget: no state change, no persistence, and silently
// ignored for connections that never joined.
func (r *Router) Typing(ctx context.Context, connID string) {
	userID, ok := r.registry.UserFor(connID)
	if !ok {
		return
	}

	user, err := r.store.GetUser(ctx, userID)
	if err != nil {
		r.logger.Warn("resolving typing user failed", "user_id", userID, "error", err)
		return
	}

	r.hub.EmitExcluding(connID, hub.Event{
		Name:    EventTyping,
		Payload: user.Username,
	})
}

// StopTyping notifies everyone except the sender that typing stopped.
func (r *Router) StopTyping(connID string) {
	if _, ok := r.registry.UserFor(connID); !ok {
		return
	}

	r.hub.EmitExcluding(connID, hub.Event{Name: EventStopTyping})
}

// broadcastOnlineUsers resolves the online user ids to usernames and sends
// the full presence snapshot to every connection.
func (r *Router) broadcastOnlineUsers(ctx context.Context) {
	usernames := r.OnlineUsernames(ctx)
	r.hub.Broadcast(hub.Event{
		Name:    EventOnlineUsers,
		Payload: usernames,
	})
}

// OnlineUsernames returns the sorted usernames of currently online users.
// Used both for the presence broadcast and for the snapshot sent to newly
// joined clients.
func (r *Router) OnlineUsernames(ctx context.Context) []string {
	ids := r.registry.OnlineUsers()
	usernames := make([]string, 0, len(ids))
	for _, id := range ids {
		user, err := r.store.GetUser(ctx, id)
		if err != nil {
			// A user online in the registry but missing from the store
			// should not sink the whole snapshot.
			r.logger.Warn("resolving online user failed", "user_id", id, "error", err)
			continue
		}
		usernames = append(usernames, user.Username)
	}
	sort.Strings(usernames)
	return usernames
}
