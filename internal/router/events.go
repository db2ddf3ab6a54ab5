// ABOUTME: Outbound event names and payload shapes emitted by the router.
// ABOUTME: The wire contract between the core and any transport layer.

package router

import (
	"time"

	"github.com/2389/chat-relay/internal/store"
)

// Outbound event names.
const (
	EventOnlineUsers = "onlineUsers" // all connections; []string usernames
	EventMessage     = "message"     // room = conversation id; MessageEvent
	EventTyping      = "typing"      // all except sender; username string
	EventStopTyping  = "stopTyping"  // all except sender; empty payload
)

// MessageEvent is the payload fanned out for a stored message. Fields carry
// the server-assigned values, never the client-supplied ones.
type MessageEvent struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"`
	Text           string    `json:"text"`
	Seq            int64     `json:"seq"`
	CreatedAt      time.Time `json:"created_at"`
}

// MessagePayload builds the fan-out payload for a stored message.
func MessagePayload(msg *store.Message) MessageEvent {
	return MessageEvent{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Sender:         msg.Sender,
		Text:           msg.Text,
		Seq:            msg.Seq,
		CreatedAt:      msg.CreatedAt,
	}
}
