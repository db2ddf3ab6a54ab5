// ABOUTME: Store interface and data types for chat-relay persistence
// ABOUTME: Defines User, Conversation, Message structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateUsername is returned when creating a user whose username is taken
var ErrDuplicateUsername = errors.New("username already exists")

// ErrEmptyMessage is returned when appending a message with no text
var ErrEmptyMessage = errors.New("message text is empty")

// ErrNotParticipant is returned when the sender is not a participant of the conversation
var ErrNotParticipant = errors.New("sender is not a participant")

// ErrSameParticipant is returned when a conversation would have a user talking to themselves
var ErrSameParticipant = errors.New("conversation requires two distinct participants")

// User represents a registered chat identity.
// The Online flag mirrors the presence registry and is not authoritative.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Online       bool
	CreatedAt    time.Time
}

// Participant is a resolved conversation member.
type Participant struct {
	UserID   string
	Username string
}

// Conversation is a durable thread between a fixed pair of participants.
// Participants are immutable after creation.
type Conversation struct {
	ID           string
	Participants []Participant
	CreatedAt    time.Time
}

// Message is a single immutable entry in a conversation's log.
// Seq is the server-assigned append position within the conversation;
// it defines the authoritative message order, not the client clock.
type Message struct {
	ID             string
	ConversationID string
	Sender         string
	Text           string
	Seq            int64
	CreatedAt      time.Time
}

// Store defines the interface for user, conversation and message persistence
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context, excludeID string) ([]*User, error)
	SetUserOnline(ctx context.Context, id string, online bool) error

	// Conversations
	FindOrCreateConversation(ctx context.Context, userA, userB string) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error)

	// Messages (append-only per conversation)
	AppendMessage(ctx context.Context, conversationID, senderID, text string) (*Message, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// Close releases any resources held by the store
	Close() error
}
