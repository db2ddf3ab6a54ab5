// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	users         map[string]*User         // keyed by user ID
	usernames     map[string]string        // keyed by username -> user ID
	conversations map[string]*Conversation // keyed by conversation ID
	pairIndex     map[string]string        // keyed by pair key -> conversation ID
	messages      map[string][]*Message    // keyed by conversation ID
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:         make(map[string]*User),
		usernames:     make(map[string]string),
		conversations: make(map[string]*Conversation),
		pairIndex:     make(map[string]string),
		messages:      make(map[string][]*Message),
	}
}

// CreateUser stores a new user.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.usernames[user.Username]; taken {
		return ErrDuplicateUsername
	}

	// Make a copy to avoid external modification
	u := *user
	m.users[u.ID] = &u
	m.usernames[u.Username] = u.ID
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}

	result := *u
	return &result, nil
}

// GetUserByUsername retrieves a user by username.
func (m *MockStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.usernames[username]
	if !ok {
		return nil, ErrNotFound
	}

	result := *m.users[id]
	return &result, nil
}

// ListUsers retrieves all users except the one with excludeID, sorted by username.
func (m *MockStore) ListUsers(ctx context.Context, excludeID string) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		if u.ID == excludeID {
			continue
		}
		result := *u
		users = append(users, &result)
	}

	sort.Slice(users, func(i, j int) bool {
		return users[i].Username < users[j].Username
	})
	return users, nil
}

// SetUserOnline updates the mirrored online flag.
func (m *MockStore) SetUserOnline(ctx context.Context, id string, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Online = online
	return nil
}

// FindOrCreateConversation returns or creates the conversation for the pair.
func (m *MockStore) FindOrCreateConversation(ctx context.Context, userA, userB string) (*Conversation, error) {
	if userA == userB {
		return nil, ErrSameParticipant
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ids := []string{userA, userB}
	sort.Strings(ids)
	key := ids[0] + ":" + ids[1]

	if id, ok := m.pairIndex[key]; ok {
		return m.copyConversationLocked(id), nil
	}

	conv := &Conversation{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
	}
	for _, id := range ids {
		u, ok := m.users[id]
		if !ok {
			return nil, ErrNotFound
		}
		conv.Participants = append(conv.Participants, Participant{
			UserID:   u.ID,
			Username: u.Username,
		})
	}

	m.conversations[conv.ID] = conv
	m.pairIndex[key] = conv.ID
	return m.copyConversationLocked(conv.ID), nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.conversations[id]; !ok {
		return nil, ErrNotFound
	}
	return m.copyConversationLocked(id), nil
}

// ListConversationsForUser retrieves conversations the user participates in.
func (m *MockStore) ListConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var conversations []*Conversation
	for id, conv := range m.conversations {
		for _, p := range conv.Participants {
			if p.UserID == userID {
				conversations = append(conversations, m.copyConversationLocked(id))
				break
			}
		}
	}

	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].CreatedAt.After(conversations[j].CreatedAt)
	})
	return conversations, nil
}

// AppendMessage appends a message with a server-assigned seq and timestamp.
func (m *MockStore) AppendMessage(ctx context.Context, conversationID, senderID, text string) (*Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}

	participant := false
	for _, p := range conv.Participants {
		if p.UserID == senderID {
			participant = true
			break
		}
	}
	if !participant {
		return nil, ErrNotParticipant
	}

	msg := &Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Sender:         senderID,
		Text:           text,
		Seq:            int64(len(m.messages[conversationID]) + 1),
		CreatedAt:      time.Now().UTC(),
	}
	m.messages[conversationID] = append(m.messages[conversationID], msg)

	result := *msg
	return &result, nil
}

// ListMessages retrieves messages in append order.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.conversations[conversationID]; !ok {
		return nil, ErrNotFound
	}

	stored := m.messages[conversationID]
	if len(stored) > limit {
		stored = stored[:limit]
	}

	messages := make([]*Message, 0, len(stored))
	for _, msg := range stored {
		result := *msg
		messages = append(messages, &result)
	}
	return messages, nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}

func (m *MockStore) copyConversationLocked(id string) *Conversation {
	conv := m.conversations[id]
	result := *conv
	result.Participants = append([]Participant(nil), conv.Participants...)
	return &result
}
