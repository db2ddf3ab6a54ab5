// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides user/conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Serialize access through a single connection so concurrent writers
	// queue instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			online INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);

		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			pair_key TEXT UNIQUE NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			user_id TEXT NOT NULL REFERENCES users(id),
			PRIMARY KEY (conversation_id, user_id)
		);

		CREATE INDEX IF NOT EXISTS idx_participants_user
			ON conversation_participants(user_id);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			sender_id TEXT NOT NULL REFERENCES users(id),
			text TEXT NOT NULL,
			seq INTEGER NOT NULL,
			created_at TEXT NOT NULL,

			UNIQUE (conversation_id, seq)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_seq
			ON messages(conversation_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// pairKey builds the canonical key for an unordered participant pair.
// The UNIQUE index on this key is what guarantees at most one conversation
// ever exists per pair, even under concurrent creation.
func pairKey(userA, userB string) string {
	ids := []string{userA, userB}
	sort.Strings(ids)
	return ids[0] + ":" + ids[1]
}

// CreateUser inserts a new user.
// Returns ErrDuplicateUsername if the username is already taken.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, username, password_hash, online, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Username,
		user.PasswordHash,
		boolToInt(user.Online),
		user.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateUsername
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "id", user.ID, "username", user.Username)
	return nil
}

// GetUser retrieves a user by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	return s.getUserWhere(ctx, "id = ?", id)
}

// GetUserByUsername retrieves a user by username.
// Returns ErrNotFound if no such user exists.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.getUserWhere(ctx, "username = ?", username)
}

func (s *SQLiteStore) getUserWhere(ctx context.Context, where string, arg any) (*User, error) {
	query := `
		SELECT id, username, password_hash, online, created_at
		FROM users
		WHERE ` + where

	var user User
	var online int
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&online,
		&createdAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	user.Online = online != 0
	user.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &user, nil
}

// ListUsers retrieves all users except the one with excludeID.
// Pass an empty excludeID to list everyone.
func (s *SQLiteStore) ListUsers(ctx context.Context, excludeID string) ([]*User, error) {
	query := `
		SELECT id, username, password_hash, online, created_at
		FROM users
		WHERE id != ?
		ORDER BY username
	`

	rows, err := s.db.QueryContext(ctx, query, excludeID)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var user User
		var online int
		var createdAtStr string

		if err := rows.Scan(&user.ID, &user.Username, &user.PasswordHash, &online, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}

		user.Online = online != 0
		user.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		users = append(users, &user)
	}

	return users, rows.Err()
}

// SetUserOnline updates the mirrored online flag for a user.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) SetUserOnline(ctx context.Context, id string, online bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET online = ? WHERE id = ?`, boolToInt(online), id)
	if err != nil {
		return fmt.Errorf("updating online flag: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// errPairExists reports that another writer created the pair's conversation
// first. Resolved internally by falling back to a lookup.
var errPairExists = errors.New("conversation pair already exists")

// FindOrCreateConversation returns the conversation for the unordered pair
// {userA, userB}, creating it if none exists. Both users must exist
// (ErrNotFound otherwise). Concurrent calls with the same pair resolve to
// the same conversation: a duplicate insert hits the UNIQUE pair_key
// constraint and is retried as a lookup.
func (s *SQLiteStore) FindOrCreateConversation(ctx context.Context, userA, userB string) (*Conversation, error) {
	if userA == userB {
		return nil, ErrSameParticipant
	}

	// Both participants must exist up front; a dangling id would otherwise
	// surface as an opaque FOREIGN KEY error from the participant insert.
	for _, userID := range []string{userA, userB} {
		if _, err := s.GetUser(ctx, userID); err != nil {
			return nil, err
		}
	}

	key := pairKey(userA, userB)

	conv, err := s.getConversationByPairKey(ctx, key)
	if err == nil {
		return conv, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	id := uuid.New().String()
	switch err := s.createConversation(ctx, id, key, userA, userB); {
	case err == nil:
		s.logger.Debug("created conversation", "id", id, "pair_key", key)
		return s.GetConversation(ctx, id)
	case errors.Is(err, errPairExists):
		// Lost the race to a concurrent creator; the winner's row is
		// authoritative, so fall back to a lookup.
		return s.getConversationByPairKey(ctx, key)
	default:
		return nil, err
	}
}

// createConversation inserts the conversation and its participants in one
// transaction, reporting a pair_key collision as errPairExists. The
// transaction is finished before this returns: the pool holds a single
// connection, and a lookup issued while a transaction still pinned it would
// block forever.
func (s *SQLiteStore) createConversation(ctx context.Context, id, key, userA, userB string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (id, pair_key, created_at) VALUES (?, ?, ?)`,
		id, key, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		if isConstraintViolation(err) {
			return errPairExists
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	for _, userID := range []string{userA, userB} {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO conversation_participants (conversation_id, user_id) VALUES (?, ?)`,
			id, userID)
		if err != nil {
			return fmt.Errorf("inserting participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isConstraintViolation(err) {
			return errPairExists
		}
		return fmt.Errorf("committing conversation: %w", err)
	}

	return nil
}

func (s *SQLiteStore) getConversationByPairKey(ctx context.Context, key string) (*Conversation, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE pair_key = ?`, key).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation by pair: %w", err)
	}
	return s.GetConversation(ctx, id)
}

// GetConversation retrieves a conversation with its participants resolved.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	var createdAtStr string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM conversations WHERE id = ?`, id).Scan(
		&conv.ID, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	conv.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	conv.Participants, err = s.participants(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	return &conv, nil
}

func (s *SQLiteStore) participants(ctx context.Context, conversationID string) ([]Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username
		FROM conversation_participants cp
		JOIN users u ON u.id = cp.user_id
		WHERE cp.conversation_id = ?
		ORDER BY u.username
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying participants: %w", err)
	}
	defer rows.Close()

	var participants []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.UserID, &p.Username); err != nil {
			return nil, fmt.Errorf("scanning participant: %w", err)
		}
		participants = append(participants, p)
	}

	return participants, rows.Err()
}

// ListConversationsForUser retrieves all conversations the user participates
// in, each with its participant list resolved.
func (s *SQLiteStore) ListConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.created_at
		FROM conversations c
		JOIN conversation_participants cp ON cp.conversation_id = c.id
		WHERE cp.user_id = ?
		ORDER BY c.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	type row struct {
		id        string
		createdAt string
	}
	var found []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.createdAt); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		found = append(found, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	conversations := make([]*Conversation, 0, len(found))
	for _, r := range found {
		conv := &Conversation{ID: r.id}
		conv.CreatedAt, err = time.Parse(time.RFC3339, r.createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		conv.Participants, err = s.participants(ctx, r.id)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}

	return conversations, nil
}

// AppendMessage validates and appends a message to a conversation's log.
// The timestamp and sequence number are server-assigned inside a single
// transaction, so concurrent appends to the same conversation land in one
// total order. Returns the stored message.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID, senderID, text string) (*Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	var isParticipant int
	err = tx.QueryRowContext(ctx, `
		SELECT 1 FROM conversation_participants
		WHERE conversation_id = ? AND user_id = ?
	`, conversationID, senderID).Scan(&isParticipant)
	if err == sql.ErrNoRows {
		return nil, ErrNotParticipant
	}
	if err != nil {
		return nil, fmt.Errorf("querying participant: %w", err)
	}

	msg := &Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Sender:         senderID,
		Text:           text,
		CreatedAt:      time.Now().UTC(),
	}

	// Atomic append-and-return-position: the next seq is allocated in the
	// same statement that inserts the row.
	err = tx.QueryRowContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, text, seq, created_at)
		VALUES (?, ?, ?, ?,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?),
			?)
		RETURNING seq
	`, msg.ID, conversationID, senderID, text, conversationID,
		msg.CreatedAt.Format(time.RFC3339Nano)).Scan(&msg.Seq)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing message: %w", err)
	}

	s.logger.Debug("appended message",
		"conversation_id", conversationID,
		"sender", senderID,
		"seq", msg.Seq,
	)
	return msg, nil
}

// ListMessages retrieves messages for a conversation in append order.
// If limit is 0 or negative, a default limit of 100 is used.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, text, seq, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq
		LIMIT ?
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var createdAtStr string

		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Sender, &msg.Text, &msg.Seq, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}

		msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		messages = append(messages, &msg)
	}

	return messages, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
