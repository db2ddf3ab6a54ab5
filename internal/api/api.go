// ABOUTME: HTTP API handlers for registration, login, users, and conversations.
// ABOUTME: Thin request layer translating JSON requests into core calls.

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/2389/chat-relay/internal/auth"
	"github.com/2389/chat-relay/internal/hub"
	"github.com/2389/chat-relay/internal/router"
	"github.com/2389/chat-relay/internal/store"
)

// Server wires the REST and websocket surface to the core.
type Server struct {
	store          store.Store
	router         *router.Router
	hub            *hub.Hub
	verifier       *auth.JWTVerifier
	tokenTTL       time.Duration
	allowedOrigins []string
	logger         *slog.Logger
}

// Options configures a Server.
type Options struct {
	Store          store.Store
	Router         *router.Router
	Hub            *hub.Hub
	Verifier       *auth.JWTVerifier
	TokenTTL       time.Duration
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewServer creates the request layer. Pass a nil logger for default.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := opts.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Server{
		store:          opts.Store,
		router:         opts.Router,
		hub:            opts.Hub,
		verifier:       opts.Verifier,
		tokenTTL:       ttl,
		allowedOrigins: opts.AllowedOrigins,
		logger:         logger.With("component", "api"),
	}
}

// Handler builds the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	authRequired := auth.Middleware(s.verifier)

	mux.HandleFunc("POST /api/register", s.handleRegister)
	mux.HandleFunc("POST /api/login", s.handleLogin)

	mux.Handle("GET /api/users", authRequired(http.HandlerFunc(s.handleListUsers)))
	mux.Handle("GET /api/conversations", authRequired(http.HandlerFunc(s.handleListConversations)))
	mux.Handle("POST /api/conversations", authRequired(http.HandlerFunc(s.handleCreateConversation)))
	mux.Handle("GET /api/conversations/{id}", authRequired(http.HandlerFunc(s.handleGetConversation)))
	mux.Handle("POST /api/conversations/{id}/messages", authRequired(http.HandlerFunc(s.handlePostMessage)))

	mux.HandleFunc("GET /ws", s.handleWebsocket)
	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

// UserResponse is the JSON shape for a user.
type UserResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// CredentialsRequest is the JSON request body for register and login.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse is the JSON response for register and login.
type AuthResponse struct {
	User  UserResponse `json:"user"`
	Token string       `json:"token"`
}

// ConversationResponse is the JSON shape for a conversation.
type ConversationResponse struct {
	ID           string         `json:"id"`
	Participants []UserResponse `json:"participants"`
	CreatedAt    string         `json:"created_at"`
	Messages     []MessageJSON  `json:"messages,omitempty"`
}

// MessageJSON is the JSON shape for a stored message.
type MessageJSON struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Sender         string `json:"sender"`
	Text           string `json:"text"`
	Seq            int64  `json:"seq"`
	CreatedAt      string `json:"created_at"`
}

// CreateConversationRequest is the JSON request body for POST /api/conversations.
type CreateConversationRequest struct {
	ParticipantID string `json:"participant_id"`
}

// PostMessageRequest is the JSON request body for posting a message.
type PostMessageRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("hashing password failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	user := &store.User{
		ID:           uuid.New().String(),
		Username:     req.Username,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrDuplicateUsername) {
			writeError(w, http.StatusConflict, "username already exists")
			return
		}
		s.logger.Error("creating user failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	token, err := s.verifier.Generate(&auth.Identity{UserID: user.ID, Username: user.Username}, s.tokenTTL)
	if err != nil {
		s.logger.Error("generating token failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("user registered", "user_id", user.ID, "username", user.Username)
	writeJSON(w, http.StatusCreated, AuthResponse{User: userJSON(user), Token: token})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Burn the same bcrypt work so timing doesn't reveal usernames
			auth.CheckDummyPassword(req.Password)
			writeError(w, http.StatusBadRequest, "invalid credentials")
			return
		}
		s.logger.Error("looking up user failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		writeError(w, http.StatusBadRequest, "invalid credentials")
		return
	}

	token, err := s.verifier.Generate(&auth.Identity{UserID: user.ID, Username: user.Username}, s.tokenTTL)
	if err != nil {
		s.logger.Error("generating token failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, AuthResponse{User: userJSON(user), Token: token})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())

	users, err := s.store.ListUsers(r.Context(), identity.UserID)
	if err != nil {
		s.logger.Error("listing users failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	response := make([]UserResponse, 0, len(users))
	for _, u := range users {
		response = append(response, userJSON(u))
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())

	conversations, err := s.store.ListConversationsForUser(r.Context(), identity.UserID)
	if err != nil {
		s.logger.Error("listing conversations failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	response := make([]ConversationResponse, 0, len(conversations))
	for _, conv := range conversations {
		response = append(response, conversationJSON(conv, nil))
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ParticipantID == "" {
		writeError(w, http.StatusBadRequest, "participant_id is required")
		return
	}

	conv, err := s.store.FindOrCreateConversation(r.Context(), identity.UserID, req.ParticipantID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrSameParticipant):
			writeError(w, http.StatusBadRequest, "cannot start a conversation with yourself")
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "participant not found")
		default:
			s.logger.Error("creating conversation failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, conversationJSON(conv, nil))
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	conversationID := r.PathValue("id")

	conv, err := s.store.GetConversation(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		s.logger.Error("getting conversation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if !isParticipant(conv, identity.UserID) {
		writeError(w, http.StatusForbidden, "not a participant")
		return
	}

	messages, err := s.store.ListMessages(r.Context(), conversationID, 0)
	if err != nil {
		s.logger.Error("listing messages failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, conversationJSON(conv, messages))
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	conversationID := r.PathValue("id")

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := s.router.PostMessage(r.Context(), identity.UserID, conversationID, req.Text)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "conversation not found")
		case errors.Is(err, store.ErrEmptyMessage):
			writeError(w, http.StatusBadRequest, "message text is empty")
		case errors.Is(err, store.ErrNotParticipant):
			writeError(w, http.StatusForbidden, "not a participant")
		default:
			s.logger.Error("posting message failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, messageJSON(msg))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func isParticipant(conv *store.Conversation, userID string) bool {
	for _, p := range conv.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

func userJSON(u *store.User) UserResponse {
	return UserResponse{ID: u.ID, Username: u.Username, Online: u.Online}
}

func conversationJSON(conv *store.Conversation, messages []*store.Message) ConversationResponse {
	response := ConversationResponse{
		ID:        conv.ID,
		CreatedAt: conv.CreatedAt.UTC().Format(time.RFC3339),
	}
	for _, p := range conv.Participants {
		response.Participants = append(response.Participants, UserResponse{
			ID:       p.UserID,
			Username: p.Username,
		})
	}
	for _, msg := range messages {
		response.Messages = append(response.Messages, messageJSON(msg))
	}
	return response
}

func messageJSON(msg *store.Message) MessageJSON {
	return MessageJSON{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Sender:         msg.Sender,
		Text:           msg.Text,
		Seq:            msg.Seq,
		CreatedAt:      msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
