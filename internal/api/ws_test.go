// ABOUTME: Websocket tests dialing the real endpoint with gorilla's client.
// ABOUTME: Covers the join handshake, room fan-out, and identity checks.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chat-relay/internal/auth"
	"github.com/2389/chat-relay/internal/presence"
	"github.com/2389/chat-relay/internal/store"
)

// serverEvent is an event as seen by a websocket client.
type serverEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialWS(t *testing.T, env *testEnv, token string) *wsClient {
	t.Helper()

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) emit(event string, data any) {
	c.t.Helper()

	frame := map[string]any{"event": event}
	if data != nil {
		frame["data"] = data
	}
	require.NoError(c.t, c.conn.WriteJSON(frame))
}

// waitFor reads events until one with the given name arrives, skipping
// everything else. Fails the test after the deadline.
func (c *wsClient) waitFor(name string) serverEvent {
	c.t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))

		var event serverEvent
		if err := c.conn.ReadJSON(&event); err != nil {
			c.t.Fatalf("waiting for %q: %v", name, err)
		}
		if event.Event == name {
			return event
		}
	}
	c.t.Fatalf("no %q event before deadline", name)
	return serverEvent{}
}

func (c *wsClient) join(userID string) {
	c.t.Helper()
	c.emit("join", joinData{UserID: userID})
	// A join yields two presence events on the joining connection: the
	// broadcast everyone gets, then the direct snapshot.
	c.waitFor("onlineUsers")
	c.waitFor("onlineUsers")
}

func TestWS_RejectsBadToken(t *testing.T) {
	env := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?token=garbage"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if conn != nil {
		conn.Close()
	}
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWS_JoinBroadcastsPresence(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice", "secret123")
	bob := env.register(t, "bob", "secret123")

	aliceWS := dialWS(t, env, alice.Token)
	aliceWS.join(alice.User.ID)

	bobWS := dialWS(t, env, bob.Token)
	bobWS.emit("join", joinData{UserID: bob.User.ID})

	// Alice sees the updated presence list once bob is in.
	event := aliceWS.waitFor("onlineUsers")
	var usernames []string
	require.NoError(t, json.Unmarshal(event.Data, &usernames))
	assert.Equal(t, []string{"alice", "bob"}, usernames)
}

func TestWS_JoinMustMatchToken(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice", "secret123")
	bob := env.register(t, "bob", "secret123")

	aliceWS := dialWS(t, env, alice.Token)
	aliceWS.emit("join", joinData{UserID: bob.User.ID})

	event := aliceWS.waitFor("error")
	var message string
	require.NoError(t, json.Unmarshal(event.Data, &message))
	assert.Contains(t, message, "token")
}

func TestJoinErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"conflict", presence.ErrConnConflict, "connection already joined as another user"},
		{"unknown user", fmt.Errorf("looking up user: %w", store.ErrNotFound), "unknown user"},
		{"other", errors.New("boom"), "join failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, joinErrorMessage(tt.err))
		})
	}
}

func TestWS_JoinUnknownUser(t *testing.T) {
	env := newTestEnv(t)

	// A valid token for an identity the store has never seen.
	verifier := auth.NewJWTVerifier([]byte("test-secret"))
	ghostID := uuid.New().String()
	token, err := verifier.Generate(&auth.Identity{UserID: ghostID, Username: "ghost"}, time.Hour)
	require.NoError(t, err)

	ws := dialWS(t, env, token)
	ws.emit("join", joinData{UserID: ghostID})

	event := ws.waitFor("error")
	var message string
	require.NoError(t, json.Unmarshal(event.Data, &message))
	assert.Equal(t, "unknown user", message)
}

func TestWS_MessageFanOut(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice", "secret123")
	bob := env.register(t, "bob", "secret123")

	aliceWS := dialWS(t, env, alice.Token)
	aliceWS.join(alice.User.ID)
	bobWS := dialWS(t, env, bob.Token)
	bobWS.join(bob.User.ID)

	aliceWS.emit("openConversation", openConversationData{UserID: bob.User.ID})
	opened := aliceWS.waitFor("conversationOpened")
	var conv ConversationResponse
	require.NoError(t, json.Unmarshal(opened.Data, &conv))

	// Bob opens the same conversation to subscribe to its room.
	bobWS.emit("openConversation", openConversationData{UserID: alice.User.ID})
	bobWS.waitFor("conversationOpened")

	aliceWS.emit("message", sendMessageData{
		ConversationID: conv.ID,
		Sender:         alice.User.ID,
		Text:           "hello bob",
	})

	for _, c := range []*wsClient{aliceWS, bobWS} {
		event := c.waitFor("message")
		var msg MessageJSON
		require.NoError(t, json.Unmarshal(event.Data, &msg))
		assert.Equal(t, "hello bob", msg.Text)
		assert.Equal(t, alice.User.ID, msg.Sender)
		assert.Equal(t, int64(1), msg.Seq)
	}
}

func TestWS_SenderMismatchRejected(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice", "secret123")
	bob := env.register(t, "bob", "secret123")

	aliceWS := dialWS(t, env, alice.Token)
	aliceWS.join(alice.User.ID)

	aliceWS.emit("openConversation", openConversationData{UserID: bob.User.ID})
	opened := aliceWS.waitFor("conversationOpened")
	var conv ConversationResponse
	require.NoError(t, json.Unmarshal(opened.Data, &conv))

	aliceWS.emit("message", sendMessageData{
		ConversationID: conv.ID,
		Sender:         bob.User.ID,
		Text:           "spoofed",
	})

	event := aliceWS.waitFor("error")
	var message string
	require.NoError(t, json.Unmarshal(event.Data, &message))
	assert.Contains(t, message, "sender")

	// Nothing was stored.
	messages, err := env.store.ListMessages(t.Context(), conv.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestWS_TypingExcludesSender(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice", "secret123")
	bob := env.register(t, "bob", "secret123")

	aliceWS := dialWS(t, env, alice.Token)
	aliceWS.join(alice.User.ID)
	bobWS := dialWS(t, env, bob.Token)
	bobWS.join(bob.User.ID)
	aliceWS.waitFor("onlineUsers") // bob's join broadcast

	aliceWS.emit("typing", nil)

	event := bobWS.waitFor("typing")
	var username string
	require.NoError(t, json.Unmarshal(event.Data, &username))
	assert.Equal(t, "alice", username)

	aliceWS.emit("stopTyping", nil)
	bobWS.waitFor("stopTyping")
}

func TestWS_DisconnectUpdatesPresence(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice", "secret123")
	bob := env.register(t, "bob", "secret123")

	aliceWS := dialWS(t, env, alice.Token)
	aliceWS.join(alice.User.ID)

	bobWS := dialWS(t, env, bob.Token)
	bobWS.join(bob.User.ID)
	aliceWS.waitFor("onlineUsers")

	bobWS.conn.Close()

	event := aliceWS.waitFor("onlineUsers")
	var usernames []string
	require.NoError(t, json.Unmarshal(event.Data, &usernames))
	assert.Equal(t, []string{"alice"}, usernames)
}
