// ABOUTME: Websocket transport: upgrade, auth handshake, read/write pumps.
// ABOUTME: Bridges socket frames to router operations and hub fan-out.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/chat-relay/internal/hub"
	"github.com/2389/chat-relay/internal/presence"
	"github.com/2389/chat-relay/internal/router"
	"github.com/2389/chat-relay/internal/store"
)

const (
	// writeWait bounds how long a single frame write may block.
	writeWait = 10 * time.Second

	// pongWait is how long we wait for a pong before the read side gives up.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait so pings go out before the
	// read deadline fires.
	pingPeriod = (pongWait * 9) / 10

	// sendBufferSize is the per-connection outbound queue. A connection that
	// falls this far behind is dropped rather than allowed to stall fan-out.
	sendBufferSize = 64

	maxFrameSize = 64 * 1024
)

// clientFrame is one inbound websocket message from a client.
type clientFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type joinData struct {
	UserID string `json:"user_id"`
}

type sendMessageData struct {
	ConversationID string `json:"conversation_id"`
	Sender         string `json:"sender"`
	Text           string `json:"text"`
}

type openConversationData struct {
	UserID string `json:"user_id"`
}

type conversationRefData struct {
	ConversationID string `json:"conversation_id"`
}

// wsConn is one live websocket connection. It implements hub.Sender by
// queueing events on a buffered channel drained by the write pump.
type wsConn struct {
	id     string
	conn   *websocket.Conn
	send   chan hub.Event
	closed chan struct{}
}

var errConnBusy = errors.New("connection send buffer full")

// Send queues an event without blocking. Called from hub fan-out while the
// hub holds its read lock, so it must never wait on the peer.
func (c *wsConn) Send(event hub.Event) error {
	select {
	case c.send <- event:
		return nil
	case <-c.closed:
		return errors.New("connection closed")
	default:
		return errConnBusy
	}
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	// Authenticate before upgrading so a bad token costs one HTTP response,
	// not a socket.
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing token")
		return
	}
	identity, err := s.verifier.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsConn{
		id:     uuid.New().String(),
		conn:   conn,
		send:   make(chan hub.Event, sendBufferSize),
		closed: make(chan struct{}),
	}

	s.hub.Register(c.id, c)
	s.logger.Info("websocket connected", "conn_id", c.id, "user_id", identity.UserID)

	go s.writePump(c)
	s.readPump(c, identity.UserID)
}

// checkOrigin allows same-origin and configured origins. An empty allowlist
// permits everything, which suits local development.
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// readPump consumes frames until the connection dies, then tears everything
// down exactly once via HandleDisconnect.
func (s *Server) readPump(c *wsConn, tokenUserID string) {
	defer func() {
		close(c.closed)
		s.router.HandleDisconnect(context.Background(), c.id)
		_ = c.conn.Close()
		s.logger.Info("websocket disconnected", "conn_id", c.id)
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", "conn_id", c.id, "error", err)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.sendError(c, "malformed frame")
			continue
		}

		s.dispatch(c, tokenUserID, frame)
	}
}

// dispatch routes one client frame. Errors go back to the originating
// connection only; they never fan out.
func (s *Server) dispatch(c *wsConn, tokenUserID string, frame clientFrame) {
	ctx := context.Background()

	switch frame.Event {
	case "join":
		var data joinData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			s.sendError(c, "malformed join data")
			return
		}
		// The socket identity is whatever the token says it is. A join for a
		// different user is rejected without touching presence.
		if data.UserID != tokenUserID {
			s.sendError(c, "join user does not match token")
			return
		}
		if err := s.router.HandleJoin(ctx, c.id, data.UserID); err != nil {
			s.sendError(c, joinErrorMessage(err))
			return
		}
		// Fresh presence snapshot for the newcomer, on top of the broadcast
		// the join itself produced.
		_ = c.Send(hub.Event{Name: router.EventOnlineUsers, Payload: s.router.OnlineUsernames(ctx)})

	case "message":
		var data sendMessageData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			s.sendError(c, "malformed message data")
			return
		}
		if _, err := s.router.SendMessage(ctx, c.id, data.ConversationID, data.Sender, data.Text); err != nil {
			s.sendError(c, sendErrorMessage(err))
		}

	case "openConversation":
		var data openConversationData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			s.sendError(c, "malformed openConversation data")
			return
		}
		conv, err := s.router.OpenConversation(ctx, c.id, data.UserID)
		if err != nil {
			s.sendError(c, sendErrorMessage(err))
			return
		}
		_ = c.Send(hub.Event{Name: "conversationOpened", Payload: conversationJSON(conv, nil)})

	case "subscribe":
		var data conversationRefData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			s.sendError(c, "malformed subscribe data")
			return
		}
		if err := s.router.SubscribeConversation(ctx, c.id, data.ConversationID); err != nil {
			s.sendError(c, sendErrorMessage(err))
		}

	case "unsubscribe":
		var data conversationRefData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			s.sendError(c, "malformed unsubscribe data")
			return
		}
		s.router.UnsubscribeConversation(c.id, data.ConversationID)

	case "typing":
		s.router.Typing(ctx, c.id)

	case "stopTyping":
		s.router.StopTyping(c.id)

	case "leave":
		s.router.HandleLeave(ctx, c.id)

	default:
		s.sendError(c, "unknown event")
	}
}

// joinErrorMessage maps a join failure to a client-safe string.
func joinErrorMessage(err error) string {
	switch {
	case errors.Is(err, presence.ErrConnConflict):
		return "connection already joined as another user"
	case errors.Is(err, store.ErrNotFound):
		return "unknown user"
	default:
		return "join failed"
	}
}

// sendErrorMessage maps a router/store error to a client-safe string.
func sendErrorMessage(err error) string {
	switch {
	case errors.Is(err, router.ErrNotJoined):
		return "not joined"
	case errors.Is(err, router.ErrSenderMismatch):
		return "sender does not match joined user"
	case errors.Is(err, router.ErrNotParticipant), errors.Is(err, store.ErrNotParticipant):
		return "not a participant"
	case errors.Is(err, store.ErrEmptyMessage):
		return "message text is empty"
	case errors.Is(err, store.ErrSameParticipant):
		return "cannot open a conversation with yourself"
	case errors.Is(err, store.ErrNotFound):
		return "not found"
	default:
		return "internal error"
	}
}

func (s *Server) sendError(c *wsConn, message string) {
	_ = c.Send(hub.Event{Name: "error", Payload: message})
}

// writePump serializes all frame writes for one connection: queued events
// plus keepalive pings. gorilla/websocket allows only one concurrent writer.
func (s *Server) writePump(c *wsConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case event := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}
