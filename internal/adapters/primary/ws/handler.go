// Package ws exposes the backend websocket endpoint.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/campuslink/chatsync/internal/domain"
	"github.com/campuslink/chatsync/internal/infrastructure/auth"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Handler struct {
	hub    *domain.HubService
	signer *auth.Signer
}

func NewHandler(hub *domain.HubService, signer *auth.Signer) *Handler {
	return &Handler{hub: hub, signer: signer}
}

// Handle authenticates the handshake, upgrades it and runs the session until
// the peer goes away.
func (h *Handler) Handle(c *gin.Context) {
	claims, err := h.authenticate(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "error upgrading connection", "error", err)
		return
	}

	ctx := c.Request.Context()
	client := &wsClient{conn: conn, send: make(chan domain.Event, sendBuffer)}

	if err := h.hub.Connect(ctx, domain.Session{UserID: claims.UserID, Messenger: client}); err != nil {
		slog.ErrorContext(ctx, "error registering session", "error", err)
		_ = conn.Close()
		return
	}

	go client.writePump()
	h.readPump(ctx, claims.UserID, client)
}

func (h *Handler) authenticate(c *gin.Context) (auth.Claims, error) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if token == "" {
		token = c.Query("token")
	}
	if token == "" {
		return auth.Claims{}, fmt.Errorf("missing token")
	}

	return h.signer.Verify(token)
}

func (h *Handler) readPump(ctx context.Context, userID string, client *wsClient) {
	defer func() {
		if err := h.hub.Disconnect(ctx, userID); err != nil {
			slog.ErrorContext(ctx, "error unregistering session", "error", err)
		}
		client.close()
	}()

	conn := client.conn
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.WarnContext(ctx, "session closed unexpectedly", "user_id", userID, "error", err)
			}
			return
		}

		var event domain.Event
		if err := json.Unmarshal(raw, &event); err != nil {
			slog.WarnContext(ctx, "dropping unparseable frame", "user_id", userID, "error", err)
			continue
		}

		if err := h.route(ctx, userID, event); err != nil {
			slog.ErrorContext(ctx, "error handling event", "user_id", userID, "event", event.Event, "error", err)
		}
	}
}

func (h *Handler) route(ctx context.Context, userID string, event domain.Event) error {
	switch event.Event {
	case domain.EventJoinRoom:
		var p domain.JoinRoomPayload
		if err := json.Unmarshal(event.Data, &p); err != nil {
			return fmt.Errorf("json.Unmarshal: %w", err)
		}
		return h.hub.Join(ctx, userID, p.RoomID)

	case domain.EventLeaveRoom:
		var p domain.LeaveRoomPayload
		if err := json.Unmarshal(event.Data, &p); err != nil {
			return fmt.Errorf("json.Unmarshal: %w", err)
		}
		return h.hub.Leave(ctx, userID, p.RoomID)

	case domain.EventSendMessage:
		var p domain.WireMessage
		if err := json.Unmarshal(event.Data, &p); err != nil {
			return fmt.Errorf("json.Unmarshal: %w", err)
		}
		return h.hub.SendMessage(ctx, userID, p)

	case domain.EventMarkMessageRead:
		var p domain.MarkMessageReadPayload
		if err := json.Unmarshal(event.Data, &p); err != nil {
			return fmt.Errorf("json.Unmarshal: %w", err)
		}
		return h.hub.MarkRead(ctx, userID, p.RoomID)

	case domain.EventFetchMessages:
		var p domain.FetchMessagesPayload
		if err := json.Unmarshal(event.Data, &p); err != nil {
			return fmt.Errorf("json.Unmarshal: %w", err)
		}
		return h.hub.FetchMessages(ctx, userID, p.RoomID, p.Before, p.Limit)

	default:
		return fmt.Errorf("unknown event %q", event.Event)
	}
}

// wsClient is the per-connection messenger. Writes go through the send
// channel so only the write pump touches the socket.
type wsClient struct {
	conn *websocket.Conn
	send chan domain.Event
}

func (c *wsClient) SendEvent(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("json.Marshal: %w", err)
	}

	select {
	case c.send <- domain.Event{Event: event, Data: data}:
		return nil
	default:
		// A slow consumer must not block a hub fan-out.
		return fmt.Errorf("send buffer full")
	}
}

func (c *wsClient) close() {
	close(c.send)
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteJSON(event); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
