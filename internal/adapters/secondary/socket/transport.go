// Package socket implements the client side of the websocket event stream.
package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/campuslink/chatsync/internal/domain"
	"github.com/campuslink/chatsync/internal/engine"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	dialAttempts = 5
	dialDelay    = 2 * time.Second
)

// Transport dials the backend websocket endpoint and maps the connection
// lifecycle onto the named events the engine consumes. The dial retries
// itself within a bounded attempt budget; once exhausted it reports
// reconnect_failed and stays down until the next Connect.
type Transport struct {
	url string

	mu      sync.Mutex
	conn    *websocket.Conn
	closing bool
	done    chan struct{}

	handlerMu sync.Mutex
	nextID    int
	handlers  map[string]map[int]engine.Handler

	writeMu sync.Mutex
}

func NewTransport(url string) *Transport {
	return &Transport{
		url:      url,
		handlers: make(map[string]map[int]engine.Handler),
	}
}

// Connect starts the dial loop and returns immediately. The outcome arrives
// through connect, connect_error and reconnect_failed events.
func (t *Transport) Connect(ctx context.Context, creds engine.Credentials) error {
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return fmt.Errorf("transport already connected")
	}
	t.closing = false
	t.mu.Unlock()

	go t.dialLoop(ctx, creds)
	return nil
}

func (t *Transport) dialLoop(ctx context.Context, creds engine.Credentials) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+creds.Token)
	header.Set("X-User-ID", creds.UserID)

	for attempt := 1; attempt <= dialAttempts; attempt++ {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, header)
		if err == nil {
			done := make(chan struct{})

			t.mu.Lock()
			t.conn = conn
			t.done = done
			t.mu.Unlock()

			t.dispatch(domain.EventConnect, nil)

			go t.readPump(conn, done)
			go t.pinger(conn, done)
			return
		}

		slog.WarnContext(ctx, "dial attempt failed", "attempt", attempt, "error", err)
		t.dispatch(domain.EventConnectError, jsonString(err.Error()))

		select {
		case <-ctx.Done():
			return
		case <-time.After(dialDelay):
		}
	}

	t.dispatch(domain.EventReconnectFailed, nil)
}

// Close tears the connection down on behalf of the local user. The resulting
// disconnect event carries the client reason so no reconnect is scheduled.
func (t *Transport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.closing = true
	t.mu.Unlock()

	if conn == nil {
		return nil
	}

	t.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	t.writeMu.Unlock()

	return conn.Close()
}

func (t *Transport) Emit(event string, payload any) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("emit %q: transport not connected", event)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("json.Marshal: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(domain.Event{Event: event, Data: data}); err != nil {
		return fmt.Errorf("conn.WriteJSON: %w", err)
	}

	return nil
}

func (t *Transport) On(event string, h engine.Handler) func() {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()

	t.nextID++
	id := t.nextID
	if t.handlers[event] == nil {
		t.handlers[event] = make(map[int]engine.Handler)
	}
	t.handlers[event][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			t.handlerMu.Lock()
			delete(t.handlers[event], id)
			t.handlerMu.Unlock()
		})
	}
}

func (t *Transport) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.handleReadError(conn, err)
			return
		}

		var event domain.Event
		if err := json.Unmarshal(raw, &event); err != nil {
			slog.Warn("dropping unparseable frame", "error", err)
			continue
		}

		t.dispatch(event.Event, event.Data)
	}
}

func (t *Transport) handleReadError(conn *websocket.Conn, err error) {
	t.mu.Lock()
	closing := t.closing
	if t.conn == conn {
		t.conn = nil
		t.done = nil
	}
	t.mu.Unlock()

	_ = conn.Close()

	reason := err.Error()
	switch {
	case closing:
		reason = "client disconnect"
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		reason = "server disconnect"
	}

	payload, _ := json.Marshal(domain.DisconnectPayload{Reason: reason})
	t.dispatch(domain.EventDisconnect, payload)
}

func (t *Transport) pinger(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			t.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (t *Transport) dispatch(event string, data []byte) {
	t.handlerMu.Lock()
	hs := make([]engine.Handler, 0, len(t.handlers[event]))
	for _, h := range t.handlers[event] {
		hs = append(hs, h)
	}
	t.handlerMu.Unlock()

	for _, h := range hs {
		h(data)
	}
}

func jsonString(s string) []byte {
	b, _ := json.Marshal(s)
	return b
}
