package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/campuslink/chatsync/internal/domain"
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Disconnect reasons that must never trigger an automatic reconnect.
const (
	ReasonClientDisconnect = "client disconnect"
	ReasonServerDisconnect = "server disconnect"
)

const defaultReconnectDelay = 3 * time.Second

// ConnectionManager owns the one logical connection per signed-in user. It
// tracks the status state machine, retains the user id across involuntary
// disconnects and schedules at most one reconnect attempt per loss.
type ConnectionManager struct {
	transport Transport
	onStatus  func(Status)

	mu             sync.Mutex
	status         Status
	userID         string
	token          string
	reconnectDelay time.Duration
	timer          *time.Timer
	wired          bool
	offs           []func()
}

// NewConnectionManager wires lifecycle handlers lazily on the first Connect.
// A zero reconnectDelay selects the default of 3s.
func NewConnectionManager(transport Transport, reconnectDelay time.Duration, onStatus func(Status)) *ConnectionManager {
	if reconnectDelay <= 0 {
		reconnectDelay = defaultReconnectDelay
	}

	return &ConnectionManager{
		transport:      transport,
		onStatus:       onStatus,
		status:         StatusDisconnected,
		reconnectDelay: reconnectDelay,
	}
}

func (m *ConnectionManager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.status
}

// RetainedUserID reports the user id kept for automatic reconnection. Empty
// after an explicit Disconnect.
func (m *ConnectionManager) RetainedUserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.userID
}

// Connect requests a transport connection for userID. A call while already
// Connecting or Connected is a no-op: the transport handle is a singleton.
func (m *ConnectionManager) Connect(ctx context.Context, userID, token string) error {
	m.mu.Lock()
	if m.status == StatusConnecting || m.status == StatusConnected {
		m.mu.Unlock()
		return nil
	}

	m.userID = userID
	m.token = token
	m.cancelTimerLocked()
	m.wireLocked()
	m.setStatusLocked(StatusConnecting)
	m.mu.Unlock()

	if err := m.transport.Connect(ctx, Credentials{UserID: userID, Token: token}); err != nil {
		m.mu.Lock()
		m.setStatusLocked(StatusError)
		m.mu.Unlock()

		return fmt.Errorf("transport.Connect: %w: %w", ErrConnectionFailed, err)
	}

	return nil
}

// Disconnect is the explicit local teardown. It clears the retained user id so
// no automatic reconnection is ever scheduled afterwards.
func (m *ConnectionManager) Disconnect() error {
	m.mu.Lock()
	m.cancelTimerLocked()
	m.userID = ""
	m.token = ""
	m.setStatusLocked(StatusDisconnected)
	m.mu.Unlock()

	if err := m.transport.Close(); err != nil {
		return fmt.Errorf("transport.Close: %w", err)
	}

	return nil
}

// Reconnect tears the transport down and reconnects with the retained
// identity after a short delay. No-op when no user id is retained.
func (m *ConnectionManager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	userID, token := m.userID, m.token
	m.mu.Unlock()

	if userID == "" {
		return nil
	}

	if err := m.Disconnect(); err != nil {
		slog.ErrorContext(ctx, "error disconnecting before reconnect", "error", err)
	}

	m.mu.Lock()
	// Restore the identity Disconnect just cleared: this teardown is a step of
	// the reconnect, not a sign-out.
	m.userID = userID
	m.token = token
	m.timer = time.AfterFunc(m.reconnectDelay, func() {
		if err := m.Connect(context.WithoutCancel(ctx), userID, token); err != nil {
			slog.ErrorContext(ctx, "error reconnecting", "error", err)
		}
	})
	m.mu.Unlock()

	return nil
}

// Close releases the lifecycle handler registrations.
func (m *ConnectionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelTimerLocked()
	for _, off := range m.offs {
		off()
	}
	m.offs = nil
	m.wired = false
}

func (m *ConnectionManager) wireLocked() {
	if m.wired {
		return
	}

	m.offs = append(m.offs,
		m.transport.On(domain.EventConnect, m.handleConnected),
		m.transport.On(domain.EventConnectError, m.handleConnectError),
		m.transport.On(domain.EventDisconnect, m.handleDisconnected),
		m.transport.On(domain.EventReconnectFailed, m.handleReconnectFailed),
	)
	m.wired = true
}

func (m *ConnectionManager) handleConnected([]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelTimerLocked()
	m.setStatusLocked(StatusConnected)
}

func (m *ConnectionManager) handleConnectError(data []byte) {
	// The transport keeps retrying within its attempt budget; status stays
	// Connecting until it either connects or reports reconnect_failed.
	slog.Error("connection attempt failed", "reason", string(data))
}

func (m *ConnectionManager) handleDisconnected(data []byte) {
	var payload domain.DisconnectPayload
	_ = json.Unmarshal(data, &payload)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.setStatusLocked(StatusDisconnected)

	if payload.Reason == ReasonClientDisconnect || payload.Reason == ReasonServerDisconnect {
		return
	}

	if m.userID == "" || m.timer != nil {
		return
	}

	slog.Warn("connection lost", "reason", payload.Reason)

	userID, token := m.userID, m.token
	m.timer = time.AfterFunc(m.reconnectDelay, func() {
		m.mu.Lock()
		m.timer = nil
		retained := m.userID
		m.mu.Unlock()

		if retained == "" {
			return
		}

		if err := m.Connect(context.Background(), userID, token); err != nil {
			slog.Error("error reconnecting", "error", err)
		}
	})
}

func (m *ConnectionManager) handleReconnectFailed([]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Retry budget exhausted: terminal until the caller intervenes.
	m.cancelTimerLocked()
	m.setStatusLocked(StatusError)
}

func (m *ConnectionManager) cancelTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *ConnectionManager) setStatusLocked(s Status) {
	if m.status == s {
		return
	}

	m.status = s
	if m.onStatus != nil {
		go m.onStatus(s)
	}
}
