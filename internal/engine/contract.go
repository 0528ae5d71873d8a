package engine

import "context"

// Credentials carry the identity the authentication collaborator supplies
// before a connection is meaningful. The engine never authenticates itself.
type Credentials struct {
	UserID string
	Token  string
}

// Handler receives the raw JSON payload of one named event.
type Handler func(data []byte)

// Transport is the single pub/sub streaming handle to the messaging backend.
// Exactly one live transport exists at a time and it is owned by the
// ConnectionManager; no other component may create a second one.
//
// Connect starts connection establishment and returns without blocking; the
// outcome is delivered through the lifecycle events "connect",
// "connect_error", "disconnect" and "reconnect_failed". The transport retries
// the dial itself up to a bounded attempt budget; once that budget is
// exhausted it emits "reconnect_failed" and stops.
//
// On registers a handler for a named event and returns a disposer. Each call
// yields exactly one disposer and calling it more than once is a no-op.
type Transport interface {
	Connect(ctx context.Context, creds Credentials) error
	Close() error
	Emit(event string, payload any) error
	On(event string, h Handler) (off func())
}
