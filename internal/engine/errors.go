package engine

import "errors"

var (
	// ErrNotConnected rejects operations attempted while the connection is not
	// established. Callers surface it immediately instead of queueing.
	ErrNotConnected = errors.New("not connected")

	// ErrConnectionFailed marks transport handshake or retry-budget
	// exhaustion. Terminal: recovery requires manual intervention.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrTimeout marks an acknowledgment window that elapsed. Retriable.
	ErrTimeout = errors.New("timed out")

	// ErrMalformedPayload marks inbound data missing required fields. It is
	// swallowed at the reconciler boundary, never propagated.
	ErrMalformedPayload = errors.New("malformed payload")
)
