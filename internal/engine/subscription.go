package engine

import (
	"fmt"
	"log/slog"

	"github.com/campuslink/chatsync/internal/domain"
)

// JoinRoom subscribes to a room. Already-joined rooms are a no-op. The local
// subscription flag is set optimistically; reconciliation only becomes
// meaningful once the server's room-joined snapshot arrives.
func (e *Engine) JoinRoom(roomID string) error {
	if e.conn.Status() != StatusConnected {
		return fmt.Errorf("join room %q: %w", roomID, ErrNotConnected)
	}

	e.mu.Lock()
	rs := e.roomLocked(roomID)
	if rs.joined {
		e.mu.Unlock()
		return nil
	}
	rs.joined = true
	e.mu.Unlock()

	if err := e.transport.Emit(domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: roomID}); err != nil {
		e.mu.Lock()
		rs.joined = false
		e.mu.Unlock()

		return fmt.Errorf("transport.Emit: %w", err)
	}

	return nil
}

// LeaveRoom unsubscribes from a room. Not-joined rooms are a no-op. Any
// in-flight pagination for the room loses its relevance: a late response is
// discarded by the sequence guard.
func (e *Engine) LeaveRoom(roomID string) error {
	e.mu.Lock()
	rs, ok := e.rooms[roomID]
	if !ok || !rs.joined {
		e.mu.Unlock()
		return nil
	}
	rs.joined = false
	rs.loading = false
	rs.fetchSeq++
	if e.activeRoom == roomID {
		e.activeRoom = ""
	}
	e.mu.Unlock()

	if err := e.transport.Emit(domain.EventLeaveRoom, domain.LeaveRoomPayload{RoomID: roomID}); err != nil {
		return fmt.Errorf("transport.Emit: %w", err)
	}

	return nil
}

// SetActiveRoom switches the selected conversation: the previous active room
// is left first, then the new one joined, so the backend never holds two
// subscriptions for the same viewer. Selecting a room clears its unread count
// optimistically and tells the server; the authoritative rooms-update
// overwrites the optimistic value when it arrives.
func (e *Engine) SetActiveRoom(roomID string) error {
	e.mu.Lock()
	previous := e.activeRoom
	e.mu.Unlock()

	if previous == roomID {
		return nil
	}

	if previous != "" {
		if err := e.LeaveRoom(previous); err != nil {
			slog.Error("error leaving previous room", "room_id", previous, "error", err)
		}
	}

	if err := e.JoinRoom(roomID); err != nil {
		return fmt.Errorf("JoinRoom: %w", err)
	}

	e.mu.Lock()
	e.activeRoom = roomID
	rs := e.roomLocked(roomID)
	rs.room.UnreadCount = 0
	e.mu.Unlock()

	if err := e.transport.Emit(domain.EventMarkMessageRead, domain.MarkMessageReadPayload{RoomID: roomID}); err != nil {
		slog.Error("error marking room read", "room_id", roomID, "error", err)
	}

	e.notify(Update{Kind: UpdateRooms})

	return nil
}

// handleTransportDown drops the state a connection loss invalidates: server
// subscriptions and in-flight pagination. Room metadata and loaded messages
// are kept so the conversation renders instantly after a reconnect.
func (e *Engine) handleTransportDown([]byte) {
	e.mu.Lock()
	for _, rs := range e.rooms {
		rs.joined = false
		rs.loading = false
		rs.fetchSeq++
	}
	e.mu.Unlock()
}

// handleTransportUp restores the server-side subscription for the room the
// viewer still has open.
func (e *Engine) handleTransportUp([]byte) {
	e.mu.Lock()
	active := e.activeRoom
	var rs *roomState
	if active != "" {
		rs = e.roomLocked(active)
		if rs.joined {
			e.mu.Unlock()
			return
		}
		rs.joined = true
	}
	e.mu.Unlock()

	if active == "" {
		return
	}

	if err := e.transport.Emit(domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: active}); err != nil {
		slog.Error("error rejoining active room", "room_id", active, "error", err)

		e.mu.Lock()
		rs.joined = false
		e.mu.Unlock()
	}
}

// Joined reports whether the client currently holds a subscription to roomID.
func (e *Engine) Joined(roomID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	rs, ok := e.rooms[roomID]
	return ok && rs.joined
}
