package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/campuslink/chatsync/internal/domain"
)

// dedupWindow is the tolerance for the fallback duplicate check: the echo of
// a locally-sent message comes back with a server timestamp that can differ
// slightly from the optimistic one.
const dedupWindow = 2 * time.Second

const unknownSenderName = "Unknown"

// handleMessage applies one live broadcast. Malformed payloads are dropped
// and logged; they never crash the dispatch loop or touch another room.
func (e *Engine) handleMessage(data []byte) {
	var wire domain.WireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		slog.Error("dropping message", "error", fmt.Errorf("json.Unmarshal: %w: %w", ErrMalformedPayload, err))
		return
	}

	if wire.RoomID == "" || wire.Content == "" {
		slog.Error("dropping message", "error", ErrMalformedPayload, "room_id", wire.RoomID)
		return
	}

	e.mu.Lock()
	rs := e.roomLocked(wire.RoomID)
	msg := e.resolveLocked(rs, wire)

	inserted := insertTail(rs, msg)
	if inserted {
		e.touchRoomLocked(rs, msg)
		if !e.IsOwnMessage(msg) && rs.room.ID != e.activeRoom {
			rs.room.UnreadCount++
		}
	}
	active := e.activeRoom
	e.mu.Unlock()

	if !inserted {
		return
	}

	if active == msg.RoomID && !e.IsOwnMessage(msg) {
		// Immediately read: keep the server's unread watermark in step.
		if err := e.transport.Emit(domain.EventMarkMessageRead, domain.MarkMessageReadPayload{RoomID: msg.RoomID}); err != nil {
			slog.Error("error marking message read", "room_id", msg.RoomID, "error", err)
		}
	}

	e.notify(Update{Kind: UpdateAppended, RoomID: msg.RoomID})
}

// handleRoomJoined applies the initial snapshot delivered after a join. The
// backend's delivery order is not trusted: the batch is sorted by sentAt
// before merging. Receiving the same snapshot twice (reconnect) is a no-op.
func (e *Engine) handleRoomJoined(data []byte) {
	var payload domain.RoomJoinedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		slog.Error("dropping room snapshot", "error", fmt.Errorf("json.Unmarshal: %w: %w", ErrMalformedPayload, err))
		return
	}

	if payload.RoomID == "" {
		slog.Error("dropping room snapshot", "error", ErrMalformedPayload)
		return
	}

	e.mu.Lock()
	rs := e.roomLocked(payload.RoomID)
	if len(payload.Participants) > 0 {
		rs.room.Participants = payload.Participants
	}

	for _, wire := range payload.Messages {
		if wire.RoomID == "" {
			wire.RoomID = payload.RoomID
		}
		if wire.Content == "" {
			continue
		}

		msg := e.resolveLocked(rs, wire)
		if i, dup := findDuplicate(rs.messages, msg); dup {
			backfillID(&rs.messages[i], msg)
			continue
		}

		rs.messages = append(rs.messages, msg)
	}

	sort.SliceStable(rs.messages, func(i, j int) bool {
		return rs.messages[i].SentAt.Before(rs.messages[j].SentAt)
	})

	rs.hasMore = payload.HasMore
	rs.oldestID = oldestID(rs.messages)
	if last := len(rs.messages) - 1; last >= 0 {
		e.touchRoomLocked(rs, rs.messages[last])
	}
	e.mu.Unlock()

	e.notify(Update{Kind: UpdateSnapshot, RoomID: payload.RoomID})
}

// handleRoomsUpdate replaces room metadata with the authoritative room-list
// snapshot while preserving local message lists and pagination state.
func (e *Engine) handleRoomsUpdate(data []byte) {
	var payload domain.RoomsUpdatePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		slog.Error("dropping rooms update", "error", fmt.Errorf("json.Unmarshal: %w: %w", ErrMalformedPayload, err))
		return
	}

	e.mu.Lock()
	for _, room := range payload.Rooms {
		if room.ID == "" {
			continue
		}

		rs := e.roomLocked(room.ID)
		rs.room = room
		if room.ID == e.activeRoom {
			// The viewer is looking at this room; whatever the server still
			// counts as unread is already read here.
			rs.room.UnreadCount = 0
		}
	}
	e.mu.Unlock()

	e.notify(Update{Kind: UpdateRooms})
}

// Send emits a message and appends an optimistic local copy. The broadcast
// echo reconciles against that copy instead of duplicating it. When the emit
// fails the optimistic copy is never inserted, so the input stays resendable.
func (e *Engine) Send(roomID, content string, kind domain.MessageKind, durationSeconds int) error {
	if e.conn.Status() != StatusConnected {
		return fmt.Errorf("send to room %q: %w", roomID, ErrNotConnected)
	}

	if roomID == "" || content == "" {
		return fmt.Errorf("send: %w", ErrMalformedPayload)
	}

	if kind == "" {
		kind = domain.MessageText
	}

	msg := domain.Message{
		RoomID:          roomID,
		SenderID:        e.self.ID,
		SenderName:      e.self.FullName,
		SenderEmail:     e.self.Email,
		Content:         content,
		Kind:            kind,
		SentAt:          e.now(),
		DurationSeconds: durationSeconds,
	}

	wire := domain.WireMessage{
		RoomID:          roomID,
		Sender:          domain.SenderRef{ID: e.self.ID, Name: e.self.FullName, Email: e.self.Email},
		Content:         content,
		Kind:            kind,
		SentAt:          msg.SentAt,
		DurationSeconds: durationSeconds,
	}

	if err := e.transport.Emit(domain.EventSendMessage, wire); err != nil {
		return fmt.Errorf("transport.Emit: %w", err)
	}

	e.mu.Lock()
	rs := e.roomLocked(roomID)
	inserted := insertTail(rs, msg)
	if inserted {
		e.touchRoomLocked(rs, msg)
	}
	e.mu.Unlock()

	if inserted {
		e.notify(Update{Kind: UpdateAppended, RoomID: roomID})
	}

	return nil
}

// IsOwnMessage decides rendering alignment for a message. Only stable
// identifiers and exact matches are allowed: id, then case-insensitive full
// name, then email. No substring heuristics.
func (e *Engine) IsOwnMessage(m domain.Message) bool {
	if m.SenderID != "" && m.SenderID == e.self.ID {
		return true
	}

	name := strings.TrimSpace(m.SenderName)
	if name != "" && e.self.FullName != "" && strings.EqualFold(name, strings.TrimSpace(e.self.FullName)) {
		return true
	}

	return m.SenderEmail != "" && m.SenderEmail == e.self.Email
}

// resolveLocked converts a wire message into a domain message with a total,
// deterministic sender name: embedded record, explicit sender_name field,
// room participant lookup, then the "Unknown" placeholder. Caller holds e.mu.
func (e *Engine) resolveLocked(rs *roomState, wire domain.WireMessage) domain.Message {
	name := wire.Sender.Name
	if name == "" {
		name = wire.SenderName
	}
	if name == "" {
		if p, ok := rs.room.Participant(wire.Sender.ID); ok {
			name = p.Name
		}
	}
	if name == "" {
		name = unknownSenderName
	}

	kind := wire.Kind
	if kind == "" {
		kind = domain.MessageText
	}

	return domain.Message{
		ID:              wire.ID,
		RoomID:          wire.RoomID,
		SenderID:        wire.Sender.ID,
		SenderName:      name,
		SenderEmail:     wire.Sender.Email,
		Content:         wire.Content,
		Kind:            kind,
		SentAt:          wire.SentAt,
		DurationSeconds: wire.DurationSeconds,
	}
}

// touchRoomLocked updates the owning room's lastMessage and updatedAt after a
// successful insertion. Unread accounting is the live broadcast path's job:
// snapshot history must never inflate the counter. Caller holds e.mu.
func (e *Engine) touchRoomLocked(rs *roomState, msg domain.Message) {
	last := msg
	rs.room.LastMessage = &last
	if msg.SentAt.After(rs.room.UpdatedAt) {
		rs.room.UpdatedAt = msg.SentAt
	}
}

// insertTail appends msg unless it duplicates an existing entry. Live
// messages are applied in arrival order: even a sentAt older than the current
// tail still lands at the tail. Only snapshots and history pages are sorted.
func insertTail(rs *roomState, msg domain.Message) bool {
	if i, dup := findDuplicate(rs.messages, msg); dup {
		backfillID(&rs.messages[i], msg)
		return false
	}

	rs.messages = append(rs.messages, msg)
	if rs.oldestID == "" && msg.ID != "" && len(rs.messages) == 1 {
		rs.oldestID = msg.ID
	}

	return true
}

// findDuplicate scans for an entry the incoming message duplicates. The
// primary key is server id equality when both sides carry one; the fallback
// (echoes that have not round-tripped an id yet) is same sender, same
// content and sentAt within the tolerance window.
func findDuplicate(messages []domain.Message, msg domain.Message) (int, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		existing := messages[i]

		if msg.ID != "" && existing.ID != "" {
			if msg.ID == existing.ID {
				return i, true
			}

			continue
		}

		if !sameSender(existing, msg) || existing.Content != msg.Content {
			continue
		}

		delta := msg.SentAt.Sub(existing.SentAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= dedupWindow {
			return i, true
		}
	}

	return 0, false
}

func sameSender(a, b domain.Message) bool {
	if a.SenderID != "" && b.SenderID != "" {
		return a.SenderID == b.SenderID
	}

	return a.SenderName != "" && strings.EqualFold(a.SenderName, b.SenderName)
}

// backfillID writes the server-assigned id onto a stored optimistic copy.
// This is the only mutation allowed after insertion.
func backfillID(existing *domain.Message, incoming domain.Message) {
	if existing.ID == "" && incoming.ID != "" {
		existing.ID = incoming.ID
	}
}

func oldestID(messages []domain.Message) string {
	for _, m := range messages {
		if m.ID != "" {
			return m.ID
		}
	}

	return ""
}
