package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is the framing for every websocket exchange: a named event plus an
// opaque JSON payload.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Logical event names carried inside frames.
const (
	EventJoinRoom        = "join-room"
	EventLeaveRoom       = "leave-room"
	EventSendMessage     = "send-message"
	EventMarkMessageRead = "mark-message-read"
	EventRoomJoined      = "room-joined"
	EventMessage         = "message"
	EventFetchMessages   = "fetch-messages"
	EventMessagesFetched = "messages-fetched"
	EventRoomsUpdate     = "rooms-update"
)

// Transport lifecycle event names, delivered through the same dispatch path.
const (
	EventConnect         = "connect"
	EventConnectError    = "connect_error"
	EventDisconnect      = "disconnect"
	EventReconnectFailed = "reconnect_failed"
)

// SenderRef identifies the author of a wire message. The backend is
// inconsistent about its shape: sometimes a bare id string, sometimes an
// embedded participant record. UnmarshalJSON accepts both.
type SenderRef struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

func (s *SenderRef) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var id string
		if err := json.Unmarshal(b, &id); err != nil {
			return fmt.Errorf("json.Unmarshal: %w", err)
		}

		*s = SenderRef{ID: id}
		return nil
	}

	type senderRef SenderRef
	var ref senderRef
	if err := json.Unmarshal(b, &ref); err != nil {
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	*s = SenderRef(ref)
	return nil
}

// WireMessage is the payload of "message" and "send-message" events and the
// element type of snapshot and history batches.
type WireMessage struct {
	ID              string      `json:"id,omitempty"`
	RoomID          string      `json:"room_id"`
	Sender          SenderRef   `json:"sender"`
	SenderName      string      `json:"sender_name,omitempty"`
	Content         string      `json:"content"`
	Kind            MessageKind `json:"kind,omitempty"`
	SentAt          time.Time   `json:"sent_at"`
	DurationSeconds int         `json:"duration_seconds,omitempty"`
}

type JoinRoomPayload struct {
	RoomID string `json:"room_id"`
}

type LeaveRoomPayload struct {
	RoomID string `json:"room_id"`
}

type MarkMessageReadPayload struct {
	RoomID string `json:"room_id"`
}

// RoomJoinedPayload is the snapshot delivered once after a successful join.
type RoomJoinedPayload struct {
	RoomID       string        `json:"room_id"`
	Messages     []WireMessage `json:"messages"`
	HasMore      bool          `json:"has_more"`
	Participants []Participant `json:"participants,omitempty"`
}

// FetchMessagesPayload requests a backward page of history. Before is the
// exclusive cursor: the oldest message id the client already holds. Empty
// means "from the latest".
type FetchMessagesPayload struct {
	RoomID string `json:"room_id"`
	Before string `json:"before,omitempty"`
	Limit  int    `json:"limit"`
}

type MessagesFetchedPayload struct {
	RoomID   string        `json:"room_id"`
	Messages []WireMessage `json:"messages"`
	HasMore  bool          `json:"has_more"`
}

type RoomsUpdatePayload struct {
	Rooms []Room `json:"rooms"`
}

type DisconnectPayload struct {
	Reason string `json:"reason"`
}
