package engine_test

import (
	"testing"
	"time"

	"github.com/campuslink/chatsync/internal/domain"
	"github.com/campuslink/chatsync/internal/engine"
	"github.com/stretchr/testify/require"
)

func someTime(t *testing.T, value string) time.Time {
	t.Helper()

	ts, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)

	return ts
}

func roomByID(t *testing.T, e *engine.Engine, roomID string) domain.Room {
	t.Helper()

	for _, room := range e.Rooms() {
		if room.ID == roomID {
			return room
		}
	}

	t.Fatalf("room %q not known to engine", roomID)
	return domain.Room{}
}

func TestEngine_Reconcile(t *testing.T) {
	t.Parallel()

	base := someTime(t, "2026-08-28T10:00:00Z")

	t.Run("it should apply the same broadcast only once", func(t *testing.T) {
		e, transport := newTestEngine(t)

		msg := domain.WireMessage{
			ID:      "m1",
			RoomID:  "r1",
			Sender:  domain.SenderRef{ID: "u2", Name: "Bob Lopez"},
			Content: "hello",
			SentAt:  base,
		}

		transport.fire(t, domain.EventMessage, msg)
		transport.fire(t, domain.EventMessage, msg)

		require.Len(t, e.Messages("r1"), 1)
	})

	t.Run("it should drop an unidentified duplicate inside the tolerance window", func(t *testing.T) {
		// Scenario D: identical content and sender, 500ms apart, no server ids.
		e, transport := newTestEngine(t)

		transport.fire(t, domain.EventMessage, domain.WireMessage{
			RoomID:  "r1",
			Sender:  domain.SenderRef{ID: "u2", Name: "Bob Lopez"},
			Content: "ping",
			SentAt:  base,
		})
		transport.fire(t, domain.EventMessage, domain.WireMessage{
			RoomID:  "r1",
			Sender:  domain.SenderRef{ID: "u2", Name: "Bob Lopez"},
			Content: "ping",
			SentAt:  base.Add(500 * time.Millisecond),
		})

		require.Len(t, e.Messages("r1"), 1)
	})

	t.Run("it should keep a repeated message outside the tolerance window", func(t *testing.T) {
		e, transport := newTestEngine(t)

		transport.fire(t, domain.EventMessage, domain.WireMessage{
			RoomID:  "r1",
			Sender:  domain.SenderRef{ID: "u2", Name: "Bob Lopez"},
			Content: "ping",
			SentAt:  base,
		})
		transport.fire(t, domain.EventMessage, domain.WireMessage{
			RoomID:  "r1",
			Sender:  domain.SenderRef{ID: "u2", Name: "Bob Lopez"},
			Content: "ping",
			SentAt:  base.Add(5 * time.Second),
		})

		require.Len(t, e.Messages("r1"), 2)
	})

	t.Run("it should reconcile the echo of a local send into a single message", func(t *testing.T) {
		// Scenario A: send "hi", echo with a fresh server id arrives 200ms later.
		e, transport := newTestEngine(t, engine.WithClock(func() time.Time { return base }))

		transport.fire(t, domain.EventRoomJoined, domain.RoomJoinedPayload{RoomID: "r1"})
		require.NoError(t, e.Send("r1", "hi", domain.MessageText, 0))

		transport.fire(t, domain.EventMessage, domain.WireMessage{
			ID:      "m1",
			RoomID:  "r1",
			Sender:  domain.SenderRef{ID: "u1"},
			Content: "hi",
			SentAt:  base.Add(200 * time.Millisecond),
		})

		messages := e.Messages("r1")
		require.Len(t, messages, 1)
		require.Equal(t, "hi", messages[0].Content)
		require.Equal(t, "m1", messages[0].ID, "the optimistic copy gets the server id backfilled")
	})

	t.Run("it should append a late message at the tail instead of resorting", func(t *testing.T) {
		e, transport := newTestEngine(t)

		transport.fire(t, domain.EventMessage, domain.WireMessage{
			ID: "m2", RoomID: "r1", Sender: domain.SenderRef{ID: "u2"}, Content: "second", SentAt: base.Add(time.Minute),
		})
		transport.fire(t, domain.EventMessage, domain.WireMessage{
			ID: "m1", RoomID: "r1", Sender: domain.SenderRef{ID: "u2"}, Content: "first", SentAt: base,
		})

		messages := e.Messages("r1")
		require.Len(t, messages, 2)
		require.Equal(t, "second", messages[0].Content)
		require.Equal(t, "first", messages[1].Content)
	})

	t.Run("it should drop malformed payloads without touching other rooms", func(t *testing.T) {
		e, transport := newTestEngine(t)

		transport.fire(t, domain.EventMessage, domain.WireMessage{
			ID: "m1", RoomID: "r1", Sender: domain.SenderRef{ID: "u2"}, Content: "fine", SentAt: base,
		})

		transport.fire(t, domain.EventMessage, map[string]any{"content": "no room"})
		transport.fire(t, domain.EventMessage, map[string]any{"room_id": "r1"})
		transport.fire(t, domain.EventMessage, "not even an object")

		require.Len(t, e.Messages("r1"), 1)
	})

	t.Run("it should update the room summary on insertion", func(t *testing.T) {
		e, transport := newTestEngine(t)

		transport.fire(t, domain.EventMessage, domain.WireMessage{
			ID: "m1", RoomID: "r1", Sender: domain.SenderRef{ID: "u2", Name: "Bob Lopez"}, Content: "hey", SentAt: base,
		})

		room := roomByID(t, e, "r1")
		require.NotNil(t, room.LastMessage)
		require.Equal(t, "hey", room.LastMessage.Content)
		require.Equal(t, base, room.UpdatedAt)
		require.Equal(t, 1, room.UnreadCount)
	})

	t.Run("it should not count own or active-room messages as unread", func(t *testing.T) {
		e, transport := newTestEngine(t)

		require.NoError(t, e.SetActiveRoom("r1"))
		transport.fire(t, domain.EventMessage, domain.WireMessage{
			ID: "m1", RoomID: "r1", Sender: domain.SenderRef{ID: "u2"}, Content: "hey", SentAt: base,
		})
		transport.fire(t, domain.EventMessage, domain.WireMessage{
			ID: "m2", RoomID: "r2", Sender: domain.SenderRef{ID: "u1"}, Content: "mine", SentAt: base,
		})

		require.Zero(t, roomByID(t, e, "r1").UnreadCount)
		require.Zero(t, roomByID(t, e, "r2").UnreadCount)
	})
}

func TestEngine_RoomsUpdate(t *testing.T) {
	t.Parallel()

	base := someTime(t, "2026-08-28T10:00:00Z")

	t.Run("it should clamp the active room and trust the server elsewhere", func(t *testing.T) {
		e, transport := newTestEngine(t)

		// One unread accumulates in r1, then the viewer opens it.
		transport.fire(t, domain.EventMessage, domain.WireMessage{
			ID: "m1", RoomID: "r1", Sender: domain.SenderRef{ID: "u2", Name: "Bob Lopez"}, Content: "hey", SentAt: base,
		})
		require.Equal(t, 1, roomByID(t, e, "r1").UnreadCount)
		require.NoError(t, e.SetActiveRoom("r1"))
		require.Zero(t, roomByID(t, e, "r1").UnreadCount)

		// The authoritative list has not absorbed the read yet.
		transport.fire(t, domain.EventRoomsUpdate, domain.RoomsUpdatePayload{Rooms: []domain.Room{
			{ID: "r1", Type: domain.RoomDirectMessage, UnreadCount: 1},
			{ID: "r2", Type: domain.RoomClassGroup, ClassName: "7-B", UnreadCount: 2},
		}})

		require.Zero(t, roomByID(t, e, "r1").UnreadCount, "the viewer is looking at r1")
		require.Equal(t, 2, roomByID(t, e, "r2").UnreadCount)
		require.Equal(t, "7-B", roomByID(t, e, "r2").ClassName)
	})

	t.Run("it should preserve loaded messages across the metadata overwrite", func(t *testing.T) {
		e, transport := newTestEngine(t)

		transport.fire(t, domain.EventMessage, domain.WireMessage{
			ID: "m1", RoomID: "r1", Sender: domain.SenderRef{ID: "u2", Name: "Bob Lopez"}, Content: "hey", SentAt: base,
		})

		transport.fire(t, domain.EventRoomsUpdate, domain.RoomsUpdatePayload{Rooms: []domain.Room{
			{ID: "r1", Type: domain.RoomDirectMessage, Name: "renamed"},
		}})

		require.Len(t, e.Messages("r1"), 1)
		require.Equal(t, "renamed", roomByID(t, e, "r1").Name)
	})

	t.Run("it should skip entries without a room id", func(t *testing.T) {
		e, transport := newTestEngine(t)

		transport.fire(t, domain.EventRoomsUpdate, domain.RoomsUpdatePayload{Rooms: []domain.Room{
			{ID: "", Name: "ghost"},
			{ID: "r1"},
		}})

		require.Len(t, e.Rooms(), 1)
	})
}

func TestEngine_SeedRooms(t *testing.T) {
	t.Parallel()

	base := someTime(t, "2026-08-28T10:00:00Z")

	t.Run("it should install directory metadata without touching messages", func(t *testing.T) {
		e, transport := newTestEngine(t)

		transport.fire(t, domain.EventMessage, domain.WireMessage{
			ID: "m1", RoomID: "r1", Sender: domain.SenderRef{ID: "u2", Name: "Bob Lopez"}, Content: "hey", SentAt: base,
		})

		e.SeedRooms([]domain.Room{
			{ID: "r1", Type: domain.RoomDirectMessage, Participants: []domain.Participant{
				{ID: "u1", Name: "Alice Martin"},
				{ID: "u2", Name: "Bob Lopez"},
			}},
			{ID: "r2", Type: domain.RoomCourseGroup, CourseName: "Algebra"},
		})

		require.Len(t, e.Messages("r1"), 1)
		require.Len(t, e.Rooms(), 2)
		require.Equal(t, "Algebra", roomByID(t, e, "r2").CourseName)
	})

	t.Run("it should keep the known last message when the directory has none", func(t *testing.T) {
		e, transport := newTestEngine(t)

		transport.fire(t, domain.EventMessage, domain.WireMessage{
			ID: "m1", RoomID: "r1", Sender: domain.SenderRef{ID: "u2", Name: "Bob Lopez"}, Content: "hey", SentAt: base,
		})

		e.SeedRooms([]domain.Room{{ID: "r1", Type: domain.RoomDirectMessage}})

		room := roomByID(t, e, "r1")
		require.NotNil(t, room.LastMessage)
		require.Equal(t, "hey", room.LastMessage.Content)
	})

	t.Run("it should notify observers once per seeding", func(t *testing.T) {
		e, _ := newTestEngine(t)

		var roomUpdates int
		off := e.Subscribe(func(u engine.Update) {
			if u.Kind == engine.UpdateRooms {
				roomUpdates++
			}
		})
		defer off()

		e.SeedRooms([]domain.Room{{ID: "r1"}, {ID: "r2"}})
		require.Equal(t, 1, roomUpdates)
	})
}

func TestEngine_Snapshot(t *testing.T) {
	t.Parallel()

	base := someTime(t, "2026-08-28T10:00:00Z")

	snapshot := domain.RoomJoinedPayload{
		RoomID:  "r1",
		HasMore: true,
		Participants: []domain.Participant{
			{ID: "u1", Name: "Alice Martin"},
			{ID: "u2", Name: "Bob Lopez"},
		},
		Messages: []domain.WireMessage{
			{ID: "m3", RoomID: "r1", Sender: domain.SenderRef{ID: "u2"}, Content: "third", SentAt: base.Add(2 * time.Minute)},
			{ID: "m1", RoomID: "r1", Sender: domain.SenderRef{ID: "u2"}, Content: "first", SentAt: base},
			{ID: "m2", RoomID: "r1", Sender: domain.SenderRef{ID: "u1"}, Content: "second", SentAt: base.Add(time.Minute)},
		},
	}

	t.Run("it should sort the snapshot by sentAt before storing", func(t *testing.T) {
		e, transport := newTestEngine(t)

		transport.fire(t, domain.EventRoomJoined, snapshot)

		messages := e.Messages("r1")
		require.Len(t, messages, 3)
		require.Equal(t, []string{"first", "second", "third"}, []string{
			messages[0].Content, messages[1].Content, messages[2].Content,
		})
		require.True(t, e.HasMoreHistory("r1"))
	})

	t.Run("it should apply a duplicate snapshot idempotently", func(t *testing.T) {
		e, transport := newTestEngine(t)

		transport.fire(t, domain.EventRoomJoined, snapshot)
		transport.fire(t, domain.EventRoomJoined, snapshot)

		require.Len(t, e.Messages("r1"), 3)
	})

	t.Run("it should resolve sender names from the participant set", func(t *testing.T) {
		e, transport := newTestEngine(t)

		transport.fire(t, domain.EventRoomJoined, snapshot)

		messages := e.Messages("r1")
		require.Equal(t, "Bob Lopez", messages[0].SenderName)
		require.Equal(t, "Alice Martin", messages[1].SenderName)
	})
}

func TestEngine_SenderResolution(t *testing.T) {
	t.Parallel()

	base := someTime(t, "2026-08-28T10:00:00Z")

	t.Run("it should prefer the embedded participant record", func(t *testing.T) {
		e, transport := newTestEngine(t)

		transport.fire(t, domain.EventMessage, domain.WireMessage{
			ID:         "m1",
			RoomID:     "r1",
			Sender:     domain.SenderRef{ID: "u2", Name: "Bob Lopez"},
			SenderName: "Someone Else",
			Content:    "hi",
			SentAt:     base,
		})

		require.Equal(t, "Bob Lopez", e.Messages("r1")[0].SenderName)
	})

	t.Run("it should fall back to the explicit sender_name field", func(t *testing.T) {
		e, transport := newTestEngine(t)

		transport.fire(t, domain.EventMessage, map[string]any{
			"id": "m1", "room_id": "r1", "sender": "u2",
			"sender_name": "Bob Lopez", "content": "hi", "sent_at": base,
		})

		require.Equal(t, "Bob Lopez", e.Messages("r1")[0].SenderName)
	})

	t.Run("it should fall back to the literal placeholder when nothing resolves", func(t *testing.T) {
		e, transport := newTestEngine(t)

		transport.fire(t, domain.EventMessage, map[string]any{
			"id": "m1", "room_id": "r1", "sender": "u99", "content": "hi", "sent_at": base,
		})

		require.Equal(t, "Unknown", e.Messages("r1")[0].SenderName)
	})
}

func TestEngine_IsOwnMessage(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t)

	t.Run("it should match on the stable id regardless of name noise", func(t *testing.T) {
		require.True(t, e.IsOwnMessage(domain.Message{SenderID: "u1", SenderName: "someone else"}))
	})

	t.Run("it should match the full name ignoring case and surrounding space", func(t *testing.T) {
		require.True(t, e.IsOwnMessage(domain.Message{SenderName: "  aLiCe MaRtIn "}))
	})

	t.Run("it should match the exact email", func(t *testing.T) {
		require.True(t, e.IsOwnMessage(domain.Message{SenderEmail: "alice@school.example"}))
	})

	t.Run("it should never match on a name substring", func(t *testing.T) {
		require.False(t, e.IsOwnMessage(domain.Message{SenderID: "u7", SenderName: "Alice Martinez"}))
	})
}
