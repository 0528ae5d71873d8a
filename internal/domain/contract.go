package domain

import "context"

// RoomStore persists rooms and their message history on the backend side.
// MessagesBefore pages backward: before is the exclusive id cursor, empty
// means "from the latest". Results are ascending by sentAt; the bool reports
// whether older history remains.
type RoomStore interface {
	Rooms(ctx context.Context, userID string) ([]Room, error)
	Room(ctx context.Context, roomID string) (Room, error)
	AppendMessage(ctx context.Context, m Message) (Message, error)
	MessagesBefore(ctx context.Context, roomID, before string, limit int) ([]Message, bool, error)
	MarkRead(ctx context.Context, roomID, userID string) error
}

// Broadcaster publishes a stored message to every backend instance.
type Broadcaster interface {
	Broadcast(ctx context.Context, channel string, m Message) error
}

// Messenger pushes one named event to a single attached client.
type Messenger interface {
	SendEvent(ctx context.Context, event string, payload any) error
}
