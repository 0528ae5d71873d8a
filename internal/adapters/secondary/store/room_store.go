package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/campuslink/chatsync/internal/domain"
	"github.com/google/uuid"
)

type roomRecord struct {
	room     domain.Room
	messages []domain.Message
	// read watermark per user: how many messages of the room the user has seen.
	watermarks map[string]int
}

// MemoryRoomStore keeps rooms, ordered message history and per-user read
// watermarks in memory. History is append-only and ascending by insertion,
// which pins the cursor semantics of MessagesBefore.
type MemoryRoomStore struct {
	rooms map[string]*roomRecord
	sync.RWMutex
}

func NewMemoryRoomStore() *MemoryRoomStore {
	return &MemoryRoomStore{
		rooms: make(map[string]*roomRecord),
	}
}

// Seed registers a room and optional starting history. Intended for startup
// fixtures and tests.
func (s *MemoryRoomStore) Seed(room domain.Room, messages ...domain.Message) {
	s.Lock()
	defer s.Unlock()

	record := &roomRecord{
		room:       room,
		messages:   append([]domain.Message(nil), messages...),
		watermarks: make(map[string]int),
	}
	for i := range record.messages {
		if record.messages[i].ID == "" {
			record.messages[i].ID = uuid.NewString()
		}
		record.messages[i].RoomID = room.ID
	}

	s.rooms[room.ID] = record
}

func (s *MemoryRoomStore) Rooms(ctx context.Context, userID string) ([]domain.Room, error) {
	s.RLock()
	defer s.RUnlock()

	rooms := make([]domain.Room, 0, len(s.rooms))
	for _, record := range s.rooms {
		if _, ok := record.room.Participant(userID); !ok {
			continue
		}

		rooms = append(rooms, record.view(userID))
	}

	return rooms, nil
}

func (s *MemoryRoomStore) Room(ctx context.Context, roomID string) (domain.Room, error) {
	s.RLock()
	defer s.RUnlock()

	record, ok := s.rooms[roomID]
	if !ok {
		return domain.Room{}, fmt.Errorf("room %q: %w", roomID, domain.ErrUnknownRoom)
	}

	return record.room, nil
}

func (s *MemoryRoomStore) AppendMessage(ctx context.Context, m domain.Message) (domain.Message, error) {
	s.Lock()
	defer s.Unlock()

	record, ok := s.rooms[m.RoomID]
	if !ok {
		return domain.Message{}, fmt.Errorf("room %q: %w", m.RoomID, domain.ErrUnknownRoom)
	}

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.SentAt.IsZero() {
		m.SentAt = time.Now().UTC()
	}

	record.messages = append(record.messages, m)

	// The sender has obviously seen their own message.
	record.watermarks[m.SenderID] = len(record.messages)

	return m, nil
}

func (s *MemoryRoomStore) MessagesBefore(ctx context.Context, roomID, before string, limit int) ([]domain.Message, bool, error) {
	s.RLock()
	defer s.RUnlock()

	record, ok := s.rooms[roomID]
	if !ok {
		return nil, false, fmt.Errorf("room %q: %w", roomID, domain.ErrUnknownRoom)
	}

	end := len(record.messages)
	if before != "" {
		end = 0
		for i, m := range record.messages {
			if m.ID == before {
				end = i
				break
			}
		}
	}

	start := end - limit
	if start < 0 {
		start = 0
	}

	page := append([]domain.Message(nil), record.messages[start:end]...)
	return page, start > 0, nil
}

func (s *MemoryRoomStore) MarkRead(ctx context.Context, roomID, userID string) error {
	s.Lock()
	defer s.Unlock()

	record, ok := s.rooms[roomID]
	if !ok {
		return fmt.Errorf("room %q: %w", roomID, domain.ErrUnknownRoom)
	}

	record.watermarks[userID] = len(record.messages)
	return nil
}

// view projects the room for one user: unread count from their watermark and
// the latest message as summary.
func (r *roomRecord) view(userID string) domain.Room {
	room := r.room

	if n := len(r.messages); n > 0 {
		last := r.messages[n-1]
		room.LastMessage = &last
		room.UpdatedAt = last.SentAt
	}

	unread := 0
	for _, m := range r.messages[r.watermarks[userID]:] {
		if m.SenderID != userID {
			unread++
		}
	}
	room.UnreadCount = unread

	return room
}
