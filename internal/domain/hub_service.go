package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// BroadcastChannel is the pub/sub channel every backend instance shares.
const BroadcastChannel = "chat-events"

const snapshotSize = 20

var (
	ErrUnknownRoom    = errors.New("unknown room")
	ErrNotParticipant = errors.New("not a participant of the room")
)

// Session is one attached client connection.
type Session struct {
	UserID    string
	Messenger Messenger
}

type hubSession struct {
	Session
	rooms map[string]struct{}
}

// HubService is the backend counterpart of the sync engine: it tracks which
// client is subscribed to which room, answers joins with snapshots, stores
// and fans out messages, and serves cursor history fetches.
type HubService struct {
	store       RoomStore
	broadcaster Broadcaster

	mu       sync.RWMutex
	sessions map[string]*hubSession
}

func NewHubService(store RoomStore, broadcaster Broadcaster) *HubService {
	return &HubService{
		store:       store,
		broadcaster: broadcaster,
		sessions:    make(map[string]*hubSession),
	}
}

// Connect registers a client session and pushes its room-list snapshot.
func (s *HubService) Connect(ctx context.Context, session Session) error {
	s.mu.Lock()
	s.sessions[session.UserID] = &hubSession{Session: session, rooms: make(map[string]struct{})}
	s.mu.Unlock()

	return s.pushRooms(ctx, session.UserID)
}

// Disconnect drops the session and every room subscription it held.
func (s *HubService) Disconnect(ctx context.Context, userID string) error {
	s.mu.Lock()
	delete(s.sessions, userID)
	s.mu.Unlock()

	slog.DebugContext(ctx, "client disconnected", "user_id", userID)
	return nil
}

// Join subscribes the user to a room and replies with the initial snapshot:
// the latest messages plus the has-more flag and the participant set.
func (s *HubService) Join(ctx context.Context, userID, roomID string) error {
	session, ok := s.session(userID)
	if !ok {
		return fmt.Errorf("join: no session for user %q", userID)
	}

	room, err := s.store.Room(ctx, roomID)
	if err != nil {
		return fmt.Errorf("store.Room: %w", err)
	}

	if _, ok := room.Participant(userID); !ok {
		return fmt.Errorf("join room %q: %w", roomID, ErrNotParticipant)
	}

	messages, hasMore, err := s.store.MessagesBefore(ctx, roomID, "", snapshotSize)
	if err != nil {
		return fmt.Errorf("store.MessagesBefore: %w", err)
	}

	s.mu.Lock()
	session.rooms[roomID] = struct{}{}
	s.mu.Unlock()

	payload := RoomJoinedPayload{
		RoomID:       roomID,
		Messages:     toWire(messages),
		HasMore:      hasMore,
		Participants: room.Participants,
	}
	if err := session.Messenger.SendEvent(ctx, EventRoomJoined, payload); err != nil {
		return fmt.Errorf("messenger.SendEvent: %w", err)
	}

	return nil
}

// Leave drops the user's subscription to a room. Idempotent.
func (s *HubService) Leave(ctx context.Context, userID, roomID string) error {
	s.mu.Lock()
	if session, ok := s.sessions[userID]; ok {
		delete(session.rooms, roomID)
	}
	s.mu.Unlock()

	return nil
}

// SendMessage stores a message and publishes it on the shared broadcast
// channel; fan-out to attached clients happens when the broadcast comes back
// through Dispatch, on this instance and every other one alike.
func (s *HubService) SendMessage(ctx context.Context, userID string, wire WireMessage) error {
	if wire.RoomID == "" || wire.Content == "" {
		return fmt.Errorf("send-message: missing room id or content")
	}

	room, err := s.store.Room(ctx, wire.RoomID)
	if err != nil {
		return fmt.Errorf("store.Room: %w", err)
	}

	sender, ok := room.Participant(userID)
	if !ok {
		return fmt.Errorf("send to room %q: %w", wire.RoomID, ErrNotParticipant)
	}

	kind := wire.Kind
	if kind == "" {
		kind = MessageText
	}

	stored, err := s.store.AppendMessage(ctx, Message{
		RoomID:          wire.RoomID,
		SenderID:        sender.ID,
		SenderName:      sender.Name,
		SenderEmail:     sender.Email,
		Content:         wire.Content,
		Kind:            kind,
		SentAt:          wire.SentAt,
		DurationSeconds: wire.DurationSeconds,
	})
	if err != nil {
		return fmt.Errorf("store.AppendMessage: %w", err)
	}

	if err := s.broadcaster.Broadcast(ctx, BroadcastChannel, stored); err != nil {
		return fmt.Errorf("broadcaster.Broadcast: %w", err)
	}

	return nil
}

// Dispatch fans a broadcast message out to every local session subscribed to
// its room.
func (s *HubService) Dispatch(ctx context.Context, m Message) error {
	s.mu.RLock()
	targets := make([]*hubSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		if _, ok := session.rooms[m.RoomID]; ok {
			targets = append(targets, session)
		}
	}
	s.mu.RUnlock()

	payload := toWire([]Message{m})[0]
	for _, session := range targets {
		if err := session.Messenger.SendEvent(ctx, EventMessage, payload); err != nil {
			slog.ErrorContext(ctx, "error dispatching message", "user_id", session.UserID, "error", err)
		}
	}

	return nil
}

// FetchMessages answers a cursor history request with the preceding page.
func (s *HubService) FetchMessages(ctx context.Context, userID, roomID, before string, limit int) error {
	session, ok := s.session(userID)
	if !ok {
		return fmt.Errorf("fetch-messages: no session for user %q", userID)
	}

	if limit <= 0 || limit > 100 {
		limit = snapshotSize
	}

	messages, hasMore, err := s.store.MessagesBefore(ctx, roomID, before, limit)
	if err != nil {
		return fmt.Errorf("store.MessagesBefore: %w", err)
	}

	payload := MessagesFetchedPayload{RoomID: roomID, Messages: toWire(messages), HasMore: hasMore}
	if err := session.Messenger.SendEvent(ctx, EventMessagesFetched, payload); err != nil {
		return fmt.Errorf("messenger.SendEvent: %w", err)
	}

	return nil
}

// MarkRead moves the user's read watermark and pushes the refreshed room
// list so the client reconciles its optimistic unread clear.
func (s *HubService) MarkRead(ctx context.Context, userID, roomID string) error {
	if err := s.store.MarkRead(ctx, roomID, userID); err != nil {
		return fmt.Errorf("store.MarkRead: %w", err)
	}

	return s.pushRooms(ctx, userID)
}

func (s *HubService) pushRooms(ctx context.Context, userID string) error {
	session, ok := s.session(userID)
	if !ok {
		return nil
	}

	rooms, err := s.store.Rooms(ctx, userID)
	if err != nil {
		return fmt.Errorf("store.Rooms: %w", err)
	}

	if err := session.Messenger.SendEvent(ctx, EventRoomsUpdate, RoomsUpdatePayload{Rooms: rooms}); err != nil {
		return fmt.Errorf("messenger.SendEvent: %w", err)
	}

	return nil
}

func (s *HubService) session(userID string) (*hubSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[userID]
	return session, ok
}

func toWire(messages []Message) []WireMessage {
	wire := make([]WireMessage, 0, len(messages))
	for _, m := range messages {
		wire = append(wire, WireMessage{
			ID:              m.ID,
			RoomID:          m.RoomID,
			Sender:          SenderRef{ID: m.SenderID, Name: m.SenderName, Email: m.SenderEmail},
			Content:         m.Content,
			Kind:            m.Kind,
			SentAt:          m.SentAt,
			DurationSeconds: m.DurationSeconds,
		})
	}

	return wire
}
