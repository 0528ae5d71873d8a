// Package engine implements the real-time chat synchronization core:
// connection lifecycle, room subscription, message reconciliation and
// cursor-based history backfill. It consumes a Transport and owns all
// in-memory room and message state; callers read that state but never
// mutate it directly.
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/campuslink/chatsync/internal/domain"
)

const (
	defaultPageSize    = 20
	defaultPageTimeout = 10 * time.Second
)

// Identity is the locally authenticated user, used for own-message
// detection and optimistic sends.
type Identity struct {
	ID       string
	FullName string
	Email    string
}

type UpdateKind string

const (
	UpdateStatus    UpdateKind = "status"
	UpdateRooms     UpdateKind = "rooms"
	UpdateSnapshot  UpdateKind = "snapshot"
	UpdateAppended  UpdateKind = "appended"
	UpdatePrepended UpdateKind = "prepended"
)

// Update notifies observers that engine state changed. Prepended carries the
// number of messages merged at the head of the list so the caller can
// compensate scroll offset in a single step.
type Update struct {
	Kind      UpdateKind
	RoomID    string
	Status    Status
	Prepended int
}

type roomState struct {
	room     domain.Room
	messages []domain.Message
	joined   bool
	oldestID string
	hasMore  bool
	loading  bool
	fetchSeq int
	// pendingSeq remembers which sequence the in-flight request belongs to;
	// invalidation paths bump fetchSeq so a stale response can never match.
	pendingSeq int
}

// Engine ties the synchronization components together around one transport
// and one authenticated identity.
type Engine struct {
	transport Transport
	conn      *ConnectionManager
	self      Identity

	mu         sync.Mutex
	rooms      map[string]*roomState
	activeRoom string

	subMu   sync.Mutex
	subs    map[int]func(Update)
	nextSub int

	now         func() time.Time
	pageSize    int
	pageTimeout time.Duration
	offs        []func()
}

// Option tunes engine policy constants, mostly for tests.
type Option func(*Engine)

// WithPageSize sets the history page size requested per fetch.
func WithPageSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithPageTimeout bounds how long a history fetch may stay in flight.
func WithPageTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.pageTimeout = d
		}
	}
}

// WithClock replaces the wall clock used to stamp optimistic sends.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func New(transport Transport, self Identity, opts ...Option) *Engine {
	e := &Engine{
		transport:   transport,
		self:        self,
		rooms:       make(map[string]*roomState),
		subs:        make(map[int]func(Update)),
		now:         time.Now,
		pageSize:    defaultPageSize,
		pageTimeout: defaultPageTimeout,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.conn = NewConnectionManager(transport, 0, func(s Status) {
		e.notify(Update{Kind: UpdateStatus, Status: s})
	})

	e.offs = append(e.offs,
		transport.On(domain.EventRoomJoined, e.handleRoomJoined),
		transport.On(domain.EventMessage, e.handleMessage),
		transport.On(domain.EventMessagesFetched, e.handleMessagesFetched),
		transport.On(domain.EventRoomsUpdate, e.handleRoomsUpdate),
		transport.On(domain.EventConnect, e.handleTransportUp),
		transport.On(domain.EventDisconnect, e.handleTransportDown),
	)

	return e
}

func (e *Engine) Connection() *ConnectionManager { return e.conn }

func (e *Engine) Connect(ctx context.Context, token string) error {
	return e.conn.Connect(ctx, e.self.ID, token)
}

// Close tears down the connection and releases every event registration.
func (e *Engine) Close() error {
	for _, off := range e.offs {
		off()
	}
	e.offs = nil
	e.conn.Close()

	return e.conn.Disconnect()
}

// Subscribe registers an observer and returns its disposer. Exactly one
// disposer exists per registration; invoking it twice is a no-op.
func (e *Engine) Subscribe(fn func(Update)) (off func()) {
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.subMu.Lock()
			delete(e.subs, id)
			e.subMu.Unlock()
		})
	}
}

func (e *Engine) notify(u Update) {
	e.subMu.Lock()
	fns := make([]func(Update), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.subMu.Unlock()

	for _, fn := range fns {
		fn(u)
	}
}

// SeedRooms installs room metadata fetched out-of-band (the room directory)
// without touching any message state already held.
func (e *Engine) SeedRooms(rooms []domain.Room) {
	e.mu.Lock()
	for _, room := range rooms {
		rs := e.roomLocked(room.ID)
		last := rs.room.LastMessage
		rs.room = room
		if rs.room.LastMessage == nil {
			rs.room.LastMessage = last
		}
	}
	e.mu.Unlock()

	e.notify(Update{Kind: UpdateRooms})
}

// Rooms returns a snapshot of known rooms, most recently updated first.
func (e *Engine) Rooms() []domain.Room {
	e.mu.Lock()
	rooms := make([]domain.Room, 0, len(e.rooms))
	for _, rs := range e.rooms {
		rooms = append(rooms, rs.room)
	}
	e.mu.Unlock()

	sort.SliceStable(rooms, func(i, j int) bool {
		return rooms[i].UpdatedAt.After(rooms[j].UpdatedAt)
	})

	return rooms
}

// Messages returns a copy of the ordered message list for a room.
func (e *Engine) Messages(roomID string) []domain.Message {
	e.mu.Lock()
	defer e.mu.Unlock()

	rs, ok := e.rooms[roomID]
	if !ok {
		return nil
	}

	out := make([]domain.Message, len(rs.messages))
	copy(out, rs.messages)

	return out
}

func (e *Engine) ActiveRoom() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.activeRoom
}

// roomLocked returns the state for roomID, creating it if the room is only
// implicitly known through message traffic. Caller holds e.mu.
func (e *Engine) roomLocked(roomID string) *roomState {
	rs, ok := e.rooms[roomID]
	if !ok {
		rs = &roomState{room: domain.Room{ID: roomID}}
		e.rooms[roomID] = rs
	}

	return rs
}
