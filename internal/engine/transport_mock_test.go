package engine_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/campuslink/chatsync/internal/engine"
	"github.com/stretchr/testify/require"
)

// fakeTransport is a deterministic in-memory Transport. Tests fire server
// events at it and inspect what the engine emitted.
type fakeTransport struct {
	mu           sync.Mutex
	handlers     map[string][]handlerEntry
	nextID       int
	connectCalls int
	connectErr   error
	closeCalls   int
	emitErr      map[string]error
	emitted      []fakeEmit
}

type handlerEntry struct {
	id int
	h  engine.Handler
}

type fakeEmit struct {
	event   string
	payload any
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		handlers: make(map[string][]handlerEntry),
		emitErr:  make(map[string]error),
	}
}

func (f *fakeTransport) Connect(_ context.Context, _ engine.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.connectCalls++
	return f.connectErr
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closeCalls++
	return nil
}

func (f *fakeTransport) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.emitErr[event]; err != nil {
		return err
	}

	f.emitted = append(f.emitted, fakeEmit{event: event, payload: payload})
	return nil
}

func (f *fakeTransport) On(event string, h engine.Handler) (off func()) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.handlers[event] = append(f.handlers[event], handlerEntry{id: id, h: h})
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()

		entries := f.handlers[event]
		for i, entry := range entries {
			if entry.id == id {
				f.handlers[event] = append(entries[:i:i], entries[i+1:]...)
				break
			}
		}
	}
}

// fire delivers a server event; v is marshalled to the raw payload.
func (f *fakeTransport) fire(t *testing.T, event string, v any) {
	t.Helper()

	var data []byte
	if v != nil {
		var err error
		data, err = json.Marshal(v)
		require.NoError(t, err)
	}

	f.mu.Lock()
	entries := make([]handlerEntry, len(f.handlers[event]))
	copy(entries, f.handlers[event])
	f.mu.Unlock()

	for _, entry := range entries {
		entry.h(data)
	}
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.connectCalls
}

func (f *fakeTransport) emittedCount(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, e := range f.emitted {
		if e.event == event {
			n++
		}
	}

	return n
}

func (f *fakeTransport) emittedEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	events := make([]string, 0, len(f.emitted))
	for _, e := range f.emitted {
		events = append(events, e.event)
	}

	return events
}

func (f *fakeTransport) lastEmitted(event string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := len(f.emitted) - 1; i >= 0; i-- {
		if f.emitted[i].event == event {
			return f.emitted[i].payload, true
		}
	}

	return nil, false
}
