package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/campuslink/chatsync/internal/domain"
)

// LoadOlder requests the page preceding the oldest loaded message. It is a
// no-op while a request is already in flight for the room or when no more
// history exists, so repeated scroll triggers coalesce into one fetch.
func (e *Engine) LoadOlder(roomID string) error {
	e.mu.Lock()
	rs, ok := e.rooms[roomID]
	if !ok || rs.loading || !rs.hasMore {
		e.mu.Unlock()
		return nil
	}

	rs.loading = true
	rs.fetchSeq++
	seq := rs.fetchSeq
	rs.pendingSeq = seq
	before := rs.oldestID
	limit := e.pageSize
	e.mu.Unlock()

	payload := domain.FetchMessagesPayload{RoomID: roomID, Before: before, Limit: limit}
	if err := e.transport.Emit(domain.EventFetchMessages, payload); err != nil {
		e.mu.Lock()
		if rs.fetchSeq == seq {
			rs.loading = false
		}
		e.mu.Unlock()

		return fmt.Errorf("transport.Emit: %w", err)
	}

	time.AfterFunc(e.pageTimeout, func() {
		e.mu.Lock()
		timedOut := rs.loading && rs.fetchSeq == seq
		if timedOut {
			rs.loading = false
			// Invalidate the sequence too: the request is written off, so its
			// response must not ride in on a later retry's loading flag.
			rs.fetchSeq++
		}
		e.mu.Unlock()

		if timedOut {
			// Retriable: hasMoreHistory is left untouched so the next
			// scroll-to-top issues a fresh request.
			slog.Error("history fetch timed out", "room_id", roomID, "error", ErrTimeout)
		}
	})

	return nil
}

// IsLoadingMore reports whether a history request is in flight for roomID.
func (e *Engine) IsLoadingMore(roomID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	rs, ok := e.rooms[roomID]
	return ok && rs.loading
}

// HasMoreHistory reports whether older messages remain on the server.
func (e *Engine) HasMoreHistory(roomID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	rs, ok := e.rooms[roomID]
	return ok && rs.hasMore
}

// handleMessagesFetched merges a history page at the head of the room's
// list: sorted ascending, deduplicated with the reconciler's rule, prepended
// in one assignment so a single render can compensate scroll offset.
// Responses for rooms that were left, timed out or disconnected in the
// meantime are discarded: those paths clear the loading flag and bump the
// fetch sequence past the pending one.
func (e *Engine) handleMessagesFetched(data []byte) {
	var payload domain.MessagesFetchedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		slog.Error("dropping history page", "error", fmt.Errorf("json.Unmarshal: %w: %w", ErrMalformedPayload, err))
		return
	}

	e.mu.Lock()
	rs, ok := e.rooms[payload.RoomID]
	if !ok || !rs.loading || rs.pendingSeq != rs.fetchSeq {
		e.mu.Unlock()
		return
	}
	rs.loading = false

	page := make([]domain.Message, 0, len(payload.Messages))
	for _, wire := range payload.Messages {
		if wire.RoomID == "" {
			wire.RoomID = payload.RoomID
		}
		if wire.Content == "" {
			continue
		}

		msg := e.resolveLocked(rs, wire)
		if _, dup := findDuplicate(rs.messages, msg); dup {
			continue
		}
		if _, dup := findDuplicate(page, msg); dup {
			continue
		}

		page = append(page, msg)
	}

	sort.SliceStable(page, func(i, j int) bool {
		return page[i].SentAt.Before(page[j].SentAt)
	})

	prepended := len(page)
	if prepended > 0 {
		merged := make([]domain.Message, 0, len(page)+len(rs.messages))
		merged = append(merged, page...)
		merged = append(merged, rs.messages...)
		rs.messages = merged
	}

	rs.hasMore = payload.HasMore
	if id := oldestID(rs.messages); id != "" {
		rs.oldestID = id
	}
	e.mu.Unlock()

	e.notify(Update{Kind: UpdatePrepended, RoomID: payload.RoomID, Prepended: prepended})
}
