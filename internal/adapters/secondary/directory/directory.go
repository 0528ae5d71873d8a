// Package directory fetches room memberships from the portal REST API.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/campuslink/chatsync/internal/domain"
	"golang.org/x/sync/singleflight"
)

const defaultTTL = 30 * time.Second

type cacheEntry struct {
	rooms     []domain.Room
	expiresAt time.Time
}

// Client lists the rooms a user belongs to. Results are cached per user with
// a short TTL and concurrent fetches for the same user are coalesced into a
// single request, so two surfaces asking at once cost one round trip.
type Client struct {
	baseURL string
	http    *http.Client
	ttl     time.Duration

	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]cacheEntry
	now   func() time.Time
}

type Option func(*Client)

func WithTTL(ttl time.Duration) Option {
	return func(c *Client) { c.ttl = ttl }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		ttl:     defaultTTL,
		cache:   make(map[string]cacheEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Rooms returns the rooms of one user, from cache when fresh.
func (c *Client) Rooms(ctx context.Context, userID, token string) ([]domain.Room, error) {
	c.mu.RLock()
	entry, ok := c.cache[userID]
	c.mu.RUnlock()

	if ok && c.now().Before(entry.expiresAt) {
		return entry.rooms, nil
	}

	rooms, err, _ := c.group.Do(userID, func() (any, error) {
		rooms, err := c.fetch(ctx, userID, token)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.cache[userID] = cacheEntry{rooms: rooms, expiresAt: c.now().Add(c.ttl)}
		c.mu.Unlock()

		return rooms, nil
	})
	if err != nil {
		return nil, err
	}

	return rooms.([]domain.Room), nil
}

// Invalidate drops the cached entry so the next Rooms call hits the API.
func (c *Client) Invalidate(userID string) {
	c.mu.Lock()
	delete(c.cache, userID)
	c.mu.Unlock()
}

func (c *Client) fetch(ctx context.Context, userID, token string) ([]domain.Room, error) {
	url := fmt.Sprintf("%s/v1/users/%s/rooms", c.baseURL, userID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("http.NewRequestWithContext: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http.Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory responded with status %d", resp.StatusCode)
	}

	var payload struct {
		Rooms []domain.Room `json:"rooms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("json.Decode: %w", err)
	}

	return payload.Rooms, nil
}
