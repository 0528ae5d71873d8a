package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/campuslink/chatsync/internal/domain"
	"github.com/campuslink/chatsync/internal/infrastructure/redis"
)

// Dispatcher fans a broadcast message out to the sessions of this instance.
type Dispatcher interface {
	Dispatch(ctx context.Context, m domain.Message) error
}

type Subscriber struct {
	redisClient *redis.Client
	dispatcher  Dispatcher
}

func NewSubscriber(redisClient *redis.Client, dispatcher Dispatcher) *Subscriber {
	return &Subscriber{
		redisClient: redisClient,
		dispatcher:  dispatcher,
	}
}

func (s *Subscriber) Subscribe(ctx context.Context, channel string) error {
	subscriber := s.redisClient.Subscribe(ctx, channel)

	if err := subscriber(func(payload []byte) error {
		var m domain.Message
		if err := json.Unmarshal(payload, &m); err != nil {
			return fmt.Errorf("json.Unmarshal: %w", err)
		}

		if err := s.dispatcher.Dispatch(ctx, m); err != nil {
			return fmt.Errorf("dispatcher.Dispatch: %w", err)
		}

		return nil
	}); err != nil {
		slog.ErrorContext(ctx, "error subscribing to redis", "error", err)
		return fmt.Errorf("subscriber: %w", err)
	}

	return nil
}
