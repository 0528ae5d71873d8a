package broadcaster

import (
	"context"

	"github.com/campuslink/chatsync/internal/domain"
	"github.com/campuslink/chatsync/internal/infrastructure/redis"
)

// Broadcaster publishes stored messages on a redis channel so every backend
// instance, this one included, picks them up through its subscriber.
type Broadcaster struct {
	redisClient *redis.Client
}

func NewBroadcaster(redisClient *redis.Client) *Broadcaster {
	return &Broadcaster{redisClient: redisClient}
}

func (b *Broadcaster) Broadcast(ctx context.Context, channel string, message domain.Message) error {
	return b.redisClient.Publish(ctx, channel, message)
}
