package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	*redis.Client
}

func NewClient(addr string) *Client {
	return &Client{Client: redis.NewClient(&redis.Options{Addr: addr})}
}

// Subscribe returns a blocking consumer loop for the given channel. The loop
// runs until the context is cancelled or the handler returns an error.
func (c *Client) Subscribe(ctx context.Context, channel string) func(handler func(payload []byte) error) error {
	pubsub := c.Client.Subscribe(ctx, channel)

	return func(handler func(payload []byte) error) error {
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case msg, ok := <-ch:
				if !ok {
					return fmt.Errorf("subscription channel closed")
				}

				if err := handler([]byte(msg.Payload)); err != nil {
					return fmt.Errorf("handler: %w", err)
				}
			}
		}
	}
}

func (c *Client) Publish(ctx context.Context, channel string, message any) error {
	msgBytes, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("json.Marshal: %w", err)
	}

	if err := c.Client.Publish(ctx, channel, msgBytes).Err(); err != nil {
		return fmt.Errorf("client.Publish: %w", err)
	}

	return nil
}
