// Package broker connects the gateway to Redis pub/sub: other backend
// services publish notification requests into it, and gateway instances
// share push events through it.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Options holds Redis connection settings
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Connect creates a Redis client and verifies the connection.
func Connect(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	return client, nil
}

// subscribe opens a subscription and waits for the server to confirm it,
// so messages published after it returns are not missed.
func subscribe(ctx context.Context, client *redis.Client, channel string) (*redis.PubSub, error) {
	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	return pubsub, nil
}
