package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cabdesk/dispatch-notify/internal/domain/notification"
	"github.com/go-redis/redis/v8"
)

// LocalPublisher delivers to the connections of this instance.
type LocalPublisher interface {
	Publish(streamKey string, event notification.PushEvent) int
}

// envelope is a push event on the wire between gateway instances.
type envelope struct {
	Stream string                        `json:"stream"`
	Event  string                        `json:"event"`
	Data   notification.PushNotification `json:"data"`
}

// Fanout shares push events between gateway instances: Publish sends to
// Redis, and Run delivers everything received to the local hub. When Redis
// is unreachable the event is delivered locally only.
type Fanout struct {
	client  *redis.Client
	channel string
	local   LocalPublisher
	timeout time.Duration
	logger  *slog.Logger
}

func NewFanout(client *redis.Client, channel string, local LocalPublisher, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{
		client:  client,
		channel: channel,
		local:   local,
		timeout: 2 * time.Second,
		logger:  logger.With("component", "fanout", "channel", channel),
	}
}

// Publish returns the number of local subscribers reached directly, which
// is zero when the event went through Redis.
func (f *Fanout) Publish(streamKey string, event notification.PushEvent) int {
	payload, err := json.Marshal(envelope{Stream: streamKey, Event: event.Event, Data: event.Data})
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		err = f.client.Publish(ctx, f.channel, payload).Err()
		cancel()
	}
	if err != nil {
		f.logger.Warn("Fanout publish failed, delivering locally", "stream", streamKey, "error", err)
		return f.local.Publish(streamKey, event)
	}
	return 0
}

// Run delivers events from other instances (and this one) until ctx is done.
func (f *Fanout) Run(ctx context.Context) error {
	pubsub, err := subscribe(ctx, f.client, f.channel)
	if err != nil {
		return err
	}
	defer pubsub.Close()

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("fanout channel %s closed", f.channel)
			}
			if _, err := f.deliver([]byte(msg.Payload)); err != nil {
				f.logger.Warn("Dropping fanout message", "error", err)
			}
		}
	}
}

func (f *Fanout) deliver(payload []byte) (int, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return 0, fmt.Errorf("decode event: %w", err)
	}
	if env.Stream == "" || env.Data.ID == "" {
		return 0, fmt.Errorf("event without stream or id")
	}
	return f.local.Publish(env.Stream, notification.PushEvent{Event: env.Event, Data: env.Data}), nil
}
