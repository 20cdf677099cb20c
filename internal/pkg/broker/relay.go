package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cabdesk/dispatch-notify/internal/domain/notification"
	"github.com/go-redis/redis/v8"
)

// Queuer accepts notification requests.
type Queuer interface {
	QueueNotification(ctx context.Context, req notification.CreateNotificationRequest) error
}

// Relay feeds notification requests published on a Redis channel into the
// notification service. Each message is one CreateNotificationRequest as JSON.
type Relay struct {
	client  *redis.Client
	channel string
	queuer  Queuer
	logger  *slog.Logger
}

func NewRelay(client *redis.Client, channel string, queuer Queuer, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		client:  client,
		channel: channel,
		queuer:  queuer,
		logger:  logger.With("component", "relay", "channel", channel),
	}
}

// Run consumes the channel until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	pubsub, err := subscribe(ctx, r.client, r.channel)
	if err != nil {
		return err
	}
	defer pubsub.Close()

	r.logger.Info("Relay subscribed")
	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("relay channel %s closed", r.channel)
			}
			if err := r.handle(ctx, []byte(msg.Payload)); err != nil {
				r.logger.Warn("Dropping notification request", "error", err)
			}
		}
	}
}

func (r *Relay) handle(ctx context.Context, payload []byte) error {
	var req notification.CreateNotificationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return r.queuer.QueueNotification(ctx, req)
}

// Submit publishes a request on the relay channel. Backend services use it
// to raise notifications without calling the gateway over HTTP.
func Submit(ctx context.Context, client *redis.Client, channel string, req notification.CreateNotificationRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return client.Publish(ctx, channel, payload).Err()
}
