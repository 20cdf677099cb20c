package notification

import (
	"context"
	"time"

	"github.com/cabdesk/dispatch-notify/internal/domain/session"
)

// Service defines the notification service interface
type Service interface {
	// Queue notification (async processing via background workers)
	QueueNotification(ctx context.Context, req CreateNotificationRequest) error
	QueueBulkNotification(ctx context.Context, reqs []CreateNotificationRequest) error

	// Direct operations
	GetPage(ctx context.Context, scope session.Scope, offset, limit int) (*PageResponse, error)
	GetUnread(ctx context.Context, scope session.Scope) (*PageResponse, error)
	MarkAsRead(ctx context.Context, scope session.Scope, notificationID string) error
	MarkAllAsRead(ctx context.Context, scope session.Scope) error
	Delete(ctx context.Context, scope session.Scope, notificationID string) error
	PurgeRead(ctx context.Context, retention time.Duration) (int64, error)

	// Push subscription
	Subscribe(ctx context.Context, scope session.Scope) (<-chan PushEvent, func())

	// Lifecycle
	Stop()
}
