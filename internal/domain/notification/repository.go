package notification

import (
	"context"
	"time"

	"github.com/cabdesk/dispatch-notify/internal/domain/session"
)

// Repository defines the notification repository interface.
// Every read and mutation is confined to one role scope.
type Repository interface {
	Create(ctx context.Context, notification *Notification) error
	CreateBatch(ctx context.Context, notifications []*Notification) error
	GetByID(ctx context.Context, id string) (*Notification, error)
	List(ctx context.Context, scope session.Scope, offset, limit int, unreadOnly bool) ([]*Notification, int, error)
	GetUnreadCount(ctx context.Context, scope session.Scope) (int, error)
	MarkAsRead(ctx context.Context, id string, scope session.Scope) error
	MarkAllAsRead(ctx context.Context, scope session.Scope) (int64, error)
	Delete(ctx context.Context, id string, scope session.Scope) error

	// Retention
	PurgeRead(ctx context.Context, before time.Time) (int64, error)
}
