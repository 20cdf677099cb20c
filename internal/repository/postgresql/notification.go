package postgresql

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cabdesk/dispatch-notify/internal/domain/notification"
	"github.com/cabdesk/dispatch-notify/internal/domain/session"
	"github.com/cabdesk/dispatch-notify/internal/pkg/database"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const notificationColumns = `id, scope, vendor_id, title, description, category, is_read, read_at, created_at`

type notificationRepository struct {
	db *database.DB
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *database.DB) notification.Repository {
	return &notificationRepository{db: db}
}

// scopeFilter restricts a query to one push stream. Placeholders start at argIndex.
func scopeFilter(scope session.Scope, argIndex int) (string, []interface{}) {
	if scope.Role == session.RoleVendor {
		return fmt.Sprintf("scope = $%d AND vendor_id = $%d", argIndex, argIndex+1),
			[]interface{}{string(session.RoleVendor), scope.VendorID}
	}
	return fmt.Sprintf("scope = $%d", argIndex), []interface{}{string(session.RoleAdmin)}
}

func prepareForInsert(n *notification.Notification) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if n.Scope != session.RoleVendor {
		n.VendorID = nil
	}
}

// Create creates a new notification
func (r *notificationRepository) Create(ctx context.Context, n *notification.Notification) error {
	q := GetQuerier(ctx, r.db)
	prepareForInsert(n)

	query := `
		INSERT INTO notifications (` + notificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := q.Exec(ctx, query,
		n.ID,
		string(n.Scope),
		n.VendorID,
		n.Title,
		n.Description,
		string(n.Category),
		n.IsRead,
		n.ReadAt,
		n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	return nil
}

// maxBatchRows keeps one insert under the protocol's bind parameter limit.
const maxBatchRows = 1000

// CreateBatch creates multiple notifications in a single transaction
func (r *notificationRepository) CreateBatch(ctx context.Context, notifications []*notification.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	if len(notifications) <= maxBatchRows || inTransaction(ctx) {
		return r.insertChunks(ctx, notifications)
	}
	return WithTransaction(ctx, r.db, func(ctx context.Context) error {
		return r.insertChunks(ctx, notifications)
	})
}

func (r *notificationRepository) insertChunks(ctx context.Context, notifications []*notification.Notification) error {
	for start := 0; start < len(notifications); start += maxBatchRows {
		end := min(start+maxBatchRows, len(notifications))
		if err := r.insertChunk(ctx, notifications[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *notificationRepository) insertChunk(ctx context.Context, notifications []*notification.Notification) error {
	q := GetQuerier(ctx, r.db)

	const cols = 9
	valueStrings := make([]string, 0, len(notifications))
	valueArgs := make([]interface{}, 0, len(notifications)*cols)

	for i, n := range notifications {
		prepareForInsert(n)

		base := i * cols
		placeholders := make([]string, cols)
		for c := range placeholders {
			placeholders[c] = fmt.Sprintf("$%d", base+c+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ", ")+")")
		valueArgs = append(valueArgs,
			n.ID,
			string(n.Scope),
			n.VendorID,
			n.Title,
			n.Description,
			string(n.Category),
			n.IsRead,
			n.ReadAt,
			n.CreatedAt,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO notifications (%s)
		VALUES %s
	`, notificationColumns, strings.Join(valueStrings, ", "))

	_, err := q.Exec(ctx, query, valueArgs...)
	if err != nil {
		return fmt.Errorf("failed to batch create notifications: %w", err)
	}

	return nil
}

func scanNotification(row pgx.Row) (*notification.Notification, error) {
	var n notification.Notification
	var scope, category string

	if err := row.Scan(
		&n.ID,
		&scope,
		&n.VendorID,
		&n.Title,
		&n.Description,
		&category,
		&n.IsRead,
		&n.ReadAt,
		&n.CreatedAt,
	); err != nil {
		return nil, err
	}

	n.Scope = session.Role(scope)
	n.Category = notification.Category(category)
	return &n, nil
}

// GetByID retrieves a notification by ID
func (r *notificationRepository) GetByID(ctx context.Context, id string) (*notification.Notification, error) {
	q := GetQuerier(ctx, r.db)

	if _, err := uuid.Parse(id); err != nil {
		return nil, notification.ErrNotificationNotFound
	}

	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	n, err := scanNotification(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notification.ErrNotificationNotFound
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}

	return n, nil
}

// List returns one page of a stream, newest first, and the stream's total.
func (r *notificationRepository) List(ctx context.Context, scope session.Scope, offset, limit int, unreadOnly bool) ([]*notification.Notification, int, error) {
	q := GetQuerier(ctx, r.db)

	whereClause, args := scopeFilter(scope, 1)
	if unreadOnly {
		whereClause += " AND is_read = false"
	}

	// Count query
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM notifications WHERE %s", whereClause)
	var total int
	if err := q.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	argIndex := len(args) + 1
	query := fmt.Sprintf(`
		SELECT %s
		FROM notifications
		WHERE %s
		ORDER BY created_at DESC, id ASC
		LIMIT $%d OFFSET $%d
	`, notificationColumns, whereClause, argIndex, argIndex+1)

	args = append(args, limit, offset)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	notifications := make([]*notification.Notification, 0, limit)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate notifications: %w", err)
	}

	return notifications, total, nil
}

// GetUnreadCount returns the count of unread notifications on a stream
func (r *notificationRepository) GetUnreadCount(ctx context.Context, scope session.Scope) (int, error) {
	q := GetQuerier(ctx, r.db)

	whereClause, args := scopeFilter(scope, 1)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM notifications WHERE %s AND is_read = false`, whereClause)

	var count int
	if err := q.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}

	return count, nil
}

// MarkAsRead marks one notification of the stream as read. Marking an
// already-read notification succeeds and keeps the original read_at.
func (r *notificationRepository) MarkAsRead(ctx context.Context, id string, scope session.Scope) error {
	q := GetQuerier(ctx, r.db)

	if _, err := uuid.Parse(id); err != nil {
		return notification.ErrNotificationNotFound
	}

	whereClause, args := scopeFilter(scope, 3)
	query := fmt.Sprintf(`
		UPDATE notifications
		SET is_read = true, read_at = COALESCE(read_at, $1)
		WHERE id = $2 AND %s
	`, whereClause)

	result, err := q.Exec(ctx, query, append([]interface{}{time.Now(), id}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to mark notification as read: %w", err)
	}

	if result.RowsAffected() == 0 {
		return notification.ErrNotificationNotFound
	}

	return nil
}

// MarkAllAsRead marks every unread notification of the stream as read
func (r *notificationRepository) MarkAllAsRead(ctx context.Context, scope session.Scope) (int64, error) {
	q := GetQuerier(ctx, r.db)

	whereClause, args := scopeFilter(scope, 2)
	query := fmt.Sprintf(`
		UPDATE notifications
		SET is_read = true, read_at = $1
		WHERE %s AND is_read = false
	`, whereClause)

	result, err := q.Exec(ctx, query, append([]interface{}{time.Now()}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("failed to mark all notifications as read: %w", err)
	}

	return result.RowsAffected(), nil
}

// Delete deletes a notification of the stream
func (r *notificationRepository) Delete(ctx context.Context, id string, scope session.Scope) error {
	q := GetQuerier(ctx, r.db)

	if _, err := uuid.Parse(id); err != nil {
		return notification.ErrNotificationNotFound
	}

	whereClause, args := scopeFilter(scope, 2)
	query := fmt.Sprintf(`DELETE FROM notifications WHERE id = $1 AND %s`, whereClause)

	result, err := q.Exec(ctx, query, append([]interface{}{id}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}

	if result.RowsAffected() == 0 {
		return notification.ErrNotificationNotFound
	}

	return nil
}

// PurgeRead deletes read notifications whose read_at is before the cutoff
func (r *notificationRepository) PurgeRead(ctx context.Context, before time.Time) (int64, error) {
	q := GetQuerier(ctx, r.db)

	result, err := q.Exec(ctx, `DELETE FROM notifications WHERE is_read = true AND read_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge read notifications: %w", err)
	}

	return result.RowsAffected(), nil
}
