package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cabdesk/dispatch-notify/internal/domain/notification"
	"github.com/cabdesk/dispatch-notify/internal/domain/session"
	"github.com/cabdesk/dispatch-notify/internal/pkg/push"
	"github.com/cabdesk/dispatch-notify/internal/pkg/validator"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Publisher delivers a push event to a stream. The hub publishes locally;
// the Redis fanout publishes to every gateway instance.
type Publisher interface {
	Publish(streamKey string, event notification.PushEvent) int
}

// Config holds notification service configuration
type Config struct {
	BatchSize     int           // default: 100
	FlushInterval time.Duration // default: 5 seconds
	WorkerCount   int           // default: 2
	QueueSize     int           // default: 1000
	Publisher     Publisher     // default: the hub
}

type service struct {
	repo      notification.Repository
	hub       *push.Hub
	publisher Publisher
	config    Config
	logger    *slog.Logger

	queue    chan notification.CreateNotificationRequest
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewNotificationService creates a new notification service with background workers
func NewNotificationService(repo notification.Repository, hub *push.Hub, cfg Config, logger *slog.Logger) notification.Service {
	// Set defaults
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Publisher == nil {
		cfg.Publisher = hub
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &service{
		repo:      repo,
		hub:       hub,
		publisher: cfg.Publisher,
		config:    cfg,
		logger:    logger.With("component", "notification_service"),
		queue:     make(chan notification.CreateNotificationRequest, cfg.QueueSize),
		stopCh:    make(chan struct{}),
		now:       time.Now,
	}

	// Start background workers
	for i := 0; i < cfg.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.logger.Info("Notification service started",
		"workers", cfg.WorkerCount,
		"batch_size", cfg.BatchSize,
		"flush_interval", cfg.FlushInterval,
	)

	return s
}

// worker is the background worker that processes notification queue
func (s *service) worker(id int) {
	defer s.wg.Done()

	logger := s.logger.With("worker", id)
	batch := make([]notification.CreateNotificationRequest, 0, s.config.BatchSize)
	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		notifications := make([]*notification.Notification, len(batch))
		for i, req := range batch {
			notifications[i] = s.newEntity(req)
		}

		if err := s.repo.CreateBatch(ctx, notifications); err != nil {
			logger.Error("Failed to batch insert notifications", "count", len(notifications), "error", err)
		} else {
			logger.Debug("Inserted notifications", "count", len(notifications))
			for _, n := range notifications {
				s.publish(n)
			}
		}

		batch = batch[:0]
	}

	for {
		select {
		case req := <-s.queue:
			batch = append(batch, req)
			if len(batch) >= s.config.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.stopCh:
			// drain what was accepted before Stop
			for {
				select {
				case req := <-s.queue:
					batch = append(batch, req)
					if len(batch) >= s.config.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// QueueNotification validates a request and queues it for async processing
func (s *service) QueueNotification(ctx context.Context, req notification.CreateNotificationRequest) error {
	if err := validator.Struct(req); err != nil {
		return err
	}

	select {
	case <-s.stopCh:
		return notification.ErrQueueFull
	default:
	}

	select {
	case s.queue <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		// Queue full, try direct insert
		return s.directInsert(ctx, req)
	}
}

// QueueBulkNotification queues multiple notifications for async processing.
// Invalid requests are skipped and logged.
func (s *service) QueueBulkNotification(ctx context.Context, reqs []notification.CreateNotificationRequest) error {
	for _, req := range reqs {
		if err := s.QueueNotification(ctx, req); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("Failed to queue notification", "title", req.Title, "error", err)
		}
	}
	return nil
}

// directInsert inserts a notification directly when queue is full
func (s *service) directInsert(ctx context.Context, req notification.CreateNotificationRequest) error {
	n := s.newEntity(req)

	if err := s.repo.Create(ctx, n); err != nil {
		return fmt.Errorf("%w: %w", notification.ErrQueueFull, err)
	}

	s.publish(n)
	return nil
}

func (s *service) newEntity(req notification.CreateNotificationRequest) *notification.Notification {
	n := &notification.Notification{
		ID:          uuid.New().String(),
		Scope:       req.Scope,
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		IsRead:      false,
		CreatedAt:   s.now().UTC(),
	}
	if req.Scope == session.RoleVendor {
		vendorID := req.VendorID
		n.VendorID = &vendorID
	}
	return n
}

func (s *service) publish(n *notification.Notification) {
	s.publisher.Publish(n.StreamKey(), notification.PushEvent{
		Event: notification.EventNewNotification,
		Data:  notification.ToPush(n),
	})
}

// GetPage returns one page of the scope's stream. The returned offset is the
// one to request next.
func (s *service) GetPage(ctx context.Context, scope session.Scope, offset, limit int) (*notification.PageResponse, error) {
	if offset < 0 {
		return nil, notification.ErrInvalidOffset
	}
	if limit < 1 || limit > maxPageSize {
		limit = defaultPageSize
	}

	notifications, total, err := s.repo.List(ctx, scope, offset, limit, false)
	if err != nil {
		return nil, err
	}

	unreadCount, err := s.repo.GetUnreadCount(ctx, scope)
	if err != nil {
		return nil, err
	}

	return &notification.PageResponse{
		Data:        toResponses(notifications),
		Total:       total,
		Offset:      min(offset+len(notifications), total),
		UnreadCount: unreadCount,
	}, nil
}

// GetUnread returns the newest unread notifications of the scope's stream.
func (s *service) GetUnread(ctx context.Context, scope session.Scope) (*notification.PageResponse, error) {
	notifications, total, err := s.repo.List(ctx, scope, 0, maxPageSize, true)
	if err != nil {
		return nil, err
	}

	return &notification.PageResponse{
		Data:        toResponses(notifications),
		Total:       total,
		Offset:      len(notifications),
		UnreadCount: total,
	}, nil
}

func toResponses(notifications []*notification.Notification) []notification.NotificationResponse {
	responses := make([]notification.NotificationResponse, len(notifications))
	for i, n := range notifications {
		responses[i] = notification.ToResponse(n)
	}
	return responses
}

// MarkAsRead marks one notification as read
func (s *service) MarkAsRead(ctx context.Context, scope session.Scope, notificationID string) error {
	return s.repo.MarkAsRead(ctx, notificationID, scope)
}

// MarkAllAsRead marks every notification of the scope's stream as read
func (s *service) MarkAllAsRead(ctx context.Context, scope session.Scope) error {
	n, err := s.repo.MarkAllAsRead(ctx, scope)
	if err != nil {
		return err
	}
	s.logger.Debug("Marked all notifications read", "stream", scope.StreamKey(), "count", n)
	return nil
}

// Delete removes a notification
func (s *service) Delete(ctx context.Context, scope session.Scope, notificationID string) error {
	return s.repo.Delete(ctx, notificationID, scope)
}

// PurgeRead removes notifications read longer ago than retention
func (s *service) PurgeRead(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repo.PurgeRead(ctx, s.now().Add(-retention))
}

// Subscribe registers a push subscription on the scope's stream. The
// channel closes when ctx is done or the cleanup func is called.
func (s *service) Subscribe(ctx context.Context, scope session.Scope) (<-chan notification.PushEvent, func()) {
	ch, cleanup := s.hub.Subscribe(scope.StreamKey())

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			cleanup()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-s.stopCh:
		case <-done:
		}
		cancel()
	}()

	return ch, cancel
}

// Stop flushes queued notifications and stops the workers
func (s *service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		s.logger.Info("Notification service stopped")
	})
}
