package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cabdesk/dispatch-notify/internal/domain/notification"
	"github.com/cabdesk/dispatch-notify/internal/pkg/validator"
)

// API is the role-scoped REST collaborator.
type API interface {
	PageFetcher
	ReadConfirmer
	FetchUnread(ctx context.Context) (notification.PageResponse, error)
}

// Feed is what a mounted notification view holds: a fresh ledger fed by the
// session's push events, a cursor for history, and a reconciler for read
// state. Closing the feed discards the ledger; late results are dropped.
type Feed struct {
	ledger     *Ledger
	cursor     *Cursor
	reconciler *Reconciler
	api        API
	conn       *Connection
	logger     *slog.Logger

	changes     chan struct{}
	release     func()
	unsubscribe func()
	done        chan struct{}
	closeOnce   sync.Once
}

// NewFeed mounts a feed on the session's shared connection.
func NewFeed(s *Session, api API, logger *slog.Logger) (*Feed, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, release, err := s.Acquire()
	if err != nil {
		return nil, err
	}

	ledger := NewLedger()
	events, unsubscribe := conn.Subscribe()

	f := &Feed{
		ledger:      ledger,
		cursor:      NewCursor(api, ledger),
		reconciler:  NewReconciler(ledger, api, logger),
		api:         api,
		conn:        conn,
		logger:      logger.With("component", "feed", "role", string(s.Scope().Role)),
		changes:     make(chan struct{}, 1),
		release:     release,
		unsubscribe: unsubscribe,
		done:        make(chan struct{}),
	}

	go f.consume(events)
	return f, nil
}

func (f *Feed) consume(events <-chan InboundEvent) {
	defer close(f.done)

	for ev := range events {
		if ev.Type != notification.EventNewNotification {
			continue
		}

		var payload notification.PushNotification
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			f.logger.Debug("dropping undecodable push payload", "error", err)
			continue
		}
		if err := validator.Struct(payload); err != nil {
			f.logger.Debug("dropping invalid push payload", "error", err)
			continue
		}

		if f.ledger.ApplyPush(payload) {
			f.signal()
		}
	}
}

// LoadMore requests the next page of history.
func (f *Feed) LoadMore(ctx context.Context) (bool, error) {
	fetched, err := f.cursor.RequestNextPage(ctx)
	if fetched {
		f.signal()
	}
	return fetched, err
}

// RefreshUnread pulls the unread listing and resynchronizes the count.
func (f *Feed) RefreshUnread(ctx context.Context) error {
	page, err := f.api.FetchUnread(ctx)
	if err != nil {
		return fmt.Errorf("fetch unread: %w", err)
	}
	if f.ledger.ApplyUnread(page) {
		f.signal()
	}
	return nil
}

func (f *Feed) MarkRead(ctx context.Context, id string) error {
	defer f.signal()
	return f.reconciler.MarkRead(ctx, id)
}

func (f *Feed) MarkAllRead(ctx context.Context) error {
	defer f.signal()
	return f.reconciler.MarkAllRead(ctx)
}

func (f *Feed) Snapshot() Snapshot {
	return f.ledger.Snapshot()
}

func (f *Feed) Ledger() *Ledger {
	return f.ledger
}

func (f *Feed) HasMore() bool {
	return f.cursor.HasMore()
}

// ConnectionState exposes the shared connection state for an online indicator.
func (f *Feed) ConnectionState() State {
	return f.conn.State()
}

// Changes signals after every ledger change. Signals coalesce.
func (f *Feed) Changes() <-chan struct{} {
	return f.changes
}

// Close unmounts the feed and releases its hold on the connection.
func (f *Feed) Close() {
	f.closeOnce.Do(func() {
		f.ledger.Discard()
		f.unsubscribe()
		<-f.done
		f.release()
	})
}

func (f *Feed) signal() {
	select {
	case f.changes <- struct{}{}:
	default:
	}
}
