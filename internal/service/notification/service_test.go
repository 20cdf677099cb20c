package notification

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/cabdesk/dispatch-notify/internal/domain/notification"
	"github.com/cabdesk/dispatch-notify/internal/domain/session"
	"github.com/cabdesk/dispatch-notify/internal/pkg/push"
	"github.com/cabdesk/dispatch-notify/internal/pkg/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryRepo is an in-memory notification.Repository.
type memoryRepo struct {
	mu         sync.Mutex
	items      map[string]*notification.Notification
	batchCalls int
	createErr  error
	purgedAt   time.Time
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: make(map[string]*notification.Notification)}
}

func inScope(n *notification.Notification, scope session.Scope) bool {
	return n.StreamKey() == scope.StreamKey()
}

func (r *memoryRepo) Create(ctx context.Context, n *notification.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.items[n.ID] = n
	return nil
}

func (r *memoryRepo) CreateBatch(ctx context.Context, ns []*notification.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.batchCalls++
	for _, n := range ns {
		r.items[n.ID] = n
	}
	return nil
}

func (r *memoryRepo) GetByID(ctx context.Context, id string) (*notification.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.items[id]
	if !ok {
		return nil, notification.ErrNotificationNotFound
	}
	return n, nil
}

func (r *memoryRepo) List(ctx context.Context, scope session.Scope, offset, limit int, unreadOnly bool) ([]*notification.Notification, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*notification.Notification
	for _, n := range r.items {
		if inScope(n, scope) && (!unreadOnly || !n.IsRead) {
			matched = append(matched, n)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	if offset > total {
		offset = total
	}
	end := min(offset+limit, total)
	return matched[offset:end], total, nil
}

func (r *memoryRepo) GetUnreadCount(ctx context.Context, scope session.Scope) (int, error) {
	_, total, err := r.List(ctx, scope, 0, 0, true)
	return total, err
}

func (r *memoryRepo) MarkAsRead(ctx context.Context, id string, scope session.Scope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.items[id]
	if !ok || !inScope(n, scope) {
		return notification.ErrNotificationNotFound
	}
	n.IsRead = true
	return nil
}

func (r *memoryRepo) MarkAllAsRead(ctx context.Context, scope session.Scope) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var updated int64
	for _, n := range r.items {
		if inScope(n, scope) && !n.IsRead {
			n.IsRead = true
			updated++
		}
	}
	return updated, nil
}

func (r *memoryRepo) Delete(ctx context.Context, id string, scope session.Scope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.items[id]
	if !ok || !inScope(n, scope) {
		return notification.ErrNotificationNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *memoryRepo) PurgeRead(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgedAt = before
	return 0, nil
}

func (r *memoryRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

var (
	adminScope  = session.Scope{Role: session.RoleAdmin}
	vendorScope = session.Scope{Role: session.RoleVendor, VendorID: "v-1"}
)

func vendorRequest(title string) notification.CreateNotificationRequest {
	return notification.CreateNotificationRequest{
		Scope:    session.RoleVendor,
		VendorID: "v-1",
		Title:    title,
		Category: notification.CategoryBooking,
	}
}

func newTestService(t *testing.T, repo notification.Repository, cfg Config) (notification.Service, *push.Hub) {
	t.Helper()
	hub := push.NewHub(16)
	svc := NewNotificationService(repo, hub, cfg, nil)
	t.Cleanup(svc.Stop)
	return svc, hub
}

func TestService_QueueNotification_BatchesAndPushes(t *testing.T) {
	// Setup
	repo := newMemoryRepo()
	svc, _ := newTestService(t, repo, Config{BatchSize: 2, FlushInterval: time.Hour, WorkerCount: 1})
	events, cancel := svc.Subscribe(context.Background(), vendorScope)
	defer cancel()

	// Act
	require.NoError(t, svc.QueueNotification(context.Background(), vendorRequest("Booking 1")))
	require.NoError(t, svc.QueueNotification(context.Background(), vendorRequest("Booking 2")))

	// Assert
	var got []string
	for len(got) < 2 {
		select {
		case ev := <-events:
			assert.Equal(t, notification.EventNewNotification, ev.Event)
			assert.NotEmpty(t, ev.Data.ID)
			got = append(got, ev.Data.Title)
		case <-time.After(2 * time.Second):
			t.Fatalf("expected two pushes, got %v", got)
		}
	}
	assert.ElementsMatch(t, []string{"Booking 1", "Booking 2"}, got)
	assert.Equal(t, 1, repo.batchCalls)
}

func TestService_QueueNotification_FlushesOnInterval(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(t, repo, Config{BatchSize: 100, FlushInterval: 10 * time.Millisecond, WorkerCount: 1})

	require.NoError(t, svc.QueueNotification(context.Background(), vendorRequest("Booking 1")))

	require.Eventually(t, func() bool { return repo.count() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestService_QueueNotification_Validation(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(t, repo, Config{})

	err := svc.QueueNotification(context.Background(), notification.CreateNotificationRequest{
		Scope:    session.RoleVendor,
		Category: "weather",
	})

	var verrs validator.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	fields := verrs.ToMap()
	assert.Contains(t, fields, "vendorId")
	assert.Contains(t, fields, "title")
	assert.Contains(t, fields, "category")
}

func TestService_QueueNotification_QueueFullInsertsDirectly(t *testing.T) {
	repo := newMemoryRepo()
	hub := push.NewHub(16)
	svc := &service{
		repo:      repo,
		hub:       hub,
		publisher: hub,
		config:    Config{BatchSize: 1},
		logger:    testLogger(),
		queue:     make(chan notification.CreateNotificationRequest), // no worker reads it
		stopCh:    make(chan struct{}),
		now:       time.Now,
	}
	events, cancel := svc.Subscribe(context.Background(), vendorScope)
	defer cancel()

	require.NoError(t, svc.QueueNotification(context.Background(), vendorRequest("Overflow")))

	assert.Equal(t, 1, repo.count())
	select {
	case ev := <-events:
		assert.Equal(t, "Overflow", ev.Data.Title)
	default:
		t.Fatal("direct insert did not push")
	}

	repo.createErr = errors.New("db down")
	err := svc.QueueNotification(context.Background(), vendorRequest("Lost"))
	assert.ErrorIs(t, err, notification.ErrQueueFull)
}

func TestService_Stop_FlushesPending(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewNotificationService(repo, push.NewHub(1), Config{BatchSize: 100, FlushInterval: time.Hour, WorkerCount: 1}, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.QueueNotification(context.Background(), vendorRequest("Booking")))
	}
	svc.Stop()
	svc.Stop()

	assert.Equal(t, 5, repo.count())
	assert.ErrorIs(t, svc.QueueNotification(context.Background(), vendorRequest("Late")), notification.ErrQueueFull)
}

func seedRepo(repo *memoryRepo, scope session.Scope, n int) []*notification.Notification {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	items := make([]*notification.Notification, n)
	for i := range items {
		items[i] = &notification.Notification{
			ID:        string(rune('a'+i/26)) + string(rune('a'+i%26)),
			Scope:     scope.Role,
			Title:     "Booking",
			Category:  notification.CategoryBooking,
			CreatedAt: base.Add(-time.Duration(i) * time.Minute),
		}
		if scope.Role == session.RoleVendor {
			v := scope.VendorID
			items[i].VendorID = &v
		}
		repo.items[items[i].ID] = items[i]
	}
	return items
}

func TestService_GetPage_OffsetsChainVerbatim(t *testing.T) {
	repo := newMemoryRepo()
	seedRepo(repo, vendorScope, 25)
	seedRepo(repo, adminScope, 3)
	svc, _ := newTestService(t, repo, Config{})
	ctx := context.Background()

	offsets := []int{}
	seen := map[string]bool{}
	offset := 0
	for i := 0; i < 3; i++ {
		page, err := svc.GetPage(ctx, vendorScope, offset, 10)
		require.NoError(t, err)
		assert.Equal(t, 25, page.Total)
		assert.Equal(t, 25, page.UnreadCount)
		for _, item := range page.Data {
			seen[item.ID] = true
		}
		offsets = append(offsets, offset)
		offset = page.Offset
	}

	assert.Equal(t, []int{0, 10, 20}, offsets)
	assert.Equal(t, 25, offset)
	assert.Len(t, seen, 25)
}

func TestService_GetPage_ClampsLimitAndRejectsNegativeOffset(t *testing.T) {
	repo := newMemoryRepo()
	seedRepo(repo, adminScope, 30)
	svc, _ := newTestService(t, repo, Config{})

	page, err := svc.GetPage(context.Background(), adminScope, 0, 1000)
	require.NoError(t, err)
	assert.Len(t, page.Data, defaultPageSize)
	assert.Equal(t, defaultPageSize, page.Offset)

	_, err = svc.GetPage(context.Background(), adminScope, -1, 10)
	assert.ErrorIs(t, err, notification.ErrInvalidOffset)
}

func TestService_GetUnread_AndMarkAll(t *testing.T) {
	repo := newMemoryRepo()
	items := seedRepo(repo, adminScope, 4)
	svc, _ := newTestService(t, repo, Config{})
	ctx := context.Background()

	require.NoError(t, svc.MarkAsRead(ctx, adminScope, items[0].ID))
	assert.ErrorIs(t, svc.MarkAsRead(ctx, vendorScope, items[1].ID), notification.ErrNotificationNotFound)

	unread, err := svc.GetUnread(ctx, adminScope)
	require.NoError(t, err)
	assert.Equal(t, 3, unread.UnreadCount)
	assert.Len(t, unread.Data, 3)

	require.NoError(t, svc.MarkAllAsRead(ctx, adminScope))
	unread, err = svc.GetUnread(ctx, adminScope)
	require.NoError(t, err)
	assert.Equal(t, 0, unread.UnreadCount)
	assert.Empty(t, unread.Data)
}

func TestService_Delete_And_PurgeRead(t *testing.T) {
	repo := newMemoryRepo()
	items := seedRepo(repo, vendorScope, 2)
	svc, _ := newTestService(t, repo, Config{})
	ctx := context.Background()

	require.NoError(t, svc.Delete(ctx, vendorScope, items[0].ID))
	assert.ErrorIs(t, svc.Delete(ctx, vendorScope, items[0].ID), notification.ErrNotificationNotFound)

	before := time.Now()
	_, err := svc.PurgeRead(ctx, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, before.Add(-time.Hour), repo.purgedAt, time.Second)
}

func TestService_Subscribe_ClosesOnContextCancel(t *testing.T) {
	svc, hub := newTestService(t, newMemoryRepo(), Config{})
	ctx, cancel := context.WithCancel(context.Background())

	events, _ := svc.Subscribe(ctx, adminScope)
	require.Equal(t, 1, hub.SubscriberCount("admin"))
	cancel()

	select {
	case _, open := <-events:
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed")
	}
	assert.Equal(t, 0, hub.SubscriberCount("admin"))
}
