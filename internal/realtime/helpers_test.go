package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cabdesk/dispatch-notify/internal/domain/notification"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const (
	testToken    = "valid-token"
	waitFor      = 2 * time.Second
	pollEvery    = 5 * time.Millisecond
	fastRetry    = 5 * time.Millisecond
	testBaseTime = "2024-05-01T10:00:00Z"
)

var errBoom = errors.New("boom")

func baseTime() time.Time {
	t, _ := time.Parse(time.RFC3339, testBaseTime)
	return t
}

// makeItems returns n notifications newest first.
func makeItems(n int) []notification.NotificationResponse {
	items := make([]notification.NotificationResponse, n)
	for i := 0; i < n; i++ {
		items[i] = notification.NotificationResponse{
			ID:        fmt.Sprintf("n%02d", i+1),
			Title:     fmt.Sprintf("Booking %d", i+1),
			Category:  notification.CategoryBooking,
			CreatedAt: baseTime().Add(-time.Duration(i) * time.Minute),
		}
	}
	return items
}

func push(id string, at time.Time) notification.PushNotification {
	return notification.PushNotification{
		ID:        id,
		Title:     "New booking " + id,
		Category:  notification.CategoryBooking,
		CreatedAt: at,
	}
}

// ===== fake REST collaborator =====

type fakeAPI struct {
	mu       sync.Mutex
	items    []notification.NotificationResponse
	pageSize int
	unread   int

	pageErr    error
	markErr    error
	markAllErr error
	block      chan struct{}

	pageCalls    []int
	unreadCalls  int
	markCalls    []string
	markAllCalls int
}

func newFakeAPI(items []notification.NotificationResponse, pageSize, unread int) *fakeAPI {
	return &fakeAPI{items: items, pageSize: pageSize, unread: unread}
}

func (f *fakeAPI) FetchPage(ctx context.Context, offset int) (notification.PageResponse, error) {
	f.mu.Lock()
	f.pageCalls = append(f.pageCalls, offset)
	block, err := f.block, f.pageErr
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return notification.PageResponse{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	end := min(offset+f.pageSize, len(f.items))
	return notification.PageResponse{
		Data:        append([]notification.NotificationResponse(nil), f.items[offset:end]...),
		Total:       len(f.items),
		Offset:      end,
		UnreadCount: f.unread,
	}, nil
}

func (f *fakeAPI) FetchUnread(ctx context.Context) (notification.PageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreadCalls++

	var data []notification.NotificationResponse
	for _, item := range f.items {
		if !item.Read {
			data = append(data, item)
		}
	}
	return notification.PageResponse{Data: data, Total: len(data), Offset: len(data), UnreadCount: f.unread}, nil
}

func (f *fakeAPI) MarkRead(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markCalls = append(f.markCalls, id)
	return f.markErr
}

func (f *fakeAPI) MarkAllRead(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markAllCalls++
	return f.markAllErr
}

func (f *fakeAPI) setUnread(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unread = n
}

func (f *fakeAPI) calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.pageCalls...)
}

// ===== fake transport =====

type fakeConn struct {
	frames  chan []byte
	written chan notification.PushMessage
	mu      sync.Mutex
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames:  make(chan []byte, 16),
		written: make(chan notification.PushMessage, 16),
	}
}

// ReadMessage keeps delivering queued frames after Close, like data already
// in flight on the wire.
func (c *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.frames
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return websocket.TextMessage, data, nil
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	msg, ok := v.(notification.PushMessage)
	if !ok {
		return errors.New("unexpected frame type")
	}
	c.written <- msg
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) send(t *testing.T, event string, data interface{}) {
	t.Helper()
	msg, err := notification.NewPushMessage(event, data)
	require.NoError(t, err)
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	c.frames <- raw
}

type fakeDialer struct {
	mu    sync.Mutex
	dials int
	next  func(n int) (Conn, error)
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	next := d.next
	d.mu.Unlock()
	return next(n)
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func failingDialer() *fakeDialer {
	return &fakeDialer{next: func(int) (Conn, error) { return nil, errBoom }}
}

// ===== real push server =====

type pushServer struct {
	srv   *httptest.Server
	token string

	mu     sync.Mutex
	conns  []*websocket.Conn
	tokens []string
	ready  chan *websocket.Conn
}

func newPushServer(t *testing.T, token string) *pushServer {
	t.Helper()
	ps := &pushServer{token: token, ready: make(chan *websocket.Conn, 16)}
	upgrader := websocket.Upgrader{}

	ps.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var msg notification.PushMessage
		if err := conn.ReadJSON(&msg); err != nil || msg.Event != notification.EventAuthenticate {
			return
		}
		var auth notification.AuthenticatePayload
		_ = json.Unmarshal(msg.Data, &auth)

		ps.mu.Lock()
		ps.tokens = append(ps.tokens, auth.Token)
		ps.mu.Unlock()

		if auth.Token != ps.token {
			reply, _ := notification.NewPushMessage(notification.EventAuthError, notification.AuthErrorPayload{Message: "invalid token"})
			_ = conn.WriteJSON(reply)
		} else {
			reply, _ := notification.NewPushMessage(notification.EventAuthSuccess, notification.AuthSuccessPayload{
				User: notification.PushUser{ID: "u1", Role: "vendor"},
			})
			if err := conn.WriteJSON(reply); err != nil {
				return
			}
			ps.mu.Lock()
			ps.conns = append(ps.conns, conn)
			ps.mu.Unlock()
			ps.ready <- conn
		}

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ps.srv.Close)
	return ps
}

func (ps *pushServer) url() string {
	return "ws" + strings.TrimPrefix(ps.srv.URL, "http")
}

func (ps *pushServer) connected(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-ps.ready:
		return conn
	case <-time.After(waitFor):
		t.Fatal("no authenticated connection")
		return nil
	}
}

func (ps *pushServer) authAttempts() []string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return append([]string(nil), ps.tokens...)
}

func sendFrame(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	msg, err := notification.NewPushMessage(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(msg))
}
