package notifyapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cabdesk/dispatch-notify/internal/domain/notification"
	"github.com/cabdesk/dispatch-notify/internal/realtime"
	"golang.org/x/oauth2"
)

var (
	ErrUnauthorized  = errors.New("credential rejected by notification api")
	ErrRequestFailed = errors.New("notification api request failed")
)

// Client is the role-scoped REST client for the notification gateway.
// The credential is attached as a bearer token on every request.
type Client struct {
	baseURL    string
	endpoints  realtime.Endpoints
	pageSize   int
	httpClient *http.Client
}

type Option func(*Client)

// WithPageSize sets the limit sent with page requests. Zero leaves the
// server default.
func WithPageSize(n int) Option {
	return func(c *Client) { c.pageSize = n }
}

// WithHTTPClient sets the transport used under the bearer token source.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(baseURL string, sel realtime.Selection, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		endpoints:  sel.Endpoints,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, c.httpClient)
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: sel.Scope.Credential, TokenType: "Bearer"})
	authed := oauth2.NewClient(ctx, ts)
	authed.Timeout = c.httpClient.Timeout
	c.httpClient = authed
	return c
}

// envelope is the gateway response body. Page fields are only present on
// paginated reads; Data holds an object on everything else.
type envelope struct {
	Success     bool            `json:"success"`
	Message     string          `json:"message,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Total       int             `json:"total"`
	Offset      int             `json:"offset"`
	UnreadCount int             `json:"unReadCount"`
	Error       *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (e envelope) page() (notification.PageResponse, error) {
	page := notification.PageResponse{
		Total:       e.Total,
		Offset:      e.Offset,
		UnreadCount: e.UnreadCount,
	}
	if len(e.Data) > 0 && string(e.Data) != "null" {
		if err := json.Unmarshal(e.Data, &page.Data); err != nil {
			return notification.PageResponse{}, fmt.Errorf("decoding page data: %w", err)
		}
	}
	return page, nil
}

func (c *Client) FetchPage(ctx context.Context, offset int) (notification.PageResponse, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	if c.pageSize > 0 {
		q.Set("limit", strconv.Itoa(c.pageSize))
	}

	var env envelope
	if err := c.do(ctx, http.MethodGet, c.endpoints.Page+"?"+q.Encode(), &env); err != nil {
		return notification.PageResponse{}, err
	}
	return env.page()
}

func (c *Client) FetchUnread(ctx context.Context) (notification.PageResponse, error) {
	var env envelope
	if err := c.do(ctx, http.MethodGet, c.endpoints.Unread, &env); err != nil {
		return notification.PageResponse{}, err
	}
	return env.page()
}

func (c *Client) MarkRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPut, c.endpoints.MarkRead(id), nil)
}

func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, c.endpoints.ReadAll, nil)
}

func (c *Client) do(ctx context.Context, method, path string, out *envelope) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	var env envelope
	if len(body) > 0 {
		if err := json.Unmarshal(body, &env); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("decoding response of %s %s: %w", method, path, err)
		}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, env.reason(resp.Status))
	case resp.StatusCode >= 300 || !env.Success:
		return fmt.Errorf("%w: %s %s: %s", ErrRequestFailed, method, path, env.reason(resp.Status))
	}

	if out != nil {
		*out = env
	}
	return nil
}

func (e envelope) reason(status string) string {
	if e.Error != nil && e.Error.Message != "" {
		return e.Error.Message
	}
	if e.Message != "" {
		return e.Message
	}
	return status
}

var _ realtime.API = (*Client)(nil)
