package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/cabdesk/dispatch-notify/internal/domain/notification"
)

// PageFetcher retrieves one page of history starting at a server-issued offset.
type PageFetcher interface {
	FetchPage(ctx context.Context, offset int) (notification.PageResponse, error)
}

// Cursor drives "load more". At most one request is in flight, so pages
// reach the ledger in server order. The offset is always the one the server
// handed back; the cursor never computes it.
type Cursor struct {
	fetcher PageFetcher
	ledger  *Ledger

	mu       sync.Mutex
	offset   int
	total    int
	started  bool
	inFlight bool
}

func NewCursor(fetcher PageFetcher, ledger *Ledger) *Cursor {
	return &Cursor{fetcher: fetcher, ledger: ledger}
}

// RequestNextPage fetches the next page and applies it to the ledger.
// It returns false without a network call when a request is already in
// flight or all history is loaded. On failure the cursor is untouched, so
// calling again retries the same offset.
func (c *Cursor) RequestNextPage(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.inFlight || c.exhaustedLocked() {
		c.mu.Unlock()
		return false, nil
	}
	c.inFlight = true
	offset := c.offset
	c.mu.Unlock()

	page, err := c.fetcher.FetchPage(ctx, offset)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false

	if err != nil {
		return false, fmt.Errorf("fetch page at offset %d: %w", offset, err)
	}

	c.offset = page.Offset
	c.total = page.Total
	c.started = true
	c.ledger.ApplyPage(page)
	return true, nil
}

// HasMore reports whether another page may exist.
func (c *Cursor) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.exhaustedLocked()
}

// Offset returns the offset the next request will use.
func (c *Cursor) Offset() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

func (c *Cursor) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

func (c *Cursor) exhaustedLocked() bool {
	return c.started && c.offset >= c.total
}
