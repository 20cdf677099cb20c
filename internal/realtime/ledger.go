package realtime

import (
	"sort"
	"sync"

	"github.com/cabdesk/dispatch-notify/internal/domain/notification"
)

// Snapshot is a point-in-time view of a ledger for display.
type Snapshot struct {
	Items       []notification.NotificationResponse
	UnreadCount int
	Total       int
	Loaded      bool // a page has been applied; Loaded with no items means "no notifications"
}

// Empty reports the settled "no notifications" state, as opposed to loading.
func (s Snapshot) Empty() bool {
	return s.Loaded && len(s.Items) == 0
}

// Ledger holds the deduplicated notifications of one role scope. It is keyed
// by id, so merging the same record twice is a no-op by construction; the
// display order is projected on read.
//
// The unread count is the last server-reported count adjusted by local
// deltas (+1 per new push, -1 per read mutation). Every fetch replaces the
// baseline and drops the deltas.
type Ledger struct {
	mu        sync.Mutex
	entries   map[string]*notification.NotificationResponse
	baseline  int
	delta     int
	epoch     uint64 // bumped on every baseline resync
	total     int
	loaded    bool
	discarded bool
}

func NewLedger() *Ledger {
	return &Ledger{
		entries: make(map[string]*notification.NotificationResponse),
	}
}

// ApplyPage merges a fetched page and resynchronizes the unread baseline.
// A local read flag survives a stale page that still reports it unread.
func (l *Ledger) ApplyPage(page notification.PageResponse) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.discarded {
		return false
	}

	l.mergeLocked(page.Data)
	l.total = page.Total
	l.loaded = true
	l.resyncLocked(page.UnreadCount)
	return true
}

// ApplyUnread merges the unread listing. It resyncs the unread baseline but
// says nothing about how much history exists.
func (l *Ledger) ApplyUnread(page notification.PageResponse) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.discarded {
		return false
	}

	l.mergeLocked(page.Data)
	l.resyncLocked(page.UnreadCount)
	return true
}

// ApplyPush inserts a live notification. It returns false for a duplicate
// delivery, which changes nothing.
func (l *Ledger) ApplyPush(p notification.PushNotification) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.discarded {
		return false
	}
	if _, ok := l.entries[p.ID]; ok {
		return false
	}

	l.entries[p.ID] = &notification.NotificationResponse{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		Category:    p.Category,
		CreatedAt:   p.CreatedAt,
	}
	l.delta++
	return true
}

// UnreadCount returns the current authoritative count
func (l *Ledger) UnreadCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unreadLocked()
}

// Items returns entries newest first, ties broken by id.
func (l *Ledger) Items() []notification.NotificationResponse {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.itemsLocked()
}

// Get returns a copy of one entry.
func (l *Ledger) Get(id string) (notification.NotificationResponse, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[id]
	if !ok {
		return notification.NotificationResponse{}, false
	}
	return *e, true
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Snapshot{
		Items:       l.itemsLocked(),
		UnreadCount: l.unreadLocked(),
		Total:       l.total,
		Loaded:      l.loaded,
	}
}

// Discard tears the ledger down. Results arriving afterwards are dropped.
func (l *Ledger) Discard() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.discarded = true
	l.entries = make(map[string]*notification.NotificationResponse)
}

func (l *Ledger) mergeLocked(items []notification.NotificationResponse) {
	for _, item := range items {
		if item.ID == "" {
			continue
		}
		existing, ok := l.entries[item.ID]
		if !ok {
			copied := item
			l.entries[item.ID] = &copied
			continue
		}
		existing.Title = item.Title
		existing.Description = item.Description
		existing.Category = item.Category
		existing.Read = existing.Read || item.Read
	}
}

func (l *Ledger) resyncLocked(unread int) {
	l.baseline = unread
	l.delta = 0
	l.epoch++
}

func (l *Ledger) unreadLocked() int {
	if n := l.baseline + l.delta; n > 0 {
		return n
	}
	return 0
}

func (l *Ledger) itemsLocked() []notification.NotificationResponse {
	items := make([]notification.NotificationResponse, 0, len(l.entries))
	for _, e := range l.entries {
		items = append(items, *e)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items
}

// readChange records what an optimistic read mutation did, so it can be
// compensated if the server refuses it.
type readChange struct {
	ids             []string
	removedBaseline int
	removedDelta    int
	epoch           uint64
}

// markReadLocal flips one entry to read. changed is false when it already was.
func (l *Ledger) markReadLocal(id string) (change readChange, changed bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[id]
	if !ok || l.discarded {
		return readChange{}, false, ErrUnknownNotification
	}
	if e.Read {
		return readChange{}, false, nil
	}

	e.Read = true
	l.delta--
	return readChange{ids: []string{id}, removedDelta: 1, epoch: l.epoch}, true, nil
}

// markAllReadLocal flips every unread entry and zeroes the displayed count.
func (l *Ledger) markAllReadLocal() readChange {
	l.mu.Lock()
	defer l.mu.Unlock()

	change := readChange{
		removedBaseline: l.baseline,
		removedDelta:    l.delta,
		epoch:           l.epoch,
	}
	for id, e := range l.entries {
		if !e.Read {
			e.Read = true
			change.ids = append(change.ids, id)
		}
	}
	l.baseline = 0
	l.delta = 0
	return change
}

// revert undoes an optimistic read mutation. Counters are only restored if
// no fetch resynced the baseline in the meantime.
func (l *Ledger) revert(change readChange) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.discarded {
		return
	}
	for _, id := range change.ids {
		if e, ok := l.entries[id]; ok {
			e.Read = false
		}
	}
	if l.epoch == change.epoch {
		l.baseline += change.removedBaseline
		l.delta += change.removedDelta
	}
}
