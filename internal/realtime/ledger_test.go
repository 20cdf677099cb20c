package realtime

import (
	"testing"
	"time"

	"github.com/cabdesk/dispatch-notify/internal/domain/notification"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pageOf(items []notification.NotificationResponse, total, unread int) notification.PageResponse {
	return notification.PageResponse{Data: items, Total: total, Offset: len(items), UnreadCount: unread}
}

func ids(items []notification.NotificationResponse) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}

func TestLedger_ApplyPush_Idempotent(t *testing.T) {
	// Setup
	ledger := NewLedger()
	p := push("n1", baseTime())

	// Act
	first := ledger.ApplyPush(p)
	second := ledger.ApplyPush(p)

	// Assert
	assert.True(t, first)
	assert.False(t, second)
	assert.Equal(t, 1, ledger.Len())
	assert.Equal(t, 1, ledger.UnreadCount())
}

func TestLedger_ApplyPush_AfterPageDoesNotDuplicate(t *testing.T) {
	ledger := NewLedger()
	items := makeItems(3)
	ledger.ApplyPage(pageOf(items, 3, 3))

	applied := ledger.ApplyPush(push("n02", items[1].CreatedAt))

	assert.False(t, applied)
	assert.Equal(t, 3, ledger.Len())
	assert.Equal(t, 3, ledger.UnreadCount())
}

func TestLedger_ApplyPush_BeforeFirstPageIsKept(t *testing.T) {
	ledger := NewLedger()
	ledger.ApplyPush(push("live", baseTime().Add(time.Minute)))

	ledger.ApplyPage(pageOf(makeItems(2), 2, 2))

	items := ledger.Items()
	require.Len(t, items, 3)
	assert.Equal(t, "live", items[0].ID)
	// the page's count already reflects server state, local deltas are dropped
	assert.Equal(t, 2, ledger.UnreadCount())
}

func TestLedger_Merge_ReadFlagWins(t *testing.T) {
	tests := []struct {
		name     string
		existing bool
		incoming bool
		want     bool
	}{
		{"both unread", false, false, false},
		{"local read survives stale page", true, false, true},
		{"server read applies", false, true, true},
		{"both read", true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := NewLedger()
			item := makeItems(1)[0]
			item.Read = tt.existing
			ledger.ApplyPage(pageOf([]notification.NotificationResponse{item}, 1, 0))

			incoming := item
			incoming.Read = tt.incoming
			incoming.Title = "Updated"
			ledger.ApplyPage(pageOf([]notification.NotificationResponse{incoming}, 1, 0))

			got, ok := ledger.Get(item.ID)
			require.True(t, ok)
			assert.Equal(t, tt.want, got.Read)
			assert.Equal(t, "Updated", got.Title)
		})
	}
}

func TestLedger_Push_NeverMarksUnread(t *testing.T) {
	ledger := NewLedger()
	item := makeItems(1)[0]
	item.Read = true
	ledger.ApplyPage(pageOf([]notification.NotificationResponse{item}, 1, 0))

	ledger.ApplyPush(push(item.ID, item.CreatedAt))

	got, _ := ledger.Get(item.ID)
	assert.True(t, got.Read)
	assert.Equal(t, 0, ledger.UnreadCount())
}

func TestLedger_Items_NewestFirstTiesByID(t *testing.T) {
	ledger := NewLedger()
	at := baseTime()
	ledger.ApplyPush(push("b", at))
	ledger.ApplyPush(push("a", at))
	ledger.ApplyPush(push("old", at.Add(-time.Hour)))
	ledger.ApplyPush(push("new", at.Add(time.Hour)))

	assert.Equal(t, []string{"new", "a", "b", "old"}, ids(ledger.Items()))
}

func TestLedger_Snapshot_EmptyVersusLoading(t *testing.T) {
	ledger := NewLedger()
	assert.False(t, ledger.Snapshot().Empty(), "nothing fetched yet is loading, not empty")

	ledger.ApplyPage(pageOf(nil, 0, 0))

	snap := ledger.Snapshot()
	assert.True(t, snap.Loaded)
	assert.True(t, snap.Empty())
	assert.Equal(t, 0, snap.UnreadCount)
}

func TestLedger_ApplyUnread_DoesNotMarkLoaded(t *testing.T) {
	ledger := NewLedger()

	ledger.ApplyUnread(pageOf(makeItems(2), 2, 7))

	snap := ledger.Snapshot()
	assert.False(t, snap.Loaded)
	assert.Equal(t, 7, snap.UnreadCount)
	assert.Len(t, snap.Items, 2)
}

func TestLedger_UnreadCount_NeverNegative(t *testing.T) {
	ledger := NewLedger()
	items := makeItems(2)
	ledger.ApplyPage(pageOf(items, 2, 0))

	_, changed, err := ledger.markReadLocal(items[0].ID)
	require.NoError(t, err)
	require.True(t, changed)

	assert.Equal(t, 0, ledger.UnreadCount())
}

func TestLedger_Revert_SkipsCountersAfterResync(t *testing.T) {
	ledger := NewLedger()
	items := makeItems(2)
	ledger.ApplyPage(pageOf(items, 2, 2))

	change, _, err := ledger.markReadLocal(items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, ledger.UnreadCount())

	// a fetch lands before the server refuses the read
	ledger.ApplyUnread(pageOf(nil, 0, 1))
	ledger.revert(change)

	got, _ := ledger.Get(items[0].ID)
	assert.False(t, got.Read)
	assert.Equal(t, 1, ledger.UnreadCount())
}

func TestLedger_Discard_DropsLateResults(t *testing.T) {
	ledger := NewLedger()
	ledger.ApplyPage(pageOf(makeItems(2), 2, 2))

	ledger.Discard()

	assert.False(t, ledger.ApplyPage(pageOf(makeItems(3), 3, 3)))
	assert.False(t, ledger.ApplyPush(push("late", baseTime())))
	assert.Equal(t, 0, ledger.Len())

	_, _, err := ledger.markReadLocal("n01")
	assert.ErrorIs(t, err, ErrUnknownNotification)
}
