package push

import (
	"testing"
	"time"

	"github.com/cabdesk/dispatch-notify/internal/domain/notification"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEvent(id string) notification.PushEvent {
	return notification.PushEvent{
		Event: notification.EventNewNotification,
		Data:  notification.PushNotification{ID: id, Title: "Booking " + id, CreatedAt: time.Now()},
	}
}

func TestHub_Publish_OnlyReachesStream(t *testing.T) {
	// Setup
	hub := NewHub(4)
	admin, cancelAdmin := hub.Subscribe("admin")
	defer cancelAdmin()
	vendor, cancelVendor := hub.Subscribe("vendor:v1")
	defer cancelVendor()

	// Act
	delivered := hub.Publish("vendor:v1", newEvent("n1"))

	// Assert
	assert.Equal(t, 1, delivered)
	select {
	case ev := <-vendor:
		assert.Equal(t, "n1", ev.Data.ID)
	default:
		t.Fatal("vendor subscriber got nothing")
	}
	assert.Empty(t, admin)
}

func TestHub_Publish_FullSubscriberIsSkipped(t *testing.T) {
	hub := NewHub(1)
	slow, cancelSlow := hub.Subscribe("admin")
	defer cancelSlow()
	fast, cancelFast := hub.Subscribe("admin")
	defer cancelFast()

	assert.Equal(t, 2, hub.Publish("admin", newEvent("n1")))
	<-fast

	assert.Equal(t, 1, hub.Publish("admin", newEvent("n2")))
	assert.Len(t, slow, 1)
}

func TestHub_Subscribe_CleanupRemovesStream(t *testing.T) {
	hub := NewHub(0)
	ch, cancel := hub.Subscribe("vendor:v2")
	require.Equal(t, 1, hub.SubscriberCount("vendor:v2"))

	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, hub.SubscriberCount("vendor:v2"))
	assert.Equal(t, 0, hub.TotalSubscribers())
	assert.Equal(t, 0, hub.Publish("vendor:v2", newEvent("n1")))
}

func TestHub_PublishToMany(t *testing.T) {
	hub := NewHub(4)
	_, c1 := hub.Subscribe("admin")
	defer c1()
	_, c2 := hub.Subscribe("vendor:v1")
	defer c2()
	_, c3 := hub.Subscribe("vendor:v1")
	defer c3()

	assert.Equal(t, 3, hub.TotalSubscribers())
	assert.Equal(t, 3, hub.PublishToMany([]string{"admin", "vendor:v1", "vendor:v9"}, newEvent("n1")))
}
