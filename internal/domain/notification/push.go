package notification

import (
	"encoding/json"
	"time"
)

// Push channel event names.
const (
	EventAuthenticate    = "authenticate"
	EventAuthSuccess     = "auth_success"
	EventAuthError       = "auth_error"
	EventNewNotification = "new-notification"
)

// PushMessage is the JSON frame exchanged over the push channel.
type PushMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewPushMessage marshals data into a frame.
func NewPushMessage(event string, data interface{}) (PushMessage, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return PushMessage{}, err
	}
	return PushMessage{Event: event, Data: raw}, nil
}

type AuthenticatePayload struct {
	Token string `json:"token"`
}

type PushUser struct {
	ID       string `json:"id"`
	Role     string `json:"role"`
	VendorID string `json:"vendorId,omitempty"`
}

type AuthSuccessPayload struct {
	User PushUser `json:"user"`
}

type AuthErrorPayload struct {
	Message string `json:"message"`
}

// PushNotification is the new-notification payload. It carries no read flag,
// so a push can never mark an entry unread.
type PushNotification struct {
	ID          string    `json:"id" validate:"required"`
	Title       string    `json:"title" validate:"required"`
	Description string    `json:"description"`
	Category    Category  `json:"category"`
	CreatedAt   time.Time `json:"createdAt" validate:"required"`
}

// ToPush strips the read flag.
func ToPush(n *Notification) PushNotification {
	return PushNotification{
		ID:          n.ID,
		Title:       n.Title,
		Description: n.Description,
		Category:    n.Category,
		CreatedAt:   n.CreatedAt,
	}
}

// PushEvent is what the service hands to a subscribed push connection.
type PushEvent struct {
	Event string
	Data  PushNotification
}
