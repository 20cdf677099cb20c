package notification

import (
	"time"

	"github.com/cabdesk/dispatch-notify/internal/domain/session"
)

// ============= Request DTOs =============

// CreateNotificationRequest is what other backend services submit, over HTTP or the relay.
type CreateNotificationRequest struct {
	Scope       session.Role `json:"scope" validate:"required,oneof=admin vendor"`
	VendorID    string       `json:"vendorId" validate:"required_if=Scope vendor"`
	Title       string       `json:"title" validate:"required,max=200"`
	Description string       `json:"description" validate:"max=2000"`
	Category    Category     `json:"category" validate:"required,oneof=booking vendor enquiry driver invoice promotion"`
}

// ============= Response DTOs =============

// NotificationResponse is one notification as the dashboard sees it.
type NotificationResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    Category  `json:"category"`
	CreatedAt   time.Time `json:"createdAt"`
	Read        bool      `json:"read"`
}

// PageResponse is the paginated envelope. Offset is the value to send back
// verbatim to fetch the following page.
type PageResponse struct {
	Data        []NotificationResponse `json:"data"`
	Total       int                    `json:"total"`
	Offset      int                    `json:"offset"`
	UnreadCount int                    `json:"unReadCount"`
}

// ToResponse converts a Notification entity to NotificationResponse
func ToResponse(n *Notification) NotificationResponse {
	return NotificationResponse{
		ID:          n.ID,
		Title:       n.Title,
		Description: n.Description,
		Category:    n.Category,
		CreatedAt:   n.CreatedAt,
		Read:        n.IsRead,
	}
}
