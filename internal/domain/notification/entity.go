package notification

import (
	"time"

	"github.com/cabdesk/dispatch-notify/internal/domain/session"
)

// Category is used for display routing only; ledger logic never looks at it.
type Category string

const (
	CategoryBooking   Category = "booking"
	CategoryVendor    Category = "vendor"
	CategoryEnquiry   Category = "enquiry"
	CategoryDriver    Category = "driver"
	CategoryInvoice   Category = "invoice"
	CategoryPromotion Category = "promotion"
)

// AllCategories returns all available categories
func AllCategories() []Category {
	return []Category{
		CategoryBooking,
		CategoryVendor,
		CategoryEnquiry,
		CategoryDriver,
		CategoryInvoice,
		CategoryPromotion,
	}
}

func (c Category) Valid() bool {
	for _, known := range AllCategories() {
		if c == known {
			return true
		}
	}
	return false
}

// Notification represents a stored notification entity
type Notification struct {
	ID          string
	Scope       session.Role
	VendorID    *string
	Title       string
	Description string
	Category    Category
	IsRead      bool
	ReadAt      *time.Time
	CreatedAt   time.Time
}

// StreamKey returns the push stream the notification is delivered on.
func (n *Notification) StreamKey() string {
	vendorID := ""
	if n.VendorID != nil {
		vendorID = *n.VendorID
	}
	return session.StreamKey(n.Scope, vendorID)
}
