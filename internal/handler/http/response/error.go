package response

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cabdesk/dispatch-notify/internal/domain/notification"
	"github.com/cabdesk/dispatch-notify/internal/domain/session"
	"github.com/cabdesk/dispatch-notify/internal/pkg/jwt"
	"github.com/cabdesk/dispatch-notify/internal/pkg/validator"
)

// HandleError maps domain errors to HTTP responses
func HandleError(w http.ResponseWriter, err error) {
	// Check if it's a validation error
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		ValidationError(w, validationErrs.ToMap())
		return
	}

	switch {
	// Session errors
	case errors.Is(err, jwt.ErrInvalidToken):
		Unauthorized(w, "Invalid or expired token")
	case errors.Is(err, session.ErrMissingToken):
		Unauthorized(w, "Missing bearer token")
	case errors.Is(err, session.ErrUnknownRole):
		Forbidden(w, "Unknown role")
	case errors.Is(err, session.ErrMissingVendorID):
		Forbidden(w, "Vendor token without vendor id")
	case errors.Is(err, session.ErrVendorAccessOnly):
		Forbidden(w, "Vendor access required")
	case errors.Is(err, session.ErrAdminAccessOnly):
		Forbidden(w, "Admin access required")

	// Notification domain errors
	case errors.Is(err, notification.ErrNotificationNotFound):
		NotFound(w, "Notification not found")
	case errors.Is(err, notification.ErrInvalidOffset):
		BadRequest(w, err.Error(), nil)
	case errors.Is(err, notification.ErrQueueFull):
		ServiceUnavailable(w, "Notification queue is full, retry later")

	default:
		slog.Error("Unhandled error", "error", err)
		InternalServerError(w, "Internal server error")
	}
}
