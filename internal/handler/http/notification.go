package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cabdesk/dispatch-notify/internal/domain/notification"
	"github.com/cabdesk/dispatch-notify/internal/domain/session"
	"github.com/cabdesk/dispatch-notify/internal/handler/http/middleware"
	"github.com/cabdesk/dispatch-notify/internal/handler/http/response"
	"github.com/go-chi/chi/v5"
)

// NotificationHandler defines the notification handler interface
type NotificationHandler interface {
	// Reads
	Page(w http.ResponseWriter, r *http.Request)
	Unread(w http.ResponseWriter, r *http.Request)

	// Mutations
	MarkAsRead(w http.ResponseWriter, r *http.Request)
	MarkAllAsRead(w http.ResponseWriter, r *http.Request)
	Delete(w http.ResponseWriter, r *http.Request)

	// Service ingress
	Publish(w http.ResponseWriter, r *http.Request)
}

type notificationHandlerImpl struct {
	notifService notification.Service
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(notifService notification.Service) NotificationHandler {
	return &notificationHandlerImpl{
		notifService: notifService,
	}
}

// scopeOrUnauthorized returns the caller's scope, writing 401 when absent.
func scopeOrUnauthorized(w http.ResponseWriter, r *http.Request) (session.Scope, bool) {
	scope, ok := middleware.ScopeFromContext(r.Context())
	if !ok {
		response.HandleError(w, session.ErrMissingToken)
	}
	return scope, ok
}

// getIntQueryParam gets an int query parameter with a default value
func getIntQueryParam(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return intVal
}

// Page returns one page of the caller's stream, newest first
func (h *notificationHandlerImpl) Page(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeOrUnauthorized(w, r)
	if !ok {
		return
	}

	offset := getIntQueryParam(r, "offset", 0)
	limit := getIntQueryParam(r, "limit", 0)

	page, err := h.notifService.GetPage(r.Context(), scope, offset, limit)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Page(w, page)
}

// Unread returns the caller's unread notifications and the unread count
func (h *notificationHandlerImpl) Unread(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeOrUnauthorized(w, r)
	if !ok {
		return
	}

	page, err := h.notifService.GetUnread(r.Context(), scope)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Page(w, page)
}

// MarkAsRead marks one notification of the caller's stream as read
func (h *notificationHandlerImpl) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeOrUnauthorized(w, r)
	if !ok {
		return
	}

	notifID := chi.URLParam(r, "id")
	if notifID == "" {
		response.BadRequest(w, "Notification ID is required", nil)
		return
	}

	if err := h.notifService.MarkAsRead(r.Context(), scope, notifID); err != nil {
		response.HandleError(w, err)
		return
	}

	response.SuccessWithMessage(w, "Notification marked as read", nil)
}

// MarkAllAsRead marks every notification of the caller's stream as read
func (h *notificationHandlerImpl) MarkAllAsRead(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeOrUnauthorized(w, r)
	if !ok {
		return
	}

	if err := h.notifService.MarkAllAsRead(r.Context(), scope); err != nil {
		response.HandleError(w, err)
		return
	}

	response.SuccessWithMessage(w, "All notifications marked as read", nil)
}

// Delete removes a notification
func (h *notificationHandlerImpl) Delete(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeOrUnauthorized(w, r)
	if !ok {
		return
	}

	notifID := chi.URLParam(r, "id")
	if notifID == "" {
		response.BadRequest(w, "Notification ID is required", nil)
		return
	}

	if err := h.notifService.Delete(r.Context(), scope, notifID); err != nil {
		response.HandleError(w, err)
		return
	}

	response.SuccessWithMessage(w, "Notification deleted", nil)
}

// Publish queues a notification submitted by another backend service
func (h *notificationHandlerImpl) Publish(w http.ResponseWriter, r *http.Request) {
	var req notification.CreateNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body", nil)
		return
	}

	if err := h.notifService.QueueNotification(r.Context(), req); err != nil {
		response.HandleError(w, err)
		return
	}

	response.Accepted(w, "Notification queued", nil)
}
