package notification

import "errors"

// Notification domain errors
var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrInvalidOffset        = errors.New("offset must not be negative")
	ErrQueueFull            = errors.New("notification queue is full")
)
