package domain

import "time"

type NotificationLevel string

const (
	LevelError   NotificationLevel = "error"
	LevelWarning NotificationLevel = "warning"
	LevelInfo    NotificationLevel = "info"
)

// DefaultNotificationTimeout applies when a notification is posted without one.
const DefaultNotificationTimeout = 3000 * time.Millisecond

type NotificationID uint64

type Notification struct {
	ID        NotificationID    `json:"id"`
	Level     NotificationLevel `json:"level"`
	Message   string            `json:"message"`
	Timeout   time.Duration     `json:"timeout"`
	CreatedAt time.Time         `json:"createdAt"`
}
