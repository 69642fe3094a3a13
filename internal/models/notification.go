package models

import "time"

// NotificationStatus is the user-visible state of an asynchronous operation
type NotificationStatus string

const (
	NotificationRunning NotificationStatus = "running"
	NotificationSuccess NotificationStatus = "success"
	NotificationError   NotificationStatus = "error"
)

// IsTerminal reports whether no further transition is allowed
func (s NotificationStatus) IsTerminal() bool {
	return s == NotificationSuccess || s == NotificationError
}

// Notification is a user-visible record of an in-flight or completed device operation
type Notification struct {
	ID        string             `json:"id" badgerhold:"key"`
	RefID     string             `json:"ref_id" badgerhold:"index"`
	Title     string             `json:"title"`
	Message   string             `json:"message"`
	Category  string             `json:"category" badgerhold:"index"`
	Link      string             `json:"link,omitempty"`
	Status    NotificationStatus `json:"status"`
	IsLoading bool               `json:"is_loading"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Notification broadcast event names
const (
	EventNewNotification    = "new-notification"
	EventUpdateNotification = "update-notification"
)

// NotificationEvent is the payload broadcast to live clients
type NotificationEvent struct {
	Notification *Notification `json:"notification"`
}
