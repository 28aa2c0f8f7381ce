package model

import "time"

// Notification records that the consumer was told about one new message.
type Notification struct {
	// ID is the unique identifier for this notification.
	ID string `json:"id" db:"id"`

	// UID is the server-assigned identifier of the message.
	UID string `json:"uid" db:"uid"`

	// Subject is the decoded subject at notification time.
	Subject string `json:"subject" db:"subject"`

	// From is the decoded sender at notification time.
	From string `json:"from" db:"sender"`

	// CreatedAt is when the notification fired.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
