package models

import "time"

// Notification carries revision notes to one student.
type Notification struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	Topic     string    `json:"topic"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
}

type DeliveryState string

const (
	DeliveryQueued    DeliveryState = "queued"
	DeliverySending   DeliveryState = "sending"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryFailed    DeliveryState = "failed"
)

// DeliveryStatus is the last known outcome of a notification.
type DeliveryStatus struct {
	ID        string        `json:"id"`
	StudentID string        `json:"student_id"`
	Topic     string        `json:"topic"`
	State     DeliveryState `json:"state"`
	Error     string        `json:"error,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}
