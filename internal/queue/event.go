// Package queue publishes appointment lifecycle events to RabbitMQ.
package queue

import "time"

// EventType names a lifecycle transition.
type EventType string

const (
	EventBooked       EventType = "appointment.booked"
	EventUsed         EventType = "appointment.used"
	EventCanceled     EventType = "appointment.canceled"
	EventRebooked     EventType = "appointment.rebooked"
	EventAutoRefunded EventType = "appointment.auto_refunded"
)

// AppointmentEvent is the message body published after a committed transition.
type AppointmentEvent struct {
	Type          EventType `json:"type"`
	AppointmentID int64     `json:"appointment_id"`
	Reference     uint32    `json:"reference"`
	Time          time.Time `json:"time"`
	Machine       int       `json:"machine"`
	Username      string    `json:"username"`
	TransactionID *int64    `json:"transaction_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}
