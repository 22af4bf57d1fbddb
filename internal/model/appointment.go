package model

import "time"

// State is the lifecycle state derived from an appointment's flags.
type State string

const (
	StateBooked   State = "booked"
	StateUsed     State = "used"
	StateCanceled State = "canceled"
)

// Appointment reserves one slot on one machine. At most one non-canceled
// appointment exists per (Time, MachineNumber); the partial unique index enforces it.
type Appointment struct {
	ID                      int64     `gorm:"primaryKey"`
	Time                    time.Time `gorm:"not null;index:idx_appointments_active_slot,unique,where:canceled = false"`
	MachineNumber           int       `gorm:"not null;index:idx_appointments_active_slot,unique,where:canceled = false"`
	Username                string    `gorm:"size:150;not null;index"`
	WasUsed                 bool      `gorm:"not null"`
	Canceled                bool      `gorm:"not null;index"`
	RefundableTransactionID *int64
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// State derives the lifecycle state. Used wins over canceled.
func (a *Appointment) State() State {
	switch {
	case a.WasUsed:
		return StateUsed
	case a.Canceled:
		return StateCanceled
	default:
		return StateBooked
	}
}
