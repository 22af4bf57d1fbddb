package eligibility

import (
	"errors"
	"fmt"
)

// Reason explains why a slot cannot be booked or an appointment cannot
// change state. The numeric values are stable and shown to clients.
type Reason int

const (
	None                Reason = 0
	UnsupportedTime     Reason = 11
	MachineUnavailable  Reason = 21
	UserNotActive       Reason = 31
	RationExhausted     Reason = 32
	AppointmentTaken    Reason = 41
	AppointmentCanceled Reason = 51
	AlreadyUsed         Reason = 61
)

func (r Reason) String() string {
	switch r {
	case None:
		return "none"
	case UnsupportedTime:
		return "unsupported time"
	case MachineUnavailable:
		return "machine unavailable"
	case UserNotActive:
		return "user not active"
	case RationExhausted:
		return "ration exhausted"
	case AppointmentTaken:
		return "appointment taken"
	case AppointmentCanceled:
		return "appointment canceled"
	case AlreadyUsed:
		return "already used"
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// ErrDenied matches every DeniedError.
var ErrDenied = errors.New("booking denied")

// DeniedError carries the reason an operation was refused.
type DeniedError struct {
	Reason Reason
}

// Deny returns a DeniedError for r.
func Deny(r Reason) error {
	return &DeniedError{Reason: r}
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("booking denied: %s", e.Reason)
}

func (e *DeniedError) Is(target error) bool {
	if target == ErrDenied {
		return true
	}
	t, ok := target.(*DeniedError)
	return ok && t.Reason == e.Reason
}

// ReasonOf extracts the denial reason from err.
func ReasonOf(err error) (Reason, bool) {
	var denied *DeniedError
	if errors.As(err, &denied) {
		return denied.Reason, true
	}
	return None, false
}
