package payment

import (
	"errors"
	"fmt"
)

var (
	// ErrPaymentFailed matches every *Error.
	ErrPaymentFailed = errors.New("payment failed")
	ErrUnknownMethod = errors.New("unknown payment method")
	ErrDeclined      = errors.New("payment declined")
)

// Error reports a payment or refund that did not move the full value. Any
// partial amount has already been compensated when it is returned.
type Error struct {
	Op     string // "pay" or "refund"
	Method string
	Value  int64
	Moved  int64
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("payment failed: %s %d via %s moved %d", e.Op, e.Value, e.Method, e.Moved)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrPaymentFailed }
