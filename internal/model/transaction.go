package model

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrImmutableTransaction is returned when something tries to update a recorded transaction.
var ErrImmutableTransaction = errors.New("transactions are append-only")

// Transaction records one completed charge or refund. Refunds are new rows
// with reversed parties and RefundOf pointing at the original.
type Transaction struct {
	ID            int64  `gorm:"primaryKey"`
	FromUser      string `gorm:"size:150;not null;index"`
	ToUser        string `gorm:"size:150;not null"`
	Value         int64  `gorm:"not null"`
	IsBonus       bool   `gorm:"not null"`
	Notes         string `gorm:"size:500;not null;default:''"`
	Method        string `gorm:"size:64;not null"`
	Reference     string `gorm:"size:128;not null;default:''"`
	AppointmentID *int64 `gorm:"index"`
	RefundOf      *int64 `gorm:"index"`
	CreatedAt     time.Time
}

// BeforeUpdate keeps transactions immutable.
func (t *Transaction) BeforeUpdate(_ *gorm.DB) error {
	return ErrImmutableTransaction
}
