package model

import "time"

// Machine represents a bookable washing machine.
type Machine struct {
	Number      int    `gorm:"primaryKey;autoIncrement:false"` // Encoded in reference codes, 0-3
	IsAvailable bool   `gorm:"not null"`
	Notes       string `gorm:"size:500;not null;default:''"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
