package model

import "time"

// BonusAccount holds a bonus balance. Unlimited accounts may go negative
// (the bonus source).
type BonusAccount struct {
	ID        int64  `gorm:"primaryKey"`
	Name      string `gorm:"size:200;not null;uniqueIndex"`
	Owner     string `gorm:"size:150;not null;index"`
	Balance   int64  `gorm:"not null"`
	Unlimited bool   `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BonusTransfer moves bonus between two accounts. Refund transfers carry
// ParentID of the transfer they reverse.
type BonusTransfer struct {
	ID            int64  `gorm:"primaryKey"`
	Reference     string `gorm:"size:64;not null;uniqueIndex"`
	SourceID      int64  `gorm:"not null;index"`
	DestinationID int64  `gorm:"not null;index"`
	Amount        int64  `gorm:"not null"`
	ParentID      *int64 `gorm:"index"`
	Description   string `gorm:"size:500;not null;default:''"`
	Initiator     string `gorm:"size:150;not null;default:''"`
	CreatedAt     time.Time
}
