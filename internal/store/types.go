package store

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write loses against a unique index or a
	// conditional update finds its precondition no longer holds.
	ErrConflict = errors.New("conflicting update")
	// ErrInsufficientBalance is returned when a bonus transfer would overdraw
	// a limited account.
	ErrInsufficientBalance = errors.New("insufficient bonus balance")
)

// ActiveSlotIndex names the partial unique index over non-canceled appointments.
const ActiveSlotIndex = "idx_appointments_active_slot"

// translate maps driver errors onto the store sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case isUniqueViolation(err):
		return errors.Join(ErrConflict, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
