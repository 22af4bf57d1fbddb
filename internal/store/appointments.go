package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"wasch-booking-backend/internal/model"
)

// Appointment times are stored in UTC so that equality and range queries
// behave the same on every driver.

func (s *gormStore) GetAppointment(ctx context.Context, id int64) (*model.Appointment, error) {
	var a model.Appointment
	if err := s.conn(ctx).First(&a, id).Error; err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

// LockAppointment reads the row with SELECT ... FOR UPDATE where the driver supports it.
func (s *gormStore) LockAppointment(ctx context.Context, id int64) (*model.Appointment, error) {
	var a model.Appointment
	if err := s.conn(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&a, id).Error; err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

// FindAppointment returns the appointment of username at (t, machine),
// preferring an active one over canceled ones.
func (s *gormStore) FindAppointment(ctx context.Context, t time.Time, machine int, username string) (*model.Appointment, error) {
	var a model.Appointment
	err := s.conn(ctx).
		Where("time = ? AND machine_number = ? AND username = ?", t.UTC(), machine, username).
		Order("canceled ASC").Order("id DESC").
		First(&a).Error
	if err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

func (s *gormStore) ActiveAppointmentAt(ctx context.Context, t time.Time, machine int) (*model.Appointment, error) {
	var a model.Appointment
	err := s.conn(ctx).
		Where("time = ? AND machine_number = ? AND canceled = ?", t.UTC(), machine, false).
		First(&a).Error
	if err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

// ActiveAppointmentsBetween lists non-canceled appointments on the given
// machines with from <= time <= to.
func (s *gormStore) ActiveAppointmentsBetween(ctx context.Context, machines []int, from, to time.Time) ([]model.Appointment, error) {
	var appointments []model.Appointment
	if len(machines) == 0 {
		return appointments, nil
	}
	err := s.conn(ctx).
		Where("machine_number IN ? AND canceled = ? AND time >= ? AND time <= ?", machines, false, from.UTC(), to.UTC()).
		Order("time").
		Find(&appointments).Error
	return appointments, err
}

// CountActiveAppointments counts non-canceled appointments per user with
// from <= time < to. Users without appointments are absent from the map.
func (s *gormStore) CountActiveAppointments(ctx context.Context, usernames []string, from, to time.Time) (map[string]int64, error) {
	counts := make(map[string]int64, len(usernames))
	if len(usernames) == 0 {
		return counts, nil
	}
	var rows []struct {
		Username string
		Total    int64
	}
	err := s.conn(ctx).Model(&model.Appointment{}).
		Select("username, COUNT(*) AS total").
		Where("username IN ? AND canceled = ? AND time >= ? AND time < ?", usernames, false, from.UTC(), to.UTC()).
		Group("username").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		counts[r.Username] = r.Total
	}
	return counts, nil
}

// CreateAppointment inserts a. Losing against another active appointment on
// the same slot yields ErrConflict.
func (s *gormStore) CreateAppointment(ctx context.Context, a *model.Appointment) error {
	a.Time = a.Time.UTC()
	return translate(s.conn(ctx).Create(a).Error)
}

func (s *gormStore) DeleteAppointment(ctx context.Context, id int64) error {
	return s.conn(ctx).Delete(&model.Appointment{}, id).Error
}

func (s *gormStore) SetRefundableTransaction(ctx context.Context, id int64, txnID *int64) error {
	return s.guardedUpdate(ctx, s.conn(ctx).Where("id = ?", id), map[string]any{
		"refundable_transaction_id": txnID,
	})
}

// MarkUsed flips was_used only on a booked appointment.
func (s *gormStore) MarkUsed(ctx context.Context, id int64) error {
	return s.guardedUpdate(ctx,
		s.conn(ctx).Where("id = ? AND was_used = ? AND canceled = ?", id, false, false),
		map[string]any{"was_used": true})
}

// MarkCanceled cancels a booked appointment and drops its refundable link.
func (s *gormStore) MarkCanceled(ctx context.Context, id int64) error {
	return s.guardedUpdate(ctx,
		s.conn(ctx).Where("id = ? AND was_used = ? AND canceled = ?", id, false, false),
		map[string]any{"canceled": true, "refundable_transaction_id": nil})
}

// Reactivate turns a canceled appointment back into a booked one.
func (s *gormStore) Reactivate(ctx context.Context, id int64, txnID *int64) error {
	return s.guardedUpdate(ctx,
		s.conn(ctx).Where("id = ? AND was_used = ? AND canceled = ?", id, false, true),
		map[string]any{"canceled": false, "refundable_transaction_id": txnID})
}

// ClearRefundableTransaction drops the refundable link only if it still
// points at expectedTxnID and the appointment is still booked.
func (s *gormStore) ClearRefundableTransaction(ctx context.Context, id, expectedTxnID int64) error {
	return s.guardedUpdate(ctx,
		s.conn(ctx).Where("id = ? AND refundable_transaction_id = ? AND was_used = ? AND canceled = ?", id, expectedTxnID, false, false),
		map[string]any{"refundable_transaction_id": nil})
}

// RefundCandidates lists booked appointments scheduled before the cutoff that
// still hold a refundable transaction.
func (s *gormStore) RefundCandidates(ctx context.Context, scheduledBefore time.Time) ([]model.Appointment, error) {
	var appointments []model.Appointment
	err := s.conn(ctx).
		Where("canceled = ? AND was_used = ? AND refundable_transaction_id IS NOT NULL AND time < ?", false, false, scheduledBefore.UTC()).
		Order("time").Order("id").
		Find(&appointments).Error
	return appointments, err
}

func (s *gormStore) guardedUpdate(_ context.Context, q *gorm.DB, values map[string]any) error {
	values["updated_at"] = time.Now().UTC()
	res := q.Model(&model.Appointment{}).Updates(values)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected != 1 {
		return ErrConflict
	}
	return nil
}
