package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"wasch-booking-backend/internal/model"
)

// --- Transactions ---

func (s *gormStore) CreateTransaction(ctx context.Context, t *model.Transaction) error {
	return translate(s.conn(ctx).Create(t).Error)
}

func (s *gormStore) GetTransaction(ctx context.Context, id int64) (*model.Transaction, error) {
	var t model.Transaction
	if err := s.conn(ctx).First(&t, id).Error; err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (s *gormStore) TransactionsForAppointment(ctx context.Context, appointmentID int64) ([]model.Transaction, error) {
	var txns []model.Transaction
	err := s.conn(ctx).Where("appointment_id = ?", appointmentID).Order("id").Find(&txns).Error
	return txns, err
}

// --- Bonus ledger ---

func (s *gormStore) GetBonusAccount(ctx context.Context, name string) (*model.BonusAccount, error) {
	var a model.BonusAccount
	if err := s.conn(ctx).First(&a, "name = ?", name).Error; err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

// EnsureBonusAccount creates a unless an account with the same name exists,
// and loads the stored row into a.
func (s *gormStore) EnsureBonusAccount(ctx context.Context, a *model.BonusAccount) error {
	return s.conn(ctx).Where(model.BonusAccount{Name: a.Name}).FirstOrCreate(a).Error
}

// ApplyBonusTransfer moves t.Amount from source to destination and records t.
// A limited source never goes below zero.
func (s *gormStore) ApplyBonusTransfer(ctx context.Context, t *model.BonusTransfer) error {
	if t.Amount <= 0 {
		return fmt.Errorf("bonus transfer amount must be positive, got %d", t.Amount)
	}
	return s.WithinTx(ctx, func(ctx context.Context) error {
		debit := s.conn(ctx).Model(&model.BonusAccount{}).
			Where("id = ? AND (unlimited = ? OR balance >= ?)", t.SourceID, true, t.Amount).
			Update("balance", gorm.Expr("balance - ?", t.Amount))
		if debit.Error != nil {
			return debit.Error
		}
		if debit.RowsAffected == 0 {
			var n int64
			if err := s.conn(ctx).Model(&model.BonusAccount{}).Where("id = ?", t.SourceID).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return ErrNotFound
			}
			return ErrInsufficientBalance
		}

		credit := s.conn(ctx).Model(&model.BonusAccount{}).
			Where("id = ?", t.DestinationID).
			Update("balance", gorm.Expr("balance + ?", t.Amount))
		if credit.Error != nil {
			return credit.Error
		}
		if credit.RowsAffected == 0 {
			return ErrNotFound
		}
		return translate(s.conn(ctx).Create(t).Error)
	})
}

func (s *gormStore) GetBonusTransfer(ctx context.Context, reference string) (*model.BonusTransfer, error) {
	var t model.BonusTransfer
	err := s.conn(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&t, "reference = ?", reference).Error
	if err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

// RefundedBonusAmount sums the transfers that reverse parentID.
func (s *gormStore) RefundedBonusAmount(ctx context.Context, parentID int64) (int64, error) {
	var total int64
	err := s.conn(ctx).Model(&model.BonusTransfer{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("parent_id = ?", parentID).
		Scan(&total).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}
	return total, nil
}
