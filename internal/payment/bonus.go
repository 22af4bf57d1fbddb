package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"wasch-booking-backend/internal/accounts"
	"wasch-booking-backend/internal/model"
	"wasch-booking-backend/internal/store"
)

// BonusMethod pays from per-user bonus accounts into a sink owned by the
// service user. Bonus is created by transfers from an unlimited source owned
// by the god user.
type BonusMethod struct {
	store    store.Store
	specials *accounts.Specials
}

// NewBonusMethod creates the bonus ledger method. Call Init before use.
func NewBonusMethod(s store.Store, specials *accounts.Specials) *BonusMethod {
	return &BonusMethod{store: s, specials: specials}
}

func (b *BonusMethod) Name() string { return "bonus" }

func (b *BonusMethod) sourceName() string { return "bonus-source-" + b.specials.Service.Username }
func (b *BonusMethod) sinkName() string   { return "bonus-sink-" + b.specials.Service.Username }

// AccountName is the bonus account of username.
func AccountName(username string) string { return "bonus-" + username }

// Init creates the source and sink accounts if they do not exist.
func (b *BonusMethod) Init(ctx context.Context) error {
	source := &model.BonusAccount{Name: b.sourceName(), Owner: b.specials.God.Username, Unlimited: true}
	if err := b.store.EnsureBonusAccount(ctx, source); err != nil {
		return fmt.Errorf("failed to create bonus source: %w", err)
	}
	sink := &model.BonusAccount{Name: b.sinkName(), Owner: b.specials.Service.Username}
	if err := b.store.EnsureBonusAccount(ctx, sink); err != nil {
		return fmt.Errorf("failed to create bonus sink: %w", err)
	}
	return nil
}

// Balance returns the bonus balance of username, zero without an account.
func (b *BonusMethod) Balance(ctx context.Context, username string) (int64, error) {
	a, err := b.store.GetBonusAccount(ctx, AccountName(username))
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return a.Balance, nil
}

// AwardBonus credits value to username, creating the account on first use.
func (b *BonusMethod) AwardBonus(ctx context.Context, value int64, username, authorizedBy, notes string) (Receipt, error) {
	var receipt Receipt
	err := b.store.WithinTx(ctx, func(ctx context.Context) error {
		source, err := b.store.GetBonusAccount(ctx, b.sourceName())
		if err != nil {
			return fmt.Errorf("bonus source: %w", err)
		}
		dest := &model.BonusAccount{Name: AccountName(username), Owner: username}
		if err := b.store.EnsureBonusAccount(ctx, dest); err != nil {
			return err
		}
		t := &model.BonusTransfer{
			Reference:     uuid.NewString(),
			SourceID:      source.ID,
			DestinationID: dest.ID,
			Amount:        value,
			Description:   notes,
			Initiator:     authorizedBy,
		}
		if err := b.store.ApplyBonusTransfer(ctx, t); err != nil {
			return err
		}
		receipt = Receipt{Amount: value, Reference: t.Reference}
		return nil
	})
	return receipt, err
}

func (b *BonusMethod) Coverage(ctx context.Context, value int64, from string) (int64, error) {
	balance, err := b.Balance(ctx, from)
	if err != nil {
		return 0, err
	}
	return max(0, min(value, balance)), nil
}

// Pay moves value from the bonus account of from into the sink. Bonus can
// only be paid to the service user.
func (b *BonusMethod) Pay(ctx context.Context, value int64, from, to, notes string) (Receipt, error) {
	if to != b.specials.Service.Username {
		return Receipt{}, fmt.Errorf("%w: bonus can only be paid to %s", ErrDeclined, b.specials.Service.Username)
	}
	var receipt Receipt
	err := b.store.WithinTx(ctx, func(ctx context.Context) error {
		source, err := b.store.GetBonusAccount(ctx, AccountName(from))
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s has no bonus account", ErrDeclined, from)
		}
		if err != nil {
			return err
		}
		sink, err := b.store.GetBonusAccount(ctx, b.sinkName())
		if err != nil {
			return fmt.Errorf("bonus sink: %w", err)
		}
		t := &model.BonusTransfer{
			Reference:     uuid.NewString(),
			SourceID:      source.ID,
			DestinationID: sink.ID,
			Amount:        value,
			Description:   notes,
			Initiator:     from,
		}
		if err := b.store.ApplyBonusTransfer(ctx, t); err != nil {
			if errors.Is(err, store.ErrInsufficientBalance) {
				return fmt.Errorf("%w: %v", ErrDeclined, err)
			}
			return err
		}
		receipt = Receipt{Amount: value, Reference: t.Reference}
		return nil
	})
	return receipt, err
}

// Refund reverses value of the transfer identified by reference. The total
// refunded never exceeds the original amount.
func (b *BonusMethod) Refund(ctx context.Context, reference string, value int64) (Receipt, error) {
	var receipt Receipt
	err := b.store.WithinTx(ctx, func(ctx context.Context) error {
		parent, err := b.store.GetBonusTransfer(ctx, reference)
		if err != nil {
			return fmt.Errorf("bonus transfer %s: %w", reference, err)
		}
		refunded, err := b.store.RefundedBonusAmount(ctx, parent.ID)
		if err != nil {
			return err
		}
		if refundable := parent.Amount - refunded; refundable < value {
			return fmt.Errorf("%w: only %d of transfer %s is refundable, %d requested", ErrDeclined, refundable, reference, value)
		}
		t := &model.BonusTransfer{
			Reference:     uuid.NewString(),
			SourceID:      parent.DestinationID,
			DestinationID: parent.SourceID,
			Amount:        value,
			ParentID:      &parent.ID,
			Description:   "refund " + reference,
		}
		if err := b.store.ApplyBonusTransfer(ctx, t); err != nil {
			return err
		}
		receipt = Receipt{Amount: value, Reference: t.Reference}
		return nil
	})
	return receipt, err
}
