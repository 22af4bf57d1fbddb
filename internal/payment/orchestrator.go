package payment

import (
	"context"
	"errors"
	"fmt"

	"wasch-booking-backend/internal/metrics"
	"wasch-booking-backend/internal/model"
	"wasch-booking-backend/internal/params"
	"wasch-booking-backend/internal/store"
	"wasch-booking-backend/pkg/logging"
)

// Charge describes one payment request.
type Charge struct {
	Value         int64
	From          string
	To            string
	BonusAllowed  bool
	Notes         string
	AppointmentID *int64
}

// Orchestrator charges and refunds, recording every completed movement as a
// Transaction. Bonus is used only if it covers the full value.
type Orchestrator struct {
	store    store.Store
	registry *Registry
	params   *params.Params
	log      *logging.Logger
	metrics  *metrics.Metrics
}

// NewOrchestrator creates an Orchestrator. metrics may be nil.
func NewOrchestrator(s store.Store, registry *Registry, p *params.Params, logger *logging.Logger, m *metrics.Metrics) *Orchestrator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Orchestrator{store: s, registry: registry, params: p, log: logger, metrics: m}
}

// Coverage returns how much of value from could pay with the current
// configuration: the full value if either bonus or the primary method covers
// it, otherwise what the primary method covers.
func (o *Orchestrator) Coverage(ctx context.Context, value int64, from string, bonusAllowed bool) (int64, error) {
	if bonusAllowed {
		bonus, err := o.bonusMethod(ctx)
		if err != nil {
			return 0, err
		}
		covered, err := bonus.Coverage(ctx, value, from)
		if err != nil {
			return 0, err
		}
		if covered >= value {
			return value, nil
		}
	}
	primary, err := o.primaryMethod(ctx)
	if err != nil {
		return 0, err
	}
	return primary.Coverage(ctx, value, from)
}

// Pay charges c.Value in full or not at all. On failure any partial amount is
// refunded before the *Error is returned, and no Transaction is stored.
func (o *Orchestrator) Pay(ctx context.Context, c Charge) (*model.Transaction, error) {
	if c.Value <= 0 {
		return nil, fmt.Errorf("charge value must be positive, got %d", c.Value)
	}

	method, isBonus, err := o.choose(ctx, c)
	if err != nil {
		return nil, err
	}

	receipt, payErr := method.Pay(ctx, c.Value, c.From, c.To, c.Notes)
	if payErr != nil || receipt.Amount != c.Value {
		if receipt.Amount > 0 {
			o.compensate(ctx, method, receipt)
		}
		if payErr == nil {
			payErr = errors.New("full payment was not achieved")
		}
		o.metrics.ObservePayment("pay", method.Name(), metrics.OutcomeFailed)
		return nil, &Error{Op: "pay", Method: method.Name(), Value: c.Value, Moved: receipt.Amount, Err: payErr}
	}

	txn := &model.Transaction{
		FromUser:      c.From,
		ToUser:        c.To,
		Value:         c.Value,
		IsBonus:       isBonus,
		Notes:         c.Notes,
		Method:        method.Name(),
		Reference:     receipt.Reference,
		AppointmentID: c.AppointmentID,
	}
	if err := o.store.CreateTransaction(ctx, txn); err != nil {
		o.compensate(ctx, method, receipt)
		o.metrics.ObservePayment("pay", method.Name(), metrics.OutcomeFailed)
		return nil, fmt.Errorf("failed to record transaction: %w", err)
	}
	o.metrics.ObservePayment("pay", method.Name(), metrics.OutcomeOK)
	return txn, nil
}

// Refund reverses txn in full through its original method and records the
// reverse Transaction. A partial refund is charged again before the *Error
// is returned, so the payer ends up where they started.
func (o *Orchestrator) Refund(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	if txn.RefundOf != nil {
		return nil, fmt.Errorf("transaction %d is itself a refund", txn.ID)
	}
	method, err := o.registry.Resolve(txn.Method)
	if err != nil {
		return nil, err
	}

	receipt, err := method.Refund(ctx, txn.Reference, txn.Value)
	if err != nil || receipt.Amount != txn.Value {
		if receipt.Amount > 0 {
			o.recharge(ctx, method, txn, receipt.Amount)
		}
		if err == nil {
			err = errors.New("full refund was not achieved")
		}
		o.metrics.ObservePayment("refund", method.Name(), metrics.OutcomeFailed)
		return nil, &Error{Op: "refund", Method: method.Name(), Value: txn.Value, Moved: receipt.Amount, Err: err}
	}

	refund := &model.Transaction{
		FromUser:      txn.ToUser,
		ToUser:        txn.FromUser,
		Value:         txn.Value,
		IsBonus:       txn.IsBonus,
		Notes:         fmt.Sprintf("refund of transaction %d", txn.ID),
		Method:        txn.Method,
		Reference:     receipt.Reference,
		AppointmentID: txn.AppointmentID,
		RefundOf:      &txn.ID,
	}
	if err := o.store.CreateTransaction(ctx, refund); err != nil {
		return nil, fmt.Errorf("failed to record refund of transaction %d: %w", txn.ID, err)
	}
	o.metrics.ObservePayment("refund", method.Name(), metrics.OutcomeOK)
	return refund, nil
}

// Void reverses the money movement behind txn without recording anything. It
// is used when the unit of work that stored txn is being rolled back.
func (o *Orchestrator) Void(ctx context.Context, txn *model.Transaction) {
	method, err := o.registry.Resolve(txn.Method)
	if err != nil {
		o.log.Error("cannot void payment", "transaction", txn.ID, "method", txn.Method, "error", err)
		return
	}
	o.compensate(ctx, method, Receipt{Amount: txn.Value, Reference: txn.Reference})
}

func (o *Orchestrator) compensate(ctx context.Context, method Method, receipt Receipt) {
	if _, err := method.Refund(ctx, receipt.Reference, receipt.Amount); err != nil {
		o.log.Error("compensating refund failed",
			"method", method.Name(), "reference", receipt.Reference, "amount", receipt.Amount, "error", err)
		o.metrics.ObservePayment("compensate", method.Name(), metrics.OutcomeFailed)
		return
	}
	o.metrics.ObservePayment("compensate", method.Name(), metrics.OutcomeOK)
}

// recharge takes back amount that a failed refund of txn already returned.
func (o *Orchestrator) recharge(ctx context.Context, method Method, txn *model.Transaction, amount int64) {
	notes := fmt.Sprintf("reversal of partial refund of transaction %d", txn.ID)
	if _, err := method.Pay(ctx, amount, txn.FromUser, txn.ToUser, notes); err != nil {
		o.log.Error("compensating charge failed",
			"method", method.Name(), "transaction", txn.ID, "amount", amount, "error", err)
		o.metrics.ObservePayment("compensate", method.Name(), metrics.OutcomeFailed)
		return
	}
	o.metrics.ObservePayment("compensate", method.Name(), metrics.OutcomeOK)
}

// choose picks bonus if it covers the whole value, else the primary method.
func (o *Orchestrator) choose(ctx context.Context, c Charge) (Method, bool, error) {
	if c.BonusAllowed {
		bonus, err := o.bonusMethod(ctx)
		if err != nil {
			return nil, false, err
		}
		covered, err := bonus.Coverage(ctx, c.Value, c.From)
		if err != nil {
			return nil, false, fmt.Errorf("bonus coverage: %w", err)
		}
		if covered >= c.Value {
			return bonus, true, nil
		}
	}
	primary, err := o.primaryMethod(ctx)
	return primary, false, err
}

func (o *Orchestrator) primaryMethod(ctx context.Context) (Method, error) {
	name, err := o.params.PaymentMethod(ctx)
	if err != nil {
		return nil, err
	}
	return o.registry.Resolve(name)
}

func (o *Orchestrator) bonusMethod(ctx context.Context) (Method, error) {
	name, err := o.params.BonusMethod(ctx)
	if err != nil {
		return nil, err
	}
	return o.registry.Resolve(name)
}
