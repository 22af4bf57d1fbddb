// Package appointment implements the appointment lifecycle: booking,
// rebooking, use and cancellation. Each operation runs as one database
// transaction together with its payment.
package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wasch-booking-backend/internal/accounts"
	"wasch-booking-backend/internal/calendar"
	"wasch-booking-backend/internal/eligibility"
	"wasch-booking-backend/internal/metrics"
	"wasch-booking-backend/internal/model"
	"wasch-booking-backend/internal/params"
	"wasch-booking-backend/internal/payment"
	"wasch-booking-backend/internal/queue"
	"wasch-booking-backend/internal/store"
	"wasch-booking-backend/pkg/logging"
)

// ErrAppointmentNotFound is returned when no appointment matches a lookup.
var ErrAppointmentNotFound = errors.New("appointment not found")

// Deps bundles the collaborators of a Service. Publisher, Metrics and Logger
// are optional.
type Deps struct {
	Store     store.Store
	Evaluator *eligibility.Evaluator
	Payments  *payment.Orchestrator
	Params    *params.Params
	Specials  *accounts.Specials
	Publisher queue.Publisher
	Metrics   *metrics.Metrics
	Logger    *logging.Logger
}

// Service runs appointment state transitions.
type Service struct {
	store     store.Store
	eval      *eligibility.Evaluator
	cal       *calendar.Calendar
	payments  *payment.Orchestrator
	params    *params.Params
	specials  *accounts.Specials
	publisher queue.Publisher
	metrics   *metrics.Metrics
	log       *logging.Logger
}

// NewService creates a lifecycle service.
func NewService(d Deps) *Service {
	if d.Publisher == nil {
		d.Publisher = queue.NopPublisher{}
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	return &Service{
		store:     d.Store,
		eval:      d.Evaluator,
		cal:       d.Evaluator.Calendar(),
		payments:  d.Payments,
		params:    d.Params,
		specials:  d.Specials,
		publisher: d.Publisher,
		metrics:   d.Metrics,
		log:       d.Logger,
	}
}

// MakeAppointment books (t, machine) for username and charges the price. A
// canceled appointment of the same user on the same slot is rebooked instead
// of creating a second row. If payment fails nothing is stored.
func (s *Service) MakeAppointment(ctx context.Context, t time.Time, machine int, username string) (*model.Appointment, error) {
	var (
		result  *model.Appointment
		charged *model.Transaction
		event   = queue.EventBooked
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := s.store.FindAppointment(ctx, t, machine, username)
		if err == nil && existing.Canceled && !existing.WasUsed {
			event = queue.EventRebooked
			result = existing
			charged, err = s.rebook(ctx, existing)
			return err
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if err := s.ensureBookable(ctx, t, machine, username); err != nil {
			return err
		}

		a := &model.Appointment{Time: t, MachineNumber: machine, Username: username}
		if err := s.store.CreateAppointment(ctx, a); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return eligibility.Deny(eligibility.AppointmentTaken)
			}
			return fmt.Errorf("failed to create appointment: %w", err)
		}

		txn, err := s.charge(ctx, a)
		if err != nil {
			if delErr := s.store.DeleteAppointment(ctx, a.ID); delErr != nil {
				s.log.Error("failed to delete unpaid appointment", "appointment", a.ID, "error", delErr)
			}
			return err
		}
		charged = txn
		if err := s.store.SetRefundableTransaction(ctx, a.ID, &txn.ID); err != nil {
			return fmt.Errorf("failed to attach transaction: %w", err)
		}
		a.RefundableTransactionID = &txn.ID
		result = a
		return nil
	})
	if err != nil {
		s.voidAfterRollback(ctx, charged)
		s.observe("book", err)
		return nil, err
	}
	s.observe("book", nil)
	s.publish(ctx, event, result)
	return result, nil
}

// Rebook turns a canceled appointment back into a booked one and charges the
// price again under the current payment configuration.
func (s *Service) Rebook(ctx context.Context, id int64) (*model.Appointment, error) {
	var (
		result  *model.Appointment
		charged *model.Transaction
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.lock(ctx, id)
		if err != nil {
			return err
		}
		result = a
		charged, err = s.rebook(ctx, a)
		return err
	})
	if err != nil {
		s.voidAfterRollback(ctx, charged)
		s.observe("rebook", err)
		return nil, err
	}
	s.observe("rebook", nil)
	s.publish(ctx, queue.EventRebooked, result)
	return result, nil
}

func (s *Service) rebook(ctx context.Context, a *model.Appointment) (*model.Transaction, error) {
	if a.WasUsed {
		return nil, eligibility.Deny(eligibility.AlreadyUsed)
	}
	if err := s.ensureBookable(ctx, a.Time, a.MachineNumber, a.Username); err != nil {
		return nil, err
	}
	if err := s.store.Reactivate(ctx, a.ID, nil); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, eligibility.Deny(eligibility.AppointmentTaken)
		}
		return nil, fmt.Errorf("failed to reactivate appointment %d: %w", a.ID, err)
	}
	txn, err := s.charge(ctx, a)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetRefundableTransaction(ctx, a.ID, &txn.ID); err != nil {
		return txn, fmt.Errorf("failed to attach transaction: %w", err)
	}
	a.Canceled = false
	a.RefundableTransactionID = &txn.ID
	return txn, nil
}

// Use marks a booked appointment as used. Machine availability and the
// user's activation are checked again at this point. An appointment can only
// be used from its start until the use period has passed.
func (s *Service) Use(ctx context.Context, id int64) (*model.Appointment, error) {
	var result *model.Appointment
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.lock(ctx, id)
		if err != nil {
			return err
		}

		m, err := s.optionalMachine(ctx, a.MachineNumber)
		if err != nil {
			return err
		}
		if r := eligibility.MachineReason(m); r != eligibility.None {
			return eligibility.Deny(r)
		}
		u, err := s.optionalUser(ctx, a.Username)
		if err != nil {
			return err
		}
		if r := eligibility.UserReason(u); r != eligibility.None {
			return eligibility.Deny(r)
		}
		if a.Canceled {
			return eligibility.Deny(eligibility.AppointmentCanceled)
		}
		if a.WasUsed {
			return eligibility.Deny(eligibility.AlreadyUsed)
		}
		usable, err := s.withinUsePeriod(ctx, a)
		if err != nil {
			return err
		}
		if !usable {
			return eligibility.Deny(eligibility.UnsupportedTime)
		}

		if err := s.store.MarkUsed(ctx, a.ID); err != nil {
			return s.transitionError(ctx, a.ID, err)
		}
		a.WasUsed = true
		result = a
		return nil
	})
	s.observe("use", err)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, queue.EventUsed, result)
	return result, nil
}

// Cancel cancels a booked appointment, refunding its refundable transaction.
// A failed refund leaves the appointment booked.
func (s *Service) Cancel(ctx context.Context, id int64) (*model.Appointment, error) {
	var result *model.Appointment
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.lock(ctx, id)
		if err != nil {
			return err
		}
		if a.WasUsed {
			return eligibility.Deny(eligibility.AlreadyUsed)
		}
		if a.Canceled {
			return eligibility.Deny(eligibility.AppointmentCanceled)
		}

		if a.RefundableTransactionID != nil {
			txn, err := s.store.GetTransaction(ctx, *a.RefundableTransactionID)
			if err != nil {
				return fmt.Errorf("failed to load transaction %d: %w", *a.RefundableTransactionID, err)
			}
			if _, err := s.payments.Refund(ctx, txn); err != nil {
				return err
			}
		}

		if err := s.store.MarkCanceled(ctx, a.ID); err != nil {
			return s.transitionError(ctx, a.ID, err)
		}
		a.Canceled = true
		a.RefundableTransactionID = nil
		result = a
		return nil
	})
	s.observe("cancel", err)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, queue.EventCanceled, result)
	return result, nil
}

// withinUsePeriod reports whether now lies in [a.Time, a.Time+use-period).
// The refund sweep only considers appointments past that window.
func (s *Service) withinUsePeriod(ctx context.Context, a *model.Appointment) (bool, error) {
	period, err := s.params.UsePeriod(ctx)
	if err != nil {
		return false, err
	}
	now := s.cal.Now()
	return !now.Before(a.Time) && now.Before(a.Time.Add(period)), nil
}

// Transactions lists the payment and refunds recorded for an appointment.
func (s *Service) Transactions(ctx context.Context, id int64) ([]model.Transaction, error) {
	return s.store.TransactionsForAppointment(ctx, id)
}

func (s *Service) ensureBookable(ctx context.Context, t time.Time, machine int, username string) error {
	reason, err := s.eval.WhyNotBookable(ctx, t, machine, username)
	if err != nil {
		return err
	}
	if reason != eligibility.None {
		return eligibility.Deny(reason)
	}
	return nil
}

func (s *Service) charge(ctx context.Context, a *model.Appointment) (*model.Transaction, error) {
	price, err := s.params.Price(ctx)
	if err != nil {
		return nil, err
	}
	ref, err := s.Reference(a)
	if err != nil {
		return nil, err
	}
	return s.payments.Pay(ctx, payment.Charge{
		Value:         price,
		From:          a.Username,
		To:            s.specials.Service.Username,
		BonusAllowed:  true,
		Notes:         fmt.Sprintf("appointment %d on machine %d at %s", ref, a.MachineNumber, a.Time.In(s.cal.Location()).Format(time.DateTime)),
		AppointmentID: &a.ID,
	})
}

// voidAfterRollback compensates a charge whose enclosing transaction did
// not commit. Bonus transfers live in the same database transaction and are
// already undone by the rollback.
func (s *Service) voidAfterRollback(ctx context.Context, txn *model.Transaction) {
	if txn == nil || txn.IsBonus {
		return
	}
	s.log.Warn("voiding payment of rolled back appointment", "method", txn.Method, "reference", txn.Reference)
	s.payments.Void(context.WithoutCancel(ctx), txn)
}

func (s *Service) lock(ctx context.Context, id int64) (*model.Appointment, error) {
	a, err := s.store.LockAppointment(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAppointmentNotFound
	}
	return a, err
}

// transitionError maps a lost conditional update onto the reason matching
// the appointment's current state.
func (s *Service) transitionError(ctx context.Context, id int64, err error) error {
	if !errors.Is(err, store.ErrConflict) {
		return err
	}
	current, getErr := s.store.GetAppointment(ctx, id)
	if getErr != nil {
		return err
	}
	switch {
	case current.WasUsed:
		return eligibility.Deny(eligibility.AlreadyUsed)
	case current.Canceled:
		return eligibility.Deny(eligibility.AppointmentCanceled)
	}
	return err
}

func (s *Service) optionalMachine(ctx context.Context, number int) (*model.Machine, error) {
	m, err := s.store.GetMachine(ctx, number)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return m, err
}

func (s *Service) optionalUser(ctx context.Context, username string) (*model.WashUser, error) {
	u, err := s.store.GetUser(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return u, err
}

func (s *Service) observe(operation string, err error) {
	switch {
	case err == nil:
		s.metrics.ObserveLifecycle(operation, metrics.OutcomeOK)
	case errors.Is(err, eligibility.ErrDenied):
		s.metrics.ObserveLifecycle(operation, metrics.OutcomeDenied)
	default:
		s.metrics.ObserveLifecycle(operation, metrics.OutcomeFailed)
	}
}

func (s *Service) publish(ctx context.Context, eventType queue.EventType, a *model.Appointment) {
	ref, err := s.Reference(a)
	if err != nil {
		s.log.Warn("cannot compute reference for event", "appointment", a.ID, "error", err)
	}
	event := queue.AppointmentEvent{
		Type:          eventType,
		AppointmentID: a.ID,
		Reference:     ref,
		Time:          a.Time.UTC(),
		Machine:       a.MachineNumber,
		Username:      a.Username,
		TransactionID: a.RefundableTransactionID,
		OccurredAt:    time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.Warn("failed to publish appointment event", "type", eventType, "appointment", a.ID, "error", err)
	}
}
