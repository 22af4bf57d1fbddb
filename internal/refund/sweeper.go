// Package refund runs the auto-refund sweep: appointments that were booked
// but never used get their payment back once the slot can no longer be used.
// The appointment itself stays booked; only the charge is reversed.
package refund

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wasch-booking-backend/internal/metrics"
	"wasch-booking-backend/internal/model"
	"wasch-booking-backend/internal/notification"
	"wasch-booking-backend/internal/params"
	"wasch-booking-backend/internal/payment"
	"wasch-booking-backend/internal/queue"
	"wasch-booking-backend/internal/store"
	"wasch-booking-backend/pkg/logging"
)

// Referencer computes the public reference code of an appointment.
type Referencer interface {
	Reference(a *model.Appointment) (uint32, error)
}

// ItemFailure records why one appointment could not be refunded.
type ItemFailure struct {
	AppointmentID int64
	TransactionID int64
	Err           error
}

func (f ItemFailure) Error() string {
	return fmt.Sprintf("auto-refund of appointment %d (transaction %d) failed: %v", f.AppointmentID, f.TransactionID, f.Err)
}

func (f ItemFailure) Unwrap() error { return f.Err }

// Report summarizes one sweep pass. Skipped counts candidates that changed
// state between the scan and their refund.
type Report struct {
	Cutoff    time.Time
	Attempted int
	Succeeded int
	Skipped   int
	Failed    int
	Failures  []ItemFailure
	Refunded  []int64
}

// Err joins the item failures, or returns nil if there were none.
func (r *Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Deps bundles the collaborators of a Sweeper. Locker, Notifier, Publisher,
// Metrics, Logger and Now are optional.
type Deps struct {
	Store      store.Store
	Payments   *payment.Orchestrator
	Params     *params.Params
	References Referencer
	Locker     Locker
	Notifier   notification.Notifier
	Publisher  queue.Publisher
	Metrics    *metrics.Metrics
	Logger     *logging.Logger
	Now        func() time.Time
}

// Sweeper refunds unused appointments.
type Sweeper struct {
	store     store.Store
	payments  *payment.Orchestrator
	params    *params.Params
	refs      Referencer
	locker    Locker
	notifier  notification.Notifier
	publisher queue.Publisher
	metrics   *metrics.Metrics
	log       *logging.Logger
	now       func() time.Time
}

// NewSweeper creates a Sweeper.
func NewSweeper(d Deps) *Sweeper {
	if d.Locker == nil {
		d.Locker = NopLocker{}
	}
	if d.Notifier == nil {
		d.Notifier = notification.NopNotifier{}
	}
	if d.Publisher == nil {
		d.Publisher = queue.NopPublisher{}
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Sweeper{
		store:     d.Store,
		payments:  d.Payments,
		params:    d.Params,
		refs:      d.References,
		locker:    d.Locker,
		notifier:  d.Notifier,
		publisher: d.Publisher,
		metrics:   d.Metrics,
		log:       d.Logger,
		now:       d.Now,
	}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	s.log.Info("starting auto-refund sweeper", "interval", interval.String())
	s.sweepLogged(ctx)

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("auto-refund sweeper shutting down")
			return
		case <-timer.C:
			s.sweepLogged(ctx)
			timer.Reset(interval)
		}
	}
}

func (s *Sweeper) sweepLogged(ctx context.Context) {
	report, err := s.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrLocked):
		s.log.Info("auto-refund sweep skipped, lock held elsewhere")
	case err != nil:
		s.log.Error("auto-refund sweep failed", "error", err)
	default:
		for _, f := range report.Failures {
			s.log.Warn("auto-refund item failed", "appointment", f.AppointmentID, "transaction", f.TransactionID, "error", f.Err)
		}
	}
}

// RunOnce takes the sweep lock and runs AutoRefundAll.
func (s *Sweeper) RunOnce(ctx context.Context) (*Report, error) {
	release, err := s.locker.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("failed to release sweep lock", "error", err)
		}
	}()
	return s.AutoRefundAll(ctx)
}

// AutoRefundAll refunds every booked, unused appointment whose slot started
// more than the use period ago and still holds a refundable transaction. A
// failing item is recorded in the report and does not stop the pass; the
// returned error is reserved for failures of the scan itself.
func (s *Sweeper) AutoRefundAll(ctx context.Context) (*Report, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveSweepDuration(time.Since(start).Seconds()) }()

	usePeriod, err := s.params.UsePeriod(ctx)
	if err != nil {
		return nil, err
	}
	report := &Report{Cutoff: s.now().Add(-usePeriod).UTC()}

	candidates, err := s.store.RefundCandidates(ctx, report.Cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list refund candidates: %w", err)
	}

	for i := range candidates {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		a := &candidates[i]
		report.Attempted++
		refunded, err := s.refundOne(ctx, a)
		switch {
		case err != nil:
			report.Failed++
			report.Failures = append(report.Failures, ItemFailure{AppointmentID: a.ID, TransactionID: *a.RefundableTransactionID, Err: err})
			s.metrics.ObserveSweepItem(metrics.OutcomeFailed)
		case refunded == nil:
			report.Skipped++
			s.metrics.ObserveSweepItem(metrics.OutcomeSkipped)
		default:
			report.Succeeded++
			report.Refunded = append(report.Refunded, a.ID)
			s.metrics.ObserveSweepItem(metrics.OutcomeOK)
			s.announce(ctx, a, refunded)
		}
	}
	if report.Attempted > 0 {
		s.log.Info("auto-refund sweep finished",
			"attempted", report.Attempted, "succeeded", report.Succeeded,
			"skipped", report.Skipped, "failed", report.Failed)
	}
	return report, nil
}

// refundOne clears the link to the transaction read during the scan and
// refunds it, in one database transaction. It returns nil without error if
// the appointment no longer holds that transaction.
func (s *Sweeper) refundOne(ctx context.Context, a *model.Appointment) (*model.Transaction, error) {
	expected := *a.RefundableTransactionID
	var refund *model.Transaction
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.store.ClearRefundableTransaction(ctx, a.ID, expected); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return nil
			}
			return err
		}
		txn, err := s.store.GetTransaction(ctx, expected)
		if err != nil {
			return fmt.Errorf("failed to load transaction %d: %w", expected, err)
		}
		refund, err = s.payments.Refund(ctx, txn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return refund, nil
}

func (s *Sweeper) announce(ctx context.Context, a *model.Appointment, refund *model.Transaction) {
	ref, err := s.refs.Reference(a)
	if err != nil {
		s.log.Warn("cannot compute reference for refunded appointment", "appointment", a.ID, "error", err)
	}
	s.notifier.Notify(notification.Notice{
		Username: a.Username,
		Message:  fmt.Sprintf("Your unused appointment %d on machine %d was refunded (%d).", ref, a.MachineNumber, refund.Value),
	})
	event := queue.AppointmentEvent{
		Type:          queue.EventAutoRefunded,
		AppointmentID: a.ID,
		Reference:     ref,
		Time:          a.Time.UTC(),
		Machine:       a.MachineNumber,
		Username:      a.Username,
		TransactionID: &refund.ID,
		OccurredAt:    time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.Warn("failed to publish auto-refund event", "appointment", a.ID, "error", err)
	}
}
