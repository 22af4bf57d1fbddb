package refund

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wasch-booking-backend/internal/accounts"
	"wasch-booking-backend/internal/appointment"
	"wasch-booking-backend/internal/calendar"
	"wasch-booking-backend/internal/eligibility"
	"wasch-booking-backend/internal/model"
	"wasch-booking-backend/internal/notification"
	"wasch-booking-backend/internal/params"
	"wasch-booking-backend/internal/payment"
	"wasch-booking-backend/internal/queue"
	"wasch-booking-backend/internal/store"
	"wasch-booking-backend/internal/store/storetest"
)

var firstSlot = time.Date(2026, time.October, 15, 10, 30, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notification.Notice
}

func (n *recordingNotifier) Notify(notice notification.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.AppointmentEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e queue.AppointmentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

type refundlessMethod struct{ payment.InfiniteMethod }

func (refundlessMethod) Refund(context.Context, string, int64) (payment.Receipt, error) {
	return payment.Receipt{}, payment.ErrDeclined
}

type fixture struct {
	store     store.Store
	clock     *clock
	registry  *payment.Registry
	bonus     *payment.BonusMethod
	booking   *appointment.Service
	notifier  *recordingNotifier
	publisher *recordingPublisher
	sweeper   *Sweeper
}

func newFixture(t *testing.T, locker Locker) *fixture {
	t.Helper()
	ctx := context.Background()
	s := storetest.New(t)

	users := accounts.NewService(s, nil)
	specials, err := users.Setup(ctx)
	require.NoError(t, err)
	for _, n := range accounts.DefaultMachines {
		require.NoError(t, s.SetMachineAvailability(ctx, n, true))
	}
	for _, name := range []string{"alice", "bob"} {
		_, err := users.CreateEnduser(ctx, name)
		require.NoError(t, err)
		_, err = users.Activate(ctx, name)
		require.NoError(t, err)
	}

	clk := &clock{now: firstSlot.Add(-30 * time.Minute)}
	cal, err := calendar.New(16, time.UTC, calendar.WithClock(clk.Now))
	require.NoError(t, err)

	p := params.New(s)
	require.NoError(t, p.UpdateValue(ctx, params.PaymentMethod, "infinite"))
	bonus := payment.NewBonusMethod(s, specials)
	require.NoError(t, bonus.Init(ctx))
	registry := payment.NewRegistry(payment.EmptyMethod{}, payment.InfiniteMethod{}, bonus)
	payments := payment.NewOrchestrator(s, registry, p, nil, nil)

	booking := appointment.NewService(appointment.Deps{
		Store:     s,
		Evaluator: eligibility.New(s, p, cal),
		Payments:  payments,
		Params:    p,
		Specials:  specials,
	})

	f := &fixture{
		store:     s,
		clock:     clk,
		registry:  registry,
		bonus:     bonus,
		booking:   booking,
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
	}
	f.sweeper = NewSweeper(Deps{
		Store:      s,
		Payments:   payments,
		Params:     p,
		References: booking,
		Locker:     locker,
		Notifier:   f.notifier,
		Publisher:  f.publisher,
		Now:        clk.Now,
	})
	return f
}

func (f *fixture) book(t *testing.T, at time.Time, machine int, user string) *model.Appointment {
	t.Helper()
	a, err := f.booking.MakeAppointment(context.Background(), at, machine, user)
	require.NoError(t, err)
	return a
}

// pastUsePeriod moves the clock just beyond the default use period of slot.
func (f *fixture) pastUsePeriod(slot time.Time) {
	f.clock.Set(slot.Add(150*time.Minute + time.Minute))
}

func TestAutoRefundAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	unused := f.book(t, firstSlot, 1, "alice")
	used := f.book(t, firstSlot, 2, "bob")
	canceled := f.book(t, firstSlot, 3, "alice")
	later := f.book(t, firstSlot.Add(6*time.Hour), 1, "bob")
	paid := *unused.RefundableTransactionID

	f.clock.Set(firstSlot.Add(10 * time.Minute))
	_, err := f.booking.Use(ctx, used.ID)
	require.NoError(t, err)
	_, err = f.booking.Cancel(ctx, canceled.ID)
	require.NoError(t, err)

	f.pastUsePeriod(firstSlot)
	report, err := f.sweeper.AutoRefundAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Attempted)
	assert.Equal(t, 1, report.Succeeded)
	assert.Zero(t, report.Failed)
	assert.NoError(t, report.Err())
	assert.Equal(t, []int64{unused.ID}, report.Refunded)

	a, err := f.store.GetAppointment(ctx, unused.ID)
	require.NoError(t, err)
	assert.Nil(t, a.RefundableTransactionID)
	assert.False(t, a.WasUsed)
	assert.False(t, a.Canceled)

	txns, err := f.store.TransactionsForAppointment(ctx, unused.ID)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	require.NotNil(t, txns[1].RefundOf)
	assert.Equal(t, paid, *txns[1].RefundOf)

	stillPaid, err := f.store.GetAppointment(ctx, later.ID)
	require.NoError(t, err)
	assert.NotNil(t, stillPaid.RefundableTransactionID)
	usedRow, err := f.store.GetAppointment(ctx, used.ID)
	require.NoError(t, err)
	assert.NotNil(t, usedRow.RefundableTransactionID)

	require.Len(t, f.notifier.notices, 1)
	assert.Equal(t, "alice", f.notifier.notices[0].Username)
	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, queue.EventAutoRefunded, f.publisher.events[0].Type)
	assert.Equal(t, unused.ID, f.publisher.events[0].AppointmentID)

	again, err := f.sweeper.AutoRefundAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Attempted)
}

func TestAutoRefundAll_NotBeforeUsePeriodEnds(t *testing.T) {
	f := newFixture(t, nil)
	f.book(t, firstSlot, 1, "alice")

	f.clock.Set(firstSlot.Add(150 * time.Minute))
	report, err := f.sweeper.AutoRefundAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Attempted)
}

func TestAutoRefundAll_RefundedAppointmentCannotBeUsed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	a := f.book(t, firstSlot, 1, "alice")

	f.clock.Set(firstSlot.Add(10 * time.Hour))
	report, err := f.sweeper.AutoRefundAll(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{a.ID}, report.Refunded)

	_, err = f.booking.Use(ctx, a.ID)
	reason, ok := eligibility.ReasonOf(err)
	require.True(t, ok, "expected a denial, got %v", err)
	assert.Equal(t, eligibility.UnsupportedTime, reason)

	stored, err := f.store.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, stored.WasUsed)
}

func TestAutoRefundAll_FailureDoesNotAbortSweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.bonus.AwardBonus(ctx, 100, "alice", accounts.GodUsername, "")
	require.NoError(t, err)
	byBonus := f.book(t, firstSlot, 1, "alice")
	byCard := f.book(t, firstSlot, 2, "bob")

	f.registry.Register(refundlessMethod{})
	f.pastUsePeriod(firstSlot)

	report, err := f.sweeper.AutoRefundAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Attempted)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, byCard.ID, report.Failures[0].AppointmentID)
	assert.Equal(t, *byCard.RefundableTransactionID, report.Failures[0].TransactionID)
	assert.ErrorIs(t, report.Err(), payment.ErrPaymentFailed)

	failed, err := f.store.GetAppointment(ctx, byCard.ID)
	require.NoError(t, err)
	assert.Equal(t, byCard.RefundableTransactionID, failed.RefundableTransactionID)

	refunded, err := f.store.GetAppointment(ctx, byBonus.ID)
	require.NoError(t, err)
	assert.Nil(t, refunded.RefundableTransactionID)
	balance, err := f.bonus.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestRefundOne_SkipsChangedLink(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	a := f.book(t, firstSlot, 1, "alice")

	stale := *a
	wrong := *a.RefundableTransactionID + 1000
	stale.RefundableTransactionID = &wrong

	refund, err := f.sweeper.refundOne(ctx, &stale)
	require.NoError(t, err)
	assert.Nil(t, refund)

	txns, err := f.store.TransactionsForAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}

func TestRunOnce_RespectsLock(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)
	f := newFixture(t, NewRedisLocker(client, "", time.Minute))
	a := f.book(t, firstSlot, 1, "alice")
	f.pastUsePeriod(firstSlot)

	release, err := NewRedisLocker(client, "", time.Minute).Acquire(ctx)
	require.NoError(t, err)

	_, err = f.sweeper.RunOnce(ctx)
	assert.ErrorIs(t, err, ErrLocked)
	row, err := f.store.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.NotNil(t, row.RefundableTransactionID)

	require.NoError(t, release(ctx))
	report, err := f.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
}

func TestRun_StopsWithContext(t *testing.T) {
	f := newFixture(t, nil)
	a := f.book(t, firstSlot, 1, "alice")
	f.pastUsePeriod(firstSlot)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.sweeper.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		row, err := f.store.GetAppointment(context.Background(), a.ID)
		return err == nil && row.RefundableTransactionID == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
