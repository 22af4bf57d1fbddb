// Package eligibility decides whether a (time, machine, user) triple can be
// booked. Checks run in a fixed order and the first failing one wins:
// machine, user group, user activation, ration, existing appointment, time.
package eligibility

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wasch-booking-backend/internal/calendar"
	"wasch-booking-backend/internal/model"
	"wasch-booking-backend/internal/params"
	"wasch-booking-backend/internal/store"
)

// Evaluator answers booking eligibility queries against the store.
type Evaluator struct {
	store  store.Store
	params *params.Params
	cal    *calendar.Calendar
}

// New creates an Evaluator.
func New(s store.Store, p *params.Params, cal *calendar.Calendar) *Evaluator {
	return &Evaluator{store: s, params: p, cal: cal}
}

// Calendar returns the slot grid the evaluator checks times against.
func (e *Evaluator) Calendar() *calendar.Calendar {
	return e.cal
}

// MachineReason checks machine availability. A nil machine is unavailable.
func MachineReason(m *model.Machine) Reason {
	if m == nil || !m.IsAvailable {
		return MachineUnavailable
	}
	return None
}

// UserReason checks group membership and activation. A nil user is not active.
func UserReason(u *model.WashUser) Reason {
	if u == nil || !u.InGroup(model.GroupEnduser) || !u.IsActivated {
		return UserNotActive
	}
	return None
}

// WhyNotBookable returns the first reason the slot cannot be booked by
// username, or None.
func (e *Evaluator) WhyNotBookable(ctx context.Context, t time.Time, machine int, username string) (Reason, error) {
	m, err := e.machine(ctx, machine)
	if err != nil {
		return None, err
	}
	if r := MachineReason(m); r != None {
		return r, nil
	}

	u, err := e.user(ctx, username)
	if err != nil {
		return None, err
	}
	if r := UserReason(u); r != None {
		return r, nil
	}

	remaining, unlimited, err := e.remaining(ctx, u)
	if err != nil {
		return None, err
	}
	if !unlimited && remaining < 1 {
		return RationExhausted, nil
	}

	if _, err := e.store.ActiveAppointmentAt(ctx, t, machine); err == nil {
		return AppointmentTaken, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return None, fmt.Errorf("failed to look up appointment: %w", err)
	}

	if !e.cal.IsScheduled(t, e.cal.Now()) {
		return UnsupportedTime, nil
	}
	return None, nil
}

// Bookable reports whether WhyNotBookable finds no reason.
func (e *Evaluator) Bookable(ctx context.Context, t time.Time, machine int, username string) (bool, error) {
	r, err := e.WhyNotBookable(ctx, t, machine, username)
	return r == None, err
}

// RemainingRation returns how many more appointments username may book in
// the current month. Unlimited is true for the god tier.
func (e *Evaluator) RemainingRation(ctx context.Context, username string) (remaining int64, unlimited bool, err error) {
	u, err := e.user(ctx, username)
	if err != nil {
		return 0, false, err
	}
	if u == nil {
		return 0, false, nil
	}
	return e.remaining(ctx, u)
}

// RationPeriod returns the month containing now, in calendar-local time.
func (e *Evaluator) RationPeriod() (from, to time.Time) {
	now := e.cal.Now().In(e.cal.Location())
	from = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, e.cal.Location())
	return from, from.AddDate(0, 1, 0)
}

func (e *Evaluator) remaining(ctx context.Context, u *model.WashUser) (int64, bool, error) {
	if u.Status == model.StatusGod {
		return 0, true, nil
	}
	ration, err := e.params.Ration(ctx)
	if err != nil {
		return 0, false, err
	}
	from, to := e.RationPeriod()
	counts, err := e.store.CountActiveAppointments(ctx, []string{u.Username}, from, to)
	if err != nil {
		return 0, false, fmt.Errorf("failed to count appointments of %s: %w", u.Username, err)
	}
	return ration - counts[u.Username], false, nil
}

func (e *Evaluator) machine(ctx context.Context, number int) (*model.Machine, error) {
	m, err := e.store.GetMachine(ctx, number)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load machine %d: %w", number, err)
	}
	return m, nil
}

func (e *Evaluator) user(ctx context.Context, username string) (*model.WashUser, error) {
	u, err := e.store.GetUser(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", username, err)
	}
	return u, nil
}
