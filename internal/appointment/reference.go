package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wasch-booking-backend/internal/model"
	"wasch-booking-backend/internal/reference"
	"wasch-booking-backend/internal/store"
)

// Resolved is what a reference code points at. Appointment is nil when the
// lookup was made without a user.
type Resolved struct {
	Reference   uint32
	Time        time.Time
	Machine     *model.Machine
	Appointment *model.Appointment
}

// Reference encodes the local date, slot and machine of a.
func (s *Service) Reference(a *model.Appointment) (uint32, error) {
	local := a.Time.In(s.cal.Location())
	return reference.Encode(local, s.cal.SlotIndexContaining(local), a.MachineNumber)
}

// FromReference decodes ref. Without a username only the slot and machine
// are resolved. An unknown machine is an error unless allowUnsavedMachine is
// set, in which case a placeholder machine is returned.
func (s *Service) FromReference(ctx context.Context, ref uint32, username string, allowUnsavedMachine bool) (*Resolved, error) {
	date, slot, number, err := reference.Decode(ref)
	if err != nil {
		return nil, err
	}
	if slot >= s.cal.SlotsPerDay() {
		return nil, &reference.InvalidError{
			Kind:      reference.FieldOverflow,
			Reference: ref,
			Detail:    fmt.Sprintf("slot %d outside the %d slots of a day", slot, s.cal.SlotsPerDay()),
		}
	}
	loc := s.cal.Location()
	t := s.cal.SlotStart(time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc), slot)

	m, err := s.store.GetMachine(ctx, number)
	switch {
	case errors.Is(err, store.ErrNotFound) && allowUnsavedMachine:
		m = &model.Machine{Number: number}
	case errors.Is(err, store.ErrNotFound):
		return nil, &reference.InvalidError{Kind: reference.UnknownMachine, Reference: ref, Detail: fmt.Sprintf("machine %d", number)}
	case err != nil:
		return nil, err
	}

	resolved := &Resolved{Reference: ref, Time: t, Machine: m}
	if username == "" {
		return resolved, nil
	}
	a, err := s.store.FindAppointment(ctx, t, number, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, err
	}
	resolved.Appointment = a
	return resolved, nil
}
