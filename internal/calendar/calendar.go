// Package calendar converts between wall-clock time and the fixed grid of
// booking slots. Every day is split at local midnight into SlotsPerDay
// slots of equal length; the booking horizon is the next seven days of slots.
package calendar

import (
	"fmt"
	"time"
)

const (
	day = 24 * time.Hour

	// HorizonDays is the number of days of slots offered for booking.
	HorizonDays = 7
)

// Calendar holds the slot grid configuration.
type Calendar struct {
	slotsPerDay int
	slotLength  time.Duration
	loc         *time.Location
	now         func() time.Time
}

// Option configures a Calendar.
type Option func(*Calendar)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Calendar) {
		c.now = now
	}
}

// New creates a Calendar. slotsPerDay must divide a day into whole nanoseconds.
func New(slotsPerDay int, loc *time.Location, opts ...Option) (*Calendar, error) {
	if slotsPerDay <= 0 {
		return nil, fmt.Errorf("slots per day must be positive, got %d", slotsPerDay)
	}
	if day%time.Duration(slotsPerDay) != 0 {
		return nil, fmt.Errorf("slots per day %d does not divide a day evenly", slotsPerDay)
	}
	if loc == nil {
		loc = time.Local
	}
	c := &Calendar{
		slotsPerDay: slotsPerDay,
		slotLength:  day / time.Duration(slotsPerDay),
		loc:         loc,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SlotsPerDay returns the number of slots in one day.
func (c *Calendar) SlotsPerDay() int { return c.slotsPerDay }

// SlotLength returns the duration of one slot.
func (c *Calendar) SlotLength() time.Duration { return c.slotLength }

// Location returns the time zone whose midnight starts each day.
func (c *Calendar) Location() *time.Location { return c.loc }

// Now returns the calendar clock's current time.
func (c *Calendar) Now() time.Time { return c.now() }

// HorizonLength is the number of slots in the booking horizon.
func (c *Calendar) HorizonLength() int { return c.slotsPerDay * HorizonDays }

// Midnight returns the local midnight starting t's day.
func (c *Calendar) Midnight(t time.Time) time.Time {
	lt := t.In(c.loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, c.loc)
}

// SlotIndexAtOrAfter returns the first slot index starting at or after t.
// A remainder of even one nanosecond past a boundary rounds up. The result
// may equal SlotsPerDay, meaning the first slot of the following day. On a
// day longer than 24h (daylight saving fall-back) the time after the last
// slot also maps to SlotsPerDay.
func (c *Calendar) SlotIndexAtOrAfter(t time.Time) int {
	offset := t.Sub(c.Midnight(t))
	idx := int(offset / c.slotLength)
	if offset%c.slotLength != 0 {
		idx++
	}
	return min(idx, c.slotsPerDay)
}

// SlotIndexContaining returns the index of the slot whose window contains t.
// The extra hour of a fall-back day belongs to the day's last slot.
func (c *Calendar) SlotIndexContaining(t time.Time) int {
	return min(int(t.Sub(c.Midnight(t))/c.slotLength), c.slotsPerDay-1)
}

// TimeOfSlotIndex returns the offset from midnight at which slot n starts,
// reduced modulo one day.
func (c *Calendar) TimeOfSlotIndex(n int) time.Duration {
	d := (time.Duration(n) * c.slotLength) % day
	if d < 0 {
		d += day
	}
	return d
}

// SlotStart returns the start of slot n counted from the midnight of the day
// containing t. Indices beyond one day roll into the following days.
func (c *Calendar) SlotStart(t time.Time, n int) time.Time {
	m := c.Midnight(t)
	days := n / c.slotsPerDay
	idx := n % c.slotsPerDay
	if idx < 0 {
		idx += c.slotsPerDay
		days--
	}
	base := time.Date(m.Year(), m.Month(), m.Day()+days, 0, 0, 0, 0, c.loc)
	return base.Add(time.Duration(idx) * c.slotLength)
}

// IsSlotBoundary reports whether t is exactly the start of a slot.
func (c *Calendar) IsSlotBoundary(t time.Time) bool {
	return t.Sub(c.Midnight(t))%c.slotLength == 0
}

// ScheduledSlots returns the booking horizon: HorizonLength consecutive slot
// start times beginning with the first slot at or after start. A zero start
// means now. The horizon is never stored; it is recomputed on every call.
func (c *Calendar) ScheduledSlots(start time.Time) []time.Time {
	if start.IsZero() {
		start = c.now()
	}
	first := c.SlotIndexAtOrAfter(start)
	slots := make([]time.Time, 0, c.HorizonLength())
	for i := 0; i < c.HorizonLength(); i++ {
		slots = append(slots, c.SlotStart(start, first+i))
	}
	return slots
}

// IsScheduled reports whether t is one of the horizon slots as seen at now.
func (c *Calendar) IsScheduled(t, now time.Time) bool {
	if now.IsZero() {
		now = c.now()
	}
	first := c.SlotStart(now, c.SlotIndexAtOrAfter(now))
	last := c.SlotStart(now, c.SlotIndexAtOrAfter(now)+c.HorizonLength()-1)
	if t.Before(first) || t.After(last) {
		return false
	}
	return c.IsSlotBoundary(t)
}
