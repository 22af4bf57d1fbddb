package calendar

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, time.October, 15, 10, 0, 0, 0, time.UTC)

func newTestCalendar(t *testing.T) *Calendar {
	t.Helper()
	c, err := New(16, time.UTC, WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	return c
}

func TestNew_RejectsInvalidSlotCounts(t *testing.T) {
	_, err := New(0, time.UTC)
	assert.Error(t, err)

	_, err = New(7, time.UTC)
	assert.Error(t, err, "a day is not divisible into 7 whole-nanosecond slots")

	c, err := New(16, nil)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, c.SlotLength())
	assert.Equal(t, time.Local, c.Location())
}

func TestSlotIndexes(t *testing.T) {
	c := newTestCalendar(t)
	base := time.Date(2026, time.October, 15, 0, 0, 0, 0, time.UTC)

	testCases := []struct {
		name       string
		at         time.Time
		atOrAfter  int
		containing int
	}{
		{"midnight", base, 0, 0},
		{"between boundaries", base.Add(10 * time.Hour), 7, 6},
		{"exact boundary", base.Add(10*time.Hour + 30*time.Minute), 7, 7},
		{"one nanosecond past boundary", base.Add(10*time.Hour + 30*time.Minute + time.Nanosecond), 8, 7},
		{"last slot of day", base.Add(23 * time.Hour), 16, 15},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.atOrAfter, c.SlotIndexAtOrAfter(tc.at))
			assert.Equal(t, tc.containing, c.SlotIndexContaining(tc.at))
		})
	}
}

func TestSlotIndexes_UseLocalMidnight(t *testing.T) {
	berlin := time.FixedZone("CET", 3600)
	c, err := New(16, berlin)
	require.NoError(t, err)

	// 23:30 UTC is 00:30 the next day in CET, inside slot 0.
	at := time.Date(2026, time.October, 15, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, 0, c.SlotIndexContaining(at))
	assert.Equal(t, 1, c.SlotIndexAtOrAfter(at))
}

func TestTimeOfSlotIndex(t *testing.T) {
	c := newTestCalendar(t)

	assert.Equal(t, time.Duration(0), c.TimeOfSlotIndex(0))
	assert.Equal(t, 10*time.Hour+30*time.Minute, c.TimeOfSlotIndex(7))
	assert.Equal(t, time.Duration(0), c.TimeOfSlotIndex(16))
	assert.Equal(t, 90*time.Minute, c.TimeOfSlotIndex(17))
}

func TestScheduledSlots(t *testing.T) {
	c := newTestCalendar(t)

	slots := c.ScheduledSlots(time.Time{})
	require.Len(t, slots, 16*7)
	assert.True(t, slots[0].Equal(time.Date(2026, time.October, 15, 10, 30, 0, 0, time.UTC)))
	for i := 1; i < len(slots); i++ {
		assert.Equal(t, 90*time.Minute, slots[i].Sub(slots[i-1]), "slot %d", i)
	}
	assert.True(t, slots[len(slots)-1].Equal(slots[0].Add(111*90*time.Minute)))
}

func TestScheduledSlots_RollsIntoNextDay(t *testing.T) {
	c := newTestCalendar(t)

	start := time.Date(2026, time.October, 15, 23, 0, 0, 0, time.UTC)
	slots := c.ScheduledSlots(start)
	require.NotEmpty(t, slots)
	assert.True(t, slots[0].Equal(time.Date(2026, time.October, 16, 0, 0, 0, 0, time.UTC)))
}

func TestIsScheduled(t *testing.T) {
	c := newTestCalendar(t)
	slots := c.ScheduledSlots(testNow)

	assert.True(t, c.IsScheduled(slots[0], testNow))
	assert.True(t, c.IsScheduled(slots[len(slots)-1], testNow))
	assert.False(t, c.IsScheduled(slots[0].Add(-90*time.Minute), testNow), "slot already started")
	assert.False(t, c.IsScheduled(slots[len(slots)-1].Add(90*time.Minute), testNow), "beyond horizon")
	assert.False(t, c.IsScheduled(slots[3].Add(time.Minute), testNow), "not a boundary")
	assert.False(t, c.IsScheduled(time.Date(1991, time.December, 25, 0, 0, 0, 0, time.UTC), testNow))
}

func TestScheduledSlots_FallBackNight(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	// 2026-10-25 has 25 hours in Berlin; 23:30 CET is 24.5h after midnight.
	now := time.Date(2026, time.October, 25, 23, 30, 0, 0, berlin)
	c, err := New(16, berlin, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	assert.Equal(t, 16, c.SlotIndexAtOrAfter(now))
	assert.Equal(t, 15, c.SlotIndexContaining(now))

	nextMidnight := time.Date(2026, time.October, 26, 0, 0, 0, 0, berlin)
	slots := c.ScheduledSlots(time.Time{})
	require.Len(t, slots, 16*HorizonDays)
	assert.True(t, nextMidnight.Equal(slots[0]), "got %s", slots[0])
	assert.True(t, nextMidnight.Add(90*time.Minute).Equal(slots[1]))
	assert.True(t, c.IsScheduled(nextMidnight, time.Time{}))
}
