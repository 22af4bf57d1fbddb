package parse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseReference(t *testing.T) {
	testCases := []struct {
		name      string
		raw       string
		expected  uint32
		expectErr bool
	}{
		{name: "Decimal", raw: "1142", expected: 1142},
		{name: "Grouped decimal", raw: " 12-345 678 ", expected: 12345678},
		{name: "Hex", raw: "0x476", expected: 0x476},
		{name: "Upper hex grouped", raw: "0X0ABC DEF0", expected: 0x0abcdef0},
		{name: "Max uint32", raw: "4294967295", expected: 4294967295},
		{name: "Overflow", raw: "4294967296", expectErr: true},
		{name: "Hex too long", raw: "0x123456789", expectErr: true},
		{name: "Letters", raw: "abc", expectErr: true},
		{name: "Empty", raw: "", expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseReference(tc.raw)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestFormatReference(t *testing.T) {
	got, err := ParseReference(FormatReference(0xdeadbeef))
	assert.NoError(t, err)
	assert.Equal(t, uint32(0xdeadbeef), got)
}

func TestParseSlotTime(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata not available")
	}
	want := time.Date(2026, time.October, 15, 10, 30, 0, 0, berlin)

	testCases := []struct {
		name      string
		raw       string
		expectErr bool
	}{
		{name: "RFC3339 with offset", raw: "2026-10-15T10:30:00+02:00"},
		{name: "RFC3339 UTC", raw: "2026-10-15T08:30:00Z"},
		{name: "Wall clock", raw: "2026-10-15T10:30"},
		{name: "Wall clock with space", raw: " 2026-10-15 10:30:00 "},
		{name: "Date only", raw: "2026-10-15", expectErr: true},
		{name: "Garbage", raw: "tomorrow", expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseSlotTime(tc.raw, berlin)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.True(t, want.Equal(got), "got %s", got)
		})
	}
}

func TestParseMachine(t *testing.T) {
	n, err := ParseMachine(" 2 ")
	assert.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = ParseMachine("-1")
	assert.Error(t, err)
	_, err = ParseMachine("two")
	assert.Error(t, err)
}
