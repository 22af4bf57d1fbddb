// Package parse turns user input from URLs and forms into typed values.
package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// Reference codes are often written in groups, like "1234-5678" or "0x0123 abcd".
	groupSepRe = regexp.MustCompile(`[\s\-_.]+`)
	hexRefRe   = regexp.MustCompile(`(?i)^0x[0-9a-f]{1,8}$`)
	decRefRe   = regexp.MustCompile(`^[0-9]{1,10}$`)
)

// ParseReference reads a reference code written in decimal or as 0x-prefixed hex.
func ParseReference(raw string) (uint32, error) {
	s := groupSepRe.ReplaceAllString(strings.TrimSpace(raw), "")
	var (
		n   uint64
		err error
	)
	switch {
	case hexRefRe.MatchString(s):
		n, err = strconv.ParseUint(s[2:], 16, 32)
	case decRefRe.MatchString(s):
		n, err = strconv.ParseUint(s, 10, 32)
	default:
		return 0, fmt.Errorf("unable to parse reference: %q", raw)
	}
	if err != nil {
		return 0, fmt.Errorf("unable to parse reference %q: %w", raw, err)
	}
	return uint32(n), nil
}

// FormatReference renders code the way ParseReference reads it back.
func FormatReference(code uint32) string {
	return strconv.FormatUint(uint64(code), 10)
}

var slotLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseSlotTime reads a slot start. RFC 3339 input keeps its offset; wall
// clock input without an offset is read in loc.
func ParseSlotTime(raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range slotLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse slot time: %q", raw)
}

// ParseMachine reads a machine number.
func ParseMachine(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("unable to parse machine number: %q", raw)
	}
	return n, nil
}
