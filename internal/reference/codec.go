// Package reference packs a (date, slot, machine) triple into a compact
// integer with a 3-bit checksum, suitable for URLs and hand-typed codes.
//
// Layout, most significant bit first:
//
//	[18 bits day since 1980-01-01][5 bits slot][2 bits machine][3 bits checksum]
//
// The checksum is the XOR of the four bytes of the big-endian uint32 payload
// (the code without its checksum bits), reduced mod 8. It guards against
// transcription errors only; it is not a security control.
package reference

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	dayBits      = 18
	slotBits     = 5
	machineBits  = 2
	checksumBits = 3

	payloadBits = dayBits + slotBits + machineBits
	codeBits    = payloadBits + checksumBits

	MaxDay     = 1<<dayBits - 1
	MaxSlot    = 1<<slotBits - 1
	MaxMachine = 1<<machineBits - 1

	checksumMask = 1<<checksumBits - 1
)

// Epoch is day zero of the encoding.
var Epoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// Fields is the unpacked form of a reference code.
type Fields struct {
	Day     uint32 // days since Epoch
	Slot    uint8
	Machine uint8
}

// Pack assembles the code. Fields wider than their bit budget are rejected
// rather than truncated.
func (f Fields) Pack() (uint32, error) {
	if f.Day > MaxDay {
		return 0, &InvalidError{Kind: DateOutOfRange, Detail: fmt.Sprintf("day offset %d exceeds %d", f.Day, MaxDay)}
	}
	if f.Slot > MaxSlot {
		return 0, &InvalidError{Kind: FieldOverflow, Detail: fmt.Sprintf("slot %d exceeds %d", f.Slot, MaxSlot)}
	}
	if f.Machine > MaxMachine {
		return 0, &InvalidError{Kind: FieldOverflow, Detail: fmt.Sprintf("machine %d exceeds %d", f.Machine, MaxMachine)}
	}
	payload := f.Day<<(slotBits+machineBits) | uint32(f.Slot)<<machineBits | uint32(f.Machine)
	return payload<<checksumBits | Checksum(payload), nil
}

// Unpack verifies the checksum and splits code into its fields.
func Unpack(code uint32) (Fields, error) {
	payload := code >> checksumBits
	if Checksum(payload) != code&checksumMask {
		return Fields{}, &InvalidError{Kind: ChecksumMismatch, Reference: code}
	}
	if code>>codeBits != 0 {
		return Fields{}, &InvalidError{Kind: DateOutOfRange, Reference: code, Detail: "day offset exceeds field width"}
	}
	return Fields{
		Day:     payload >> (slotBits + machineBits),
		Slot:    uint8(payload >> machineBits & MaxSlot),
		Machine: uint8(payload & MaxMachine),
	}, nil
}

// Checksum computes the 3-bit checksum of a payload.
func Checksum(payload uint32) uint32 {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], payload)
	return uint32(b[0]^b[1]^b[2]^b[3]) & checksumMask
}

// Encode builds the reference for the calendar date of date, a slot of that
// day and a machine number. The machine number is taken mod 4.
func Encode(date time.Time, slot, machine int) (uint32, error) {
	y, m, d := date.Date()
	days := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Sub(Epoch) / (24 * time.Hour)
	if days < 0 || days > MaxDay {
		return 0, &InvalidError{Kind: DateOutOfRange, Detail: fmt.Sprintf("%04d-%02d-%02d is outside the encodable range", y, m, d)}
	}
	if slot < 0 || slot > MaxSlot {
		return 0, &InvalidError{Kind: FieldOverflow, Detail: fmt.Sprintf("slot %d does not fit %d bits", slot, slotBits)}
	}
	if machine < 0 {
		return 0, &InvalidError{Kind: FieldOverflow, Detail: fmt.Sprintf("negative machine number %d", machine)}
	}
	return Fields{Day: uint32(days), Slot: uint8(slot), Machine: uint8(machine & MaxMachine)}.Pack()
}

// Decode reverses Encode. The returned date is midnight UTC of the encoded
// calendar day.
func Decode(code uint32) (date time.Time, slot, machine int, err error) {
	f, err := Unpack(code)
	if err != nil {
		return time.Time{}, 0, 0, err
	}
	date = Epoch.AddDate(0, 0, int(f.Day))
	if date.Before(Epoch) {
		return time.Time{}, 0, 0, &InvalidError{Kind: DateOutOfRange, Reference: code}
	}
	return date, int(f.Slot), int(f.Machine), nil
}
