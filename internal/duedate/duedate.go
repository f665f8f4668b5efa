// Package duedate turns a rule's urgency class and a booking's calendar
// proximity into a concrete due date.
//
// All arithmetic is done on whole calendar days in UTC. A due date is the
// start (00:00 UTC) of the day it falls on.
package duedate

import (
	"maps"
	"time"

	"github.com/roach88/relance/internal/ir"
)

// Offsets maps an urgency class to its base offset in days.
type Offsets map[ir.UrgencyClass]int

// DefaultOffsets returns the built-in base offsets.
func DefaultOffsets() Offsets {
	return Offsets{
		ir.UrgencyCritical: 2,
		ir.UrgencyHigh:     3,
		ir.UrgencyMedium:   5,
		ir.UrgencyLow:      14,
	}
}

// fallbackUrgency is used for classes missing from the offsets table.
const fallbackUrgency = ir.UrgencyMedium

// Calculator computes due dates from a fixed offsets table.
type Calculator struct {
	offsets Offsets
}

// New creates a calculator. Classes absent from offsets, or given a
// non-positive offset, keep their default value.
func New(offsets Offsets) *Calculator {
	merged := DefaultOffsets()
	for class, days := range offsets {
		if days > 0 {
			merged[class] = days
		}
	}
	return &Calculator{offsets: merged}
}

// Offsets returns a copy of the effective offsets table.
func (c *Calculator) Offsets() Offsets {
	return maps.Clone(c.offsets)
}

// Due returns the due date for a task of the given urgency on booking,
// computed relative to now.
//
// When the booking has a date in the future, the offset is capped at a
// quarter of the days remaining until it. The result is never earlier
// than tomorrow.
func (c *Calculator) Due(now time.Time, booking *ir.Booking, urgency ir.UrgencyClass) time.Time {
	today := StartOfDay(now)

	offset, ok := c.offsets[urgency]
	if !ok {
		offset = c.offsets[fallbackUrgency]
	}

	if booking != nil && booking.Date != nil {
		remaining := DaysBetween(today, StartOfDay(*booking.Date))
		if remaining > 0 && offset > remaining/4 {
			offset = remaining / 4
		}
	}

	if offset < 1 {
		offset = 1
	}
	return today.AddDate(0, 0, offset)
}

// StartOfDay truncates t to 00:00 UTC of its UTC calendar day.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of whole calendar days from a to b.
// Both arguments are truncated with StartOfDay first.
func DaysBetween(a, b time.Time) int {
	return int(StartOfDay(b).Sub(StartOfDay(a)) / (24 * time.Hour))
}
