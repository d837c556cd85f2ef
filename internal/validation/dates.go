package validation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/width"
)

var (
	// ErrDateFormat is returned when a date field cannot be parsed.
	ErrDateFormat = errors.New("date must be formatted as YYYY-MM-DD")
	// ErrDateInFuture rejects dates that have not happened yet.
	ErrDateInFuture = errors.New("date must not be in the future")
	// ErrDateNotInFuture rejects dates that should still be ahead.
	ErrDateNotInFuture = errors.New("date must be tomorrow or later")
)

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006/01/02", "01/02/2006"}

// ParseDate parses a chat-supplied date value. Time-of-day components are
// accepted and discarded; comparisons are always date-only.
func ParseDate(raw string) (time.Time, error) {
	candidate := strings.TrimSpace(width.Narrow.String(raw))
	if candidate == "" {
		return time.Time{}, ErrDateFormat
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, candidate); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrDateFormat, candidate)
}

// PastOrToday validates fields that record something that already happened
// (arrival date, notification date, completion date). Any value on or after
// tomorrow at local midnight is rejected; today is accepted.
func PastOrToday(raw string, now time.Time) error {
	ts, err := ParseDate(raw)
	if err != nil {
		return err
	}
	if !dateOnly(ts).Before(tomorrow(now)) {
		return ErrDateInFuture
	}
	return nil
}

// FutureDate validates fields that promise something ahead (estimated
// arrival, date needed, pickup date). Any value before tomorrow at local
// midnight is rejected; tomorrow is the earliest accepted day.
func FutureDate(raw string, now time.Time) error {
	ts, err := ParseDate(raw)
	if err != nil {
		return err
	}
	if dateOnly(ts).Before(tomorrow(now)) {
		return ErrDateNotInFuture
	}
	return nil
}

// tomorrow computes local calendar midnight plus one day from the validation
// instant.
func tomorrow(now time.Time) time.Time {
	local := now.Local()
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, local.Location())
}

func dateOnly(ts time.Time) time.Time {
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.Local)
}
