package trading

import (
	"strings"
	"time"

	"fno-desk/internal/errors"
	"fno-desk/pkg/utils"
)

var expiryLayouts = []string{
	"2006-01-02",
	"02-01-2006",
	"02Jan06",
	"02-Jan-2006",
	"02Jan2006",
}

// NormalizeExpiry reduces a time to its calendar date at midnight UTC, the
// form expiries are stored and compared in.
func NormalizeExpiry(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseExpiry accepts YYYY-MM-DD, DD-MM-YYYY, DDMMMYY, DD-MMM-YYYY and
// DDMMMYYYY. Month names are case-insensitive.
func ParseExpiry(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return NormalizeExpiry(t), nil
		}
	}
	return time.Time{}, errors.NewInvalidInput("expiry", s, "expected YYYY-MM-DD, DD-MM-YYYY or DDMMMYY")
}

// NextWeeklyExpiry returns the next date falling on weekday, counting today
// until the expiry-day close in IST.
func NextWeeklyExpiry(now time.Time, weekday time.Weekday) time.Time {
	local := now.In(utils.IndiaLocation)
	days := (int(weekday) - int(local.Weekday()) + 7) % 7
	if days == 0 {
		if !local.Before(utils.MarketClose(local)) {
			days = 7
		}
	}
	return NormalizeExpiry(local.AddDate(0, 0, days))
}

// MonthlyExpiry returns the last weekday of the month that has not yet
// closed, rolling into next month after the current month's expiry.
func MonthlyExpiry(now time.Time, weekday time.Weekday) time.Time {
	local := now.In(utils.IndiaLocation)
	exp := lastWeekdayOfMonth(local.Year(), local.Month(), weekday)

	// exp is midnight UTC, which is still the same date in IST
	if !local.Before(utils.MarketClose(exp)) {
		next := time.Date(local.Year(), local.Month()+1, 1, 0, 0, 0, 0, utils.IndiaLocation)
		exp = lastWeekdayOfMonth(next.Year(), next.Month(), weekday)
	}
	return exp
}

func lastWeekdayOfMonth(year int, month time.Month, weekday time.Weekday) time.Time {
	// Day 0 of the following month is the last day of this one
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC)
	for last.Weekday() != weekday {
		last = last.AddDate(0, 0, -1)
	}
	return last
}

// ParseWeekday parses an English weekday name or its three-letter prefix.
func ParseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) < 3 {
		return 0, false
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, true
		}
	}
	return 0, false
}
