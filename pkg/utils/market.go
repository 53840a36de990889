package utils

import (
	"time"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// Session boundaries in minutes after midnight IST.
const (
	marketOpenMinutes  = 9*60 + 15
	marketCloseMinutes = 15*60 + 30
)

// MarketOpen returns the session open (09:15 IST) on t's Indian calendar date.
func MarketOpen(t time.Time) time.Time {
	return sessionTime(t, marketOpenMinutes)
}

// MarketClose returns the session close (15:30 IST) on t's Indian calendar date.
func MarketClose(t time.Time) time.Time {
	return sessionTime(t, marketCloseMinutes)
}

// IsMarketOpen reports whether t falls inside a weekday trading session.
// Exchange holidays are not known here.
func IsMarketOpen(t time.Time) bool {
	local := t.In(IndiaLocation)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	return !local.Before(MarketOpen(local)) && local.Before(MarketClose(local))
}

func sessionTime(t time.Time, minutes int) time.Time {
	local := t.In(IndiaLocation)
	return time.Date(local.Year(), local.Month(), local.Day(), minutes/60, minutes%60, 0, 0, IndiaLocation)
}
