package trading

import (
	"testing"
	"time"

	"fno-desk/internal/errors"
)

var ist = time.FixedZone("IST", 5*60*60+30*60)

func TestNextWeeklyExpiry(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"monday", time.Date(2025, time.November, 3, 10, 0, 0, 0, ist), date(2025, time.November, 6)},
		{"expiry day before close", time.Date(2025, time.November, 6, 10, 0, 0, 0, ist), date(2025, time.November, 6)},
		{"expiry day after close", time.Date(2025, time.November, 6, 15, 30, 0, 0, ist), date(2025, time.November, 13)},
		{"friday", time.Date(2025, time.November, 7, 9, 15, 0, 0, ist), date(2025, time.November, 13)},
		{"utc evening is next day in IST", time.Date(2025, time.November, 5, 20, 0, 0, 0, time.UTC), date(2025, time.November, 6)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextWeeklyExpiry(tt.now, time.Thursday)
			if !got.Equal(tt.want) {
				t.Errorf("NextWeeklyExpiry() = %s, want %s", got.Format("2006-01-02"), tt.want.Format("2006-01-02"))
			}
		})
	}
}

func TestNextWeeklyExpiry_OtherWeekday(t *testing.T) {
	got := NextWeeklyExpiry(time.Date(2025, time.November, 3, 10, 0, 0, 0, ist), time.Tuesday)
	if !got.Equal(date(2025, time.November, 4)) {
		t.Errorf("NextWeeklyExpiry(Tuesday) = %s", got.Format("2006-01-02"))
	}
}

func TestMonthlyExpiry(t *testing.T) {
	got := MonthlyExpiry(time.Date(2025, time.November, 10, 10, 0, 0, 0, ist), time.Thursday)
	if !got.Equal(date(2025, time.November, 27)) {
		t.Errorf("MonthlyExpiry() = %s", got.Format("2006-01-02"))
	}

	got = MonthlyExpiry(time.Date(2025, time.November, 27, 16, 0, 0, 0, ist), time.Thursday)
	if !got.Equal(date(2025, time.December, 25)) {
		t.Errorf("MonthlyExpiry() after close = %s", got.Format("2006-01-02"))
	}
}

func TestParseExpiry(t *testing.T) {
	want := date(2025, time.November, 4)
	for _, in := range []string{"2025-11-04", "04-11-2025", "04NOV25", "04nov25", "04-Nov-2025", "04NOV2025", " 2025-11-04 "} {
		got, err := ParseExpiry(in)
		if err != nil {
			t.Errorf("ParseExpiry(%q) error = %v", in, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("ParseExpiry(%q) = %v", in, got)
		}
	}

	for _, in := range []string{"", "tomorrow", "2025/11/04", "31-02-2025"} {
		if _, err := ParseExpiry(in); !errors.Is(err, errors.ErrInvalidInput) {
			t.Errorf("ParseExpiry(%q) error = %v, want ErrInvalidInput", in, err)
		}
	}
}

func TestNormalizeExpiry(t *testing.T) {
	got := NormalizeExpiry(time.Date(2025, time.November, 4, 15, 30, 0, 0, ist))
	if !got.Equal(date(2025, time.November, 4)) || got.Location() != time.UTC {
		t.Errorf("NormalizeExpiry() = %v", got)
	}
}

func TestParseWeekday(t *testing.T) {
	tests := map[string]time.Weekday{"thursday": time.Thursday, "Thu": time.Thursday, "TUESDAY": time.Tuesday, "wed": time.Wednesday}
	for in, want := range tests {
		got, ok := ParseWeekday(in)
		if !ok || got != want {
			t.Errorf("ParseWeekday(%q) = %v, %v", in, got, ok)
		}
	}
	for _, in := range []string{"", "th", "someday"} {
		if _, ok := ParseWeekday(in); ok {
			t.Errorf("ParseWeekday(%q) should fail", in)
		}
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
