package utils

import (
	"testing"
	"time"
)

func TestDayStartIn(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	// 2024-01-15 03:00 UTC = 2024-01-14 22:00 в Нью-Йорке
	ts := time.Date(2024, 1, 15, 3, 0, 0, 0, time.UTC)

	utcStart := DayStartIn(ts, time.UTC)
	if !utcStart.Equal(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected UTC day start: %v", utcStart)
	}

	nyStart := DayStartIn(ts, ny)
	if nyStart.Day() != 14 || nyStart.Hour() != 0 {
		t.Errorf("unexpected NY day start: %v", nyStart)
	}

	if !DayStartIn(ts, nil).Equal(utcStart) {
		t.Error("nil location must default to UTC")
	}
}

func TestDayRangeIn(t *testing.T) {
	ts := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	r := DayRangeIn(ts, time.UTC)

	if r.Duration() != 24*time.Hour {
		t.Errorf("expected 24h range, got %v", r.Duration())
	}
	if !r.Contains(ts) {
		t.Error("range must contain source time")
	}
	if r.Contains(r.End) {
		t.Error("range end is exclusive")
	}
	if !r.Contains(r.Start) {
		t.Error("range start is inclusive")
	}
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("21:55")
	if err != nil {
		t.Fatalf("ParseClock: %v", err)
	}
	if c.Hour != 21 || c.Minute != 55 {
		t.Errorf("unexpected clock: %+v", c)
	}
	if c.String() != "21:55" {
		t.Errorf("String() = %s", c.String())
	}
	if c.CronSpec() != "0 55 21 * * *" {
		t.Errorf("CronSpec() = %s", c.CronSpec())
	}

	for _, bad := range []string{"", "25:00", "9pm", "12:60"} {
		if _, err := ParseClock(bad); err == nil {
			t.Errorf("ParseClock(%q) expected error", bad)
		}
	}
}

func TestClockBoundaries(t *testing.T) {
	eod := ClockTime{Hour: 22, Minute: 0}

	tests := []struct {
		name     string
		now      time.Time
		wantLast time.Time
		wantNext time.Time
	}{
		{
			name:     "before today's boundary",
			now:      time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
			wantLast: time.Date(2024, 1, 14, 22, 0, 0, 0, time.UTC),
			wantNext: time.Date(2024, 1, 15, 22, 0, 0, 0, time.UTC),
		},
		{
			name:     "exactly at boundary",
			now:      time.Date(2024, 1, 15, 22, 0, 0, 0, time.UTC),
			wantLast: time.Date(2024, 1, 15, 22, 0, 0, 0, time.UTC),
			wantNext: time.Date(2024, 1, 16, 22, 0, 0, 0, time.UTC),
		},
		{
			name:     "after boundary",
			now:      time.Date(2024, 1, 15, 23, 30, 0, 0, time.UTC),
			wantLast: time.Date(2024, 1, 15, 22, 0, 0, 0, time.UTC),
			wantNext: time.Date(2024, 1, 16, 22, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := eod.LastBoundary(tt.now, time.UTC); !got.Equal(tt.wantLast) {
				t.Errorf("LastBoundary = %v, want %v", got, tt.wantLast)
			}
			if got := eod.NextBoundary(tt.now, time.UTC); !got.Equal(tt.wantNext) {
				t.Errorf("NextBoundary = %v, want %v", got, tt.wantNext)
			}
		})
	}
}

func TestUnixMillis(t *testing.T) {
	ms := int64(1705312245000)
	ts := FromUnixMillis(ms)
	if ts.UnixMilli() != ms {
		t.Errorf("round trip mismatch: %d", ts.UnixMilli())
	}
	if ts.Location() != time.UTC {
		t.Error("expected UTC")
	}
	if UnixMillis() <= 0 {
		t.Error("UnixMillis must be positive")
	}
}
