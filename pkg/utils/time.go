package utils

import (
	"fmt"
	"time"
)

// time.go - границы торговых суток
//
// Торговые сутки определяются временем закрытия (EOD) в заданной таймзоне.
// Все функции детерминированы относительно переданного времени.

// TimeRange временной диапазон [Start, End)
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains проверяет попадание времени в диапазон
func (tr TimeRange) Contains(t time.Time) bool {
	return !t.Before(tr.Start) && t.Before(tr.End)
}

// Duration длительность диапазона
func (tr TimeRange) Duration() time.Duration {
	return tr.End.Sub(tr.Start)
}

// DayStartIn начало календарного дня для t в таймзоне loc
func DayStartIn(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// DayRangeIn диапазон календарного дня для t в таймзоне loc
func DayRangeIn(t time.Time, loc *time.Location) TimeRange {
	start := DayStartIn(t, loc)
	return TimeRange{Start: start, End: start.AddDate(0, 0, 1)}
}

// ClockTime время суток HH:MM
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClock разбирает строку формата "HH:MM"
func ParseClock(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// On возвращает момент c в день t (таймзона loc)
func (c ClockTime) On(t time.Time, loc *time.Location) time.Time {
	day := DayStartIn(t, loc)
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour, c.Minute, 0, 0, day.Location())
}

// LastBoundary последняя граница закрытия, не позже t.
// Если сегодняшняя граница ещё не наступила, возвращается вчерашняя.
func (c ClockTime) LastBoundary(t time.Time, loc *time.Location) time.Time {
	b := c.On(t, loc)
	if t.Before(b) {
		return c.On(b.AddDate(0, 0, -1), loc)
	}
	return b
}

// NextBoundary ближайшая граница закрытия строго после t
func (c ClockTime) NextBoundary(t time.Time, loc *time.Location) time.Time {
	b := c.On(t, loc)
	if !t.Before(b) {
		return c.On(b.AddDate(0, 0, 1), loc)
	}
	return b
}

// CronSpec выражение cron (с секундами) для ежедневного запуска в c
func (c ClockTime) CronSpec() string {
	return fmt.Sprintf("0 %d %d * * *", c.Minute, c.Hour)
}

// UnixMillis текущее время в миллисекундах
func UnixMillis() int64 {
	return time.Now().UnixMilli()
}

// FromUnixMillis конвертирует миллисекунды в time.Time (UTC)
func FromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
