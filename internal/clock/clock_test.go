package clock

import (
	"testing"
	"time"

	"marketforecast/internal/model"
)

func TestNSECalendarSessionBounds(t *testing.T) {
	cal := NewNSECalendar(DefaultNSEHolidays2026())

	open := time.Date(2026, time.February, 2, 9, 15, 0, 0, IST) // Monday
	if !cal.IsSessionOpen(open) {
		t.Fatalf("expected session open at %s", open)
	}

	before := time.Date(2026, time.February, 2, 9, 14, 59, 0, IST)
	if cal.IsSessionOpen(before) {
		t.Fatalf("expected session closed at %s", before)
	}

	after := time.Date(2026, time.February, 2, 15, 30, 0, 0, IST)
	if cal.IsSessionOpen(after) {
		t.Fatalf("expected session closed at close boundary %s", after)
	}
}

func TestNSECalendarWeekendAndHoliday(t *testing.T) {
	cal := NewNSECalendar(DefaultNSEHolidays2026())

	saturday := time.Date(2026, time.February, 7, 10, 0, 0, 0, IST)
	if cal.IsSessionOpen(saturday) {
		t.Fatalf("expected weekend closed")
	}

	republicDay := time.Date(2026, time.January, 26, 10, 0, 0, 0, IST)
	if cal.IsSessionOpen(republicDay) {
		t.Fatalf("expected holiday closed")
	}
}

func TestAlignBoundary(t *testing.T) {
	ts := time.Date(2026, time.February, 2, 9, 17, 43, 0, time.UTC)
	got := AlignBoundary(ts, model.TF5m)
	want := time.Date(2026, time.February, 2, 9, 15, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("AlignBoundary = %s, want %s", got, want)
	}
}

func TestValidateCandleTimingFutureClamp(t *testing.T) {
	now := time.Date(2026, time.February, 2, 9, 20, 0, 0, time.UTC)
	c := model.Candle{
		Symbol:    "ACME",
		Timeframe: model.TF1m,
		StartTS:   now.Add(2 * time.Hour),
		Open:      1, High: 1, Low: 1, Close: 1,
	}
	if err := ValidateCandleTiming(c, nil, now); err == nil {
		t.Fatalf("expected future clamp violation")
	}
}

func TestValidateCandleTimingMisaligned(t *testing.T) {
	now := time.Date(2026, time.February, 2, 9, 20, 0, 0, time.UTC)
	c := model.Candle{
		Symbol:    "ACME",
		Timeframe: model.TF5m,
		StartTS:   now.Add(-7 * time.Minute),
		Open:      1, High: 1, Low: 1, Close: 1,
	}
	if err := ValidateCandleTiming(c, nil, now); err == nil {
		t.Fatalf("expected misaligned boundary error")
	}
}
