package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yourorg/marketdata-hub/internal/model"
)

var cst = time.FixedZone("CST", 8*60*60)

func at(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, cst)
}

func TestNextDeadline(t *testing.T) {
	cal := New(WithLocation(cst))

	tests := []struct {
		name    string
		now     time.Time
		want    time.Time
		quarter string
	}{
		{"january points at april", at(2026, time.January, 30, 9), at(2026, time.April, 30, 17), "Q1"},
		{"morning of deadline day", at(2026, time.April, 30, 10), at(2026, time.April, 30, 17), "Q1"},
		{"after release on deadline day", at(2026, time.April, 30, 18), at(2026, time.August, 31, 17), "Q2"},
		{"september", at(2026, time.September, 1, 0), at(2026, time.October, 31, 17), "Q3"},
		{"wraps to next year", at(2026, time.November, 2, 0), at(2027, time.April, 30, 17), "Q1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := cal.NextDeadline(tt.now)
			assert.True(t, tt.want.Equal(d.At), "got %v want %v", d.At, tt.want)
			assert.Equal(t, tt.quarter, d.Quarter)
		})
	}
}

func TestDaysUntilNextDeadline_IgnoresTimeOfDay(t *testing.T) {
	cal := New(WithLocation(cst))
	assert.Equal(t, 2, cal.DaysUntilNextDeadline(at(2026, time.April, 28, 0)))
	assert.Equal(t, 2, cal.DaysUntilNextDeadline(at(2026, time.April, 28, 23)))
	assert.Equal(t, 0, cal.DaysUntilNextDeadline(at(2026, time.April, 30, 9)))
	assert.Equal(t, 90, cal.DaysUntilNextDeadline(at(2026, time.January, 30, 12)))
}

func TestIsWithinSensitiveWindow(t *testing.T) {
	cal := New(WithLocation(cst))
	assert.True(t, cal.IsWithinSensitiveWindow(at(2026, time.August, 28, 12), 3))
	assert.False(t, cal.IsWithinSensitiveWindow(at(2026, time.August, 27, 12), 3))
	assert.True(t, cal.IsWithinSensitiveWindow(at(2026, time.August, 27, 12), 4))
}

func TestIsReleaseDay(t *testing.T) {
	cal := New(WithLocation(cst))
	assert.False(t, cal.IsReleaseDay(at(2026, time.October, 31, 9), true))
	assert.True(t, cal.IsReleaseDay(at(2026, time.October, 31, 9), false))
	assert.True(t, cal.IsReleaseDay(at(2026, time.October, 31, 17), true))
	assert.False(t, cal.IsReleaseDay(at(2026, time.October, 30, 20), false))
}

func TestAdjustedTTL(t *testing.T) {
	cal := New(WithLocation(cst))
	base := 604800 * time.Second
	sensitive := 3600 * time.Second

	assert.Equal(t, sensitive, cal.AdjustedTTL(model.CategoryFinancial, base, at(2026, time.April, 28, 0), sensitive, 3))
	assert.Equal(t, base, cal.AdjustedTTL(model.CategoryFinancial, base, at(2026, time.January, 30, 0), sensitive, 3))

	// Release evening: the next deadline is months away, but reports just landed.
	assert.Equal(t, sensitive, cal.AdjustedTTL(model.CategoryValuation, base, at(2026, time.April, 30, 18), sensitive, 3))

	// Non-report categories ignore the date entirely.
	for _, now := range []time.Time{at(2026, time.April, 28, 0), at(2026, time.April, 30, 18), at(2026, time.January, 30, 0)} {
		assert.Equal(t, base, cal.AdjustedTTL(model.CategoryQuote, base, now, sensitive, 3))
	}
}

func TestPackageLevelHelpersUseDefaultCalendar(t *testing.T) {
	deadline, quarter := NextDeadline(at(2026, time.July, 1, 12))
	assert.Equal(t, "Q2", quarter)
	assert.Equal(t, time.August, deadline.Month())
	assert.Equal(t, 31, deadline.Day())
	assert.Equal(t, time.Duration(3600)*time.Second,
		AdjustedTTL(model.CategoryFinancial, time.Hour*168, at(2026, time.April, 28, 12), time.Hour, DefaultWindowDays))
}
