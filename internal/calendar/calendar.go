// Package calendar computes quarterly report deadlines and derives cache TTLs that
// shrink as a deadline approaches.
package calendar

import (
	"time"

	"github.com/yourorg/marketdata-hub/internal/model"
)

// Defaults for the mainland filing calendar.
const (
	DefaultReleaseHour = 17
	DefaultWindowDays  = 3
)

// Deadline is one filing deadline instant with its quarter label.
type Deadline struct {
	At      time.Time
	Quarter string
}

// Calendar holds the location and release hour used for deadline arithmetic.
type Calendar struct {
	loc         *time.Location
	releaseHour int
	windowDays  int
}

// Option configures a Calendar.
type Option func(*Calendar)

// WithLocation sets the exchange time zone.
func WithLocation(loc *time.Location) Option {
	return func(c *Calendar) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithReleaseHour sets the hour of day at which reports are considered published.
func WithReleaseHour(hour int) Option {
	return func(c *Calendar) {
		if hour >= 0 && hour < 24 {
			c.releaseHour = hour
		}
	}
}

// WithWindowDays sets the default sensitive window.
func WithWindowDays(days int) Option {
	return func(c *Calendar) {
		if days >= 0 {
			c.windowDays = days
		}
	}
}

// New creates a Calendar for Asia/Shanghai, or a fixed UTC+8 zone when the tz
// database is unavailable.
func New(opts ...Option) *Calendar {
	c := &Calendar{
		loc:         shanghai(),
		releaseHour: DefaultReleaseHour,
		windowDays:  DefaultWindowDays,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func shanghai() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return time.FixedZone("CST", 8*60*60)
	}
	return loc
}

// WindowDays returns the configured sensitive window.
func (c *Calendar) WindowDays() int { return c.windowDays }

// ReleaseHour returns the configured release hour.
func (c *Calendar) ReleaseHour() int { return c.releaseHour }

// Location returns the calendar's time zone.
func (c *Calendar) Location() *time.Location { return c.loc }

// deadlinesFor lists the deadlines that fall in calendar year y. Q1 precedes the
// prior year's annual report so that the shared Apr 30 date is labeled Q1.
func (c *Calendar) deadlinesFor(y int) []Deadline {
	at := func(m time.Month, d int) time.Time {
		return time.Date(y, m, d, c.releaseHour, 0, 0, 0, c.loc)
	}
	return []Deadline{
		{At: at(time.April, 30), Quarter: "Q1"},
		{At: at(time.April, 30), Quarter: "Q4"},
		{At: at(time.August, 31), Quarter: "Q2"},
		{At: at(time.October, 31), Quarter: "Q3"},
	}
}

// NextDeadline returns the earliest deadline strictly after now.
func (c *Calendar) NextDeadline(now time.Time) Deadline {
	local := now.In(c.loc)
	for y := local.Year(); y <= local.Year()+1; y++ {
		for _, d := range c.deadlinesFor(y) {
			if d.At.After(local) {
				return d
			}
		}
	}
	// Unreachable: next year's Apr 30 is always after now.
	return c.deadlinesFor(local.Year() + 1)[0]
}

// DaysUntilNextDeadline is the whole-day distance between today's date and the
// next deadline's date, ignoring time of day. Never negative.
func (c *Calendar) DaysUntilNextDeadline(now time.Time) int {
	next := c.NextDeadline(now)
	days := civilDays(now.In(c.loc), next.At)
	if days < 0 {
		return 0
	}
	return days
}

// IsWithinSensitiveWindow reports whether the next deadline is at most
// windowDays away.
func (c *Calendar) IsWithinSensitiveWindow(now time.Time, windowDays int) bool {
	d := c.DaysUntilNextDeadline(now)
	return d >= 0 && d <= windowDays
}

// IsReleaseDay reports whether today is a deadline date and, when
// requireAfterReleaseHour is set, the release hour has been reached.
func (c *Calendar) IsReleaseDay(now time.Time, requireAfterReleaseHour bool) bool {
	local := now.In(c.loc)
	isDeadline := false
	for _, d := range c.deadlinesFor(local.Year()) {
		if d.At.Month() == local.Month() && d.At.Day() == local.Day() {
			isDeadline = true
			break
		}
	}
	if !isDeadline {
		return false
	}
	if requireAfterReleaseHour {
		return local.Hour() >= c.releaseHour
	}
	return true
}

// AdjustedTTL returns sensitive for report-sensitive categories inside the
// sensitive window or on a release day, and base otherwise.
func (c *Calendar) AdjustedTTL(category model.Category, base time.Duration, now time.Time, sensitive time.Duration, windowDays int) time.Duration {
	if !category.ReportSensitive() {
		return base
	}
	if c.IsWithinSensitiveWindow(now, windowDays) || c.IsReleaseDay(now, true) {
		return sensitive
	}
	return base
}

func civilDays(from, to time.Time) int {
	a := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

var defaultCalendar = New()

// NextDeadline uses the default calendar.
func NextDeadline(now time.Time) (time.Time, string) {
	d := defaultCalendar.NextDeadline(now)
	return d.At, d.Quarter
}

// DaysUntilNextDeadline uses the default calendar.
func DaysUntilNextDeadline(now time.Time) int {
	return defaultCalendar.DaysUntilNextDeadline(now)
}

// IsWithinSensitiveWindow uses the default calendar.
func IsWithinSensitiveWindow(now time.Time, windowDays int) bool {
	return defaultCalendar.IsWithinSensitiveWindow(now, windowDays)
}

// IsReleaseDay uses the default calendar.
func IsReleaseDay(now time.Time, requireAfterReleaseHour bool) bool {
	return defaultCalendar.IsReleaseDay(now, requireAfterReleaseHour)
}

// AdjustedTTL uses the default calendar.
func AdjustedTTL(category model.Category, base time.Duration, now time.Time, sensitive time.Duration, windowDays int) time.Duration {
	return defaultCalendar.AdjustedTTL(category, base, now, sensitive, windowDays)
}
