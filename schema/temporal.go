package schema

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// Date is a calendar date without a time-of-day or location.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf truncates t to its calendar date in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate accepts exactly the ISO form 2006-01-02.
func ParseDate(s string) (Date, error) {
	if len(s) != len(time.DateOnly) {
		return Date{}, fmt.Errorf("schema: invalid date %q: want YYYY-MM-DD", s)
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Date{}, fmt.Errorf("schema: invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// In returns midnight of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// Time returns midnight UTC of d.
func (d Date) Time() time.Time { return d.In(time.UTC) }

func (d Date) IsZero() bool { return d == Date{} }

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Value implements driver.Valuer.
func (d Date) Value() (driver.Value, error) { return d.Time(), nil }

// TimeOfDay is the elapsed time since midnight.
type TimeOfDay time.Duration

const day = 24 * time.Hour

// TimeOfDayOf returns the wall-clock component of t.
func TimeOfDayOf(t time.Time) TimeOfDay {
	h, m, s := t.Clock()
	return TimeOfDay(time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(t.Nanosecond()))
}

// ParseTimeOfDay accepts 15:04:05 with an optional fractional second.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if len(s) < 8 || s[2] != ':' || s[5] != ':' || (len(s) > 8 && s[8] != '.') {
		return 0, fmt.Errorf("schema: invalid time of day %q: want hh:mm:ss[.fffffffff]", s)
	}
	t, err := time.Parse(time.TimeOnly, s)
	if err != nil {
		return 0, fmt.Errorf("schema: invalid time of day %q: %w", s, err)
	}
	return TimeOfDayOf(t), nil
}

// Duration returns t as a time.Duration.
func (t TimeOfDay) Duration() time.Duration { return time.Duration(t) }

// Valid reports whether t lies within a single day.
func (t TimeOfDay) Valid() bool { return t >= 0 && time.Duration(t) < day }

func (t TimeOfDay) String() string {
	return time.Time{}.Add(time.Duration(t)).Format("15:04:05.999999999")
}

// Value implements driver.Valuer.
func (t TimeOfDay) Value() (driver.Value, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("schema: time of day %s out of range", time.Duration(t))
	}
	return t.String(), nil
}
