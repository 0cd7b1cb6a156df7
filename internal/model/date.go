package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/dompet/internal/common"
)

// DateLayout is the ISO 8601 calendar date layout used everywhere.
const DateLayout = "2006-01-02"

// DefaultUTCOffsetHours is the fixed reference zone used to decide "today".
const DefaultUTCOffsetHours = 7

// Date is a calendar day without a time of day.
type Date struct {
	t time.Time
}

// NewDate returns the date for the given year, month and day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// Today returns the current date in a zone offsetHours east of UTC.
func Today(offsetHours int) Date {
	return TodayAt(time.Now(), offsetHours)
}

// TodayAt returns the date of now in a zone offsetHours east of UTC.
func TodayAt(now time.Time, offsetHours int) Date {
	zone := time.FixedZone(fmt.Sprintf("UTC%+d", offsetHours), offsetHours*3600)
	return DateOf(now.In(zone))
}

// ParseDate accepts YYYY-MM-DD or an RFC3339 timestamp, keeping only the day.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return DateOf(t), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return DateOf(t), nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return DateOf(t), nil
	}
	return Date{}, fmt.Errorf("%w: date %q is not YYYY-MM-DD", common.ErrValidation, s)
}

// MustParseDate is ParseDate for literals known to be valid.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool {
	return d.t.IsZero()
}

// Time returns midnight UTC of the date.
func (d Date) Time() time.Time {
	return d.t
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DateLayout)
}

// Human formats the date for conversation, e.g. "1 November 2023".
func (d Date) Human() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format("2 January 2006")
}

// AddDays returns the date n days later.
func (d Date) AddDays(n int) Date {
	return Date{t: d.t.AddDate(0, 0, n)}
}

// Equal reports whether d and other are the same day.
func (d Date) Equal(other Date) bool {
	return d.t.Equal(other.t)
}

// Before reports whether d is strictly before other.
func (d Date) Before(other Date) bool {
	return d.t.Before(other.t)
}

// MarshalJSON encodes the date as "YYYY-MM-DD".
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes "YYYY-MM-DD" or an RFC3339 timestamp.
func (d *Date) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: date must be a string", common.ErrValidation)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
