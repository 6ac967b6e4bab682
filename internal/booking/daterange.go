package booking

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateFormat is the wire format for stay dates.
const DateFormat = "2006-01-02"

// DateRange is a half-open stay window: Start inclusive, End exclusive.
// Both bounds are UTC midnight. An occupant leaving on End does not
// overlap an occupant arriving on End.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange builds a range from calendar days, normalising both bounds
// to UTC midnight. Start must be strictly before End.
func NewDateRange(start, end time.Time) (DateRange, error) {
	s := midnightUTC(start)
	e := midnightUTC(end)
	if !s.Before(e) {
		return DateRange{}, ErrInvalidRange
	}
	return DateRange{Start: s, End: e}, nil
}

// ParseDateRange parses two wire-format dates into a DateRange.
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := time.Parse(DateFormat, start)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: start %q", ErrInvalidRange, start)
	}
	e, err := time.Parse(DateFormat, end)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: end %q", ErrInvalidRange, end)
	}
	return NewDateRange(s, e)
}

// Nights returns the number of nights covered by the range.
func (d DateRange) Nights() int {
	return int(d.End.Sub(d.Start).Hours() / 24)
}

// Overlaps reports whether two half-open ranges share at least one night.
// Adjacent ranges (a.End == b.Start) do not overlap.
func (d DateRange) Overlaps(other DateRange) bool {
	return d.Start.Before(other.End) && d.End.After(other.Start)
}

// Contains reports whether day falls within the range.
func (d DateRange) Contains(day time.Time) bool {
	day = midnightUTC(day)
	return !day.Before(d.Start) && day.Before(d.End)
}

// IsZero reports whether the range is unset.
func (d DateRange) IsZero() bool {
	return d.Start.IsZero() && d.End.IsZero()
}

func (d DateRange) String() string {
	return d.Start.Format(DateFormat) + ".." + d.End.Format(DateFormat)
}

type jsonDateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// MarshalJSON renders {"start":"2026-07-01","end":"2026-07-05"}.
func (d DateRange) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonDateRange{
		Start: d.Start.Format(DateFormat),
		End:   d.End.Format(DateFormat),
	})
}

// UnmarshalJSON parses the wire shape and re-validates the invariant.
func (d *DateRange) UnmarshalJSON(data []byte) error {
	var jd jsonDateRange
	if err := json.Unmarshal(data, &jd); err != nil {
		return err
	}
	parsed, err := ParseDateRange(jd.Start, jd.End)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
