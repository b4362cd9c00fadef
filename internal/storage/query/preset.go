package query

import (
	"strings"
	"time"

	"github.com/xtxerr/plclogger/internal/errors"
)

// Preset is a named calendar range.
type Preset string

const (
	PresetAll       Preset = "all"
	PresetToday     Preset = "today"
	PresetYesterday Preset = "yesterday"
	PresetWeek      Preset = "week"
	PresetMonth     Preset = "month"
	PresetYear      Preset = "year"
)

// ParsePreset parses a preset name. The empty string means PresetAll.
func ParsePreset(s string) (Preset, error) {
	switch p := Preset(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PresetAll, nil
	case PresetAll, PresetToday, PresetYesterday, PresetWeek, PresetMonth, PresetYear:
		return p, nil
	default:
		return "", errors.Wrapf(errors.ErrInvalidPreset, "%q", s)
	}
}

// Calendar resolves presets in a local time zone.
type Calendar struct {
	Location  *time.Location
	WeekStart time.Weekday
}

// UTCCalendar is a calendar in UTC whose weeks start on Monday.
var UTCCalendar = Calendar{Location: time.UTC, WeekStart: time.Monday}

// Resolve returns the half-open range [start, end) of p containing now.
// Zero times are unbounded; PresetAll is unbounded on both ends.
func (c Calendar) Resolve(p Preset, now time.Time) (start, end time.Time, err error) {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	switch p {
	case PresetAll, "":
		return time.Time{}, time.Time{}, nil
	case PresetToday:
		return midnight, midnight.AddDate(0, 0, 1), nil
	case PresetYesterday:
		return midnight.AddDate(0, 0, -1), midnight, nil
	case PresetWeek:
		back := (int(now.Weekday()) - int(c.WeekStart) + 7) % 7
		start = midnight.AddDate(0, 0, -back)
		return start, start.AddDate(0, 0, 7), nil
	case PresetMonth:
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 1, 0), nil
	case PresetYear:
		start = time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(1, 0, 0), nil
	default:
		return time.Time{}, time.Time{}, errors.Wrapf(errors.ErrInvalidPreset, "%q", string(p))
	}
}

// ParseWeekday parses an English weekday name or its three-letter
// abbreviation.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return time.Monday, errors.NewInvalidValue("week_start", s, "not a weekday")
}
