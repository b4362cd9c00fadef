package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// TimestampLayout is the on-disk timestamp form. It is fixed width and
// always UTC so that lexical order equals chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000000"

// LogRow is one logged observation.
type LogRow struct {
	Timestamp string   // UTC, TimestampLayout
	Tag       string   // catalog tag name
	Value     *float64 // nil when the stored value is NULL
	Unit      string
}

// NewLogRow builds a row stamped at ts.
func NewLogRow(ts time.Time, tag string, value float64, unit string) LogRow {
	return LogRow{
		Timestamp: FormatTimestamp(ts),
		Tag:       tag,
		Value:     Float(value),
		Unit:      unit,
	}
}

// Time parses the row timestamp.
func (r LogRow) Time() (time.Time, error) {
	return ParseTimestamp(r.Timestamp)
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

var parseLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp accepts the stored layout as well as the looser ISO-8601
// forms seen in older databases and in API requests. Strings without an
// offset are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// NormalizeTimestamp re-renders s in TimestampLayout.
func NormalizeTimestamp(s string) (string, error) {
	t, err := ParseTimestamp(s)
	if err != nil {
		return "", err
	}
	return FormatTimestamp(t), nil
}

// SortNewestFirst orders rows by timestamp descending. The sort is stable,
// so rows with equal timestamps keep their relative order.
func SortNewestFirst(rows []LogRow) {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Timestamp > rows[j].Timestamp })
}
