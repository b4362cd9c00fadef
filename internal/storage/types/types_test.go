package types

import (
	"testing"
	"time"
)

func TestFamilyRoundTrip(t *testing.T) {
	for _, f := range AllFamilies() {
		got, err := ParseFamily(f.String())
		if err != nil {
			t.Fatalf("ParseFamily(%s): %v", f, err)
		}
		if got != f {
			t.Errorf("ParseFamily(%s) = %s", f, got)
		}
	}

	if _, err := ParseFamily("hourly"); err == nil {
		t.Error("expected error for unknown family")
	}
}

func TestEvictionOrder(t *testing.T) {
	fams := AllFamilies()
	want := []Family{FamilyContinuous, FamilyConditional, FamilyOnChange}
	for i := range want {
		if fams[i] != want[i] {
			t.Fatalf("AllFamilies()[%d] = %s, want %s", i, fams[i], want[i])
		}
	}
}

func TestTimestampLexicalOrder(t *testing.T) {
	base := time.Date(2025, 8, 22, 9, 59, 59, 999999000, time.UTC)
	a := FormatTimestamp(base)
	b := FormatTimestamp(base.Add(time.Microsecond))
	c := FormatTimestamp(base.Add(10 * time.Hour))

	if !(a < b && b < c) {
		t.Errorf("lexical order broken: %s %s %s", a, b, c)
	}
	if len(a) != len(c) {
		t.Errorf("timestamps should be fixed width: %q %q", a, c)
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2025, 8, 22, 10, 11, 12, 0, time.UTC)

	tests := []string{
		"2025-08-22T10:11:12",
		"2025-08-22T10:11:12.000000",
		"2025-08-22 10:11:12",
		"2025-08-22T10:11:12Z",
		"2025-08-22T12:11:12+02:00",
	}

	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			got, err := ParseTimestamp(in)
			if err != nil {
				t.Fatalf("ParseTimestamp: %v", err)
			}
			if !got.Equal(want) {
				t.Errorf("got %v, want %v", got, want)
			}
		})
	}

	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Error("expected error")
	}
}

func TestSortNewestFirstIsStable(t *testing.T) {
	rows := []LogRow{
		{Timestamp: "2025-01-01T00:00:01.000000", Tag: "a"},
		{Timestamp: "2025-01-01T00:00:02.000000", Tag: "b"},
		{Timestamp: "2025-01-01T00:00:01.000000", Tag: "c"},
	}
	SortNewestFirst(rows)

	got := rows[0].Tag + rows[1].Tag + rows[2].Tag
	if got != "bac" {
		t.Errorf("order = %s, want bac", got)
	}
}

func TestRuntimeStateMap(t *testing.T) {
	s := RuntimeState{
		Connected:            true,
		ConsecutiveErrors:    3,
		LastFlushEpoch:       1724321472.5,
		RowsWrittenLastFlush: 17,
	}

	back := RuntimeStateFromMap(s.Map())
	if back != s {
		t.Errorf("got %+v, want %+v", back, s)
	}
}

func TestAggregateRow(t *testing.T) {
	a := AggregateResult{Tag: "P1_OutputFreq", Unit: "Hz", BucketStart: "2025-01-01T00:00:00.000000"}
	if a.Row().Value != nil {
		t.Error("empty bucket should produce a null value")
	}

	a.Count, a.Avg = 2, 49.5
	if v := a.Row().Value; v == nil || *v != 49.5 {
		t.Errorf("Row().Value = %v", v)
	}
}
