package types

// AggregateResult represents statistics for one tag over one time bucket.
type AggregateResult struct {
	// Identity
	Tag  string
	Unit string

	// Time bucket
	BucketStart   string // UTC, TimestampLayout
	BucketSeconds int64

	// Basic statistics over non-null values
	Count int64
	Sum   float64
	Min   float64
	Max   float64
	Avg   float64

	// Percentiles (optional, nil if not enabled)
	P50 *float64 // 50th percentile (median)
	P90 *float64 // 90th percentile
	P95 *float64 // 95th percentile
	P99 *float64 // 99th percentile

	// Timestamps of the first and last row folded into the bucket
	FirstTs string
	LastTs  string
}

// IsEmpty returns true if no non-null values were aggregated.
func (a *AggregateResult) IsEmpty() bool {
	return a.Count == 0
}

// HasPercentiles returns true if percentile data is available.
func (a *AggregateResult) HasPercentiles() bool {
	return a.P50 != nil
}

// SetPercentiles sets all percentile values.
func (a *AggregateResult) SetPercentiles(p50, p90, p95, p99 float64) {
	a.P50 = &p50
	a.P90 = &p90
	a.P95 = &p95
	a.P99 = &p99
}

// Row returns the bucket as a LogRow carrying the mean value.
func (a *AggregateResult) Row() LogRow {
	r := LogRow{Timestamp: a.BucketStart, Tag: a.Tag, Unit: a.Unit}
	if a.Count > 0 {
		r.Value = Float(a.Avg)
	}
	return r
}
