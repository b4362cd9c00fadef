// Package aggregate folds log rows into fixed-width time buckets with
// running statistics and optional DDSketch percentiles.
package aggregate

import (
	"math"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/plclogger/internal/storage/types"
)

// Bucket maintains running statistics for one tag over one time bucket.
// Buckets are not safe for concurrent use; the Manager owns them.
type Bucket struct {
	// Identity
	tag  string
	unit string

	// Time bucket, Unix seconds
	start int64
	width int64

	// Running statistics over non-null values
	count   int64
	sum     float64
	min     float64
	max     float64
	firstTs string
	lastTs  string

	// DDSketch for percentiles (nil if disabled)
	sketch *ddsketch.DDSketch
}

// NewBucket creates a bucket. accuracy <= 0 disables percentiles.
func NewBucket(tag string, start, width int64, accuracy float64) *Bucket {
	b := &Bucket{
		tag:   tag,
		start: start,
		width: width,
		min:   math.MaxFloat64,
		max:   -math.MaxFloat64,
	}

	if accuracy > 0 {
		sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
		if err == nil {
			b.sketch = sketch
		}
	}

	return b
}

// Add folds a row into the bucket. Null values still contribute their
// unit and timestamp.
func (b *Bucket) Add(r types.LogRow) {
	if b.unit == "" && r.Unit != "" {
		b.unit = r.Unit
	}

	if b.firstTs == "" || r.Timestamp < b.firstTs {
		b.firstTs = r.Timestamp
	}
	if r.Timestamp > b.lastTs {
		b.lastTs = r.Timestamp
	}

	if r.Value == nil {
		return
	}
	v := *r.Value

	b.count++
	b.sum += v

	if v < b.min {
		b.min = v
	}
	if v > b.max {
		b.max = v
	}

	if b.sketch != nil {
		// Only NaN and out-of-range values are rejected.
		_ = b.sketch.Add(v)
	}
}

// Count returns the number of non-null values added.
func (b *Bucket) Count() int64 {
	return b.count
}

// Start returns the bucket start.
func (b *Bucket) Start() time.Time {
	return time.Unix(b.start, 0).UTC()
}

// Result returns the aggregation result.
func (b *Bucket) Result() types.AggregateResult {
	result := types.AggregateResult{
		Tag:           b.tag,
		Unit:          b.unit,
		BucketStart:   types.FormatTimestamp(b.Start()),
		BucketSeconds: b.width,
		Count:         b.count,
		Sum:           b.sum,
		FirstTs:       b.firstTs,
		LastTs:        b.lastTs,
	}

	if b.count > 0 {
		result.Avg = b.sum / float64(b.count)
		result.Min = b.min
		result.Max = b.max
	}

	// Calculate percentiles if enabled and we have data
	if b.sketch != nil && b.count > 0 {
		p50, _ := b.sketch.GetValueAtQuantile(0.50)
		p90, _ := b.sketch.GetValueAtQuantile(0.90)
		p95, _ := b.sketch.GetValueAtQuantile(0.95)
		p99, _ := b.sketch.GetValueAtQuantile(0.99)
		result.SetPercentiles(p50, p90, p95, p99)
	}

	return result
}

// Floor returns the start of the width-second bucket containing t,
// aligned to the Unix epoch.
func Floor(t time.Time, width int64) int64 {
	sec := t.Unix()
	start := sec - sec%width
	if sec < 0 && sec%width != 0 {
		start -= width
	}
	return start
}
