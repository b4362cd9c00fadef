package aggregate

import (
	"fmt"
	"sort"

	"github.com/xtxerr/plclogger/internal/storage/types"
)

// Manager groups rows into (tag, bucket) aggregates.
type Manager struct {
	// Configuration
	width    int64 // seconds
	accuracy float64

	// Active buckets: key -> bucket
	buckets map[bucketKey]*Bucket

	// Statistics
	stats ManagerStats
}

type bucketKey struct {
	tag   string
	start int64
}

// ManagerStats holds statistics for the manager.
type ManagerStats struct {
	RowsProcessed int64
	RowsSkipped   int64 // unparseable timestamps
	Buckets       int64
}

// NewManager creates a manager for width-second buckets. accuracy > 0
// enables percentiles at that relative accuracy.
func NewManager(width int64, accuracy float64) (*Manager, error) {
	if width <= 0 {
		return nil, fmt.Errorf("bucket width must be positive, got %d", width)
	}
	return &Manager{
		width:    width,
		accuracy: accuracy,
		buckets:  make(map[bucketKey]*Bucket),
	}, nil
}

// Process adds a row to its bucket.
func (m *Manager) Process(r types.LogRow) {
	t, err := r.Time()
	if err != nil {
		m.stats.RowsSkipped++
		return
	}

	key := bucketKey{tag: r.Tag, start: Floor(t, m.width)}
	b, ok := m.buckets[key]
	if !ok {
		b = NewBucket(r.Tag, key.start, m.width, m.accuracy)
		m.buckets[key] = b
		m.stats.Buckets++
	}

	b.Add(r)
	m.stats.RowsProcessed++
}

// ProcessAll adds every row.
func (m *Manager) ProcessAll(rows []types.LogRow) {
	for _, r := range rows {
		m.Process(r)
	}
}

// Results returns the buckets newest first. Buckets that share a start
// are ordered by tag.
func (m *Manager) Results() []types.AggregateResult {
	out := make([]types.AggregateResult, 0, len(m.buckets))
	for _, b := range m.buckets {
		out = append(out, b.Result())
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].BucketStart != out[j].BucketStart {
			return out[i].BucketStart > out[j].BucketStart
		}
		return out[i].Tag < out[j].Tag
	})

	return out
}

// Stats returns processing statistics.
func (m *Manager) Stats() ManagerStats {
	return m.stats
}

// Bucketize groups rows into width-second buckets per tag and returns the
// buckets newest first, truncated to limit when limit > 0. accuracy > 0
// also tracks percentiles.
func Bucketize(rows []types.LogRow, width int64, accuracy float64, limit int) ([]types.AggregateResult, error) {
	m, err := NewManager(width, accuracy)
	if err != nil {
		return nil, err
	}
	m.ProcessAll(rows)

	results := m.Results()
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Rows converts bucket results into rows stamped with the bucket start and
// carrying the bucket mean.
func Rows(results []types.AggregateResult) []types.LogRow {
	out := make([]types.LogRow, len(results))
	for i := range results {
		out[i] = results[i].Row()
	}
	return out
}
