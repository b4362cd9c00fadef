package config

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/xtxerr/plclogger/internal/storage/types"
)

// Requirements is a capacity estimate for a storage configuration under a
// given write rate.
type Requirements struct {
	// Throughput per family (worst case: every conditional tag active)
	RowsPerSecond map[types.Family]float64
	BytesPerDay   map[types.Family]int64

	// Total write volume
	TotalRowsPerDay  int64
	TotalBytesPerDay int64

	// Cap and the history it holds
	CapBytes     int64
	DaysRetained float64 // 0 when uncapped or nothing is written
}

// Constants for calculations
const (
	// Bytes per stored row: ~26 byte timestamp, tag, value, unit, record
	// header and the two index entries.
	bytesPerRow = 120
)

// CalculateRequirements estimates daily growth and retained history for
// the given per-family row rates.
func (c *Config) CalculateRequirements(rowsPerSecond map[types.Family]float64) Requirements {
	r := Requirements{
		RowsPerSecond: rowsPerSecond,
		BytesPerDay:   make(map[types.Family]int64, len(rowsPerSecond)),
	}

	for _, f := range types.AllFamilies() {
		rows := int64(rowsPerSecond[f] * 86400)
		r.TotalRowsPerDay += rows
		r.BytesPerDay[f] = rows * bytesPerRow
		r.TotalBytesPerDay += r.BytesPerDay[f]
	}

	switch c.Layout {
	case LayoutSingle:
		r.CapBytes = Bytes(c.Retention.MaxDBMB)
	default:
		r.CapBytes = Bytes(c.Chunks.TotalCapMB)
	}

	if r.CapBytes > 0 && r.TotalBytesPerDay > 0 {
		r.DaysRetained = float64(r.CapBytes) / float64(r.TotalBytesPerDay)
	}

	return r
}

// FormatRequirements returns a human-readable summary of requirements.
func (r *Requirements) FormatRequirements() string {
	var b strings.Builder

	b.WriteString("Storage Estimate\n================\n\n")
	b.WriteString("Per family:\n")
	for _, f := range types.AllFamilies() {
		fmt.Fprintf(&b, "  %-12s %8.2f rows/s  %10s/day\n",
			f.String()+":", r.RowsPerSecond[f], humanize.IBytes(uint64(r.BytesPerDay[f])))
	}

	fmt.Fprintf(&b, "\nTotal:\n  Rows/day:          %s\n  Growth/day:        %s\n",
		humanize.Comma(r.TotalRowsPerDay), humanize.IBytes(uint64(r.TotalBytesPerDay)))

	if r.CapBytes > 0 {
		fmt.Fprintf(&b, "  Cap:               %s\n", humanize.IBytes(uint64(r.CapBytes)))
	} else {
		b.WriteString("  Cap:               none\n")
	}
	if r.DaysRetained > 0 {
		fmt.Fprintf(&b, "  History retained:  %.1f days\n", r.DaysRetained)
	}

	return b.String()
}
