package chunk

import (
	"context"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/xtxerr/plclogger/internal/storage/sqlitedb"
	"github.com/xtxerr/plclogger/internal/storage/types"
)

// QuotaStats reports one quota enforcement run.
type QuotaStats struct {
	Deleted     []string // base names, in deletion order
	BytesBefore int64
	BytesAfter  int64
	ByFamily    map[types.Family]int64
	OverCap     bool // still above the global cap after the run
	Errors      []error
}

// BytesFreed is the size reduction achieved by the run.
func (s QuotaStats) BytesFreed() int64 {
	return s.BytesBefore - s.BytesAfter
}

// EnforceQuota deletes whole chunk files, oldest first, until every capped
// family is within its cap and the total is within globalCap. Per-family
// caps are applied first. Global eviction then drains continuous before
// conditional before onchange. A cap of 0 disables that limit.
//
// Enforcement is best effort: it stops when nothing deletable remains and
// reports the outcome rather than failing.
func (e *Engine) EnforceQuota(ctx context.Context, globalCap int64, familyCaps map[types.Family]int64) QuotaStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := QuotaStats{ByFamily: make(map[types.Family]int64, 3)}
	stats.BytesBefore = e.totalBytes()

	for _, f := range types.AllFamilies() {
		limit := familyCaps[f]
		if limit <= 0 {
			continue
		}
		for e.familyBytes(f) > limit && e.deleteOldest(ctx, f, &stats) {
		}
	}

	if globalCap > 0 {
		for e.totalBytes() > globalCap {
			if !e.deleteOldest(ctx, types.FamilyContinuous, &stats) &&
				!e.deleteOldest(ctx, types.FamilyConditional, &stats) &&
				!e.deleteOldest(ctx, types.FamilyOnChange, &stats) {
				break
			}
		}
	}

	for _, f := range types.AllFamilies() {
		stats.ByFamily[f] = e.familyBytes(f)
		stats.BytesAfter += stats.ByFamily[f]
	}
	stats.OverCap = globalCap > 0 && stats.BytesAfter > globalCap

	if len(stats.Deleted) > 0 || stats.OverCap {
		log.Info("chunk quota enforced",
			"deleted", len(stats.Deleted),
			"before", humanize.IBytes(uint64(stats.BytesBefore)),
			"after", humanize.IBytes(uint64(stats.BytesAfter)),
			"over_cap", stats.OverCap,
		)
	}

	return stats
}

func (e *Engine) familyBytes(f types.Family) int64 {
	chunks, err := e.ListChunks(f)
	if err != nil {
		return 0
	}
	var total int64
	for _, c := range chunks {
		total += c.Size
	}
	return total
}

func (e *Engine) totalBytes() int64 {
	var total int64
	for _, f := range types.AllFamilies() {
		total += e.familyBytes(f)
	}
	return total
}

// deleteOldest removes the oldest deletable chunk of f. The active chunk
// is only deleted when it is the family's only file. It reports whether a
// file was removed.
func (e *Engine) deleteOldest(ctx context.Context, f types.Family, stats *QuotaStats) bool {
	chunks, err := e.ListChunks(f)
	if err != nil {
		stats.Errors = append(stats.Errors, err)
		return false
	}
	if len(chunks) == 0 {
		return false
	}

	active := e.active[f]
	if active == "" {
		active = chunks[len(chunks)-1].Path
	}

	victim := chunks[0]
	if victim.Path == active && len(chunks) > 1 {
		victim = chunks[1]
	}

	if e.opts.OnEvict != nil {
		if err := e.opts.OnEvict(ctx, victim); err != nil {
			log.Warn("evict hook failed", "chunk", victim.Name, "error", err)
			stats.Errors = append(stats.Errors, err)
		}
	}

	if victim.Path == active {
		e.dropHandle(f)
		delete(e.active, f)
	}

	if err := sqlitedb.Remove(victim.Path); err != nil {
		log.Error("delete chunk failed", "chunk", victim.Name, "error", err)
		stats.Errors = append(stats.Errors, err)
		return false
	}

	log.Debug("deleted chunk",
		"family", f.String(),
		"chunk", filepath.Base(victim.Path),
		"size", humanize.IBytes(uint64(victim.Size)),
	)
	stats.Deleted = append(stats.Deleted, victim.Name)
	return true
}
