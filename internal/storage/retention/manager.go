// Package retention keeps a single-file database under its size cap by
// deleting rows in batches and handing the freed pages back to the file
// system with incremental vacuum.
package retention

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/xtxerr/plclogger/internal/errors"
	"github.com/xtxerr/plclogger/internal/logging"
	"github.com/xtxerr/plclogger/internal/storage/config"
	"github.com/xtxerr/plclogger/internal/storage/sqlitedb"
	"github.com/xtxerr/plclogger/internal/storage/types"
)

var log = logging.Component("retention")

// Phase names one deletion pass.
type Phase string

const (
	PhaseAge      Phase = "older_than_keep_days"
	PhasePriority Phase = "oldest_priority_tags"
	PhaseOldest   Phase = "oldest_any_age"
)

// Manager enforces the size cap of one database file.
type Manager struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	config *config.Config
	now    func() time.Time

	lastRun time.Time
	totals  ManagerStats
}

// Stats reports one enforcement run.
type Stats struct {
	Phases      []Phase
	BytesBefore int64
	BytesAfter  int64
	RowsDeleted int64
	Batches     int

	// Skipped is set when the file is over cap but cannot be shrunk in
	// place. Nothing is deleted in that case.
	Skipped    bool
	SkipReason string

	OverCap  bool
	Duration time.Duration
}

// ManagerStats accumulates over the manager's lifetime.
type ManagerStats struct {
	LastRunTime time.Time
	Runs        int64
	Skipped     int64
	RowsDeleted int64
	BytesFreed  int64
	Errors      int64
}

// New creates a retention manager for the single-file database db, which
// must be the file at cfg.SinglePath().
func New(db *sql.DB, cfg *config.Config) *Manager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	return &Manager{
		db:     db,
		path:   cfg.SinglePath(),
		config: cfg,
		now:    time.Now,
	}
}

func (m *Manager) capBytes() int64 {
	return config.Bytes(m.config.Retention.MaxDBMB)
}

// size is the footprint SQLite reports for the cap: main file plus WAL
// and shared memory.
func (m *Manager) size() int64 {
	main, wal, shm := sqlitedb.Sizes(m.path)
	return main + wal + shm
}

// EnforcePeriodic runs EnforceNow unless the previous run started less
// than enforce_every ago. It reports whether a run happened.
func (m *Manager) EnforcePeriodic(ctx context.Context) (Stats, bool, error) {
	m.mu.Lock()
	now := m.now()
	if !m.lastRun.IsZero() && now.Sub(m.lastRun) < m.config.EnforceEvery {
		m.mu.Unlock()
		return Stats{}, false, nil
	}
	m.lastRun = now
	m.mu.Unlock()

	stats, err := m.EnforceNow(ctx)
	return stats, true, err
}

// EnforceNow brings the file under its cap. Rows older than raw_keep_days
// go first, then the oldest rows of each purge tag, then the oldest rows
// of any tag. Each phase stops once the file is under cap, a batch
// deletes nothing, or a batch shrinks the file by less than min_gain_mb.
//
// Failing to reach the cap is reported through Stats.OverCap, not as an
// error. Errors are SQLite failures such as lock contention.
func (m *Manager) EnforceNow(ctx context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := m.now()
	stats, err := m.enforce(ctx)
	stats.Duration = m.now().Sub(start)

	m.totals.LastRunTime = start
	m.totals.Runs++
	m.totals.RowsDeleted += stats.RowsDeleted
	if freed := stats.BytesBefore - stats.BytesAfter; freed > 0 && err == nil {
		m.totals.BytesFreed += freed
	}
	if stats.Skipped {
		m.totals.Skipped++
	}
	if err != nil {
		m.totals.Errors++
		return stats, err
	}

	switch {
	case stats.Skipped:
		log.Warn("retention skipped", "reason", stats.SkipReason,
			"size", humanize.IBytes(uint64(stats.BytesBefore)),
			"cap", humanize.IBytes(uint64(m.capBytes())))
	case stats.RowsDeleted > 0 || stats.OverCap:
		log.Info("retention enforced",
			"phases", stats.Phases,
			"rows_deleted", stats.RowsDeleted,
			"before", humanize.IBytes(uint64(stats.BytesBefore)),
			"after", humanize.IBytes(uint64(stats.BytesAfter)),
			"over_cap", stats.OverCap,
		)
	}

	return stats, nil
}

func (m *Manager) enforce(ctx context.Context) (Stats, error) {
	var stats Stats
	limit := m.capBytes()

	if err := sqlitedb.Checkpoint(ctx, m.db); err != nil {
		return stats, err
	}
	size := m.size()
	stats.BytesBefore = size
	stats.BytesAfter = size
	if size <= limit {
		return stats, nil
	}

	mode, err := sqlitedb.AutoVacuum(ctx, m.db)
	if err != nil {
		return stats, err
	}
	if mode != sqlitedb.AutoVacuumIncremental {
		stats.Skipped = true
		stats.SkipReason = fmt.Sprintf("%v (auto_vacuum=%s)", errors.ErrAutoVacuumDisabled, sqlitedb.AutoVacuumLabel(mode))
		stats.OverCap = true
		return stats, nil
	}

	r := m.config.Retention

	if keep := r.RawKeep(); keep > 0 {
		cutoff := types.FormatTimestamp(m.now().Add(-keep))
		stats.Phases = append(stats.Phases, PhaseAge)
		size, err = m.phase(ctx, &stats, size, func(n int) (sql.Result, error) {
			return m.db.ExecContext(ctx, `DELETE FROM logs WHERE rowid IN (
				SELECT rowid FROM logs WHERE ts < ? ORDER BY ts ASC LIMIT ?)`, cutoff, n)
		})
		if err != nil {
			return stats, err
		}
	}

	if size > limit && len(r.PurgeTags) > 0 {
		stats.Phases = append(stats.Phases, PhasePriority)
		for _, tag := range r.PurgeTags {
			if size <= limit {
				break
			}
			size, err = m.phase(ctx, &stats, size, func(n int) (sql.Result, error) {
				return m.db.ExecContext(ctx, `DELETE FROM logs WHERE rowid IN (
					SELECT rowid FROM logs WHERE tag = ? ORDER BY ts ASC LIMIT ?)`, tag, n)
			})
			if err != nil {
				return stats, err
			}
		}
	}

	if size > limit {
		stats.Phases = append(stats.Phases, PhaseOldest)
		size, err = m.phase(ctx, &stats, size, func(n int) (sql.Result, error) {
			return m.db.ExecContext(ctx, `DELETE FROM logs WHERE rowid IN (
				SELECT rowid FROM logs ORDER BY ts ASC LIMIT ?)`, n)
		})
		if err != nil {
			return stats, err
		}
	}

	if err := sqlitedb.IncrementalVacuum(ctx, m.db, 0); err != nil {
		return stats, err
	}
	if err := sqlitedb.Checkpoint(ctx, m.db); err != nil {
		return stats, err
	}

	stats.BytesAfter = m.size()
	stats.OverCap = stats.BytesAfter > limit
	return stats, nil
}

// phase repeats del until the file is under cap or a stop condition hits.
// It returns the measured size after the last batch.
func (m *Manager) phase(ctx context.Context, stats *Stats, size int64, del func(n int) (sql.Result, error)) (int64, error) {
	r := m.config.Retention
	limit := m.capBytes()
	minGain := config.Bytes(r.MinGainMB)

	for size > limit {
		if err := ctx.Err(); err != nil {
			return size, err
		}

		res, err := del(r.DeleteBatch)
		if err != nil {
			return size, errors.Mark(fmt.Errorf("delete batch: %w", err), busyOr(err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return size, fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			break
		}
		stats.RowsDeleted += n
		stats.Batches++

		if err := sqlitedb.IncrementalVacuum(ctx, m.db, r.VacuumPages); err != nil {
			return size, err
		}
		if err := sqlitedb.Checkpoint(ctx, m.db); err != nil {
			return size, err
		}

		next := m.size()
		gain := size - next
		size = next
		if gain < minGain {
			log.Debug("retention phase stopped on diminishing returns",
				"gain", humanize.IBytes(uint64(max(gain, 0))),
				"min_gain", humanize.IBytes(uint64(minGain)),
			)
			break
		}
	}

	return size, nil
}

func busyOr(err error) error {
	if sqlitedb.IsBusy(err) {
		return errors.ErrBusy
	}
	return errors.ErrDatabase
}

// Stats returns lifetime statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals
}

// =============================================================================
// Status
// =============================================================================

// Status describes the database file and its reclaimability.
type Status struct {
	Path          string
	MainBytes     int64
	WALBytes      int64
	SHMBytes      int64
	TotalBytes    int64
	CapBytes      int64
	CapPercent    float64
	AutoVacuum    string
	JournalMode   string
	PageSize      int64
	PageCount     int64
	FreelistCount int64
	Rows          int64
	OldestTs      string
	NewestTs      string
}

// Status inspects the file without modifying it.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	return Inspect(ctx, m.db, m.path, m.capBytes())
}

// Inspect reports the status of db, the database at path.
func Inspect(ctx context.Context, db *sql.DB, path string, capBytes int64) (Status, error) {
	s := Status{Path: path, CapBytes: capBytes}
	s.MainBytes, s.WALBytes, s.SHMBytes = sqlitedb.Sizes(path)
	s.TotalBytes = s.MainBytes + s.WALBytes + s.SHMBytes
	if capBytes > 0 {
		s.CapPercent = float64(s.TotalBytes) / float64(capBytes) * 100
	}

	mode, err := sqlitedb.AutoVacuum(ctx, db)
	if err != nil {
		return s, err
	}
	s.AutoVacuum = sqlitedb.AutoVacuumLabel(mode)

	if s.JournalMode, err = sqlitedb.JournalMode(ctx, db); err != nil {
		return s, err
	}
	for _, p := range []struct {
		name string
		dst  *int64
	}{
		{"page_size", &s.PageSize},
		{"page_count", &s.PageCount},
		{"freelist_count", &s.FreelistCount},
	} {
		if *p.dst, err = sqlitedb.PragmaInt(ctx, db, p.name); err != nil {
			return s, err
		}
	}

	var oldest, newest sql.NullString
	err = db.QueryRowContext(ctx, "SELECT COUNT(*), MIN(ts), MAX(ts) FROM logs").Scan(&s.Rows, &oldest, &newest)
	if err != nil {
		return s, fmt.Errorf("count logs: %w", err)
	}
	s.OldestTs, s.NewestTs = oldest.String, newest.String

	return s, nil
}

// FormatStatus returns a human-readable report.
func (s Status) FormatStatus() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Database: %s\n", s.Path)
	fmt.Fprintf(&b, "  main:     %s\n", humanize.IBytes(uint64(s.MainBytes)))
	fmt.Fprintf(&b, "  wal:      %s\n", humanize.IBytes(uint64(s.WALBytes)))
	fmt.Fprintf(&b, "  shm:      %s\n", humanize.IBytes(uint64(s.SHMBytes)))
	if s.CapBytes > 0 {
		fmt.Fprintf(&b, "  total:    %s of %s (%.1f%%)\n",
			humanize.IBytes(uint64(s.TotalBytes)), humanize.IBytes(uint64(s.CapBytes)), s.CapPercent)
	} else {
		fmt.Fprintf(&b, "  total:    %s\n", humanize.IBytes(uint64(s.TotalBytes)))
	}
	fmt.Fprintf(&b, "  auto_vacuum=%s journal_mode=%s page_size=%d pages=%d free=%d\n",
		s.AutoVacuum, s.JournalMode, s.PageSize, s.PageCount, s.FreelistCount)
	fmt.Fprintf(&b, "  rows:     %s", humanize.Comma(s.Rows))
	if s.Rows > 0 {
		fmt.Fprintf(&b, " (%s .. %s)", s.OldestTs, s.NewestTs)
	}
	b.WriteString("\n")
	return b.String()
}

// =============================================================================
// Maintenance
// =============================================================================

// EnableIncrementalAutoVacuum switches an existing database to incremental
// auto-vacuum. The VACUUM this requires rewrites the whole file, so it is
// meant for a maintenance window with the logger stopped.
func EnableIncrementalAutoVacuum(ctx context.Context, path string, busyTimeout time.Duration) error {
	db, err := sqlitedb.Open(path, sqlitedb.Options{BusyTimeout: busyTimeout})
	if err != nil {
		return err
	}
	defer db.Close()

	mode, err := sqlitedb.AutoVacuum(ctx, db)
	if err != nil {
		return err
	}
	if mode == sqlitedb.AutoVacuumIncremental {
		return nil
	}

	if _, err := db.ExecContext(ctx, "PRAGMA auto_vacuum = INCREMENTAL"); err != nil {
		return fmt.Errorf("set auto_vacuum: %w", err)
	}
	log.Info("rewriting database to enable incremental auto_vacuum",
		"path", path, "size", humanize.IBytes(uint64(sqlitedb.TotalSize(path))))
	if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}

	mode, err = sqlitedb.AutoVacuum(ctx, db)
	if err != nil {
		return err
	}
	if mode != sqlitedb.AutoVacuumIncremental {
		return fmt.Errorf("auto_vacuum is still %s after VACUUM", sqlitedb.AutoVacuumLabel(mode))
	}
	return nil
}
