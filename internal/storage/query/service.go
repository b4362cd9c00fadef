// Package query answers time-range reads across chunk files or the
// single database file, with optional bucketing and CSV output.
package query

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	defaults "github.com/xtxerr/plclogger/config"
	"github.com/xtxerr/plclogger/internal/errors"
	"github.com/xtxerr/plclogger/internal/logging"
	"github.com/xtxerr/plclogger/internal/storage/aggregate"
	"github.com/xtxerr/plclogger/internal/storage/config"
	"github.com/xtxerr/plclogger/internal/storage/sqlitedb"
	"github.com/xtxerr/plclogger/internal/storage/types"
)

var log = logging.Component("query")

// Source lists the files a query for tag has to read. An empty tag means
// every partition.
type Source interface {
	Partitions(tag string) ([]types.Partition, error)
}

// Request describes one read. Explicit Start/End take precedence over
// Preset. End is exclusive.
type Request struct {
	Tag    string
	Start  time.Time
	End    time.Time
	Preset Preset

	// Limit caps the returned rows. 0 uses the default limit.
	Limit int

	// FetchLimit overrides the raw row count read before bucketing.
	FetchLimit int

	// BucketSeconds > 0 averages rows into buckets of that width.
	BucketSeconds int64

	// Stats adds per-bucket statistics to a bucketed result.
	Stats bool
}

// Result is the answer to a Request.
type Result struct {
	Rows    []types.LogRow
	Buckets []types.AggregateResult // only with Request.Stats

	// Resolved range; zero times are unbounded.
	Start time.Time
	End   time.Time

	// Skipped lists files that could not be read.
	Skipped []string
}

// Service runs queries against a Source.
type Service struct {
	mu sync.RWMutex

	config   *config.Config
	source   Source
	calendar Calendar
	now      func() time.Time

	// Statistics
	stats Stats
}

// Stats holds query statistics.
type Stats struct {
	QueriesExecuted int64
	RowsReturned    int64
	FilesRead       int64
	FilesPruned     int64 // skipped by the MAX(ts) check
	FilesSkipped    int64 // unreadable
	Errors          int64
}

// New creates a query service.
func New(cfg *config.Config, src Source, cal Calendar) *Service {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Service{
		config:   cfg,
		source:   src,
		calendar: cal,
		now:      time.Now,
	}
}

// Query returns up to Limit rows newest first.
func (s *Service) Query(ctx context.Context, req Request) (*Result, error) {
	res, err := s.query(ctx, req)

	s.mu.Lock()
	if err != nil {
		s.stats.Errors++
	} else {
		s.stats.QueriesExecuted++
		s.stats.RowsReturned += int64(len(res.Rows))
	}
	s.mu.Unlock()

	return res, err
}

func (s *Service) query(ctx context.Context, req Request) (*Result, error) {
	limit := s.limit(req.Limit)
	if req.BucketSeconds < 0 {
		return nil, errors.Wrapf(errors.ErrInvalidRange, "bucket width %d", req.BucketSeconds)
	}

	start, end, err := s.resolve(req)
	if err != nil {
		return nil, err
	}

	fetch := limit
	if req.BucketSeconds > 0 {
		fetch = max(limit*s.config.Query.BucketFetchFactor, s.config.Query.BucketFetchMin)
	}
	if req.FetchLimit > 0 {
		fetch = req.FetchLimit
	}

	filter := sqlitedb.Filter{Tag: req.Tag, Limit: fetch}
	if !start.IsZero() {
		filter.Start = types.FormatTimestamp(start)
	}
	if !end.IsZero() {
		filter.End = types.FormatTimestamp(end)
	}

	parts, err := s.source.Partitions(req.Tag)
	if err != nil {
		return nil, errors.Wrap(err, "list partitions")
	}

	scans := make([]scan, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range parts {
		i, p := i, p
		g.Go(func() error {
			scans[i] = s.scanPartition(gctx, p, filter)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Start: start, End: end}
	var rows []types.LogRow
	for _, sc := range scans {
		rows = append(rows, sc.rows...)
		res.Skipped = append(res.Skipped, sc.skipped...)
	}
	rows = newest(rows, fetch)

	if req.BucketSeconds == 0 {
		res.Rows = truncate(rows, limit)
		return res, nil
	}

	accuracy := 0.0
	if req.Stats {
		accuracy = s.config.Percentile.Accuracy
	}
	buckets, err := aggregate.Bucketize(rows, req.BucketSeconds, accuracy, limit)
	if err != nil {
		return nil, errors.Mark(err, errors.ErrInvalidRange)
	}
	res.Rows = aggregate.Rows(buckets)
	if req.Stats {
		res.Buckets = buckets
	}
	return res, nil
}

func (s *Service) limit(n int) int {
	if n <= 0 {
		n = defaults.DefaultQueryLimit
	}
	if m := s.config.Query.MaxLimit; m > 0 && n > m {
		n = m
	}
	return n
}

func (s *Service) resolve(req Request) (time.Time, time.Time, error) {
	start, end := req.Start, req.End
	if start.IsZero() && end.IsZero() {
		var err error
		start, end, err = s.calendar.Resolve(req.Preset, s.now())
		if err != nil {
			return start, end, err
		}
	}
	if !start.IsZero() && !end.IsZero() && !start.Before(end) {
		return start, end, errors.Wrapf(errors.ErrInvalidRange, "start %s is not before end %s",
			types.FormatTimestamp(start), types.FormatTimestamp(end))
	}
	return start, end, nil
}

// =============================================================================
// Partition scan
// =============================================================================

type scan struct {
	rows    []types.LogRow
	skipped []string
	read    int64
	pruned  int64
}

// scanPartition reads files newest first. Each file contributes its own
// newest f.Limit rows. Once f.Limit rows are held, a file whose newest
// matching row is not newer than the held limit-th row cannot change the
// result and is not read.
func (s *Service) scanPartition(ctx context.Context, p types.Partition, f sqlitedb.Filter) scan {
	var sc scan
	for _, path := range p.Files {
		if ctx.Err() != nil {
			break
		}

		rows, pruned, err := s.readFile(ctx, path, f, sc.rows)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Warn("skipping unreadable file", "partition", p.Name, "file", path, "error", err)
			sc.skipped = append(sc.skipped, path)
			continue
		}
		if pruned {
			sc.pruned++
			continue
		}
		sc.read++
		sc.rows = newest(append(sc.rows, rows...), f.Limit)
	}

	s.mu.Lock()
	s.stats.FilesRead += sc.read
	s.stats.FilesPruned += sc.pruned
	s.stats.FilesSkipped += int64(len(sc.skipped))
	s.mu.Unlock()

	return sc
}

func (s *Service) readFile(ctx context.Context, path string, f sqlitedb.Filter, held []types.LogRow) ([]types.LogRow, bool, error) {
	db, err := sqlitedb.Open(path, sqlitedb.Options{
		ReadOnly:    true,
		BusyTimeout: s.config.BusyTimeout,
	})
	if err != nil {
		return nil, false, err
	}
	defer db.Close()

	wait := s.config.Query.BusyWait

	if f.Limit > 0 && len(held) >= f.Limit {
		floor := held[f.Limit-1].Timestamp
		var maxTs string
		var ok bool
		err := sqlitedb.Retry(ctx, wait, func() error {
			var err error
			maxTs, ok, err = sqlitedb.MaxTimestamp(ctx, db, f)
			return err
		})
		if err != nil {
			return nil, false, err
		}
		if !ok || maxTs <= floor {
			return nil, true, nil
		}
	}

	var rows []types.LogRow
	err = sqlitedb.Retry(ctx, wait, func() error {
		var err error
		rows, err = sqlitedb.QueryNewest(ctx, db, f)
		return err
	})
	return rows, false, err
}

// newest sorts rows newest first and keeps at most limit of them.
func newest(rows []types.LogRow, limit int) []types.LogRow {
	types.SortNewestFirst(rows)
	return truncate(rows, limit)
}

func truncate(rows []types.LogRow, limit int) []types.LogRow {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}

// Stats returns query statistics.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}
