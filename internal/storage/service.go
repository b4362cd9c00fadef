package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xtxerr/plclogger/internal/catalog"
	"github.com/xtxerr/plclogger/internal/errors"
	"github.com/xtxerr/plclogger/internal/logging"
	"github.com/xtxerr/plclogger/internal/storage/archive"
	"github.com/xtxerr/plclogger/internal/storage/chunk"
	"github.com/xtxerr/plclogger/internal/storage/config"
	"github.com/xtxerr/plclogger/internal/storage/meta"
	"github.com/xtxerr/plclogger/internal/storage/query"
	"github.com/xtxerr/plclogger/internal/storage/retention"
	"github.com/xtxerr/plclogger/internal/storage/single"
	"github.com/xtxerr/plclogger/internal/storage/sqlitedb"
	"github.com/xtxerr/plclogger/internal/storage/types"
)

var log = logging.Component("storage")

// Service is the storage facade shared by the poll loop and the API. It
// hides whether rows live in per-family chunks or in one file.
type Service struct {
	mu sync.Mutex

	config   *config.Config
	readOnly bool

	// Components; exactly one of chunks and single is set.
	chunks    *chunk.Engine
	single    *single.Store
	retention *retention.Manager
	meta      *meta.Store
	archive   *archive.Exporter
	query     *query.Service
	labels    *query.LabelCache

	// Quota state of the chunked layout
	familyCaps  map[types.Family]int64
	lastEnforce time.Time
	now         func() time.Time

	startTime time.Time
	closed    bool
}

// QuotaReport describes one quota enforcement run of either layout.
type QuotaReport struct {
	Layout      string
	BytesBefore int64
	BytesAfter  int64
	OverCap     bool

	Chunks    *chunk.QuotaStats // chunked layout
	Retention *retention.Stats  // single-file layout
}

// Usage is the on-disk footprint of the store.
type Usage struct {
	Layout   string
	Bytes    int64
	CapBytes int64
	Families map[types.Family]chunk.FamilyUsage // chunked layout only
}

// ServiceStats holds combined statistics.
type ServiceStats struct {
	Layout    string
	ReadOnly  bool
	Uptime    time.Duration
	Query     query.Stats
	Retention *retention.ManagerStats
	Archive   *archive.Stats
}

// Open opens the store for writing, creating directories and schemas. cat
// routes tags to families; it may be nil, in which case every tag is
// treated as on-change.
func Open(ctx context.Context, cfg *config.Config, cat *catalog.Catalog, cal query.Calendar) (*Service, error) {
	return open(ctx, cfg, cat, cal, false)
}

// OpenReadOnly opens an existing store for reading only. Nothing is
// created and every write fails with errors.ErrReadOnly.
func OpenReadOnly(ctx context.Context, cfg *config.Config, cat *catalog.Catalog, cal query.Calendar) (*Service, error) {
	return open(ctx, cfg, cat, cal, true)
}

func open(ctx context.Context, cfg *config.Config, cat *catalog.Catalog, cal query.Calendar, readOnly bool) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if !readOnly {
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, fmt.Errorf("ensure directories: %w", err)
		}
	}

	s := &Service{
		config:    cfg,
		readOnly:  readOnly,
		now:       time.Now,
		startTime: time.Now(),
	}

	var (
		src query.Source
		err error
	)
	switch cfg.Layout {
	case config.LayoutSingle:
		src, err = s.openSingle(ctx)
	default:
		src, err = s.openChunked(ctx, cat)
	}
	if err != nil {
		s.Close()
		return nil, err
	}

	s.query = query.New(cfg, src, cal)
	s.labels = query.NewLabelCache(s.meta)

	log.Info("storage opened",
		"layout", cfg.Layout,
		"root", cfg.Root,
		"read_only", readOnly,
		"archive", s.archive != nil)
	return s, nil
}

func (s *Service) openSingle(ctx context.Context) (query.Source, error) {
	opts := sqlitedb.Options{BusyTimeout: s.config.BusyTimeout, ReadOnly: s.readOnly}

	st, err := single.Open(ctx, s.config.SinglePath(), opts)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s.single = st

	s.meta, err = meta.Attach(ctx, st.DB(), st.Path(), s.readOnly)
	if err != nil {
		return nil, fmt.Errorf("open metadata: %w", err)
	}

	if !s.readOnly {
		s.retention = retention.New(st.DB(), s.config)
	}
	return st, nil
}

func (s *Service) openChunked(ctx context.Context, cat *catalog.Catalog) (query.Source, error) {
	overrides, err := s.config.Chunks.Overrides()
	if err != nil {
		return nil, err
	}
	s.familyCaps, err = s.config.Chunks.FamilyCaps()
	if err != nil {
		return nil, err
	}

	var tags []catalog.Tag
	if cat != nil {
		tags = cat.Tags
	}

	opts := chunk.Options{
		Root:        s.config.Root,
		MaxBytes:    config.Bytes(s.config.Chunks.MaxMB),
		BusyTimeout: s.config.BusyTimeout,
		ReadOnly:    s.readOnly,
	}
	if s.config.Archive.Enabled && !s.readOnly {
		s.archive = archive.NewExporter(
			s.config.ArchiveDir(),
			archive.Options{Compression: archive.ParseCompressionType(s.config.Archive.Compression)},
			s.config.BusyTimeout,
		)
		opts.OnEvict = s.archive.ExportChunk
	}

	s.chunks, err = chunk.New(opts, chunk.NewRouter(tags, overrides))
	if err != nil {
		return nil, err
	}

	s.meta, err = meta.Open(ctx, s.config.MetaPath(), sqlitedb.Options{
		BusyTimeout: s.config.BusyTimeout,
		ReadOnly:    s.readOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("open metadata: %w", err)
	}
	return s.chunks, nil
}

// =============================================================================
// Writes
// =============================================================================

// WriteRows persists rows. With the chunked layout a failure may be
// partial; the rows that were not written are in the returned
// *chunk.WriteError.
func (s *Service) WriteRows(ctx context.Context, rows []types.LogRow) error {
	if err := s.writable(); err != nil {
		return err
	}
	if s.chunks != nil {
		return s.chunks.WriteRows(ctx, rows)
	}
	return s.single.WriteRows(ctx, rows)
}

// SyncCatalog mirrors the tag and setpoint definitions into the metadata
// store.
func (s *Service) SyncCatalog(ctx context.Context, cat *catalog.Catalog) error {
	if err := s.writable(); err != nil {
		return err
	}
	return s.meta.SyncCatalog(ctx, cat)
}

// PutState records the poll loop health snapshot.
func (s *Service) PutState(ctx context.Context, st types.RuntimeState) error {
	if err := s.writable(); err != nil {
		return err
	}
	return s.meta.PutState(ctx, st.Map())
}

// PutPolicy publishes the poll loop's per-tag policy memory.
func (s *Service) PutPolicy(ctx context.Context, states []types.PolicyState) error {
	if err := s.writable(); err != nil {
		return err
	}
	return s.meta.PutPolicy(ctx, states)
}

func (s *Service) writable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.ErrClosed
	}
	if s.readOnly {
		return errors.ErrReadOnly
	}
	return nil
}

// =============================================================================
// Quota
// =============================================================================

// EnforceQuota runs quota enforcement now.
func (s *Service) EnforceQuota(ctx context.Context) (QuotaReport, error) {
	if err := s.writable(); err != nil {
		return QuotaReport{}, err
	}

	if s.retention != nil {
		st, err := s.retention.EnforceNow(ctx)
		return retentionReport(st), err
	}

	s.mu.Lock()
	s.lastEnforce = s.now()
	s.mu.Unlock()
	return s.enforceChunks(ctx), nil
}

// EnforceQuotaPeriodic runs quota enforcement unless the last run was less
// than enforce_every ago. ran reports whether it ran.
func (s *Service) EnforceQuotaPeriodic(ctx context.Context) (report QuotaReport, ran bool, err error) {
	if err := s.writable(); err != nil {
		return QuotaReport{}, false, err
	}

	if s.retention != nil {
		st, ran, err := s.retention.EnforcePeriodic(ctx)
		return retentionReport(st), ran, err
	}

	s.mu.Lock()
	now := s.now()
	due := s.lastEnforce.IsZero() || now.Sub(s.lastEnforce) >= s.config.EnforceEvery
	if due {
		s.lastEnforce = now
	}
	s.mu.Unlock()

	if !due {
		return QuotaReport{Layout: config.LayoutChunked}, false, nil
	}
	return s.enforceChunks(ctx), true, nil
}

func (s *Service) enforceChunks(ctx context.Context) QuotaReport {
	st := s.chunks.EnforceQuota(ctx, config.Bytes(s.config.Chunks.TotalCapMB), s.familyCaps)
	for _, err := range st.Errors {
		log.Warn("quota enforcement error", "error", err)
	}
	return QuotaReport{
		Layout:      config.LayoutChunked,
		BytesBefore: st.BytesBefore,
		BytesAfter:  st.BytesAfter,
		OverCap:     st.OverCap,
		Chunks:      &st,
	}
}

func retentionReport(st retention.Stats) QuotaReport {
	return QuotaReport{
		Layout:      config.LayoutSingle,
		BytesBefore: st.BytesBefore,
		BytesAfter:  st.BytesAfter,
		OverCap:     st.OverCap,
		Retention:   &st,
	}
}

// =============================================================================
// Reads
// =============================================================================

// Query runs a time-range query.
func (s *Service) Query(ctx context.Context, req query.Request) (*query.Result, error) {
	return s.query.Query(ctx, req)
}

// Latest returns the newest persisted row of each tag that has one.
func (s *Service) Latest(ctx context.Context, tags []string) (map[string]types.LogRow, error) {
	if s.chunks != nil {
		return s.chunks.Latest(ctx, tags)
	}
	return s.single.Latest(ctx, tags)
}

// State returns the last recorded poll loop health snapshot.
func (s *Service) State(ctx context.Context) (types.RuntimeState, error) {
	m, err := s.meta.State(ctx)
	if err != nil {
		return types.RuntimeState{}, err
	}
	return types.RuntimeStateFromMap(m), nil
}

// Policy returns the last published per-tag policy memory.
func (s *Service) Policy(ctx context.Context) ([]types.PolicyState, error) {
	return s.meta.Policy(ctx)
}

// Tags returns the mirrored tag definitions.
func (s *Service) Tags(ctx context.Context) ([]meta.TagMeta, error) {
	return s.meta.Tags(ctx)
}

// Setpoints returns the mirrored setpoint definitions.
func (s *Service) Setpoints(ctx context.Context) ([]meta.TagMeta, error) {
	return s.meta.Setpoints(ctx)
}

// Labels returns tag labels, cached until the metadata file changes.
func (s *Service) Labels(ctx context.Context) (map[string]string, error) {
	return s.labels.Labels(ctx)
}

// Usage returns the on-disk footprint.
func (s *Service) Usage() Usage {
	if s.chunks != nil {
		u := Usage{
			Layout:   config.LayoutChunked,
			CapBytes: config.Bytes(s.config.Chunks.TotalCapMB),
			Families: s.chunks.Usage(),
		}
		for _, fu := range u.Families {
			u.Bytes += fu.Bytes
		}
		return u
	}
	return Usage{
		Layout:   config.LayoutSingle,
		Bytes:    sqlitedb.TotalSize(s.single.Path()),
		CapBytes: config.Bytes(s.config.Retention.MaxDBMB),
	}
}

// RetentionStatus inspects the single database file. It fails with the
// chunked layout.
func (s *Service) RetentionStatus(ctx context.Context) (retention.Status, error) {
	if s.single == nil {
		return retention.Status{}, fmt.Errorf("retention status: %w: layout is %s", errors.ErrNotFound, s.config.Layout)
	}
	return retention.Inspect(ctx, s.single.DB(), s.single.Path(), config.Bytes(s.config.Retention.MaxDBMB))
}

// Stats returns combined statistics.
func (s *Service) Stats() ServiceStats {
	st := ServiceStats{
		Layout:   s.config.Layout,
		ReadOnly: s.readOnly,
		Uptime:   time.Since(s.startTime),
		Query:    s.query.Stats(),
	}
	if s.retention != nil {
		rs := s.retention.Stats()
		st.Retention = &rs
	}
	if s.archive != nil {
		as := s.archive.Stats()
		st.Archive = &as
	}
	return st
}

// Config returns the storage configuration.
func (s *Service) Config() *config.Config {
	return s.config
}

// Close releases every database handle.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	if s.meta != nil {
		if err := s.meta.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close metadata: %w", err))
		}
	}
	if s.chunks != nil {
		if err := s.chunks.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chunks: %w", err))
		}
	}
	if s.single != nil {
		if err := s.single.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}
