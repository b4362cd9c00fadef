// Package poller runs the sample loop that turns PLC registers into stored
// log rows.
//
// One Loop owns the policy engine, the pending batch and the runtime state.
// Each cycle reads the status window once, decodes every tag, and lets the
// policy engine decide what to log. Rows are flushed to storage at most
// once per flush interval. Field bus failures never stop the loop: the
// connection is reset and the next read waits for the backoff delay.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	defaults "github.com/xtxerr/plclogger/config"
	"github.com/xtxerr/plclogger/internal/catalog"
	"github.com/xtxerr/plclogger/internal/errors"
	"github.com/xtxerr/plclogger/internal/logging"
	"github.com/xtxerr/plclogger/internal/policy"
	"github.com/xtxerr/plclogger/internal/register"
	"github.com/xtxerr/plclogger/internal/storage"
	"github.com/xtxerr/plclogger/internal/storage/buffer"
	"github.com/xtxerr/plclogger/internal/storage/chunk"
	"github.com/xtxerr/plclogger/internal/storage/types"
)

var log = logging.Component("poller")

// =============================================================================
// Collaborators
// =============================================================================

// Source reads the status window.
type Source interface {
	ReadWindow(ctx context.Context) (register.Window, error)
	Reset() error
}

// Store is the subset of the storage service used by the loop.
type Store interface {
	WriteRows(ctx context.Context, rows []types.LogRow) error
	PutState(ctx context.Context, st types.RuntimeState) error
	PutPolicy(ctx context.Context, states []types.PolicyState) error
	Latest(ctx context.Context, tags []string) (map[string]types.LogRow, error)
	EnforceQuotaPeriodic(ctx context.Context) (storage.QuotaReport, bool, error)
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds loop timing.
type Config struct {
	SampleInterval time.Duration
	FlushInterval  time.Duration
	MaxPending     int
	WordOrder      register.WordOrder
	Backoff        Backoff

	// FinalFlushTimeout bounds the flush performed when Run returns.
	FinalFlushTimeout time.Duration
}

// DefaultConfig returns the default loop timing.
func DefaultConfig() Config {
	return Config{
		SampleInterval:    defaults.DefaultSampleInterval,
		FlushInterval:     defaults.DefaultFlushInterval,
		MaxPending:        defaults.DefaultMaxPending,
		WordOrder:         register.HighFirst,
		Backoff:           DefaultBackoff(),
		FinalFlushTimeout: defaults.DefaultShutdownTimeout,
	}
}

// =============================================================================
// Loop
// =============================================================================

// Stats tracks loop activity.
type Stats struct {
	Cycles        int64
	ReadErrors    int64
	DecodeErrors  int64
	RowsLogged    int64
	RowsWritten   int64
	RowsDropped   int64
	Flushes       int64
	FlushErrors   int64
	QuotaRuns     int64
	QuotaErrors   int64
	Pending       int
	LastReadError string
}

// Loop is the sample loop. Step and Flush must not be called concurrently;
// Stats and State may be called from any goroutine.
type Loop struct {
	cfg    Config
	cat    *catalog.Catalog
	src    Source
	store  Store
	engine *policy.Engine
	now    func() time.Time

	pending   *buffer.RingBuffer
	lastFlush time.Time
	failures  int

	mu    sync.Mutex
	state types.RuntimeState
	stats Stats
}

// New creates a loop. Call Hydrate before the first Step.
func New(cfg Config, cat *catalog.Catalog, src Source, store Store) *Loop {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = defaults.DefaultSampleInterval
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaults.DefaultFlushInterval
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = defaults.DefaultMaxPending
	}
	if cfg.Backoff.Min <= 0 {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.FinalFlushTimeout <= 0 {
		cfg.FinalFlushTimeout = defaults.DefaultShutdownTimeout
	}

	return &Loop{
		cfg:     cfg,
		cat:     cat,
		src:     src,
		store:   store,
		engine:  policy.New(cat.Tags),
		pending: buffer.New(cfg.MaxPending),
		now:     time.Now,
	}
}

// Hydrate seeds the policy engine from the newest stored row of every tag.
// A storage error is logged and the engine is seeded with nothing, so that
// every tag waits one full cadence before its first row.
func (l *Loop) Hydrate(ctx context.Context) error {
	latest, err := l.store.Latest(ctx, l.cat.Names())
	if err != nil {
		log.Warn("could not load latest rows, starting cold", "error", err)
		latest = nil
	}
	now := l.now()
	l.engine.Seed(latest, now)
	l.lastFlush = now
	return err
}

// Run samples until ctx is canceled, then flushes what is pending.
func (l *Loop) Run(ctx context.Context) error {
	log.Info("poll loop started",
		"sample_interval", l.cfg.SampleInterval,
		"flush_interval", l.cfg.FlushInterval,
		"tags", len(l.cat.Tags))

	if l.lastFlush.IsZero() {
		l.lastFlush = l.now()
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return l.shutdown()
		case <-timer.C:
		}

		delay := l.cfg.SampleInterval
		if err := l.Step(ctx); err != nil && ctx.Err() == nil {
			delay = l.cfg.Backoff.Delay(l.failures)
			log.Warn("read failed",
				"error", err,
				"consecutive", l.failures,
				"retry_in", delay)
		}
		timer.Reset(delay)
	}
}

func (l *Loop) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.FinalFlushTimeout)
	defer cancel()

	err := l.Flush(ctx)
	if n := l.pending.Len(); n > 0 {
		log.Error("rows lost on shutdown", "rows", n, "error", err)
	}
	log.Info("poll loop stopped")
	return err
}

// Step runs one sample cycle. It returns the read error, if any; decode
// and storage problems are logged and counted but not returned.
func (l *Loop) Step(ctx context.Context) error {
	w, err := l.src.ReadWindow(ctx)
	now := l.now()

	l.mu.Lock()
	l.stats.Cycles++
	l.mu.Unlock()

	if err != nil {
		l.readFailed(ctx, err)
		return err
	}

	l.failures = 0
	l.mu.Lock()
	l.state.Connected = true
	l.state.LastReadOK = true
	l.state.ConsecutiveErrors = 0
	l.state.LastReadEpoch = epoch(now)
	l.mu.Unlock()

	rows := l.engine.Evaluate(now, l.decode(w))
	if len(rows) > 0 {
		l.enqueue(rows)
	}

	if l.pending.Len() > 0 && now.Sub(l.lastFlush) >= l.cfg.FlushInterval {
		l.Flush(ctx)
	}
	return nil
}

func (l *Loop) readFailed(ctx context.Context, err error) {
	l.failures++

	// An exception response comes over a healthy connection.
	protocol := errors.Is(err, errors.ErrProtocol)

	l.mu.Lock()
	l.stats.ReadErrors++
	l.stats.LastReadError = err.Error()
	l.state.Connected = protocol
	l.state.LastReadOK = false
	l.state.ConsecutiveErrors = int64(l.failures)
	st := l.state
	l.mu.Unlock()

	if !protocol {
		if rerr := l.src.Reset(); rerr != nil {
			log.Debug("reset after read failure", "error", rerr)
		}
	}
	if perr := l.store.PutState(ctx, st); perr != nil {
		log.Warn("could not persist runtime state", "error", perr)
	}
}

// decode returns the scaled value of every tag inside the window.
func (l *Loop) decode(w register.Window) map[string]float64 {
	values := make(map[string]float64, len(l.cat.Tags))
	for _, t := range l.cat.Tags {
		v, ok, err := w.Decode(t.Address, t.Type, l.cfg.WordOrder)
		if err != nil {
			l.mu.Lock()
			l.stats.DecodeErrors++
			l.mu.Unlock()
			log.Warn("decode failed", "tag", t.Name, "error", err)
			continue
		}
		if !ok {
			continue
		}
		values[t.Name] = v * t.Factor()
	}
	return values
}

// enqueue appends rows to the pending batch, dropping the oldest rows
// beyond MaxPending.
func (l *Loop) enqueue(rows []types.LogRow) {
	dropped := l.pending.Push(rows...)
	if dropped > 0 {
		log.Warn("pending batch full, dropped oldest rows",
			"dropped", dropped, "max_pending", l.cfg.MaxPending)
	}

	l.mu.Lock()
	l.stats.RowsLogged += int64(len(rows))
	l.stats.RowsDropped += int64(dropped)
	l.stats.Pending = l.pending.Len()
	l.mu.Unlock()
}

// Flush writes the pending batch, records the runtime state and runs the
// periodic quota check. Rows that could not be written stay pending.
func (l *Loop) Flush(ctx context.Context) error {
	if l.pending.Len() == 0 {
		return nil
	}

	now := l.now()
	l.lastFlush = now
	rows := l.pending.Rows()

	err := l.store.WriteRows(ctx, rows)
	written := len(rows)
	switch {
	case err == nil:
		l.pending.Clear()
	default:
		var we *chunk.WriteError
		if errors.As(err, &we) {
			l.pending.Replace(we.Unwritten)
		}
		written = len(rows) - l.pending.Len()
		if errors.IsRetriable(err) {
			log.Warn("flush failed, keeping rows", "pending", l.pending.Len(), "error", err)
		} else {
			log.Error("flush failed, keeping rows", "pending", l.pending.Len(), "error", err)
		}
	}

	l.mu.Lock()
	l.stats.Flushes++
	l.stats.RowsWritten += int64(written)
	l.stats.Pending = l.pending.Len()
	if err != nil {
		l.stats.FlushErrors++
	}
	if written > 0 {
		l.state.LastFlushEpoch = epoch(now)
		l.state.RowsWrittenLastFlush = int64(written)
	}
	st := l.state
	l.mu.Unlock()

	if perr := l.store.PutState(ctx, st); perr != nil {
		log.Warn("could not persist runtime state", "error", perr)
	}
	if perr := l.store.PutPolicy(ctx, l.policyStates()); perr != nil {
		log.Warn("could not publish policy state", "error", perr)
	}

	if err == nil {
		l.enforceQuota(ctx)
	}
	return err
}

// policyStates converts the engine's memory for publication.
func (l *Loop) policyStates() []types.PolicyState {
	snap := l.engine.Snapshot()
	out := make([]types.PolicyState, len(snap))
	for i, ts := range snap {
		out[i] = types.PolicyState{Tag: ts.Tag, Mode: ts.Mode, LastValue: ts.LastValue}
		if !ts.LastLogged.IsZero() {
			out[i].LastLogged = types.FormatTimestamp(ts.LastLogged)
		}
	}
	return out
}

func (l *Loop) enforceQuota(ctx context.Context) {
	report, ran, err := l.store.EnforceQuotaPeriodic(ctx)
	if !ran && err == nil {
		return
	}

	l.mu.Lock()
	l.stats.QuotaRuns++
	if err != nil {
		l.stats.QuotaErrors++
	}
	l.mu.Unlock()

	if err != nil {
		log.Warn("quota enforcement failed", "error", err)
		return
	}
	if report.BytesAfter < report.BytesBefore || report.OverCap {
		log.Info("quota enforced",
			"layout", report.Layout,
			"before", humanize.IBytes(uint64(report.BytesBefore)),
			"after", humanize.IBytes(uint64(report.BytesAfter)),
			"over_cap", report.OverCap)
	}
}

// State returns the current runtime state.
func (l *Loop) State() types.RuntimeState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Stats returns a copy of the loop counters.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func epoch(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
