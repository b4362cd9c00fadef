package poller

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/plclogger/internal/catalog"
	"github.com/xtxerr/plclogger/internal/errors"
	"github.com/xtxerr/plclogger/internal/plc"
	"github.com/xtxerr/plclogger/internal/plc/plctest"
	"github.com/xtxerr/plclogger/internal/register"
	"github.com/xtxerr/plclogger/internal/storage"
	"github.com/xtxerr/plclogger/internal/storage/chunk"
	"github.com/xtxerr/plclogger/internal/storage/types"
	"github.com/xtxerr/plclogger/internal/testutil"
)

var t0 = time.Date(2025, 9, 3, 12, 0, 0, 0, time.UTC)

// =============================================================================
// Fakes
// =============================================================================

type fakeStore struct {
	mu        sync.Mutex
	rows      []types.LogRow
	states    []types.RuntimeState
	policy    []types.PolicyState
	latest    map[string]types.LogRow
	latestErr error
	writeErr  func([]types.LogRow) error
	enforced  int
}

func (s *fakeStore) WriteRows(_ context.Context, rows []types.LogRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		if err := s.writeErr(rows); err != nil {
			return err
		}
	}
	s.rows = append(s.rows, rows...)
	return nil
}

func (s *fakeStore) PutState(_ context.Context, st types.RuntimeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, st)
	return nil
}

func (s *fakeStore) PutPolicy(_ context.Context, states []types.PolicyState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy = states
	return nil
}

func (s *fakeStore) Latest(_ context.Context, _ []string) (map[string]types.LogRow, error) {
	return s.latest, s.latestErr
}

func (s *fakeStore) EnforceQuotaPeriodic(context.Context) (storage.QuotaReport, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enforced++
	return storage.QuotaReport{}, true, nil
}

func (s *fakeStore) written() []types.LogRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.LogRow(nil), s.rows...)
}

func (s *fakeStore) lastState() types.RuntimeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.states) == 0 {
		return types.RuntimeState{}
	}
	return s.states[len(s.states)-1]
}

// Level: UINT16 x0.1 every second. Fault: on change. Run: UINT16 every second.
func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(catalog.Window{Base: 100, Count: 4}, []catalog.Tag{
		{Name: "Level", Address: 100, Type: register.Uint16, Scale: 0.1, Unit: "m", Policy: catalog.Interval{Every: time.Second}},
		{Name: "Fault", Address: 101, Type: register.Uint16, Policy: catalog.OnChange{}},
		{Name: "Run", Address: 102, Type: register.Uint16, Policy: catalog.Interval{Every: time.Second}},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return cat
}

type harness struct {
	loop  *Loop
	dev   *plctest.Device
	store *fakeStore
	now   time.Time
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	cat := testCatalog(t)
	h := &harness{dev: plctest.NewDevice(), store: &fakeStore{}, now: t0}
	src := plc.NewWindowSource(plc.New(h.dev.Dialer()), cat.Window)
	h.loop = New(cfg, cat, src, h.store)
	h.loop.now = func() time.Time { return h.now }
	return h
}

func (h *harness) step(t *testing.T, at time.Duration) error {
	t.Helper()
	h.now = t0.Add(at)
	return h.loop.Step(context.Background())
}

// =============================================================================
// Tests
// =============================================================================

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Min: 100 * time.Millisecond, Max: time.Second, Factor: 2, Jitter: 0.2}

	tests := []struct {
		name    string
		rand    float64
		attempt int
		want    time.Duration
	}{
		{"first", 0.5, 1, 100 * time.Millisecond},
		{"second", 0.5, 2, 200 * time.Millisecond},
		{"fourth", 0.5, 4, 800 * time.Millisecond},
		{"capped", 0.5, 10, time.Second},
		{"huge attempt", 0.5, 5000, time.Second},
		{"zero attempt", 0.5, 0, 100 * time.Millisecond},
		{"low jitter", 0, 3, 320 * time.Millisecond},
		{"low jitter clamped to min", 0, 1, 100 * time.Millisecond},
		{"high jitter", 0.75, 3, 440 * time.Millisecond},
		{"high jitter clamped to max", 0.99, 8, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := b
			b.Rand = func() float64 { return tt.rand }
			if got := b.Delay(tt.attempt); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestBackoff_Bounds(t *testing.T) {
	b := DefaultBackoff()
	for attempt := 1; attempt < 100; attempt++ {
		d := b.Delay(attempt)
		if d < b.Min || d > b.Max {
			t.Fatalf("Delay(%d) = %v outside [%v, %v]", attempt, d, b.Min, b.Max)
		}
	}
}

func TestLoop_StepLogsAndFlushes(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.dev.Set(100, 415, 0, 1)
	if err := h.loop.Hydrate(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Seeded at t0: interval tags wait one cadence, on-change takes a baseline.
	if err := h.step(t, 500*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if got := len(h.store.written()); got != 0 {
		t.Fatalf("rows before first cadence: %d", got)
	}

	if err := h.step(t, time.Second); err != nil {
		t.Fatal(err)
	}
	rows := h.store.written()
	if len(rows) != 2 {
		t.Fatalf("rows after first cadence = %v", rows)
	}
	if rows[0].Tag != "Level" || *rows[0].Value != 41.5 || rows[0].Unit != "m" {
		t.Errorf("level row = %+v", rows[0])
	}
	if rows[0].Timestamp != types.FormatTimestamp(t0.Add(time.Second)) {
		t.Errorf("ts = %s", rows[0].Timestamp)
	}

	st := h.store.lastState()
	if !st.Connected || !st.LastReadOK || st.RowsWrittenLastFlush != 2 {
		t.Errorf("state = %+v", st)
	}
	if h.store.enforced != 1 {
		t.Errorf("quota checks = %d, want 1", h.store.enforced)
	}

	policy := h.store.policy
	if len(policy) != 3 {
		t.Fatalf("published policy = %+v", policy)
	}
	if p := policy[0]; p.Tag != "Level" || p.Mode != "interval" || p.LastValue == nil || *p.LastValue != 41.5 ||
		p.LastLogged != types.FormatTimestamp(t0.Add(time.Second)) {
		t.Errorf("level policy = %+v", p)
	}
	if p := policy[1]; p.Tag != "Fault" || p.Mode != "on_change" || p.LastValue == nil || *p.LastValue != 0 {
		t.Errorf("fault policy = %+v", p)
	}

	// A fault change is logged but held until the next flush.
	h.dev.Set(101, 3)
	h.step(t, 1200*time.Millisecond)
	if got := len(h.store.written()); got != 2 {
		t.Errorf("flushed early: %d rows", got)
	}
	if h.loop.Stats().Pending != 1 {
		t.Errorf("pending = %d, want 1", h.loop.Stats().Pending)
	}

	h.step(t, 2*time.Second)
	rows = h.store.written()
	if len(rows) != 5 || rows[2].Tag != "Fault" || *rows[2].Value != 3 {
		t.Errorf("rows = %v", rows)
	}
}

func TestLoop_ReadFailure(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.loop.Hydrate(context.Background())

	fail := errors.Mark(io.EOF, errors.ErrConnectionFailed)
	h.dev.FailNext(fail, fail)

	for i := 1; i <= 2; i++ {
		if err := h.step(t, time.Duration(i)*time.Second); !errors.Is(err, errors.ErrConnectionFailed) {
			t.Fatalf("step %d: err = %v", i, err)
		}
		st := h.store.lastState()
		if st.Connected || st.LastReadOK || st.ConsecutiveErrors != int64(i) {
			t.Errorf("step %d: state = %+v", i, st)
		}
	}
	if h.loop.failures != 2 {
		t.Errorf("failures = %d", h.loop.failures)
	}

	if err := h.step(t, 3*time.Second); err != nil {
		t.Fatalf("recovery: %v", err)
	}
	if st := h.loop.State(); !st.Connected || st.ConsecutiveErrors != 0 {
		t.Errorf("state after recovery = %+v", st)
	}
	if h.dev.Dials() != 3 {
		t.Errorf("dials = %d, want a reconnect per failure", h.dev.Dials())
	}
	if got := h.loop.Stats().ReadErrors; got != 2 {
		t.Errorf("read errors = %d", got)
	}
}

func TestLoop_ExceptionKeepsConnection(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.loop.Hydrate(context.Background())

	h.dev.FailNext(errors.Mark(io.ErrUnexpectedEOF, errors.ErrProtocol))

	if err := h.step(t, time.Second); !errors.Is(err, errors.ErrProtocol) {
		t.Fatalf("err = %v", err)
	}
	st := h.store.lastState()
	if !st.Connected || st.LastReadOK || st.ConsecutiveErrors != 1 {
		t.Errorf("state after exception = %+v", st)
	}
	if h.dev.Open() != 1 {
		t.Errorf("open clients = %d, want the connection kept", h.dev.Open())
	}

	if err := h.step(t, 2*time.Second); err != nil {
		t.Fatalf("next read: %v", err)
	}
	if h.dev.Dials() != 1 {
		t.Errorf("dials = %d, want no reconnect after an exception", h.dev.Dials())
	}
}

func TestLoop_PartialFlushKeepsUnwritten(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.loop.Hydrate(context.Background())

	h.store.writeErr = func(rows []types.LogRow) error {
		var rest []types.LogRow
		for _, r := range rows {
			if r.Tag == "Run" {
				rest = append(rest, r)
			}
		}
		return &chunk.WriteError{Unwritten: rest, Err: errors.ErrBusy}
	}
	if err := h.step(t, time.Second); err != nil {
		t.Fatal(err)
	}
	if got := h.loop.Stats(); got.Pending != 1 || got.FlushErrors != 1 || got.RowsWritten != 1 {
		t.Errorf("stats = %+v", got)
	}
	if st := h.store.lastState(); st.RowsWrittenLastFlush != 1 {
		t.Errorf("state = %+v", st)
	}
	if h.store.enforced != 0 {
		t.Error("quota ran after a failed flush")
	}

	h.store.writeErr = nil
	if err := h.loop.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := h.loop.Stats().Pending; got != 0 {
		t.Errorf("pending = %d after retry", got)
	}
}

func TestLoop_FailedFlushKeepsBatch(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.loop.Hydrate(context.Background())
	h.store.writeErr = func([]types.LogRow) error { return fmt.Errorf("disk full") }

	h.step(t, time.Second)
	if got := h.loop.Stats(); got.Pending != 2 || got.RowsWritten != 0 {
		t.Errorf("stats = %+v", got)
	}
}

func TestLoop_MaxPendingDropsOldest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPending = 3
	cfg.FlushInterval = time.Hour
	h := newHarness(t, cfg)
	h.loop.Hydrate(context.Background())

	for i := 1; i <= 3; i++ {
		h.dev.Set(100, uint16(i))
		h.step(t, time.Duration(i)*time.Second)
	}

	pending := h.loop.pending.Rows()
	if len(pending) != 3 {
		t.Fatalf("pending = %d, want 3", len(pending))
	}
	if pending[0].Tag != "Run" || pending[0].Timestamp != types.FormatTimestamp(t0.Add(2*time.Second)) {
		t.Errorf("oldest kept row = %+v", pending[0])
	}
	if got := h.loop.Stats().RowsDropped; got != 3 {
		t.Errorf("dropped = %d, want 3", got)
	}
}

func TestLoop_HydrateSeedsOnChange(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.store.latest = map[string]types.LogRow{
		"Fault": types.NewLogRow(t0.Add(-10*time.Second), "Fault", 42, ""),
	}
	h.loop.Hydrate(context.Background())

	h.dev.Set(101, 42)
	h.step(t, 100*time.Millisecond)
	if n := h.loop.pending.Len(); n != 0 {
		t.Errorf("unchanged seeded value emitted %d rows", n)
	}

	h.dev.Set(101, 43)
	h.step(t, 200*time.Millisecond)
	if n := h.loop.pending.Len(); n != 1 {
		t.Errorf("changed value emitted %d rows, want 1", n)
	}
}

func TestLoop_HydrateStorageError(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.store.latestErr = errors.ErrBusy
	if err := h.loop.Hydrate(context.Background()); !errors.Is(err, errors.ErrBusy) {
		t.Errorf("err = %v", err)
	}
	// Cold start still waits one cadence.
	h.step(t, 500*time.Millisecond)
	if n := h.loop.pending.Len(); n != 0 {
		t.Errorf("%d rows logged before the first cadence", n)
	}
}

func TestLoop_RunFlushesOnCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SampleInterval = time.Millisecond
	cfg.FlushInterval = time.Hour
	h := newHarness(t, cfg)
	h.loop.now = time.Now

	var n uint16
	reads := make(chan struct{}, 100)
	h.dev.OnRead(func() {
		n++
		h.dev.Set(101, n)
		select {
		case reads <- struct{}{}:
		default:
		}
	})

	h.loop.Hydrate(context.Background())
	gt := testutil.NewGoroutineTest(t, 10*time.Second)
	gt.GoWithContext(h.loop.Run)

	if err := testutil.Eventually(5*time.Second, time.Millisecond, func() bool { return len(reads) >= 5 }); err != nil {
		t.Fatalf("loop did not read: %v", err)
	}
	gt.Cancel()
	gt.Wait()

	faults := 0
	for _, r := range h.store.written() {
		if r.Tag == "Fault" {
			faults++
		}
	}
	if faults < 4 {
		t.Errorf("final flush wrote %d fault rows, want at least 4", faults)
	}
	if got := h.loop.Stats().Pending; got != 0 {
		t.Errorf("pending after shutdown = %d", got)
	}
}
