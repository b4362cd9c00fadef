package policy

import (
	"testing"
	"time"

	"github.com/xtxerr/plclogger/internal/catalog"
	"github.com/xtxerr/plclogger/internal/register"
	"github.com/xtxerr/plclogger/internal/storage/types"
)

var t0 = time.Date(2025, 8, 22, 10, 0, 0, 0, time.UTC)

func tag(name string, p catalog.Policy) catalog.Tag {
	return catalog.Tag{Name: name, Type: register.Float32, Scale: 1, Unit: "u", Policy: p}
}

func TestOnChangeFirstSampleNeverEmits(t *testing.T) {
	e := New([]catalog.Tag{tag("X", catalog.OnChange{})})

	if rows := e.Evaluate(t0, map[string]float64{"X": 5}); len(rows) != 0 {
		t.Fatalf("first sample emitted %d rows", len(rows))
	}
	if rows := e.Evaluate(t0.Add(time.Second), map[string]float64{"X": 6}); len(rows) != 1 {
		t.Fatalf("change after baseline emitted %d rows, want 1", len(rows))
	}
}

func TestOnChangeDeadband(t *testing.T) {
	e := New([]catalog.Tag{tag("X", catalog.OnChange{DeadbandAbs: 0.05})})

	steps := []struct {
		v    float64
		want int
	}{
		{10.00, 0}, // baseline
		{10.10, 1}, // |0.10| > 0.05
		{10.12, 0}, // |0.02| within deadband
		{10.12, 0}, // unchanged
		{10.00, 1}, // |0.12| > 0.05
	}

	for i, s := range steps {
		rows := e.Evaluate(t0.Add(time.Duration(i)*time.Second), map[string]float64{"X": s.v})
		if len(rows) != s.want {
			t.Fatalf("step %d (%v): %d rows, want %d", i, s.v, len(rows), s.want)
		}
		if s.want == 1 && *rows[0].Value != s.v {
			t.Errorf("step %d: value %v, want %v", i, *rows[0].Value, s.v)
		}
	}
}

func TestOnChangePercentDeadband(t *testing.T) {
	e := New([]catalog.Tag{tag("X", catalog.OnChange{DeadbandAbs: 100, DeadbandPct: 5})})

	e.Evaluate(t0, map[string]float64{"X": 200})
	if rows := e.Evaluate(t0.Add(time.Second), map[string]float64{"X": 205}); len(rows) != 0 {
		t.Errorf("2.5%% change emitted")
	}
	if rows := e.Evaluate(t0.Add(2*time.Second), map[string]float64{"X": 220}); len(rows) != 1 {
		t.Errorf("7.3%% change did not emit")
	}
}

func TestOnChangePercentFromZero(t *testing.T) {
	e := New([]catalog.Tag{tag("X", catalog.OnChange{DeadbandAbs: 1, DeadbandPct: 50})})

	e.Evaluate(t0, map[string]float64{"X": 0})
	if rows := e.Evaluate(t0.Add(time.Second), map[string]float64{"X": 0.5}); len(rows) != 1 {
		t.Error("any move away from zero exceeds a percentage deadband")
	}
}

func TestOnChangeMinInterval(t *testing.T) {
	e := New([]catalog.Tag{tag("X", catalog.OnChange{MinInterval: 5 * time.Second})})

	e.Evaluate(t0, map[string]float64{"X": 1})
	if rows := e.Evaluate(t0.Add(time.Second), map[string]float64{"X": 2}); len(rows) != 1 {
		t.Fatal("never-logged tag should satisfy min interval")
	}
	if rows := e.Evaluate(t0.Add(3*time.Second), map[string]float64{"X": 3}); len(rows) != 0 {
		t.Error("emitted inside min interval")
	}
	if rows := e.Evaluate(t0.Add(6*time.Second), map[string]float64{"X": 4}); len(rows) != 1 {
		t.Error("did not emit after min interval")
	}
}

func TestOnChangeIdempotent(t *testing.T) {
	e := New([]catalog.Tag{tag("X", catalog.OnChange{})})

	e.Evaluate(t0, map[string]float64{"X": 7})
	total := 0
	for i := 1; i <= 100; i++ {
		total += len(e.Evaluate(t0.Add(time.Duration(i)*time.Second), map[string]float64{"X": 7}))
	}
	if total != 0 {
		t.Errorf("constant input emitted %d rows", total)
	}
}

func TestIntervalMonotonic(t *testing.T) {
	e := New([]catalog.Tag{tag("L", catalog.Interval{Every: 10 * time.Second})})

	var stamps []time.Time
	for ms := 0; ms <= 60_000; ms += 200 {
		now := t0.Add(time.Duration(ms) * time.Millisecond)
		for _, r := range e.Evaluate(now, map[string]float64{"L": float64(ms)}) {
			ts, err := r.Time()
			if err != nil {
				t.Fatal(err)
			}
			stamps = append(stamps, ts)
		}
	}

	if len(stamps) != 7 {
		t.Fatalf("emitted %d rows over 60s at 10s cadence, want 7", len(stamps))
	}
	for i := 1; i < len(stamps); i++ {
		if gap := stamps[i].Sub(stamps[i-1]); gap < 10*time.Second {
			t.Errorf("gap %d = %v, want >= 10s", i, gap)
		}
	}
}

func TestConditionalIdleCadence(t *testing.T) {
	status := tag("P1_MotorStatus", catalog.OnChange{})
	freq := tag("P1_OutputFreq", catalog.Conditional{
		When:   catalog.Condition{Peer: "P1_MotorStatus", Op: catalog.OpEq, Value: 1},
		Active: time.Second,
		Idle:   600 * time.Second,
	})
	e := New([]catalog.Tag{status, freq})

	var emitted []time.Duration
	for s := 0; s < 1200; s++ {
		now := t0.Add(time.Duration(s) * time.Second)
		rows := e.Evaluate(now, map[string]float64{"P1_MotorStatus": 0, "P1_OutputFreq": 0})
		for _, r := range rows {
			if r.Tag == "P1_OutputFreq" {
				emitted = append(emitted, time.Duration(s)*time.Second)
			}
		}
	}

	if len(emitted) != 2 || emitted[0] != 0 || emitted[1] != 600*time.Second {
		t.Errorf("idle emissions at %v, want [0s 10m0s]", emitted)
	}
}

func TestConditionalActiveAndDisabledIdle(t *testing.T) {
	status := tag("S", catalog.OnChange{})
	v := tag("V", catalog.Conditional{
		When:   catalog.Condition{Peer: "S", Op: catalog.OpEq, Value: 1},
		Active: 2 * time.Second,
	})
	e := New([]catalog.Tag{status, v})

	count := func(from, to int, s float64) int {
		n := 0
		for i := from; i < to; i++ {
			for _, r := range e.Evaluate(t0.Add(time.Duration(i)*time.Second), map[string]float64{"S": s, "V": 1}) {
				if r.Tag == "V" {
					n++
				}
			}
		}
		return n
	}

	if n := count(0, 10, 0); n != 0 {
		t.Errorf("idle disabled but %d rows emitted", n)
	}
	if n := count(10, 20, 1); n != 5 {
		t.Errorf("active for 10s at 2s cadence emitted %d rows, want 5", n)
	}
}

func TestConditionalMissingPeer(t *testing.T) {
	v := tag("V", catalog.Conditional{
		When:   catalog.Condition{Peer: "S", Op: catalog.OpNe, Value: 1},
		Active: time.Second,
	})
	e := New([]catalog.Tag{tag("S", catalog.OnChange{}), v})

	// S was not decoded this cycle; the condition is false and idle is off.
	if rows := e.Evaluate(t0, map[string]float64{"V": 3}); len(rows) != 0 {
		t.Errorf("missing peer emitted %d rows", len(rows))
	}
}

func TestSeedFromStorage(t *testing.T) {
	e := New([]catalog.Tag{
		tag("X", catalog.OnChange{DeadbandAbs: 0.05}),
		tag("L", catalog.Interval{Every: time.Minute}),
	})

	started := t0.Add(10 * time.Second)
	e.Seed(map[string]types.LogRow{
		"X": types.NewLogRow(t0, "X", 42.0, "u"),
	}, started)

	now := started.Add(200 * time.Millisecond)
	if rows := e.Evaluate(now, map[string]float64{"X": 42.0, "L": 1}); len(rows) != 0 {
		t.Fatalf("first cycle after seeding emitted %v", rows)
	}
	rows := e.Evaluate(now.Add(time.Second), map[string]float64{"X": 42.2, "L": 1})
	if len(rows) != 1 || rows[0].Tag != "X" {
		t.Fatalf("42.0 -> 42.2 should emit X once, got %v", rows)
	}

	// L was absent from storage, so its cadence counts from process start.
	rows = e.Evaluate(started.Add(time.Minute), map[string]float64{"X": 42.2, "L": 1})
	if len(rows) != 1 || rows[0].Tag != "L" {
		t.Errorf("L should be due one minute after start, got %v", rows)
	}
}

func TestSkippedTagKeepsState(t *testing.T) {
	e := New([]catalog.Tag{tag("X", catalog.OnChange{})})

	e.Evaluate(t0, map[string]float64{"X": 1})
	e.Evaluate(t0.Add(time.Second), map[string]float64{})
	if rows := e.Evaluate(t0.Add(2*time.Second), map[string]float64{"X": 1}); len(rows) != 0 {
		t.Error("a skipped cycle must not reset the baseline")
	}
}

func TestSnapshot(t *testing.T) {
	e := New([]catalog.Tag{tag("X", catalog.OnChange{}), tag("L", catalog.Interval{Every: time.Second})})
	e.Evaluate(t0, map[string]float64{"X": 3, "L": 4})

	snap := e.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot len = %d", len(snap))
	}
	if snap[0].Tag != "X" || snap[0].LastValue == nil || *snap[0].LastValue != 3 {
		t.Errorf("snap[0] = %+v", snap[0])
	}
	if snap[1].Mode != "interval" || !snap[1].LastLogged.Equal(t0) {
		t.Errorf("snap[1] = %+v", snap[1])
	}
}
