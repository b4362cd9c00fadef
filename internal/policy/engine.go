// Package policy decides, cycle by cycle, which sampled tag values are
// written to storage.
//
// An Engine holds the per-tag memory the decisions depend on: the last
// sampled value and the time the tag was last logged. Engines are plain
// values without global state, so tests can run any number side by side.
// An Engine is not safe for concurrent use; the poll loop owns it.
package policy

import (
	"math"
	"time"

	"github.com/xtxerr/plclogger/internal/catalog"
	"github.com/xtxerr/plclogger/internal/logging"
	"github.com/xtxerr/plclogger/internal/storage/types"
)

var log = logging.Component("policy")

// epsilon keeps the percentage deadband finite when the previous value is 0.
const epsilon = 1e-9

type tagState struct {
	lastValue  float64
	hasValue   bool
	lastLogged time.Time
	logged     bool
}

// Engine evaluates the logging policy of every catalog tag.
type Engine struct {
	tags  []catalog.Tag
	state map[string]*tagState
}

// New creates an engine for the given tags. A tag that has never been
// logged is due immediately; call Seed to avoid that after a restart.
func New(tags []catalog.Tag) *Engine {
	e := &Engine{
		tags:  tags,
		state: make(map[string]*tagState, len(tags)),
	}
	for _, t := range tags {
		e.state[t.Name] = &tagState{}
	}
	return e
}

// Seed restores per-tag memory from the newest stored row of each tag.
// Tags without a stored row are treated as logged at started, which keeps
// a restart from writing every tag at once.
func (e *Engine) Seed(latest map[string]types.LogRow, started time.Time) {
	seeded := 0
	for _, t := range e.tags {
		st := e.state[t.Name]
		row, ok := latest[t.Name]
		if !ok {
			st.lastLogged, st.logged = started, true
			continue
		}

		ts, err := row.Time()
		if err != nil {
			log.Warn("unparseable stored timestamp, seeding with start time",
				"tag", t.Name, "ts", row.Timestamp, "error", err)
			ts = started
		}
		st.lastLogged, st.logged = ts, true
		if row.Value != nil {
			st.lastValue, st.hasValue = *row.Value, true
		}
		seeded++
	}
	log.Info("policy state seeded", "from_storage", seeded, "tags", len(e.tags))
}

// Evaluate runs one cycle. values holds the decoded, scaled value of every
// tag sampled this cycle; tags missing from it are skipped. The returned
// rows are stamped with now.
func (e *Engine) Evaluate(now time.Time, values map[string]float64) []types.LogRow {
	var rows []types.LogRow

	for _, t := range e.tags {
		v, ok := values[t.Name]
		if !ok {
			continue
		}
		st := e.state[t.Name]

		if e.due(t, st, now, v, values) {
			rows = append(rows, types.NewLogRow(now, t.Name, v, t.Unit))
			st.lastLogged, st.logged = now, true
		}
		st.lastValue, st.hasValue = v, true
	}

	return rows
}

func (e *Engine) due(t catalog.Tag, st *tagState, now time.Time, v float64, values map[string]float64) bool {
	switch p := t.Policy.(type) {
	case catalog.Interval:
		return elapsed(st, now, p.Every)

	case catalog.OnChange:
		if !st.hasValue {
			return false
		}
		delta := math.Abs(v - st.lastValue)
		moved := delta > p.DeadbandAbs
		if !moved && p.DeadbandPct > 0 {
			moved = delta/math.Max(math.Abs(st.lastValue), epsilon)*100 > p.DeadbandPct
		}
		return moved && elapsed(st, now, p.MinInterval)

	case catalog.Conditional:
		peer, present := values[p.When.Peer]
		if p.When.Holds(peer, present) {
			return elapsed(st, now, p.Active)
		}
		if p.Idle <= 0 {
			return false
		}
		return elapsed(st, now, p.Idle)

	default:
		// Catalog validation rejects anything else.
		return false
	}
}

// elapsed reports whether at least d has passed since the tag was logged.
// A never-logged tag has always waited long enough.
func elapsed(st *tagState, now time.Time, d time.Duration) bool {
	if !st.logged {
		return true
	}
	return now.Sub(st.lastLogged) >= d
}

// TagState is a read-only view of one tag's policy memory.
type TagState struct {
	Tag        string
	Mode       string
	LastValue  *float64
	LastLogged time.Time
}

// Snapshot returns the current memory of every tag in catalog order.
func (e *Engine) Snapshot() []TagState {
	out := make([]TagState, 0, len(e.tags))
	for _, t := range e.tags {
		st := e.state[t.Name]
		ts := TagState{Tag: t.Name, Mode: t.Policy.Mode(), LastLogged: st.lastLogged}
		if st.hasValue {
			ts.LastValue = types.Float(st.lastValue)
		}
		out = append(out, ts)
	}
	return out
}
