// Package catalog describes what the poll loop reads from the PLC and how
// each value is logged.
//
// A catalog is static for the life of a process. It is loaded once, checked
// by Validate, and then shared read-only by the poller, the storage router,
// the metadata mirror and the API.
package catalog

import (
	"fmt"
	"time"

	"github.com/xtxerr/plclogger/internal/register"
)

// Tag is a named PLC value sampled from the status window.
type Tag struct {
	Name    string
	Label   string
	Address uint16
	Type    register.DataType
	Scale   float64 // multiplier applied after decoding; 0 is read as 1
	Unit    string
	Policy  Policy
}

// Factor returns the effective scale.
func (t Tag) Factor() float64 {
	if t.Scale == 0 {
		return 1
	}
	return t.Scale
}

// Setpoint is a writable PLC value outside the status window.
type Setpoint struct {
	Name    string
	Label   string
	Address uint16
	Type    register.DataType
	Unit    string
}

// Window is the block of holding registers read every sample cycle.
type Window struct {
	Base  uint16
	Count int
}

// End returns the last address covered by the window.
func (w Window) End() int {
	return int(w.Base) + w.Count - 1
}

// Catalog is the full set of tags and setpoints of one PLC.
type Catalog struct {
	Window    Window
	Tags      []Tag
	Setpoints []Setpoint

	tagIndex map[string]int
	spIndex  map[string]int
}

// New builds a catalog and checks it. The returned catalog is immutable by
// convention.
func New(window Window, tags []Tag, setpoints []Setpoint) (*Catalog, error) {
	c := &Catalog{Window: window, Tags: tags, Setpoints: setpoints}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.index()
	return c, nil
}

func (c *Catalog) index() {
	c.tagIndex = make(map[string]int, len(c.Tags))
	for i, t := range c.Tags {
		c.tagIndex[t.Name] = i
	}
	c.spIndex = make(map[string]int, len(c.Setpoints))
	for i, s := range c.Setpoints {
		c.spIndex[s.Name] = i
	}
}

// Lookup returns the tag with the given name.
func (c *Catalog) Lookup(name string) (Tag, bool) {
	i, ok := c.tagIndex[name]
	if !ok {
		return Tag{}, false
	}
	return c.Tags[i], true
}

// Setpoint returns the setpoint with the given name.
func (c *Catalog) Setpoint(name string) (Setpoint, bool) {
	i, ok := c.spIndex[name]
	if !ok {
		return Setpoint{}, false
	}
	return c.Setpoints[i], true
}

// Names returns every tag name in catalog order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.Tags))
	for i, t := range c.Tags {
		names[i] = t.Name
	}
	return names
}

// SetpointRanges returns the address and type of every setpoint, for
// computing the block read that covers them.
func (c *Catalog) SetpointRanges() []register.Range {
	out := make([]register.Range, len(c.Setpoints))
	for i, s := range c.Setpoints {
		out[i] = register.Range{Address: s.Address, Type: s.Type}
	}
	return out
}

// =============================================================================
// Policies
// =============================================================================

// Policy decides when a tag's value is written to storage. The set of
// policies is closed: Interval, OnChange and Conditional are the only
// implementations.
type Policy interface {
	Mode() string
	policy()
}

// Interval logs a tag on a fixed cadence.
type Interval struct {
	Every time.Duration
}

// OnChange logs a tag when it moves by more than a deadband.
type OnChange struct {
	DeadbandAbs float64       // absolute change threshold; 0 logs any change
	DeadbandPct float64       // relative change threshold in percent; 0 disables
	MinInterval time.Duration // minimum spacing between emissions
}

// Conditional logs a tag at one cadence while a peer condition holds and at
// another while it does not.
type Conditional struct {
	When   Condition
	Active time.Duration
	Idle   time.Duration // 0 disables logging while the condition is false
}

func (Interval) policy()    {}
func (OnChange) policy()    {}
func (Conditional) policy() {}

// Mode returns the catalog spelling of the policy.
func (Interval) Mode() string { return "interval" }

// Mode returns the catalog spelling of the policy.
func (OnChange) Mode() string { return "on_change" }

// Mode returns the catalog spelling of the policy.
func (Conditional) Mode() string { return "conditional" }

// Condition compares the current-cycle value of a peer tag with a constant.
type Condition struct {
	Peer  string
	Op    Op
	Value float64
}

// Holds evaluates the condition against the peer's value. A missing peer
// value is false.
func (c Condition) Holds(peer float64, present bool) bool {
	if !present {
		return false
	}
	return c.Op.Compare(peer, c.Value)
}

// Op is a comparison operator.
type Op uint8

const (
	OpEq Op = iota + 1
	OpNe
	OpGt
	OpGe
	OpLt
	OpLe
)

// ParseOp parses one of ==, !=, >, >=, <, <=.
func ParseOp(s string) (Op, error) {
	switch s {
	case "==", "=":
		return OpEq, nil
	case "!=":
		return OpNe, nil
	case ">":
		return OpGt, nil
	case ">=":
		return OpGe, nil
	case "<":
		return OpLt, nil
	case "<=":
		return OpLe, nil
	default:
		return 0, fmt.Errorf("unknown operator %q", s)
	}
}

// String returns the operator symbol.
func (o Op) String() string {
	switch o {
	case OpEq:
		return "=="
	case OpNe:
		return "!="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	default:
		return fmt.Sprintf("Op(%d)", o)
	}
}

// Compare applies the operator to a and b.
func (o Op) Compare(a, b float64) bool {
	switch o {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpGt:
		return a > b
	case OpGe:
		return a >= b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	default:
		return false
	}
}
