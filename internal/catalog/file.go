package catalog

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/plclogger/internal/errors"
	"github.com/xtxerr/plclogger/internal/register"
)

// File is the YAML form of a catalog.
//
//	window: {base: 400, count: 50}
//	tags:
//	  - name: SYS_WetWellLevel
//	    address: 440
//	    type: FLOAT32
//	    mode: interval
//	    interval_sec: 10
//	  - name: P1_OutputFreq
//	    address: 401
//	    type: INT16
//	    scale: 0.1
//	    unit: Hz.
//	    mode: conditional
//	    condition: {tag: P1_MotorStatus, op: "==", value: 1}
//	    active_sec: 1
//	    idle_sec: 600
type File struct {
	Window    WindowFile     `yaml:"window"`
	Tags      []TagFile      `yaml:"tags"`
	Setpoints []SetpointFile `yaml:"setpoints"`
}

// WindowFile is the YAML form of Window.
type WindowFile struct {
	Base  uint16 `yaml:"base"`
	Count int    `yaml:"count"`
}

// TagFile is the YAML form of Tag.
type TagFile struct {
	Name    string   `yaml:"name"`
	Label   string   `yaml:"label,omitempty"`
	Address uint16   `yaml:"address"`
	Type    string   `yaml:"type"`
	Scale   *float64 `yaml:"scale,omitempty"`
	Unit    string   `yaml:"unit,omitempty"`

	Mode string `yaml:"mode"`

	// interval
	IntervalSec float64 `yaml:"interval_sec,omitempty"`

	// on_change
	DeadbandAbs    float64 `yaml:"deadband_abs,omitempty"`
	DeadbandPct    float64 `yaml:"deadband_pct,omitempty"`
	MinIntervalSec float64 `yaml:"min_interval_sec,omitempty"`

	// conditional
	Condition *ConditionFile `yaml:"condition,omitempty"`
	ActiveSec float64        `yaml:"active_sec,omitempty"`
	IdleSec   float64        `yaml:"idle_sec,omitempty"`
}

// ConditionFile is the YAML form of Condition.
type ConditionFile struct {
	Tag   string  `yaml:"tag"`
	Op    string  `yaml:"op"`
	Value float64 `yaml:"value"`
}

// SetpointFile is the YAML form of Setpoint.
type SetpointFile struct {
	Name    string `yaml:"name"`
	Label   string `yaml:"label,omitempty"`
	Address uint16 `yaml:"address"`
	Type    string `yaml:"type"`
	Unit    string `yaml:"unit,omitempty"`
}

// LoadFile reads and validates a catalog YAML file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a catalog YAML document.
func Parse(data []byte) (*Catalog, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return f.Build()
}

// Build converts the file form into a validated Catalog. Every conversion
// problem is reported together with the structural validation errors.
func (f *File) Build() (*Catalog, error) {
	v := errors.NewValidationErrors()

	tags := make([]Tag, 0, len(f.Tags))
	for i, tf := range f.Tags {
		t, err := tf.build()
		if err != nil {
			v.Add(fmt.Errorf("tags[%d] %s: %w", i, tf.Name, err))
			continue
		}
		tags = append(tags, t)
	}

	setpoints := make([]Setpoint, 0, len(f.Setpoints))
	for i, sf := range f.Setpoints {
		dt, err := register.ParseDataType(sf.Type)
		if err != nil {
			v.Add(fmt.Errorf("setpoints[%d] %s: %w", i, sf.Name, err))
			continue
		}
		setpoints = append(setpoints, Setpoint{
			Name:    sf.Name,
			Label:   sf.Label,
			Address: sf.Address,
			Type:    dt,
			Unit:    sf.Unit,
		})
	}

	if err := v.Err(); err != nil {
		return nil, err
	}
	return New(Window{Base: f.Window.Base, Count: f.Window.Count}, tags, setpoints)
}

func (tf TagFile) build() (Tag, error) {
	dt, err := register.ParseDataType(tf.Type)
	if err != nil {
		return Tag{}, err
	}

	t := Tag{
		Name:    tf.Name,
		Label:   tf.Label,
		Address: tf.Address,
		Type:    dt,
		Scale:   1,
		Unit:    tf.Unit,
	}
	if tf.Scale != nil {
		t.Scale = *tf.Scale
	}

	switch tf.Mode {
	case "interval":
		t.Policy = Interval{Every: seconds(tf.IntervalSec)}
	case "on_change", "onchange":
		t.Policy = OnChange{
			DeadbandAbs: tf.DeadbandAbs,
			DeadbandPct: tf.DeadbandPct,
			MinInterval: seconds(tf.MinIntervalSec),
		}
	case "conditional":
		if tf.Condition == nil {
			return Tag{}, errors.NewMissingField("condition")
		}
		op, err := ParseOp(tf.Condition.Op)
		if err != nil {
			return Tag{}, fmt.Errorf("%v: %w", err, errors.ErrInvalidPolicy)
		}
		t.Policy = Conditional{
			When:   Condition{Peer: tf.Condition.Tag, Op: op, Value: tf.Condition.Value},
			Active: seconds(tf.ActiveSec),
			Idle:   seconds(tf.IdleSec),
		}
	case "":
		return Tag{}, errors.NewMissingField("mode")
	default:
		return Tag{}, fmt.Errorf("mode %q: %w", tf.Mode, errors.ErrInvalidPolicy)
	}

	return t, nil
}

// ToFile converts a catalog back into its YAML form.
func (c *Catalog) ToFile() File {
	f := File{Window: WindowFile{Base: c.Window.Base, Count: c.Window.Count}}
	for _, t := range c.Tags {
		scale := t.Factor()
		tf := TagFile{
			Name:    t.Name,
			Label:   t.Label,
			Address: t.Address,
			Type:    t.Type.String(),
			Scale:   &scale,
			Unit:    t.Unit,
			Mode:    t.Policy.Mode(),
		}
		switch p := t.Policy.(type) {
		case Interval:
			tf.IntervalSec = p.Every.Seconds()
		case OnChange:
			tf.DeadbandAbs = p.DeadbandAbs
			tf.DeadbandPct = p.DeadbandPct
			tf.MinIntervalSec = p.MinInterval.Seconds()
		case Conditional:
			tf.Condition = &ConditionFile{Tag: p.When.Peer, Op: p.When.Op.String(), Value: p.When.Value}
			tf.ActiveSec = p.Active.Seconds()
			tf.IdleSec = p.Idle.Seconds()
		}
		f.Tags = append(f.Tags, tf)
	}
	for _, s := range c.Setpoints {
		f.Setpoints = append(f.Setpoints, SetpointFile{
			Name:    s.Name,
			Label:   s.Label,
			Address: s.Address,
			Type:    s.Type.String(),
			Unit:    s.Unit,
		})
	}
	return f
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
