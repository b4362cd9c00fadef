package catalog

import (
	"fmt"

	"github.com/xtxerr/plclogger/internal/errors"
	"github.com/xtxerr/plclogger/internal/validation"
)

// maxWindow is the register count limit of one Modbus read.
const maxWindow = 125

// Validate checks the whole catalog and reports every problem at once.
func (c *Catalog) Validate() error {
	v := errors.NewValidationErrors()

	if c.Window.Count <= 0 {
		v.AddField("window.count", "must be positive")
	} else if c.Window.Count > maxWindow {
		v.AddField("window.count", fmt.Sprintf("at most %d registers per read", maxWindow))
	}
	if c.Window.End() > 0xFFFF {
		v.AddField("window", "extends past address 65535")
	}

	names := make(map[string]bool, len(c.Tags)+len(c.Setpoints))
	for i, t := range c.Tags {
		field := fmt.Sprintf("tags[%d]", i)
		if t.Name != "" {
			field = "tag " + t.Name
		}

		if err := validation.ValidateTagName(t.Name); err != nil {
			v.Add(fmt.Errorf("%s: %v: %w", field, err, errors.ErrInvalidName))
		}
		if names[t.Name] {
			v.Add(fmt.Errorf("%s: %w", field, errors.ErrDuplicateName))
		}
		names[t.Name] = true

		if !t.Type.Valid() {
			v.Add(fmt.Errorf("%s: %w", field, errors.ErrUnknownDataType))
		} else if int(t.Address) < int(c.Window.Base) || int(t.Address)+t.Type.Width()-1 > c.Window.End() {
			v.Add(fmt.Errorf("%s: address %d (%s) outside window %d..%d: %w",
				field, t.Address, t.Type, c.Window.Base, c.Window.End(), errors.ErrAddressOutOfRange))
		}
		if t.Scale < 0 {
			v.AddField(field+".scale", "must not be negative")
		}

		v.Add(validatePolicy(field, t.Policy))
	}

	// Peers are checked after every name is known.
	for _, t := range c.Tags {
		cond, ok := t.Policy.(Conditional)
		if !ok {
			continue
		}
		if cond.When.Peer == t.Name {
			v.Add(fmt.Errorf("tag %s: condition refers to itself: %w", t.Name, errors.ErrInvalidPolicy))
			continue
		}
		if !c.hasTag(cond.When.Peer) {
			v.Add(fmt.Errorf("tag %s: condition peer %q: %w", t.Name, cond.When.Peer, errors.ErrUnknownTag))
		}
	}

	for i, s := range c.Setpoints {
		field := fmt.Sprintf("setpoints[%d]", i)
		if s.Name != "" {
			field = "setpoint " + s.Name
		}
		if err := validation.ValidateTagName(s.Name); err != nil {
			v.Add(fmt.Errorf("%s: %v: %w", field, err, errors.ErrInvalidName))
		}
		if names[s.Name] {
			v.Add(fmt.Errorf("%s: %w", field, errors.ErrDuplicateName))
		}
		names[s.Name] = true

		if !s.Type.Valid() {
			v.Add(fmt.Errorf("%s: %w", field, errors.ErrUnknownDataType))
		} else if int(s.Address)+s.Type.Width()-1 > 0xFFFF {
			v.Add(fmt.Errorf("%s: %w", field, errors.ErrAddressOutOfRange))
		}
	}

	return v.Err()
}

func (c *Catalog) hasTag(name string) bool {
	for _, t := range c.Tags {
		if t.Name == name {
			return true
		}
	}
	return false
}

func validatePolicy(field string, p Policy) error {
	switch p := p.(type) {
	case nil:
		return fmt.Errorf("%s: no logging policy: %w", field, errors.ErrInvalidPolicy)
	case Interval:
		if p.Every <= 0 {
			return fmt.Errorf("%s: interval must be positive: %w", field, errors.ErrInvalidPolicy)
		}
	case OnChange:
		if p.DeadbandAbs < 0 || p.DeadbandPct < 0 {
			return fmt.Errorf("%s: deadband must not be negative: %w", field, errors.ErrInvalidPolicy)
		}
		if p.MinInterval < 0 {
			return fmt.Errorf("%s: min interval must not be negative: %w", field, errors.ErrInvalidPolicy)
		}
	case Conditional:
		if p.When.Peer == "" {
			return fmt.Errorf("%s: condition.tag: %w", field, errors.ErrMissingField)
		}
		if p.When.Op < OpEq || p.When.Op > OpLe {
			return fmt.Errorf("%s: condition operator: %w", field, errors.ErrInvalidPolicy)
		}
		if p.Active <= 0 {
			return fmt.Errorf("%s: active cadence must be positive: %w", field, errors.ErrInvalidPolicy)
		}
		if p.Idle < 0 {
			return fmt.Errorf("%s: idle cadence must not be negative: %w", field, errors.ErrInvalidPolicy)
		}
	default:
		return fmt.Errorf("%s: unsupported policy %T: %w", field, p, errors.ErrInvalidPolicy)
	}
	return nil
}
