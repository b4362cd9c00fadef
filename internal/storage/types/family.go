package types

import "fmt"

// Family is a storage partition. Each family owns its own chunk directory,
// its own optional size cap, and a place in the eviction order.
type Family int

const (
	// FamilyContinuous holds tags logged on a fixed cadence.
	// Evicted first under global pressure.
	FamilyContinuous Family = iota

	// FamilyConditional holds tags logged while a peer condition holds.
	FamilyConditional

	// FamilyOnChange holds tags logged when their value moves.
	// Evicted last: these rows are rare and carry state transitions.
	FamilyOnChange
)

// String returns the directory name of the family.
func (f Family) String() string {
	switch f {
	case FamilyContinuous:
		return "continuous"
	case FamilyConditional:
		return "conditional"
	case FamilyOnChange:
		return "onchange"
	default:
		return fmt.Sprintf("unknown(%d)", int(f))
	}
}

// Valid reports whether f is a known family.
func (f Family) Valid() bool {
	return f >= FamilyContinuous && f <= FamilyOnChange
}

// ParseFamily parses a family name.
func ParseFamily(s string) (Family, error) {
	switch s {
	case "continuous":
		return FamilyContinuous, nil
	case "conditional":
		return FamilyConditional, nil
	case "onchange", "on_change":
		return FamilyOnChange, nil
	default:
		return FamilyOnChange, fmt.Errorf("unknown family: %s", s)
	}
}

// AllFamilies returns every family in eviction order.
func AllFamilies() []Family {
	return []Family{FamilyContinuous, FamilyConditional, FamilyOnChange}
}

// MarshalText implements encoding.TextMarshaler.
func (f Family) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("unknown family: %d", int(f))
	}
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Family) UnmarshalText(b []byte) error {
	v, err := ParseFamily(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}
