// Package register converts between PLC holding registers and engineering
// values.
//
// A PLC exposes 16-bit words. Values wider than one word span two
// consecutive addresses, and devices disagree about which word carries the
// high half, so every conversion takes an explicit WordOrder.
package register

import (
	"fmt"
	"math"
	"strings"

	"github.com/xtxerr/plclogger/internal/errors"
)

// DataType identifies how one or two registers are interpreted.
type DataType uint8

const (
	Int16 DataType = iota + 1
	Uint16
	Int32
	Uint32
	Float32
)

// String returns the catalog spelling of the type.
func (d DataType) String() string {
	switch d {
	case Int16:
		return "INT16"
	case Uint16:
		return "UINT16"
	case Int32:
		return "INT32"
	case Uint32:
		return "UINT32"
	case Float32:
		return "FLOAT32"
	default:
		return fmt.Sprintf("DataType(%d)", d)
	}
}

// Width returns the number of registers the type occupies.
func (d DataType) Width() int {
	switch d {
	case Int32, Uint32, Float32:
		return 2
	default:
		return 1
	}
}

// Bounds returns the smallest and largest value the type can hold.
func (d DataType) Bounds() (lo, hi float64) {
	switch d {
	case Int16:
		return math.MinInt16, math.MaxInt16
	case Uint16:
		return 0, math.MaxUint16
	case Int32:
		return math.MinInt32, math.MaxInt32
	case Uint32:
		return 0, math.MaxUint32
	default:
		return -math.MaxFloat32, math.MaxFloat32
	}
}

// Integer reports whether d holds whole numbers only.
func (d DataType) Integer() bool {
	return d != Float32
}

// Valid reports whether d is one of the known types.
func (d DataType) Valid() bool {
	return d >= Int16 && d <= Float32
}

// ParseDataType parses a type name case-insensitively.
func ParseDataType(s string) (DataType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INT16":
		return Int16, nil
	case "UINT16":
		return Uint16, nil
	case "INT32":
		return Int32, nil
	case "UINT32":
		return Uint32, nil
	case "FLOAT32", "REAL":
		return Float32, nil
	default:
		return 0, fmt.Errorf("%q: %w", s, errors.ErrUnknownDataType)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d DataType) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%d: %w", d, errors.ErrUnknownDataType)
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *DataType) UnmarshalText(b []byte) error {
	v, err := ParseDataType(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// WordOrder selects which register of a 32-bit pair holds the high word.
type WordOrder uint8

const (
	// HighFirst: the register at the lower address is the high word ("HL").
	HighFirst WordOrder = iota
	// LowFirst: the register at the lower address is the low word ("LH").
	LowFirst
)

// String returns "HL" or "LH".
func (o WordOrder) String() string {
	if o == LowFirst {
		return "LH"
	}
	return "HL"
}

// ParseWordOrder accepts "HL" or "LH" (case-insensitive).
func ParseWordOrder(s string) (WordOrder, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HL", "":
		return HighFirst, nil
	case "LH":
		return LowFirst, nil
	default:
		return HighFirst, fmt.Errorf("%q: %w", s, errors.ErrInvalidWordOrder)
	}
}

// Window is a contiguous block of holding registers read in one request.
type Window struct {
	Base  uint16
	Words []uint16
}

// Contains reports whether count registers starting at addr lie inside w.
func (w Window) Contains(addr uint16, count int) bool {
	start := int(addr) - int(w.Base)
	return start >= 0 && start+count <= len(w.Words)
}

// Range is an address with the type stored there.
type Range struct {
	Address uint16
	Type    DataType
}

// Span returns the first address and register count of the smallest window
// covering every range. It returns count 0 for an empty input.
func Span(ranges []Range) (base uint16, count int) {
	if len(ranges) == 0 {
		return 0, 0
	}
	lo := int(ranges[0].Address)
	hi := lo
	for _, r := range ranges {
		start := int(r.Address)
		end := start + r.Type.Width() - 1
		if start < lo {
			lo = start
		}
		if end > hi {
			hi = end
		}
	}
	return uint16(lo), hi - lo + 1
}
