package register

import (
	"fmt"
	"math"

	"github.com/xtxerr/plclogger/internal/errors"
)

// Decode interprets the register(s) at addr. It returns ok=false without an
// error when the value does not lie entirely inside the window; callers skip
// the tag for that cycle.
func (w Window) Decode(addr uint16, dt DataType, order WordOrder) (value float64, ok bool, err error) {
	if !dt.Valid() {
		return 0, false, fmt.Errorf("address %d: %w", addr, errors.ErrUnknownDataType)
	}
	if !w.Contains(addr, dt.Width()) {
		return 0, false, nil
	}

	i := int(addr) - int(w.Base)
	switch dt {
	case Int16:
		return float64(int16(w.Words[i])), true, nil
	case Uint16:
		return float64(w.Words[i]), true, nil
	}

	raw := combine(w.Words[i], w.Words[i+1], order)
	switch dt {
	case Int32:
		return float64(int32(raw)), true, nil
	case Uint32:
		return float64(raw), true, nil
	default:
		return float64(math.Float32frombits(raw)), true, nil
	}
}

// combine joins two registers read in address order into one 32-bit word.
func combine(first, second uint16, order WordOrder) uint32 {
	hi, lo := first, second
	if order == LowFirst {
		hi, lo = second, first
	}
	return uint32(hi)<<16 | uint32(lo)
}

// split is the inverse of combine.
func split(raw uint32, order WordOrder) []uint16 {
	hi, lo := uint16(raw>>16), uint16(raw)
	if order == LowFirst {
		return []uint16{lo, hi}
	}
	return []uint16{hi, lo}
}

// Encode converts v into the register words for dt in address order.
// Integer types accept only whole numbers within the type's range. FLOAT32
// accepts NaN and infinities but no finite value beyond float32 range.
func Encode(v float64, dt DataType, order WordOrder) ([]uint16, error) {
	if err := CheckValue(v, dt); err != nil {
		return nil, err
	}

	switch dt {
	case Int16, Uint16:
		return []uint16{uint16(int64(v))}, nil
	case Int32, Uint32:
		return split(uint32(int64(v)), order), nil
	case Float32:
		return split(math.Float32bits(float32(v)), order), nil
	default:
		return nil, fmt.Errorf("%s: %w", dt, errors.ErrUnsupportedType)
	}
}

// CheckValue reports whether v can be stored as dt without changing it.
func CheckValue(v float64, dt DataType) error {
	if !dt.Valid() {
		return fmt.Errorf("%s: %w", dt, errors.ErrUnsupportedType)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		if dt.Integer() {
			return errors.NewInvalidValue("value", v, "not representable as "+dt.String())
		}
		return nil
	}
	if dt.Integer() && v != math.Trunc(v) {
		return errors.NewInvalidValue("value", v, dt.String()+" requires a whole number")
	}
	lo, hi := dt.Bounds()
	if v < lo || v > hi {
		return errors.NewInvalidValue("value", v, fmt.Sprintf("%s range is [%v, %v]", dt, lo, hi))
	}
	return nil
}
