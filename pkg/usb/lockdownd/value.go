package lockdownd

import (
	"fmt"
	"math"
)

// Value is the decoded, typed form of a device property: exactly one of
// String, Bytes, Integer or Boolean. Values are immutable once decoded.
type Value interface {
	isValue()
}

type String string

type Bytes []byte

type Integer int64

type Boolean bool

func (String) isValue()  {}
func (Bytes) isValue()   {}
func (Integer) isValue() {}
func (Boolean) isValue() {}

// UnknownValueTypeError is the terminal failure for a property whose concrete
// type has no Value variant. Callers must abort the operation that requested
// the property, never substitute a default.
type UnknownValueTypeError struct {
	Raw any
}

func (e *UnknownValueTypeError) Error() string {
	return fmt.Sprintf("cannot decode device property of type %T", e.Raw)
}

// Decode inspects the concrete type the plist codec produced and dispatches
// to exactly one Value variant. Numbers must be representable as a 64-bit
// integer; everything unrecognized is a hard UnknownValueTypeError.
func Decode(raw any) (Value, error) {
	switch v := raw.(type) {
	case string:
		return String(v), nil
	case []byte:
		return Bytes(v), nil
	case bool:
		return Boolean(v), nil
	case int:
		return Integer(v), nil
	case int8:
		return Integer(v), nil
	case int16:
		return Integer(v), nil
	case int32:
		return Integer(v), nil
	case int64:
		return Integer(v), nil
	case uint:
		return Integer(v), nil
	case uint8:
		return Integer(v), nil
	case uint16:
		return Integer(v), nil
	case uint32:
		return Integer(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return nil, fmt.Errorf("integer property %d overflows int64", v)
		}
		return Integer(v), nil
	case float32:
		return decodeFloat(float64(v))
	case float64:
		return decodeFloat(v)
	default:
		return nil, &UnknownValueTypeError{Raw: raw}
	}
}

func decodeFloat(v float64) (Value, error) {
	if v != math.Trunc(v) || v < math.MinInt64 || v >= math.MaxInt64 {
		return nil, fmt.Errorf("numeric property %v is not representable as an integer", v)
	}
	return Integer(v), nil
}
