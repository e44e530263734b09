package value

import (
	"fmt"
	"math"
	"strconv"
)

// ITOF implements the integer-to-float cast.
func ITOF(v Value) (Value, error) {
	i, ok := v.Int()
	if !ok {
		if u, ok := v.Uint(); ok {
			return Float64(float64(u)), nil
		}
		return Value{}, fmt.Errorf("ITOF: %w: expected Integer, got %s", ErrTypeError, v.TypeName())
	}
	return Float64(float64(i)), nil
}

// FTOI implements the float-to-integer cast. Out-of-range floats fail
// with ErrValueOutOfRange.
func FTOI(v Value) (Value, error) {
	var f float64
	switch v.Kind() {
	case KindFloat64:
		f, _ = v.Float64()
	case KindFloat32:
		f32, _ := v.Float32()
		f = float64(f32)
	default:
		return Value{}, fmt.Errorf("FTOI: %w: expected Float, got %s", ErrTypeError, v.TypeName())
	}
	if math.IsNaN(f) || f < math.MinInt64 || f > math.MaxInt64 {
		return Value{}, fmt.Errorf("FTOI: %w: %g does not fit in Integer", ErrValueOutOfRange, f)
	}
	return Int(int64(f)), nil
}

// STOI implements the string-to-integer cast.
func STOI(v Value) (Value, error) {
	b, ok := v.Boxed()
	if !ok {
		return Value{}, fmt.Errorf("STOI: %w: expected String, got %s", ErrTypeError, v.TypeName())
	}
	s, ok := b.(String)
	if !ok {
		return Value{}, fmt.Errorf("STOI: %w: expected String, got %s", ErrTypeError, v.TypeName())
	}
	i, err := strconv.ParseInt(string(s), 0, 64)
	if err != nil {
		return Value{}, fmt.Errorf("STOI: %w: %s is not an integer", ErrValueOutOfRange, s)
	}
	return Int(i), nil
}

// STOF implements the string-to-float cast.
func STOF(v Value) (Value, error) {
	b, ok := v.Boxed()
	if !ok {
		return Value{}, fmt.Errorf("STOF: %w: expected String, got %s", ErrTypeError, v.TypeName())
	}
	s, ok := b.(String)
	if !ok {
		return Value{}, fmt.Errorf("STOF: %w: expected String, got %s", ErrTypeError, v.TypeName())
	}
	f, err := strconv.ParseFloat(string(s), 64)
	if err != nil {
		return Value{}, fmt.Errorf("STOF: %w: %s is not a float", ErrValueOutOfRange, s)
	}
	return Float64(f), nil
}
