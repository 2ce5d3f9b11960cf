package device

import (
	"fmt"
	"math"

	"github.com/x448/float16"
)

// DType is the element type of a tensor
type DType uint8

const (
	Float32 DType = iota
	Float64
	Float16
	Int32
	Int64
)

// String returns the string representation of the data type
func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Float16:
		return "float16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	default:
		return fmt.Sprintf("dtype(%d)", d)
	}
}

// ParseDType parses the string representation of a data type
func ParseDType(s string) (DType, error) {
	for _, d := range []DType{Float32, Float64, Float16, Int32, Int64} {
		if d.String() == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown dtype %q", s)
}

// Size returns the number of bytes one element occupies on the device
func (d DType) Size() int {
	switch d {
	case Float16:
		return 2
	case Float32, Int32:
		return 4
	default:
		return 8
	}
}

// IsFloatingPoint reports whether the type stores fractional values
func (d DType) IsFloatingPoint() bool {
	return d == Float32 || d == Float64 || d == Float16
}

// Round converts v to the nearest value representable in d
func (d DType) Round(v float64) float64 {
	switch d {
	case Float32:
		return float64(float32(v))
	case Float16:
		return float64(float16.Fromfloat32(float32(v)).Float32())
	case Int32:
		return float64(int32(math.Trunc(v)))
	case Int64:
		return math.Trunc(v)
	default:
		return v
	}
}
