package ccl

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// --------------------------------------------------------------------------
// Reduce Operations
// --------------------------------------------------------------------------

// ReduceOp combines the contributions of all ranks element by element
type ReduceOp uint8

const (
	Sum ReduceOp = iota
	Product
	Min
	Max
	Avg
)

func (op ReduceOp) String() string {
	switch op {
	case Sum:
		return "sum"
	case Product:
		return "product"
	case Min:
		return "min"
	case Max:
		return "max"
	case Avg:
		return "avg"
	default:
		return fmt.Sprintf("reduceop(%d)", op)
	}
}

// ParseReduceOp parses the string representation of a reduce operation
func ParseReduceOp(s string) (ReduceOp, error) {
	for _, op := range []ReduceOp{Sum, Product, Min, Max, Avg} {
		if op.String() == strings.ToLower(s) {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown reduce op %q", s)
}

// Identity returns the neutral element of the operation
func (op ReduceOp) Identity() float64 {
	switch op {
	case Product:
		return 1
	case Min:
		return math.Inf(1)
	case Max:
		return math.Inf(-1)
	default:
		return 0
	}
}

// Combine folds b into a. Avg combines like Sum, the division by the number
// of contributions happens once in Finish.
func (op ReduceOp) Combine(a, b float64) float64 {
	switch op {
	case Product:
		return a * b
	case Min:
		return math.Min(a, b)
	case Max:
		return math.Max(a, b)
	default:
		return a + b
	}
}

// Finish applies the final step of the operation over n contributions
func (op ReduceOp) Finish(v float64, n int) float64 {
	if op == Avg {
		return v / float64(n)
	}
	return v
}

// --------------------------------------------------------------------------
// Result Codes
// --------------------------------------------------------------------------

// Result is the status code a collective library reports
type Result uint8

const (
	Success Result = iota
	UnhandledDeviceError
	SystemError
	InternalError
	InvalidArgument
	InvalidUsage
	RemoteError
	InProgress
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case UnhandledDeviceError:
		return "unhandled device error"
	case SystemError:
		return "system error"
	case InternalError:
		return "internal error"
	case InvalidArgument:
		return "invalid argument"
	case InvalidUsage:
		return "invalid usage"
	case RemoteError:
		return "remote error"
	case InProgress:
		return "in progress"
	default:
		return fmt.Sprintf("result(%d)", r)
	}
}

// Error is returned by collective library calls
type Error struct {
	Result Result
	Msg    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Result, e.Msg)
}

// NewError creates a library error with a formatted message
func NewError(result Result, format string, args ...any) *Error {
	return &Error{Result: result, Msg: fmt.Sprintf(format, args...)}
}

// ResultOf extracts the result code of err. Errors that do not come from a
// collective library report InternalError.
func ResultOf(err error) Result {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Result
	}
	return InternalError
}
