package rendezvous

import (
	"context"
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IStore is the interface of a rendezvous store. All methods are safe for
// concurrent use.
type IStore interface {
	// Set inserts or overwrites the value for key.
	Set(key string, value []byte) (err error)
	// TryGet returns the value for key without waiting. The boolean reports whether the key exists.
	TryGet(key string) (value []byte, found bool, err error)
	// Get returns the value for key, waiting until it is set or ctx is done.
	// A ctx that expires yields an *Error with RetCTimeout.
	Get(ctx context.Context, key string) (value []byte, err error)
	// Add adds delta to the integer stored under key and returns the new value.
	// A missing key counts as zero.
	Add(key string, delta int64) (value int64, err error)
	// CompareSet sets key to desired if its current value equals expected.
	// A missing key matches an empty expected value. The returned value is
	// the value of key after the call, or expected if the key is missing and
	// expected is not empty.
	CompareSet(key string, expected, desired []byte) (value []byte, err error)
	// Check reports whether all keys exist.
	Check(keys ...string) (ok bool, err error)
	// Wait blocks until all keys exist or ctx is done.
	Wait(ctx context.Context, keys ...string) (err error)
	// Delete removes key and reports whether it existed.
	Delete(key string) (deleted bool, err error)
	// NumKeys returns the number of keys in the store.
	NumKeys() (n int64, err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error wraps a return code and an error message.
type Error struct {
	Code RetCode
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("RendezvousError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new store error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// IsTimeout reports whether err is a store timeout.
func IsTimeout(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == RetCTimeout
}

// TimeoutError converts an expired context into a timeout error for keys
func TimeoutError(ctx context.Context, keys ...string) *Error {
	return NewError(RetCTimeout, fmt.Sprintf("waiting for keys %v: %v", keys, context.Cause(ctx)))
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess          RetCode = iota // 0: Command executed successfully.
	RetCInternalError                   // 1: Command failed due to an internal error.
	RetCInvalidOperation                // 2: Invalid operation, e.g. Add on a non numeric value.
	RetCTimeout                         // 3: The key did not appear in time.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}
