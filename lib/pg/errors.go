package pg

import (
	"context"
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is returned by every failing process group operation. Code
// classifies the failure, Err holds the cause if there is one.
type Error struct {
	Code ErrCode
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors by code, so errors.Is(err, ErrOperationTimeout) works for
// every timeout regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Msg == "" && t.Err == nil && t.Code == e.Code
}

func newError(code ErrCode, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// --------------------------------------------------------------------------
// Error Codes
// --------------------------------------------------------------------------

type ErrCode uint8

const (
	ErrCConfig            ErrCode = iota + 1 // bad rank, size, device set or options; never retried
	ErrCInvalidArgument                      // tensors do not fit the collective
	ErrCRendezvousTimeout                    // peers did not publish the communicator id in time
	ErrCCommInit                             // vendor init or split failed or timed out
	ErrCOperationTimeout                     // a collective did not complete within its timeout
	ErrCOperation                            // the vendor library reported an asynchronous error
	ErrCUnsupported                          // the installed library lacks the feature
	ErrCInvalidState                         // the call is not valid in the current state
)

func (c ErrCode) String() string {
	switch c {
	case ErrCConfig:
		return "ConfigError"
	case ErrCInvalidArgument:
		return "InvalidArgument"
	case ErrCRendezvousTimeout:
		return "RendezvousTimeout"
	case ErrCCommInit:
		return "CommunicatorInitFailure"
	case ErrCOperationTimeout:
		return "OperationTimeout"
	case ErrCOperation:
		return "OperationError"
	case ErrCUnsupported:
		return "UnsupportedOperation"
	case ErrCInvalidState:
		return "InvalidState"
	default:
		return fmt.Sprintf("ErrCode(%d)", c)
	}
}

// Sentinels for errors.Is
var (
	ErrConfig            = &Error{Code: ErrCConfig}
	ErrInvalidArgument   = &Error{Code: ErrCInvalidArgument}
	ErrRendezvousTimeout = &Error{Code: ErrCRendezvousTimeout}
	ErrCommInit          = &Error{Code: ErrCCommInit}
	ErrOperationTimeout  = &Error{Code: ErrCOperationTimeout}
	ErrOperation         = &Error{Code: ErrCOperation}
	ErrUnsupported       = &Error{Code: ErrCUnsupported}
	ErrInvalidState      = &Error{Code: ErrCInvalidState}
)

// CodeOf returns the code of err, or 0 if err is not an *Error.
func CodeOf(err error) ErrCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// IsTimeout reports whether err means that peers or the device did not
// answer in time, as opposed to a local misconfiguration.
func IsTimeout(err error) bool {
	switch CodeOf(err) {
	case ErrCRendezvousTimeout, ErrCOperationTimeout:
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
