package common

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/dCCL/lib/rendezvous"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// General fields
	Key     string   `json:"key,omitempty"`     // Used for: Set, Get, Add, CompareSet, Delete
	Keys    []string `json:"keys,omitempty"`    // Used for: Check
	Value   []byte   `json:"value,omitempty"`   // Used for: Set (request), CompareSet (expected), Get and CompareSet (response)
	Desired []byte   `json:"desired,omitempty"` // Used for: CompareSet (request)
	Num     int64    `json:"num,omitempty"`     // Used for: Add (delta and result), NumKeys (response)

	// Response only fields
	Ok   bool               `json:"ok,omitempty"`   // Used for: Get, Check, Delete responses
	Err  string             `json:"err,omitempty"`  // Empty if no error, otherwise contains the error message
	Code rendezvous.RetCode `json:"code,omitempty"` // Return code belonging to Err
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// withErr fills the error fields of a response
func (m *Message) withErr(err error) *Message {
	if err == nil {
		return m
	}
	m.Err = err.Error()
	m.Code = rendezvous.RetCInternalError
	if e, ok := err.(*rendezvous.Error); ok {
		m.Err = e.Msg
		m.Code = e.Code
	}
	return m
}

// NewSetRequest creates a new Set request
func NewSetRequest(key string, value []byte) *Message {
	return &Message{MsgType: MsgTSet, Key: key, Value: value}
}

// NewSetResponse creates a new Set response
func NewSetResponse(err error) *Message {
	return (&Message{MsgType: MsgTSet}).withErr(err)
}

// NewGetRequest creates a new Get request. Get never blocks on the server,
// clients poll until the key exists.
func NewGetRequest(key string) *Message {
	return &Message{MsgType: MsgTGet, Key: key}
}

// NewGetResponse creates a new Get response
func NewGetResponse(value []byte, ok bool, err error) *Message {
	return (&Message{MsgType: MsgTGet, Value: value, Ok: ok}).withErr(err)
}

// NewAddRequest creates a new Add request
func NewAddRequest(key string, delta int64) *Message {
	return &Message{MsgType: MsgTAdd, Key: key, Num: delta}
}

// NewAddResponse creates a new Add response
func NewAddResponse(value int64, err error) *Message {
	return (&Message{MsgType: MsgTAdd, Num: value}).withErr(err)
}

// NewCompareSetRequest creates a new CompareSet request
func NewCompareSetRequest(key string, expected, desired []byte) *Message {
	return &Message{MsgType: MsgTCompareSet, Key: key, Value: expected, Desired: desired}
}

// NewCompareSetResponse creates a new CompareSet response
func NewCompareSetResponse(value []byte, err error) *Message {
	return (&Message{MsgType: MsgTCompareSet, Value: value}).withErr(err)
}

// NewCheckRequest creates a new Check request
func NewCheckRequest(keys []string) *Message {
	return &Message{MsgType: MsgTCheck, Keys: keys}
}

// NewCheckResponse creates a new Check response
func NewCheckResponse(ok bool, err error) *Message {
	return (&Message{MsgType: MsgTCheck, Ok: ok}).withErr(err)
}

// NewDeleteRequest creates a new Delete request
func NewDeleteRequest(key string) *Message {
	return &Message{MsgType: MsgTDelete, Key: key}
}

// NewDeleteResponse creates a new Delete response
func NewDeleteResponse(deleted bool, err error) *Message {
	return (&Message{MsgType: MsgTDelete, Ok: deleted}).withErr(err)
}

// NewNumKeysRequest creates a new NumKeys request
func NewNumKeysRequest() *Message {
	return &Message{MsgType: MsgTNumKeys}
}

// NewNumKeysResponse creates a new NumKeys response
func NewNumKeysResponse(n int64, err error) *Message {
	return (&Message{MsgType: MsgTNumKeys, Num: n}).withErr(err)
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
		Code:    rendezvous.RetCInvalidOperation,
	}
}

// Error converts the error fields of a response back into a store error,
// nil if the response carries none.
func (m *Message) Error() error {
	if m.Err == "" && m.MsgType != MsgTError {
		return nil
	}
	code := m.Code
	if code == rendezvous.RetCSuccess {
		code = rendezvous.RetCInternalError
	}
	return rendezvous.NewError(code, m.Err)
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTSet:
		return "set"
	case MsgTGet:
		return "get"
	case MsgTAdd:
		return "add"
	case MsgTCompareSet:
		return "compareSet"
	case MsgTCheck:
		return "check"
	case MsgTDelete:
		return "delete"
	case MsgTNumKeys:
		return "numKeys"
	case MsgTError:
		return "error"
	case MsgTSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	for _, mt := range []MessageType{MsgTSuccess, MsgTError, MsgTSet, MsgTGet, MsgTAdd, MsgTCompareSet, MsgTCheck, MsgTDelete, MsgTNumKeys} {
		if mt.String() == s {
			*t = mt
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// rendezvous.IStore operations

	MsgTSet        // Set a key-value pair
	MsgTGet        // Get a value by key without waiting
	MsgTAdd        // Add to an integer value
	MsgTCompareSet // Compare and swap a value
	MsgTCheck      // Check if keys exist
	MsgTDelete     // Delete a key-value pair
	MsgTNumKeys    // Count the keys
)
