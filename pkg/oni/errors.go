package oni

import (
	"errors"
	"fmt"
)

// Kind groups error Codes: protocol framing, addressing, size/shape,
// transport, state/API, and resource errors each fail differently and
// callers often want to distinguish the group without switching on every
// individual Code.
type Kind int

const (
	KindProtocol Kind = iota
	KindAddressing
	KindSize
	KindTransport
	KindState
	KindResource
)

// Code is the closed error enumeration every operation in this package
// fails with. It mirrors liboni's negative-integer enumeration in spirit,
// not value: this is an idiomatic Go error code, not a wire value, so the
// two need not agree numerically.
type Code int

const (
	// Protocol
	ErrBadCOBSPacket Code = -(iota + 1)
	ErrBadFrame
	ErrBadDeviceTable
	ErrRetrigger
	ErrRepeatedDeviceIndex

	// Addressing
	ErrBadDeviceIndex
	ErrBadDeviceID
	ErrInvalidStreamPath

	// Size / shape
	ErrBufferTooSmall
	ErrInvalidReadSize
	ErrInvalidWriteSize
	ErrBadWriteSize
	ErrNotReadable
	ErrNotWritable

	// Transport
	ErrReadFailure
	ErrWriteFailure
	ErrSeekFailure
	ErrInitFailure

	// State / API
	ErrInvalidState
	ErrInvalidOption
	ErrInvalidArg
	ErrReadOnly
	ErrWriteOnly
	ErrProtectedConfig
	ErrUnimplemented

	// Resource
	ErrBadAlloc
	ErrCloseFailure
	ErrNullContext
)

var codeNames = map[Code]string{
	ErrBadCOBSPacket:       "BadCOBSPacket",
	ErrBadFrame:            "BadFrame",
	ErrBadDeviceTable:      "BadDeviceTable",
	ErrRetrigger:           "Retrigger",
	ErrRepeatedDeviceIndex: "RepeatedDeviceIndex",

	ErrBadDeviceIndex:    "BadDeviceIndex",
	ErrBadDeviceID:       "BadDeviceId",
	ErrInvalidStreamPath: "InvalidStreamPath",

	ErrBufferTooSmall:   "BufferTooSmall",
	ErrInvalidReadSize:  "InvalidReadSize",
	ErrInvalidWriteSize: "InvalidWriteSize",
	ErrBadWriteSize:     "BadWriteSize",
	ErrNotReadable:      "NotReadable",
	ErrNotWritable:      "NotWritable",

	ErrReadFailure:  "ReadFailure",
	ErrWriteFailure: "WriteFailure",
	ErrSeekFailure:  "SeekFailure",
	ErrInitFailure:  "InitFailure",

	ErrInvalidState:    "InvalidState",
	ErrInvalidOption:   "InvalidOption",
	ErrInvalidArg:      "InvalidArg",
	ErrReadOnly:        "ReadOnly",
	ErrWriteOnly:       "WriteOnly",
	ErrProtectedConfig: "ProtectedConfig",
	ErrUnimplemented:   "Unimplemented",

	ErrBadAlloc:     "BadAlloc",
	ErrCloseFailure: "CloseFailure",
	ErrNullContext:  "NullContext",
}

var codeKinds = map[Code]Kind{
	ErrBadCOBSPacket:       KindProtocol,
	ErrBadFrame:            KindProtocol,
	ErrBadDeviceTable:      KindProtocol,
	ErrRetrigger:           KindProtocol,
	ErrRepeatedDeviceIndex: KindProtocol,

	ErrBadDeviceIndex:    KindAddressing,
	ErrBadDeviceID:       KindAddressing,
	ErrInvalidStreamPath: KindAddressing,

	ErrBufferTooSmall:   KindSize,
	ErrInvalidReadSize:  KindSize,
	ErrInvalidWriteSize: KindSize,
	ErrBadWriteSize:     KindSize,
	ErrNotReadable:      KindSize,
	ErrNotWritable:      KindSize,

	ErrReadFailure:  KindTransport,
	ErrWriteFailure: KindTransport,
	ErrSeekFailure:  KindTransport,
	ErrInitFailure:  KindTransport,

	ErrInvalidState:    KindState,
	ErrInvalidOption:   KindState,
	ErrInvalidArg:      KindState,
	ErrReadOnly:        KindState,
	ErrWriteOnly:       KindState,
	ErrProtectedConfig: KindState,
	ErrUnimplemented:   KindState,

	ErrBadAlloc:     KindResource,
	ErrCloseFailure: KindResource,
	ErrNullContext:  KindResource,
}

// String returns the canonical human-readable name for a Code.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Kind reports which taxonomy group a Code belongs to.
func (c Code) Kind() Kind {
	return codeKinds[c]
}

// Error is the concrete error type every failing operation in this package
// returns. It wraps an optional underlying cause (e.g. a transport I/O
// error) while keeping the closed Code enumeration available to callers via
// errors.As.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oni: %s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("oni: %s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrX) work when callers compare against a bare Code
// wrapped in an *Error, by treating a target *Error with the same Code as a
// match.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// newErr builds an *Error for operation op with the given Code, optionally
// wrapping cause.
func newErr(op string, code Code, cause error) *Error {
	return &Error{Code: code, Op: op, Err: cause}
}

// CodeOf extracts the Code from err if it is (or wraps) an *oni.Error.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}
