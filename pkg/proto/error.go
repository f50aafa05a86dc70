package proto

import "fmt"

// RPCErrorCode identifies the failure mode of an RPC.
type RPCErrorCode uint16

const (
	// RPCErrNone indicates no error.
	RPCErrNone RPCErrorCode = 0
	// RPCErrUndefined is an unspecified failure.
	RPCErrUndefined RPCErrorCode = 1
	// RPCErrNotFound means the method does not exist.
	RPCErrNotFound RPCErrorCode = 2
	// RPCErrMalformed means the request could not be parsed.
	RPCErrMalformed RPCErrorCode = 3
	// RPCErrWrongSizeArgs means the argument had the wrong size.
	RPCErrWrongSizeArgs RPCErrorCode = 4
	// RPCErrInvalidArgs means the argument was rejected.
	RPCErrInvalidArgs RPCErrorCode = 5
	// RPCErrReadOnly means the value cannot be written.
	RPCErrReadOnly RPCErrorCode = 6
	// RPCErrWriteOnly means the value cannot be read.
	RPCErrWriteOnly RPCErrorCode = 7
	// RPCErrTimeout means no reply arrived within the deadline.
	RPCErrTimeout RPCErrorCode = 8
	// RPCErrBusy means the device cannot service the request now.
	RPCErrBusy RPCErrorCode = 9
	// RPCErrOutOfMemory means an identifier or buffer could not be allocated.
	RPCErrOutOfMemory RPCErrorCode = 10
	// RPCErrOutOfRange means the argument was out of range.
	RPCErrOutOfRange RPCErrorCode = 11
)

// String returns the string representation of the error code.
func (c RPCErrorCode) String() string {
	switch c {
	case RPCErrNone:
		return "NoError"
	case RPCErrUndefined:
		return "Undefined"
	case RPCErrNotFound:
		return "NotFound"
	case RPCErrMalformed:
		return "Malformed"
	case RPCErrWrongSizeArgs:
		return "WrongSizeArgs"
	case RPCErrInvalidArgs:
		return "InvalidArgs"
	case RPCErrReadOnly:
		return "ReadOnly"
	case RPCErrWriteOnly:
		return "WriteOnly"
	case RPCErrTimeout:
		return "Timeout"
	case RPCErrBusy:
		return "Busy"
	case RPCErrOutOfMemory:
		return "OutOfMemory"
	case RPCErrOutOfRange:
		return "OutOfRange"
	default:
		return fmt.Sprintf("RPCErrorCode(%d)", uint16(c))
	}
}

// Error is a protocol-level decode failure. Text errors carry a printable
// line received where a packet was expected; they indicate the link is
// delivering bytes that do not frame as packets, which still counts as a
// liveness signal.
type Error struct {
	Reason string
	Text   string
}

// NewError builds a protocol error with the given reason.
func NewError(reason string) *Error {
	return &Error{Reason: reason}
}

// NewTextError builds a protocol error for a stray text line on the link.
func NewTextError(line string) *Error {
	return &Error{Reason: "text line on packet link", Text: line}
}

// IsText reports whether the error is a text-line protocol error.
func (e *Error) IsText() bool {
	return e.Text != ""
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.IsText() {
		return fmt.Sprintf("protocol: %s: %q", e.Reason, e.Text)
	}
	return "protocol: " + e.Reason
}
