package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedVersion is returned for envelopes whose version is not
	// Version.
	ErrUnsupportedVersion = errors.New("unsupported protocol version")

	// ErrInvalidMessage is returned for envelopes that fail validation.
	ErrInvalidMessage = errors.New("invalid message")
)

// Error codes carried in the payload of an error message.
const (
	CodeInvalidMessage     = "INVALID_MESSAGE"
	CodeUnsupportedVersion = "UNSUPPORTED_VERSION"
	CodeInternal           = "INTERNAL_ERROR"
)

// MessageError describes why a received message was rejected. It wraps
// one of the sentinel errors above.
type MessageError struct {
	Type    MessageType
	Version string
	Reason  string
	Err     error
}

func (e *MessageError) Error() string {
	msg := e.Err.Error()
	if e.Type != "" {
		msg = fmt.Sprintf("%s (type %q)", msg, e.Type)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *MessageError) Unwrap() error { return e.Err }

// Code maps the error to a protocol error code.
func (e *MessageError) Code() string {
	switch {
	case errors.Is(e.Err, ErrUnsupportedVersion):
		return CodeUnsupportedVersion
	case errors.Is(e.Err, ErrInvalidMessage):
		return CodeInvalidMessage
	default:
		return CodeInternal
	}
}

func invalid(typ MessageType, format string, args ...any) error {
	return &MessageError{Type: typ, Reason: fmt.Sprintf(format, args...), Err: ErrInvalidMessage}
}

// ErrorCode returns the protocol error code for err.
func ErrorCode(err error) string {
	var me *MessageError
	if errors.As(err, &me) {
		return me.Code()
	}
	return CodeInternal
}
