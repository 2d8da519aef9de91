// internal/transport/errors.go
package transport

import (
	"errors"
	"fmt"
)

// Kind classifies a transport failure. Per-request kinds (Timeout,
// CRCMismatch, ShortFrame, BadEcho) are retryable by the caller; the
// session itself never retries.
type Kind int

const (
	// KindPortUnavailable: the serial device could not be opened, or the
	// handle died mid-exchange.
	KindPortUnavailable Kind = iota
	// KindInvalidConfig: session parameters rejected before opening.
	KindInvalidConfig
	// KindTimeout: no response within the configured response timeout.
	KindTimeout
	// KindCRCMismatch: a complete frame arrived with a bad CRC trailer.
	KindCRCMismatch
	// KindShortFrame: the response ended before a full frame arrived.
	KindShortFrame
	// KindBadEcho: the response slave address or function code does not
	// match the request.
	KindBadEcho
	// KindException: the device returned a Modbus exception response.
	KindException
)

func (k Kind) String() string {
	switch k {
	case KindPortUnavailable:
		return "port unavailable"
	case KindInvalidConfig:
		return "invalid config"
	case KindTimeout:
		return "timeout"
	case KindCRCMismatch:
		return "crc mismatch"
	case KindShortFrame:
		return "short frame"
	case KindBadEcho:
		return "bad echo"
	case KindException:
		return "exception response"
	default:
		return "unknown"
	}
}

// Exception code names per the Modbus application protocol spec.
var exceptionNames = map[byte]string{
	0x01: "illegal function",
	0x02: "illegal data address",
	0x03: "illegal data value",
	0x04: "server device failure",
	0x05: "acknowledge",
	0x06: "server device busy",
	0x08: "memory parity error",
	0x0a: "gateway path unavailable",
	0x0b: "gateway target failed to respond",
}

// Error is a classified transport failure.
type Error struct {
	Kind   Kind
	ExCode byte // set when Kind == KindException
	cause  error
	detail string
}

func (e *Error) Error() string {
	msg := "transport: " + e.Kind.String()
	if e.Kind == KindException {
		name := exceptionNames[e.ExCode]
		if name == "" {
			name = "unknown"
		}
		msg = fmt.Sprintf("%s: code %#02x (%s)", msg, e.ExCode, name)
	}
	if e.detail != "" {
		msg += ": " + e.detail
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.cause }

// Timeout reports whether the error is a response timeout.
func (e *Error) Timeout() bool { return e.Kind == KindTimeout }

func errKind(k Kind, detail string) *Error {
	return &Error{Kind: k, detail: detail}
}

func errWrap(k Kind, cause error) *Error {
	return &Error{Kind: k, cause: cause}
}

// KindOf extracts the transport kind from err, if it carries one.
func KindOf(err error) (Kind, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return 0, false
}

// IsTimeout reports whether err is a transport timeout.
func IsTimeout(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindTimeout
}

// IsException reports whether err is a Modbus exception response.
// Exceptions are protocol-level answers from a live device, not evidence
// of a dead bus.
func IsException(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindException
}
