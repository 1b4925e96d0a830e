package valr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidKey is returned when the API secret cannot key the HMAC.
	ErrInvalidKey = errors.New("invalid signing key")

	// ErrUnsupportedVerb is returned for HTTP verbs the exchange does not sign.
	ErrUnsupportedVerb = errors.New("unsupported verb")

	// ErrSessionClosed is returned when writing to a session that is not streaming.
	ErrSessionClosed = errors.New("session closed")

	// ErrHeartbeatFailed is wrapped by the TransportError a heartbeat returns
	// after too many consecutive send failures.
	ErrHeartbeatFailed = errors.New("heartbeat failed")
)

// TransportError is a connect, send or receive failure. It ends the session
// that produced it and nothing else.
type TransportError struct {
	Op  string // "dial", "subscribe", "ping", "read", "write"
	Err error
}

func (e *TransportError) Error() string {
	return "transport " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError is a malformed or unparseable inbound frame. The frame is
// skipped and the dispatcher keeps going.
type DecodeError struct {
	Type string // event tag, empty if the envelope itself was unreadable
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return "decode frame: " + e.Err.Error()
	}
	return fmt.Sprintf("decode %s: %s", e.Type, e.Err.Error())
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// SigningError wraps bad key material. Fatal at startup.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string {
	return "sign request: " + e.Err.Error()
}

func (e *SigningError) Unwrap() error {
	return e.Err
}
