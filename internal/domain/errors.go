package domain

import (
	"errors"
	"fmt"
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrSendFailure    = errors.New("send failed")
	ErrEmptyMessage   = errors.New("message is empty")
	ErrSessionClosed  = errors.New("session closed")
	ErrNotConnected   = errors.New("not connected")
	ErrMissingPayload = errors.New("missing payload")
)

// ConnectivityError is reported once the reconnect budget is exhausted.
type ConnectivityError struct {
	Attempts int
	Err      error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("connectivity lost after %d reconnect attempts: %v", e.Attempts, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// MalformedPayloadError marks an inbound envelope that could not be decoded
// or is missing a required field. It is logged and dropped, never fatal.
type MalformedPayloadError struct {
	Type MessageType
	Err  error
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed %s payload: %v", e.Type, e.Err)
}

func (e *MalformedPayloadError) Unwrap() error {
	return e.Err
}
