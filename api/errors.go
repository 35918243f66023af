package api

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// invalidTokenMessage is what the hub replies with once a session token
// expires.
const invalidTokenMessage = "invalid token"

var (
	// ErrNotConnected is returned by operations invoked before Init or after
	// Shutdown.
	ErrNotConnected = errors.New("client is not connected")

	// ErrClientClosed settles calls still pending when the client shuts down.
	ErrClientClosed = errors.New("client was shut down")

	// ErrInvalidToken matches a [ProtocolError] reporting an expired session
	// token.
	ErrInvalidToken = errors.New(invalidTokenMessage)
)

// ConnectionError is returned when the transport is unreachable or was closed
// unexpectedly.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// AuthenticationError is returned when the hub rejects the credentials, or
// when it keeps rejecting the session token after a fresh login.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication: %s: %v", e.Reason, e.Err)
	}

	return "authentication: " + e.Reason
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// ProtocolError is returned when the hub answers a request with a non-zero
// result code.
type ProtocolError struct {
	RequestType RequestType
	SequenceID  int
	ResultCode  int
	Message     string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("hub rejected %s request %d with code %d: %s",
		e.RequestType, e.SequenceID, e.ResultCode, e.Message,
	)
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrInvalidToken && isInvalidTokenMessage(e.Message)
}

// TimeoutError is returned when no response arrives within the request
// deadline. The pending call is removed, so a late response is treated as
// unsolicited.
type TimeoutError struct {
	RequestType RequestType
	SequenceID  int
	After       time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no response to %s request %d within %s", e.RequestType, e.SequenceID, e.After)
}

func isInvalidTokenMessage(msg string) bool {
	return strings.EqualFold(strings.TrimSpace(msg), invalidTokenMessage)
}
