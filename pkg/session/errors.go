package session

import (
	"errors"
	"fmt"

	"github.com/teslashibe/go-skinvoice/pkg/audioio"
	"github.com/teslashibe/go-skinvoice/pkg/live"
)

// Sentinel errors for the session package.
var (
	// ErrAudioUnavailable indicates the microphone could not be started.
	ErrAudioUnavailable = errors.New("session: audio input unavailable")

	// ErrHandshakeFailed indicates the backend did not acknowledge setup.
	ErrHandshakeFailed = errors.New("session: handshake failed")

	// ErrUnexpectedClose indicates the backend closed a live session.
	ErrUnexpectedClose = errors.New("session: connection closed unexpectedly")

	// ErrSendFailed indicates an outbound message could not be sent.
	ErrSendFailed = errors.New("session: send failed")

	// ErrToolDispatchFailed indicates the tool handler panicked.
	ErrToolDispatchFailed = errors.New("session: tool dispatch failed")

	// ErrSuperseded indicates a newer Connect or Disconnect replaced this
	// attempt.
	ErrSuperseded = errors.New("session: attempt superseded")

	// ErrNotConnected indicates the session is not connected.
	ErrNotConnected = errors.New("session: not connected")

	// ErrClosed indicates the session was closed for good.
	ErrClosed = errors.New("session: closed")
)

// ConnectError describes a failed connection attempt.
type ConnectError struct {
	// Reason is a short machine-readable cause ("audio", "dial",
	// "handshake", "timeout", "canceled").
	Reason string

	// Cause is the underlying error. It wraps ErrAudioUnavailable or
	// ErrHandshakeFailed.
	Cause error
}

// Error implements the error interface.
func (e *ConnectError) Error() string {
	return fmt.Sprintf("session: connect failed (%s): %v", e.Reason, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *ConnectError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether trying again later may succeed. Missing
// credentials and denied microphone access will not fix themselves.
func (e *ConnectError) Retryable() bool {
	switch {
	case errors.Is(e.Cause, live.ErrMissingAPIKey),
		errors.Is(e.Cause, audioio.ErrPermissionDenied):
		return false
	case e.Reason == "canceled":
		return false
	}
	return true
}

func newConnectError(reason string, kind, cause error) *ConnectError {
	if cause == nil {
		return &ConnectError{Reason: reason, Cause: kind}
	}
	return &ConnectError{Reason: reason, Cause: fmt.Errorf("%w: %w", kind, cause)}
}

// IsRetryable returns true if the error can be retried.
func IsRetryable(err error) bool {
	var cerr *ConnectError
	if errors.As(err, &cerr) {
		return cerr.Retryable()
	}
	return errors.Is(err, ErrUnexpectedClose)
}

// IsNotConnected returns true if the error indicates no live connection.
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected) || errors.Is(err, live.ErrClosed)
}
