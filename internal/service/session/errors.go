package session

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session is closed")
	ErrShuttingDown    = errors.New("session manager is shutting down")
	ErrInvalidCallID   = errors.New("invalid callId")

	// Cancellation causes for a session's in-flight work.
	ErrIdleTimeout   = errors.New("session idle timeout")
	ErrAborted       = errors.New("session aborted")
	ErrLimitExceeded = errors.New("session limit exceeded")
	ErrCompleted     = errors.New("session completed")
)

// Failure reasons recorded on failed sessions.
const (
	ReasonIdleTimeout   = "idle_timeout"
	ReasonAborted       = "aborted"
	ReasonDecodeError   = "decode_error"
	ReasonLimitExceeded = "limit_exceeded"
	ReasonShutdown      = "shutdown"
	ReasonPanic         = "internal_error"
)

func errPanic(r any) error {
	return fmt.Errorf("panic: %v", r)
}
