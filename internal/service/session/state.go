package session

import (
	"errors"
	"fmt"
	"sync"

	"call-transcription-service/internal/models"
)

// State represents the lifecycle state of a session.
type State int

const (
	// StatePending - created, no audio yet.
	StatePending State = iota
	// StateActive - audio is flowing and results are being merged.
	StateActive
	// StateCompleted - stopped and fully drained. Terminal.
	StateCompleted
	// StateFailed - aborted, timed out or broken input. Terminal.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// IsTerminal returns true for COMPLETED and FAILED.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Model converts the state to its wire representation.
func (s State) Model() models.SessionState {
	return models.SessionState(s.String())
}

// Errors for invalid state transitions.
var (
	ErrAlreadyTerminal   = errors.New("session is in a terminal state")
	ErrInvalidTransition = errors.New("invalid session state transition")
)

// Lifecycle manages the state machine for a single session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	PENDING ──Activate()──→ ACTIVE ──Complete()──→ COMPLETED
//	   │                      │
//	   ├──Complete()──────────┼──────────────────→ COMPLETED
//	   │                      │
//	   └──Fail()──────────────┴──Fail()──────────→ FAILED
//
// Rules:
//   - Activate only from PENDING.
//   - Complete from PENDING or ACTIVE. PENDING → COMPLETED is deliberate:
//     a call stopped before any audio is a clean hang-up, not an error,
//     and completes with an empty transcript.
//   - Fail from any non-terminal state, exactly once.
type Lifecycle struct {
	mu    sync.RWMutex
	state State
}

// NewLifecycle creates a lifecycle in PENDING state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StatePending}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// IsTerminal reports whether the session reached COMPLETED or FAILED.
func (l *Lifecycle) IsTerminal() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.IsTerminal()
}

// Activate transitions PENDING to ACTIVE.
func (l *Lifecycle) Activate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StatePending:
		l.state = StateActive
		return nil
	case StateActive:
		return ErrInvalidTransition
	default:
		return ErrAlreadyTerminal
	}
}

// Complete transitions PENDING or ACTIVE to COMPLETED.
func (l *Lifecycle) Complete() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.IsTerminal() {
		return ErrAlreadyTerminal
	}
	l.state = StateCompleted
	return nil
}

// Fail transitions any non-terminal state to FAILED.
// Returns true if the session was failed, false if already terminal.
func (l *Lifecycle) Fail() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateFailed
	return true
}
