// Package store defines the persistence port for transcription sessions.
package store

import (
	"context"
	"errors"
	"fmt"

	"call-transcription-service/internal/models"
)

// ErrNotFound is returned by Load for an unknown callId.
var ErrNotFound = errors.New("session record not found")

// Store persists session snapshots. Implementations must make Save and
// MarkFailed idempotent upserts keyed by callId.
type Store interface {
	Save(ctx context.Context, snap models.SessionSnapshot) error
	MarkFailed(ctx context.Context, callID, reason string) error
	Load(ctx context.Context, callID string) (models.SessionSnapshot, error)
}

// PersistenceError wraps a backend failure with the operation and call.
type PersistenceError struct {
	Op     string
	CallID string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.CallID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
