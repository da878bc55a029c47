// Package memory is an in-process Store used by default and in tests.
package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"call-transcription-service/internal/models"
	"call-transcription-service/internal/store"
)

// Store keeps snapshots in a map. Records are stored as JSON so callers
// never share slices with the store.
type Store struct {
	mu      sync.RWMutex
	records map[string][]byte
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{records: make(map[string][]byte)}
}

// Save implements store.Store.
func (s *Store) Save(ctx context.Context, snap models.SessionSnapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return &store.PersistenceError{Op: "save", CallID: snap.CallID, Err: err}
	}
	s.mu.Lock()
	s.records[snap.CallID] = b
	s.mu.Unlock()
	return nil
}

// MarkFailed implements store.Store. An unknown call gets a minimal record.
func (s *Store) MarkFailed(ctx context.Context, callID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := models.SessionSnapshot{CallID: callID}
	if b, ok := s.records[callID]; ok {
		if err := json.Unmarshal(b, &snap); err != nil {
			return &store.PersistenceError{Op: "mark_failed", CallID: callID, Err: err}
		}
	}
	now := time.Now().UTC()
	snap.State = models.StateFailed
	snap.FailureReason = reason
	snap.EndedAt = &now

	b, err := json.Marshal(snap)
	if err != nil {
		return &store.PersistenceError{Op: "mark_failed", CallID: callID, Err: err}
	}
	s.records[callID] = b
	return nil
}

// Load implements store.Store.
func (s *Store) Load(ctx context.Context, callID string) (models.SessionSnapshot, error) {
	s.mu.RLock()
	b, ok := s.records[callID]
	s.mu.RUnlock()
	if !ok {
		return models.SessionSnapshot{}, store.ErrNotFound
	}
	var snap models.SessionSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return models.SessionSnapshot{}, &store.PersistenceError{Op: "load", CallID: callID, Err: err}
	}
	return snap, nil
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
