// Package redis keeps session snapshots in Redis as JSON with a TTL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"call-transcription-service/internal/models"
	"call-transcription-service/internal/store"
)

const keyPrefix = "call-transcript:"

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Store is a Redis store.Store.
type Store struct {
	client *goredis.Client
	ttl    time.Duration
}

var _ store.Store = (*Store)(nil)

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return New(client, cfg.TTL), nil
}

// New wraps an existing client. A zero ttl keeps records forever.
func New(client *goredis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func key(callID string) string {
	return keyPrefix + callID
}

// Save overwrites the call's record.
func (s *Store) Save(ctx context.Context, snap models.SessionSnapshot) error {
	b, err := json.Marshal(persisted(snap))
	if err != nil {
		return &store.PersistenceError{Op: "save", CallID: snap.CallID, Err: err}
	}
	if err := s.client.Set(ctx, key(snap.CallID), b, s.ttl).Err(); err != nil {
		return &store.PersistenceError{Op: "save", CallID: snap.CallID, Err: err}
	}
	return nil
}

// MarkFailed updates the record in an optimistic transaction so a concurrent
// writer cannot resurrect the previous state.
func (s *Store) MarkFailed(ctx context.Context, callID, reason string) error {
	k := key(callID)
	txf := func(tx *goredis.Tx) error {
		snap := models.SessionSnapshot{CallID: callID}
		b, err := tx.Get(ctx, k).Bytes()
		switch {
		case errors.Is(err, goredis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(b, &snap); err != nil {
				return err
			}
		}
		markFailed(&snap, reason, time.Now().UTC())
		out, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, k, out, s.ttl)
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = s.client.Watch(ctx, txf, k)
		if !errors.Is(err, goredis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return &store.PersistenceError{Op: "mark_failed", CallID: callID, Err: err}
	}
	return nil
}

// Load returns the call's record.
func (s *Store) Load(ctx context.Context, callID string) (models.SessionSnapshot, error) {
	b, err := s.client.Get(ctx, key(callID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return models.SessionSnapshot{}, store.ErrNotFound
	}
	if err != nil {
		return models.SessionSnapshot{}, &store.PersistenceError{Op: "load", CallID: callID, Err: err}
	}
	var snap models.SessionSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return models.SessionSnapshot{}, &store.PersistenceError{Op: "load", CallID: callID, Err: err}
	}
	return snap, nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// persisted drops the fields that are only meaningful while the call is live.
func persisted(snap models.SessionSnapshot) models.SessionSnapshot {
	snap.PartialSegments = nil
	return snap
}

func markFailed(snap *models.SessionSnapshot, reason string, now time.Time) {
	snap.State = models.StateFailed
	snap.FailureReason = reason
	snap.EndedAt = &now
	snap.PartialSegments = nil
	if snap.StartedAt.IsZero() {
		snap.StartedAt = now
	}
}
