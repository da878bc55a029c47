package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"call-transcription-service/internal/models"
	"call-transcription-service/internal/store"
)

func TestStore_SaveIsUpsert(t *testing.T) {
	s := New()
	ctx := context.Background()

	snap := models.SessionSnapshot{CallID: "call-1", State: models.StateActive, StartedAt: time.Now().UTC()}
	if err := s.Save(ctx, snap); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	snap.Transcript = "hello"
	snap.FullTranscript = []models.Segment{{Sequence: 0, Text: "hello"}}
	if err := s.Save(ctx, snap); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Save(ctx, snap); err != nil {
		t.Fatalf("repeated Save() error = %v", err)
	}

	if s.Len() != 1 {
		t.Errorf("expected one record, got %d", s.Len())
	}
	got, err := s.Load(ctx, "call-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Transcript != "hello" || len(got.FullTranscript) != 1 {
		t.Errorf("expected latest snapshot, got %+v", got)
	}
}

func TestStore_LoadNotFound(t *testing.T) {
	_, err := New().Load(context.Background(), "nope")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_MarkFailed(t *testing.T) {
	s := New()
	ctx := context.Background()

	s.Save(ctx, models.SessionSnapshot{CallID: "call-1", State: models.StateActive, Transcript: "partial work"})
	if err := s.MarkFailed(ctx, "call-1", "idle_timeout"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}

	got, _ := s.Load(ctx, "call-1")
	if got.State != models.StateFailed || got.FailureReason != "idle_timeout" {
		t.Errorf("expected failed record, got %+v", got)
	}
	if got.Transcript != "partial work" {
		t.Errorf("expected transcript to survive, got %q", got.Transcript)
	}
	if got.EndedAt == nil {
		t.Error("expected endedAt to be set")
	}
}

func TestStore_MarkFailedUnknownCall(t *testing.T) {
	s := New()
	if err := s.MarkFailed(context.Background(), "ghost", "aborted"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	got, err := s.Load(context.Background(), "ghost")
	if err != nil || got.State != models.StateFailed {
		t.Errorf("expected minimal failed record, got %+v err=%v", got, err)
	}
}
