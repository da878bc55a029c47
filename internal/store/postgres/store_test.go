package postgres

import (
	"testing"
	"time"

	"call-transcription-service/internal/models"
)

func TestRecordRoundTrip(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ended := started.Add(90 * time.Second)
	snap := models.SessionSnapshot{
		CallID: "call-123",
		State:  models.StateCompleted,
		FullTranscript: []models.Segment{
			{Sequence: 0, Text: "hello", Confidence: 0.9},
			{Sequence: 1, Failed: true},
			{Sequence: 2, Text: "today", Confidence: 0.8},
		},
		Transcript:   "hello today",
		StartedAt:    started,
		EndedAt:      &ended,
		Metadata:     map[string]string{"agent": "42"},
		Degraded:     true,
		ErrorCount:   1,
		NextSequence: 3,
		EventSeq:     9,
	}

	got := toRecord(snap).snapshot()

	if got.CallID != snap.CallID || got.State != snap.State || got.Transcript != snap.Transcript {
		t.Errorf("identity fields differ: %+v", got)
	}
	if len(got.FullTranscript) != 3 || !got.FullTranscript[1].Failed || got.FullTranscript[2].Text != "today" {
		t.Errorf("segments = %+v", got.FullTranscript)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(ended) {
		t.Errorf("EndedAt = %v, want %v", got.EndedAt, ended)
	}
	if got.Metadata["agent"] != "42" {
		t.Errorf("Metadata = %v", got.Metadata)
	}
	if !got.Degraded || got.ErrorCount != 1 || got.NextSequence != 3 || got.EventSeq != 9 {
		t.Errorf("counters differ: %+v", got)
	}
	if got.PartialSegments != nil {
		t.Errorf("partials are not persisted, got %+v", got.PartialSegments)
	}
}

func TestToRecord_EmptyCollections(t *testing.T) {
	rec := toRecord(models.SessionSnapshot{CallID: "call-1", State: models.StatePending})

	if segs := rec.Segments.Data(); segs == nil || len(segs) != 0 {
		t.Errorf("segments should be an empty array, got %#v", segs)
	}
	if md := rec.Metadata.Data(); md == nil {
		t.Error("metadata should be an empty object")
	}
	if snap := rec.snapshot(); snap.Metadata != nil {
		t.Errorf("empty metadata should load as nil, got %v", snap.Metadata)
	}
}

func TestMigrations(t *testing.T) {
	migrations, err := Migrations().FindMigrations()
	if err != nil {
		t.Fatalf("FindMigrations() error = %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("expected at least one migration")
	}
	first := migrations[0]
	if first.Id != "0001_call_transcripts.sql" {
		t.Errorf("first migration = %q", first.Id)
	}
	if len(first.Up) == 0 || len(first.Down) == 0 {
		t.Errorf("migration must have up and down statements, got up=%d down=%d", len(first.Up), len(first.Down))
	}
}

func TestRecord_TableName(t *testing.T) {
	if got := (record{}).TableName(); got != "call_transcripts" {
		t.Errorf("TableName() = %q", got)
	}
}
