// Package postgres persists session snapshots in PostgreSQL using GORM.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	migrate "github.com/rubenv/sql-migrate"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"call-transcription-service/internal/models"
	"call-transcription-service/internal/store"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations is the schema migration source for the store's tables.
func Migrations() migrate.MigrationSource {
	return &migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrationFiles,
		Root:       "migrations",
	}
}

// record is one row of call_transcripts.
type record struct {
	CallID        string                                `gorm:"column:call_id;primaryKey;type:varchar(128)"`
	State         string                                `gorm:"column:state;type:varchar(16);not null"`
	Transcript    string                                `gorm:"column:transcript;type:text"`
	Segments      datatypes.JSONType[[]models.Segment]  `gorm:"column:segments;type:jsonb"`
	Metadata      datatypes.JSONType[map[string]string] `gorm:"column:metadata;type:jsonb"`
	StartedAt     time.Time                             `gorm:"column:started_at"`
	EndedAt       *time.Time                            `gorm:"column:ended_at"`
	Degraded      bool                                  `gorm:"column:degraded"`
	ErrorCount    int                                   `gorm:"column:error_count"`
	FailureReason string                                `gorm:"column:failure_reason;type:varchar(64)"`
	NextSequence  int64                                 `gorm:"column:next_sequence"`
	EventSeq      int64                                 `gorm:"column:event_seq"`
	CreatedAt     time.Time                             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time                             `gorm:"column:updated_at;autoUpdateTime"`
}

func (record) TableName() string {
	return "call_transcripts"
}

// snapshotColumns are overwritten on every save.
var snapshotColumns = []string{
	"state", "transcript", "segments", "metadata", "started_at", "ended_at",
	"degraded", "error_count", "failure_reason", "next_sequence", "event_seq", "updated_at",
}

func toRecord(snap models.SessionSnapshot) record {
	segments := snap.FullTranscript
	if segments == nil {
		segments = []models.Segment{}
	}
	metadata := snap.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	return record{
		CallID:        snap.CallID,
		State:         string(snap.State),
		Transcript:    snap.Transcript,
		Segments:      datatypes.NewJSONType(segments),
		Metadata:      datatypes.NewJSONType(metadata),
		StartedAt:     snap.StartedAt,
		EndedAt:       snap.EndedAt,
		Degraded:      snap.Degraded,
		ErrorCount:    snap.ErrorCount,
		FailureReason: snap.FailureReason,
		NextSequence:  int64(snap.NextSequence),
		EventSeq:      int64(snap.EventSeq),
	}
}

func (r record) snapshot() models.SessionSnapshot {
	snap := models.SessionSnapshot{
		CallID:         r.CallID,
		State:          models.SessionState(r.State),
		FullTranscript: r.Segments.Data(),
		Transcript:     r.Transcript,
		StartedAt:      r.StartedAt.UTC(),
		Metadata:       r.Metadata.Data(),
		Degraded:       r.Degraded,
		ErrorCount:     r.ErrorCount,
		FailureReason:  r.FailureReason,
		NextSequence:   uint64(r.NextSequence),
		EventSeq:       uint64(r.EventSeq),
	}
	if len(snap.Metadata) == 0 {
		snap.Metadata = nil
	}
	if r.EndedAt != nil {
		ended := r.EndedAt.UTC()
		snap.EndedAt = &ended
	}
	return snap
}

// Store is a PostgreSQL store.Store.
type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

// Open connects to PostgreSQL and applies pending migrations.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database object: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	n, err := migrate.Exec(sqlDB, "postgres", Migrations(), migrate.Up)
	if err != nil {
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	log.Info().Int("applied", n).Msg("Postgres store ready")

	return New(db), nil
}

// New wraps an existing connection. The schema must already exist.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Save upserts the snapshot keyed by callId.
func (s *Store) Save(ctx context.Context, snap models.SessionSnapshot) error {
	rec := toRecord(snap)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "call_id"}},
			DoUpdates: clause.AssignmentColumns(snapshotColumns),
		}).
		Create(&rec).Error
	if err != nil {
		return &store.PersistenceError{Op: "save", CallID: snap.CallID, Err: err}
	}
	return nil
}

// MarkFailed sets the record's terminal failure, creating a minimal record
// for a call that was never saved.
func (s *Store) MarkFailed(ctx context.Context, callID, reason string) error {
	now := time.Now().UTC()
	rec := toRecord(models.SessionSnapshot{
		CallID:        callID,
		State:         models.StateFailed,
		StartedAt:     now,
		EndedAt:       &now,
		FailureReason: reason,
	})
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "call_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"state", "failure_reason", "ended_at", "updated_at"}),
		}).
		Create(&rec).Error
	if err != nil {
		return &store.PersistenceError{Op: "mark_failed", CallID: callID, Err: err}
	}
	return nil
}

// Load returns the persisted snapshot for callID.
func (s *Store) Load(ctx context.Context, callID string) (models.SessionSnapshot, error) {
	var rec record
	err := s.db.WithContext(ctx).Where("call_id = ?", callID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.SessionSnapshot{}, store.ErrNotFound
	}
	if err != nil {
		return models.SessionSnapshot{}, &store.PersistenceError{Op: "load", CallID: callID, Err: err}
	}
	return rec.snapshot(), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database object: %w", err)
	}
	return sqlDB.Close()
}
